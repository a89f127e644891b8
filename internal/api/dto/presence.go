package dto

// PresenceReq 上报本机状态
type PresenceReq struct {
	Status string `json:"status" binding:"required,oneof=ONLINE BUSY AWAY OFFLINE"`
}

// TypingReq 正在输入信号
type TypingReq struct {
	PeerID string `json:"peer_id" binding:"required"`
	Typing bool   `json:"typing"`
}

// PeerPresenceDTO 对端状态快照
type PeerPresenceDTO struct {
	PeerID   string `json:"peer_id"`
	Status   string `json:"status"`
	IsTyping bool   `json:"is_typing"`
	SeenAt   int64  `json:"seen_at"`
}
