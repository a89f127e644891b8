package dto

// AttachmentReq 随消息入队的附件描述
type AttachmentReq struct {
	LocalPath string `json:"local_path" binding:"required"`
	FileName  string `json:"file_name" binding:"required"`
	MimeType  string `json:"mime_type" binding:"required"`
	FileType  string `json:"file_type"`
	Size      int64  `json:"size" binding:"required,gt=0"`
}

// EnqueueReq 发送消息请求体
type EnqueueReq struct {
	PeerID     string         `json:"peer_id" binding:"required"`
	Content    string         `json:"content"`
	MsgType    string         `json:"msg_type" binding:"required,oneof=text media"`
	Attachment *AttachmentReq `json:"attachment"`
}

// EnqueueResp 入队结果，消息已落盘但不代表已送达
type EnqueueResp struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// MessageDTO 消息明细响应
type MessageDTO struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	RecipientID    string `json:"recipient_id,omitempty"`
	Content        string `json:"content"`
	MsgType        string `json:"msg_type"`
	Status         string `json:"status"`
	Timestamp      int64  `json:"timestamp"`
	RetryCount     int    `json:"retry_count,omitempty"`
	AttachmentID   string `json:"attachment_id,omitempty"`
	LocalPath      string `json:"local_path,omitempty"`
	MimeType       string `json:"mime_type,omitempty"`
	FileName       string `json:"file_name,omitempty"`
	Size           int64  `json:"size,omitempty"`
	DownloadStatus string `json:"download_status,omitempty"`
}

// ConversationDTO 会话列表项响应
type ConversationDTO struct {
	PeerID             string `json:"peer_id"`
	LastMessageContent string `json:"last_message_content"`
	LastMessageAt      int64  `json:"last_message_at"`
	LastSenderID       string `json:"last_sender_id"`
	LastMessageStatus  string `json:"last_message_status"`
	UnreadCount        int64  `json:"unread_count"`
	IsPinned           bool   `json:"is_pinned"`
}

// HistoryReq 历史消息查询参数
type HistoryReq struct {
	PeerID   string `form:"peer_id" binding:"required"`
	BeforeTs int64  `form:"before_ts"`
	PageSize int    `form:"page_size"`
}

// MarkAsReadReq 标记会话已读请求
type MarkAsReadReq struct {
	PeerID string `json:"peer_id" binding:"required"`
}

// PinReq 置顶请求
type PinReq struct {
	PeerID   string `json:"peer_id" binding:"required"`
	IsPinned bool   `json:"is_pinned"`
}
