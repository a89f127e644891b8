package model

import "time"

// Conversation 会话汇总表，每个对端最多一行，写入时最新消息直接覆盖
type Conversation struct {
	PeerID             string    `gorm:"primaryKey;type:varchar(36)" json:"peerId"`
	LastMessageContent string    `gorm:"type:varchar(255)" json:"lastMessageContent"`
	LastMessageAt      int64     `gorm:"index;not null;default:0" json:"lastMessageAt"` // 毫秒时间戳
	LastSenderID       string    `gorm:"type:varchar(36)" json:"lastSenderId"`
	LastMessageStatus  string    `gorm:"type:varchar(16)" json:"lastMessageStatus"`
	IsPinned           bool      `gorm:"not null;default:false" json:"isPinned"`
	UnreadCount        int64     `gorm:"not null;default:0" json:"-"` // 历史遗留列，读路径一律实时计算
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`

	// 虚拟字段：仅读不写，存储 SQL 计算结果
	LiveUnread int64 `gorm:"->;-:migration" json:"unreadCount"`
}

func (Conversation) TableName() string { return "conversations" }
