package model

import "time"

// 消息状态机：PENDING → UPLOADING(媒体上传中) → PENDING → SENT → DELIVERED → READ
// FAILED 为重试耗尽后的终态，可手动重置回 PENDING
const (
	StatusPending   = "PENDING"
	StatusUploading = "UPLOADING"
	StatusSent      = "SENT"
	StatusDelivered = "DELIVERED"
	StatusRead      = "READ"
	StatusFailed    = "FAILED"
)

const (
	MsgTypeText  = "text"
	MsgTypeMedia = "media"
)

// 附件下载状态
const (
	DownloadNotStarted  = "NOT_STARTED"
	DownloadPending     = "PENDING"
	DownloadInProgress  = "DOWNLOADING"
	DownloadDone        = "DONE"
	DownloadFailedState = "FAILED"
)

// Message 本地消息副本表
// ID 由发送端生成，全局唯一且跨重试稳定；content/type/timestamp/sender_id 创建后不可变，
// 仅 status、重试字段与附件字段允许更新
type Message struct {
	ID             string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ConversationID string `gorm:"index:idx_conv_status,priority:1;type:varchar(36);not null" json:"conversationId"` // 对端用户 ID
	SenderID       string `gorm:"index;type:varchar(36);not null" json:"senderId"`
	RecipientID    string `gorm:"type:varchar(36)" json:"recipientId"`
	Content        string `gorm:"type:text" json:"content"`
	MsgType        string `gorm:"type:varchar(16);not null;default:text" json:"msgType"`
	Status         string `gorm:"index:idx_conv_status,priority:2;type:varchar(16);not null" json:"status"`
	Timestamp      int64  `gorm:"index;not null" json:"timestamp"` // 发送方指定的毫秒时间戳，会话内定序依据
	RetryCount     int    `gorm:"not null;default:0" json:"retryCount"`
	NextRetryAt    int64  `gorm:"index;not null;default:0" json:"nextRetryAt"` // 0 表示立即可投递

	// 附件字段（可选）
	AttachmentID   string `gorm:"type:varchar(64)" json:"attachmentId,omitempty"` // 服务端确认上传后才会赋值
	LocalPath      string `gorm:"type:varchar(512)" json:"localPath,omitempty"`
	MimeType       string `gorm:"type:varchar(128)" json:"mimeType,omitempty"`
	FileType       string `gorm:"type:varchar(32)" json:"fileType,omitempty"`
	FileName       string `gorm:"type:varchar(255)" json:"fileName,omitempty"`
	Size           int64  `gorm:"not null;default:0" json:"size,omitempty"`
	DownloadStatus string `gorm:"type:varchar(16)" json:"downloadStatus,omitempty"`

	// 收件方向的消息是否已向后端回执
	DeliveryAcked bool `gorm:"not null;default:false" json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Message) TableName() string { return "messages" }

// IsInbound 判断消息方向：入站消息的发送者即会话对端
func (m *Message) IsInbound() bool { return m.SenderID == m.ConversationID }
