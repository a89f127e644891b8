package model

import "time"

// 附件上传状态
const (
	UploadPending    = "PENDING"
	UploadInProgress = "UPLOADING"
	UploadConfirming = "CONFIRMING"
	UploadDone       = "DONE"
	UploadFailed     = "FAILED"
)

// PendingUpload 在途附件传输记录，与消息一对一，确认完成后即可清理
type PendingUpload struct {
	MessageID     string    `gorm:"primaryKey;type:varchar(36)" json:"messageId"`
	LocalFilePath string    `gorm:"type:varchar(512);not null" json:"localFilePath"`
	FileName      string    `gorm:"type:varchar(255)" json:"fileName"`
	MimeType      string    `gorm:"type:varchar(128)" json:"mimeType"`
	FileType      string    `gorm:"type:varchar(32)" json:"fileType"`
	FileSize      int64     `gorm:"not null;default:0" json:"fileSize"`
	Status        string    `gorm:"index;type:varchar(16);not null" json:"status"`
	UploadedBytes int64     `gorm:"not null;default:0" json:"uploadedBytes"`
	UploadURL     string    `gorm:"type:varchar(512)" json:"uploadUrl"`
	FileKey       string    `gorm:"type:varchar(255)" json:"fileKey"`
	AttachmentID  string    `gorm:"type:varchar(64)" json:"attachmentId"`
	Error         string    `gorm:"type:varchar(255)" json:"error"`
	ExpiresAt     int64     `gorm:"index;not null;default:0" json:"expiresAt"` // 毫秒时间戳
	CreatedAt     time.Time `json:"createdAt"`
}

func (PendingUpload) TableName() string { return "pending_uploads" }
