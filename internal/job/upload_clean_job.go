package job

import (
	"Fieldlink/internal/service"
	"context"
	log "log/slog"
)

// UploadCleanupJob 周期清理超时未完成的附件上传，
// 对应消息统一转入失败态，等用户手动重试
type UploadCleanupJob struct {
	attach service.AttachmentService
}

func NewUploadCleanupJob(attach service.AttachmentService) *UploadCleanupJob {
	return &UploadCleanupJob{attach: attach}
}

func (s *UploadCleanupJob) Run() {
	ctx := context.Background()
	log.Info("start upload cleanup job")
	s.attach.SweepExpired(ctx)
}
