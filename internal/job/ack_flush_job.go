package job

import (
	"Fieldlink/internal/service"
	"context"
)

// AckFlushJob 周期补发落盘成功但尚未回执的入站消息回执。
// 重连事件已经会触发一次补发，这里兜底回执发送瞬间掉线的窗口
type AckFlushJob struct {
	ingest service.IngestService
}

func NewAckFlushJob(ingest service.IngestService) *AckFlushJob {
	return &AckFlushJob{ingest: ingest}
}

func (s *AckFlushJob) Run() {
	s.ingest.FlushPendingAcks(context.Background())
}
