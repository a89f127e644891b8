package cron

import (
	"Fieldlink/internal/job"
	log "log/slog"

	"github.com/robfig/cron/v3"
)

type Manager struct {
	engine         *cron.Cron
	uploadCleanJob *job.UploadCleanupJob
	ackFlushJob    *job.AckFlushJob
}

func NewCronManager(uploadCleanJob *job.UploadCleanupJob, ackFlushJob *job.AckFlushJob) *Manager {
	return &Manager{
		engine:         cron.New(cron.WithSeconds()),
		uploadCleanJob: uploadCleanJob,
		ackFlushJob:    ackFlushJob,
	}
}

// RegisterJobs 注册定时任务
func (s *Manager) RegisterJobs() error {
	if _, err := s.engine.AddJob("@every 10m", s.uploadCleanJob); err != nil {
		return err
	}
	if _, err := s.engine.AddJob("@every 1m", s.ackFlushJob); err != nil {
		return err
	}
	return nil
}

func (s *Manager) Start() {
	log.Info("Cron 定时任务引擎启动")
	s.engine.Start()
}

func (s *Manager) Stop() {
	log.Info("Cron 定时任务引擎停止")
	s.engine.Stop()
}
