package database

import (
	"Fieldlink/internal/api/config"
	"Fieldlink/internal/model"
	"Fieldlink/internal/pkg/logger"
	"fmt"
	log "log/slog"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewGormDB 打开本地 SQLite 副本并返回 *gorm.DB 实例
func NewGormDB(cfg *config.DBConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", cfg.Path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:      logger.NewGormLogger(),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// 多个引擎并发写同一副本，SQLite 限制单写连接
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err = Migrate(db); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	log.Info("Local replica opened successfully.", "path", cfg.Path)
	return db, nil
}

// Migrate 追加式迁移，线上不允许破坏性变更，已有行必须原样保留
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Message{},
		&model.Conversation{},
		&model.PendingUpload{},
	)
}
