package minio

import (
	"Fieldlink/internal/api/config"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	// Client 全局 MinIO 客户端实例
	Client *minio.Client
	// Bucket 附件存储桶
	Bucket string
	// KeyPrefix 本部署的对象键前缀
	KeyPrefix string
)

// Init 初始化对象存储客户端。外勤部署的附件走驻地机房的 S3 兼容存储
func Init() error {
	cfg := config.Cfg.MinIO

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize minio client: %w", err)
	}

	// 不在启动时探活：终端此刻可能离线，首个传输任务会自然暴露连接问题

	Client = client
	Bucket = cfg.Bucket
	KeyPrefix = cfg.KeyPrefix
	return nil
}
