package minio

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
)

// UploadFile 上传文件到对象存储
func UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	if Client == nil {
		return "", fmt.Errorf("minio client is not initialized")
	}

	uploadInfo, err := Client.PutObject(ctx, Bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}

	return uploadInfo.Key, nil
}

// DownloadFile 下载对象到本地路径
func DownloadFile(ctx context.Context, objectName string, localPath string) error {
	if Client == nil {
		return fmt.Errorf("minio client is not initialized")
	}

	if err := Client.FGetObject(ctx, Bucket, objectName, localPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}
	return nil
}

// DeleteFile 删除对象存储中的文件
func DeleteFile(ctx context.Context, objectName string) error {
	if Client == nil {
		return fmt.Errorf("minio client is not initialized")
	}

	if err := Client.RemoveObject(ctx, Bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// ObjectKey 拼接部署前缀后的对象键
func ObjectKey(name string) string {
	if KeyPrefix == "" {
		return name
	}
	return KeyPrefix + "/" + name
}
