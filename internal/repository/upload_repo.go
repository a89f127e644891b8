package repository

import (
	"Fieldlink/internal/model"
	"context"

	"gorm.io/gorm"
)

type UploadRepo interface {
	Create(ctx context.Context, up *model.PendingUpload) error
	Get(ctx context.Context, messageID string) (*model.PendingUpload, error)
	CASStatus(ctx context.Context, messageID string, from []string, updates map[string]interface{}) (bool, error)
	UpdateProgress(ctx context.Context, messageID string, uploadedBytes int64) error
	ListResumable(ctx context.Context) ([]*model.PendingUpload, error)
	ListExpired(ctx context.Context, now int64) ([]*model.PendingUpload, error)
	Delete(ctx context.Context, messageID string) error
	PurgeAll(ctx context.Context) error
}

type uploadRepoImpl struct {
	db *gorm.DB
}

func NewUploadRepo(db *gorm.DB) UploadRepo {
	return &uploadRepoImpl{db: db}
}

func (s *uploadRepoImpl) Create(ctx context.Context, up *model.PendingUpload) error {
	return s.db.WithContext(ctx).Create(up).Error
}

func (s *uploadRepoImpl) Get(ctx context.Context, messageID string) (*model.PendingUpload, error) {
	var up model.PendingUpload
	err := s.db.WithContext(ctx).First(&up, "message_id = ?", messageID).Error
	if err != nil {
		return nil, err
	}
	return &up, nil
}

// CASStatus 上传状态迁移，与消息表一致走条件更新
func (s *uploadRepoImpl) CASStatus(ctx context.Context, messageID string, from []string, updates map[string]interface{}) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.PendingUpload{}).
		Where("message_id = ? AND status IN ?", messageID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *uploadRepoImpl) UpdateProgress(ctx context.Context, messageID string, uploadedBytes int64) error {
	return s.db.WithContext(ctx).Model(&model.PendingUpload{}).
		Where("message_id = ?", messageID).
		Update("uploaded_bytes", uploadedBytes).Error
}

// ListResumable 进程重启后需要续传的记录。UPLOADING/CONFIRMING 是上次进程中断留下的，
// 一并回炉重新走上传流程
func (s *uploadRepoImpl) ListResumable(ctx context.Context) ([]*model.PendingUpload, error) {
	var ups []*model.PendingUpload
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{model.UploadPending, model.UploadInProgress, model.UploadConfirming}).
		Order("created_at ASC").
		Find(&ups).Error
	return ups, err
}

func (s *uploadRepoImpl) ListExpired(ctx context.Context, now int64) ([]*model.PendingUpload, error) {
	var ups []*model.PendingUpload
	err := s.db.WithContext(ctx).
		Where("expires_at > 0 AND expires_at <= ? AND status NOT IN ?", now,
			[]string{model.UploadDone, model.UploadFailed}).
		Find(&ups).Error
	return ups, err
}

func (s *uploadRepoImpl) Delete(ctx context.Context, messageID string) error {
	return s.db.WithContext(ctx).Delete(&model.PendingUpload{}, "message_id = ?", messageID).Error
}

// PurgeAll 登出时整表清空
func (s *uploadRepoImpl) PurgeAll(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&model.PendingUpload{}).Error
}
