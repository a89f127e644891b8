package repository

import (
	"Fieldlink/internal/model"
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MessageRepo interface {
	Create(ctx context.Context, msg *model.Message) error
	InsertIgnore(ctx context.Context, msg *model.Message) (bool, error)
	Get(ctx context.Context, id string) (*model.Message, error)
	FetchHeads(ctx context.Context, now int64) ([]*model.Message, error)
	CASStatus(ctx context.Context, id string, from []string, updates map[string]interface{}) (bool, error)
	ListByConversation(ctx context.Context, peerID string, beforeTs int64, limit int) ([]*model.Message, error)
	MarkConversationRead(ctx context.Context, peerID string) error
	MarkOutboundRead(ctx context.Context, peerID string, senderID string, uptoTs int64) error
	ListUnacked(ctx context.Context, limit int) ([]*model.Message, error)
	ListPendingDownloads(ctx context.Context) ([]*model.Message, error)
	SetAcked(ctx context.Context, id string) error
	SetDownloadStatus(ctx context.Context, id string, from []string, status string, localPath string) (bool, error)
	PurgeAll(ctx context.Context) error
}

type messageRepoImpl struct {
	db *gorm.DB
}

func NewMessageRepo(db *gorm.DB) MessageRepo {
	return &messageRepoImpl{db: db}
}

func (s *messageRepoImpl) Create(ctx context.Context, msg *model.Message) error {
	return s.db.WithContext(ctx).Create(msg).Error
}

// InsertIgnore 以消息 ID 为键的幂等插入。两条唤醒路径可能竞争同一条消息，
// 先写入者生效，后到的重复写入静默丢弃，返回 false 而非报错
func (s *messageRepoImpl) InsertIgnore(ctx context.Context, msg *model.Message) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(msg)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *messageRepoImpl) Get(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	err := s.db.WithContext(ctx).First(&msg, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// FetchHeads 队头选取：每个会话只取最旧的一条 PENDING 消息，且退避时间已到。
// 队头未到期会挡住同会话后续消息，这正是会话内定序的保证
func (s *messageRepoImpl) FetchHeads(ctx context.Context, now int64) ([]*model.Message, error) {
	var heads []*model.Message
	err := s.db.WithContext(ctx).Raw(`
		SELECT m.* FROM messages m
		JOIN (
			SELECT conversation_id, MIN(timestamp) AS head_ts
			FROM messages
			WHERE status = ?
			GROUP BY conversation_id
		) h ON m.conversation_id = h.conversation_id AND m.timestamp = h.head_ts
		WHERE m.status = ? AND m.next_retry_at <= ?
		ORDER BY m.timestamp ASC`,
		model.StatusPending, model.StatusPending, now).
		Scan(&heads).Error
	return heads, err
}

// CASStatus 条件状态迁移。状态可能已被并发任务推进，跨挂起点的更新必须带当前状态重校验，
// 迁移未命中返回 false
func (s *messageRepoImpl) CASStatus(ctx context.Context, id string, from []string, updates map[string]interface{}) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListByConversation 按时间倒序翻页查询历史消息，beforeTs 为 0 时取第一页
func (s *messageRepoImpl) ListByConversation(ctx context.Context, peerID string, beforeTs int64, limit int) ([]*model.Message, error) {
	q := s.db.WithContext(ctx).Where("conversation_id = ?", peerID)
	if beforeTs > 0 {
		q = q.Where("timestamp < ?", beforeTs)
	}
	var msgs []*model.Message
	err := q.Order("timestamp DESC").Limit(limit).Find(&msgs).Error
	return msgs, err
}

// MarkConversationRead 将对端发来的未读消息批量置为 READ
func (s *messageRepoImpl) MarkConversationRead(ctx context.Context, peerID string) error {
	return s.db.WithContext(ctx).Model(&model.Message{}).
		Where("conversation_id = ? AND sender_id = ? AND status <> ?", peerID, peerID, model.StatusRead).
		Update("status", model.StatusRead).Error
}

// MarkOutboundRead 对端已读回执：把发往该对端、不晚于回执时间点的消息推进到 READ
func (s *messageRepoImpl) MarkOutboundRead(ctx context.Context, peerID string, senderID string, uptoTs int64) error {
	return s.db.WithContext(ctx).Model(&model.Message{}).
		Where("conversation_id = ? AND sender_id = ? AND timestamp <= ? AND status IN ?",
			peerID, senderID, uptoTs, []string{model.StatusSent, model.StatusDelivered}).
		Update("status", model.StatusRead).Error
}

// ListUnacked 查询已持久化但尚未回执的入站消息，重连后补发回执用
func (s *messageRepoImpl) ListUnacked(ctx context.Context, limit int) ([]*model.Message, error) {
	var msgs []*model.Message
	err := s.db.WithContext(ctx).
		Where("sender_id = conversation_id AND delivery_acked = ?", false).
		Order("timestamp ASC").Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

func (s *messageRepoImpl) SetAcked(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ?", id).
		Update("delivery_acked", true).Error
}

// ListPendingDownloads 进程重启后需要续传的自动下载任务
func (s *messageRepoImpl) ListPendingDownloads(ctx context.Context) ([]*model.Message, error) {
	var msgs []*model.Message
	err := s.db.WithContext(ctx).
		Where("download_status IN ?", []string{model.DownloadPending, model.DownloadInProgress}).
		Order("timestamp ASC").
		Find(&msgs).Error
	return msgs, err
}

// SetDownloadStatus 附件下载状态迁移，同样走条件更新
func (s *messageRepoImpl) SetDownloadStatus(ctx context.Context, id string, from []string, status string, localPath string) (bool, error) {
	updates := map[string]interface{}{"download_status": status}
	if localPath != "" {
		updates["local_path"] = localPath
	}
	res := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ? AND download_status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// PurgeAll 登出时整表清空
func (s *messageRepoImpl) PurgeAll(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&model.Message{}).Error
}

// NowMillis 统一的毫秒时间戳来源
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
