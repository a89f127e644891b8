package repository

import (
	"Fieldlink/internal/model"
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConversationRepo interface {
	Upsert(ctx context.Context, conv *model.Conversation) error
	Get(ctx context.Context, peerID string) (*model.Conversation, error)
	List(ctx context.Context) ([]*model.Conversation, error)
	UpdateLastStatus(ctx context.Context, peerID string, ts int64, status string) error
	SetPinned(ctx context.Context, peerID string, pinned bool) error
	PurgeAll(ctx context.Context) error
}

type conversationRepoImpl struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepoImpl{db: db}
}

// Upsert 每个对端最多一行，最新消息直接覆盖摘要字段，置顶标记保留
func (s *conversationRepoImpl) Upsert(ctx context.Context, conv *model.Conversation) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "peer_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"last_message_content", "last_message_at",
				"last_sender_id", "last_message_status", "updated_at",
			}),
		}).Create(conv).Error
}

func (s *conversationRepoImpl) Get(ctx context.Context, peerID string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).First(&conv, "peer_id = ?", peerID).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// List 会话列表。unread_count 存量列不可信，未读数从消息表实时计算
func (s *conversationRepoImpl) List(ctx context.Context) ([]*model.Conversation, error) {
	var convs []*model.Conversation
	err := s.db.WithContext(ctx).Table("conversations c").
		Select("c.*, "+
			"(SELECT COUNT(*) FROM messages m "+
			" WHERE m.conversation_id = c.peer_id AND m.sender_id = c.peer_id AND m.status <> ?) AS live_unread",
			model.StatusRead).
		Order("c.is_pinned DESC, c.last_message_at DESC").
		Find(&convs).Error
	return convs, err
}

// UpdateLastStatus 仅当摘要仍指向该消息时更新其状态展示，避免覆盖更新的摘要
func (s *conversationRepoImpl) UpdateLastStatus(ctx context.Context, peerID string, ts int64, status string) error {
	return s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("peer_id = ? AND last_message_at = ?", peerID, ts).
		Update("last_message_status", status).Error
}

func (s *conversationRepoImpl) SetPinned(ctx context.Context, peerID string, pinned bool) error {
	res := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("peer_id = ?", peerID).
		Update("is_pinned", pinned)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// PurgeAll 登出时整表清空
func (s *conversationRepoImpl) PurgeAll(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&model.Conversation{}).Error
}
