package service

import (
	"Fieldlink/internal/api/dto"
	"Fieldlink/internal/pkg/observe"
	"Fieldlink/internal/pkg/transport"
	"Fieldlink/internal/repository"
	"context"
	"errors"
	log "log/slog"

	"github.com/jinzhu/copier"
	"gorm.io/gorm"
)

// ChatService 面向 UI 的读路径与会话操作
type ChatService interface {
	History(ctx context.Context, req *dto.HistoryReq) ([]*dto.MessageDTO, error)
	Conversations(ctx context.Context) ([]*dto.ConversationDTO, error)
	MarkRead(ctx context.Context, peerID string) error
	SetPinned(ctx context.Context, peerID string, pinned bool) error
	ClearAll(ctx context.Context) error
}

type chatServiceImpl struct {
	msgRepo    repository.MessageRepo
	convRepo   repository.ConversationRepo
	uploadRepo repository.UploadRepo
	tp         RealtimeTransport
	hub        *observe.Hub
}

func NewChatService(
	msgRepo repository.MessageRepo,
	convRepo repository.ConversationRepo,
	uploadRepo repository.UploadRepo,
	tp RealtimeTransport,
	hub *observe.Hub,
) ChatService {
	return &chatServiceImpl{
		msgRepo:    msgRepo,
		convRepo:   convRepo,
		uploadRepo: uploadRepo,
		tp:         tp,
		hub:        hub,
	}
}

// History 按时间倒序翻页拉取会话历史
func (s *chatServiceImpl) History(ctx context.Context, req *dto.HistoryReq) ([]*dto.MessageDTO, error) {
	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	msgs, err := s.msgRepo.ListByConversation(ctx, req.PeerID, req.BeforeTs, pageSize)
	if err != nil {
		return nil, UnExpectedError
	}

	res := make([]*dto.MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		d := &dto.MessageDTO{}
		if err := copier.Copy(d, m); err != nil {
			return nil, UnExpectedError
		}
		res = append(res, d)
	}
	return res, nil
}

// Conversations 会话列表，未读数实时计算
func (s *chatServiceImpl) Conversations(ctx context.Context) ([]*dto.ConversationDTO, error) {
	convs, err := s.convRepo.List(ctx)
	if err != nil {
		return nil, UnExpectedError
	}

	res := make([]*dto.ConversationDTO, 0, len(convs))
	for _, c := range convs {
		res = append(res, &dto.ConversationDTO{
			PeerID:             c.PeerID,
			LastMessageContent: c.LastMessageContent,
			LastMessageAt:      c.LastMessageAt,
			LastSenderID:       c.LastSenderID,
			LastMessageStatus:  c.LastMessageStatus,
			UnreadCount:        c.LiveUnread,
			IsPinned:           c.IsPinned,
		})
	}
	return res, nil
}

// MarkRead 本端已读：入站消息置 READ，并尽力向对端发已读回执
func (s *chatServiceImpl) MarkRead(ctx context.Context, peerID string) error {
	if err := s.msgRepo.MarkConversationRead(ctx, peerID); err != nil {
		return UnExpectedError
	}

	if s.tp.IsConnected() {
		err := s.tp.Emit(ctx, transport.OutboundRead, &transport.ReadReceiptEvent{
			PeerID:    peerID,
			Timestamp: repository.NowMillis(),
		})
		if err != nil {
			log.WarnContext(ctx, "已读回执发送失败", "peer", peerID, "err", err)
		}
	}

	s.hub.Publish(observe.Change{Kind: observe.ChangeConversation, PeerID: peerID})
	return nil
}

func (s *chatServiceImpl) SetPinned(ctx context.Context, peerID string, pinned bool) error {
	if err := s.convRepo.SetPinned(ctx, peerID, pinned); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrConversationAbsent
		}
		return UnExpectedError
	}
	s.hub.Publish(observe.Change{Kind: observe.ChangeConversation, PeerID: peerID})
	return nil
}

// ClearAll 登出清空本地副本，消息行只有这一条销毁路径
func (s *chatServiceImpl) ClearAll(ctx context.Context) error {
	if err := s.msgRepo.PurgeAll(ctx); err != nil {
		return UnExpectedError
	}
	if err := s.convRepo.PurgeAll(ctx); err != nil {
		return UnExpectedError
	}
	if err := s.uploadRepo.PurgeAll(ctx); err != nil {
		return UnExpectedError
	}
	log.InfoContext(ctx, "本地副本已清空")
	s.hub.Publish(observe.Change{Kind: observe.ChangeConversation})
	return nil
}
