package service

import (
	"Fieldlink/internal/model"
	"Fieldlink/internal/pkg/consts"
	"Fieldlink/internal/pkg/notify"
	"Fieldlink/internal/pkg/observe"
	"Fieldlink/internal/pkg/state"
	"Fieldlink/internal/pkg/transport"
	"Fieldlink/internal/repository"
	"context"
	log "log/slog"

	"github.com/jinzhu/copier"
)

// IngestService 入站消息摄取引擎。实时通道与推送兜底两条唤醒路径
// 全部汇入同一条幂等摄取流程，任何一条都不允许绕过
type IngestService interface {
	HandleRealtime(ctx context.Context, ev *transport.InboundMessage)
	HandlePushWake(ctx context.Context, payload map[string]string) error
	HandleReadReceipt(ctx context.Context, rc *transport.ReadReceiptEvent)
	FlushPendingAcks(ctx context.Context)
	OnReconnected(ctx context.Context)
}

type ingestServiceImpl struct {
	msgRepo  repository.MessageRepo
	convRepo repository.ConversationRepo
	tp       RealtimeTransport
	active   *state.ActiveConversation
	notifier notify.Notifier
	hub      *observe.Hub
	uploader Uploader
	queue    DeliveryQueue
	selfID   string
}

func NewIngestService(
	msgRepo repository.MessageRepo,
	convRepo repository.ConversationRepo,
	tp RealtimeTransport,
	active *state.ActiveConversation,
	notifier notify.Notifier,
	hub *observe.Hub,
	uploader Uploader,
	queue DeliveryQueue,
	selfID string,
) IngestService {
	return &ingestServiceImpl{
		msgRepo:  msgRepo,
		convRepo: convRepo,
		tp:       tp,
		active:   active,
		notifier: notifier,
		hub:      hub,
		uploader: uploader,
		queue:    queue,
		selfID:   selfID,
	}
}

// HandleRealtime 实时路径入口。解析失败只丢弃记日志，摄取路径不允许崩
func (s *ingestServiceImpl) HandleRealtime(ctx context.Context, ev *transport.InboundMessage) {
	msg, err := s.toModel(ev)
	if err != nil {
		log.WarnContext(ctx, "入站消息非法，丢弃", "err", err)
		return
	}
	_ = s.ingest(ctx, msg)
}

// HandlePushWake 推送兜底入口。通道在线时整体跳过：实时路径会送达同一条消息，
// 两头都处理会产生重复副作用（通知、回执）
func (s *ingestServiceImpl) HandlePushWake(ctx context.Context, payload map[string]string) error {
	if s.tp.IsConnected() {
		log.InfoContext(ctx, "实时通道在线，跳过推送兜底处理")
		return nil
	}

	// 有限预算内尝试拉起通道；直连失败时重连主循环可能正在拨号，
	// 剩余预算内再等它一程。最终拉不起来也继续，持久化绝不能因离线丢失
	connectCtx, cancel := context.WithTimeout(ctx, consts.PushConnectWait)
	if err := s.tp.Connect(connectCtx); err != nil {
		if werr := s.tp.WaitConnected(connectCtx); werr != nil {
			log.WarnContext(ctx, "推送唤醒期间通道未能建立，离线落盘", "err", err)
		}
	}
	cancel()

	ev, err := transport.FromPushPayload(payload)
	if err != nil {
		log.WarnContext(ctx, "推送载荷非法，丢弃", "err", err)
		return ErrPayloadMalformed
	}
	msg, err := s.toModel(ev)
	if err != nil {
		log.WarnContext(ctx, "推送消息非法，丢弃", "err", err)
		return ErrPayloadMalformed
	}

	if err := s.ingest(ctx, msg); err != nil {
		return UnExpectedError
	}

	// 连通恢复处理：补发回执并唤醒出站队列
	if s.tp.IsConnected() {
		s.OnReconnected(ctx)
	}
	return nil
}

// ingest 共享摄取流程，两条路径唯一的落盘入口
func (s *ingestServiceImpl) ingest(ctx context.Context, msg *model.Message) error {
	inserted, err := s.msgRepo.InsertIgnore(ctx, msg)
	if err != nil {
		// 落盘失败不回执：发送方不能误以为已送达，等上游按至少一次语义重投
		log.ErrorContext(ctx, "入站消息落盘失败，不回执", "message_id", msg.ID, "err", err)
		return err
	}
	if !inserted {
		// 两条路径竞争时先写者生效，重复投递静默丢弃，
		// 避免覆盖并发已读/回执流程推进过的状态
		log.InfoContext(ctx, "重复投递，忽略", "message_id", msg.ID)
		return nil
	}

	preview := msg.Content
	if msg.MsgType == model.MsgTypeMedia {
		preview = msg.FileName
	}
	if err := s.convRepo.Upsert(ctx, &model.Conversation{
		PeerID:             msg.SenderID,
		LastMessageContent: preview,
		LastMessageAt:      msg.Timestamp,
		LastSenderID:       msg.SenderID,
		LastMessageStatus:  msg.Status,
	}); err != nil {
		log.WarnContext(ctx, "会话摘要更新失败", "peer", msg.SenderID, "err", err)
	}

	// 只有持久化成功才回执
	s.ackDelivered(ctx, msg.ID)

	if msg.MsgType == model.MsgTypeMedia && msg.DownloadStatus == model.DownloadPending {
		s.uploader.QueueDownload(msg.ID)
	}

	s.safeNotify(ctx, msg)
	s.hub.Publish(observe.Change{Kind: observe.ChangeMessage, PeerID: msg.SenderID, MessageID: msg.ID, Status: msg.Status})
	return nil
}

// ackDelivered 向后端回执已收取。离线时留待重连后补发
func (s *ingestServiceImpl) ackDelivered(ctx context.Context, messageID string) {
	if !s.tp.IsConnected() {
		log.InfoContext(ctx, "通道离线，回执延后", "message_id", messageID)
		return
	}
	err := s.tp.Emit(ctx, transport.OutboundAck, &transport.AckEvent{
		MessageID: messageID,
		Status:    model.StatusDelivered,
	})
	if err != nil {
		log.WarnContext(ctx, "回执发送失败，留待重连补发", "message_id", messageID, "err", err)
		return
	}
	if err := s.msgRepo.SetAcked(ctx, messageID); err != nil {
		log.WarnContext(ctx, "回执标记落库失败", "message_id", messageID, "err", err)
	}
}

// FlushPendingAcks 补发所有已落盘未回执的入站消息回执
func (s *ingestServiceImpl) FlushPendingAcks(ctx context.Context) {
	if !s.tp.IsConnected() {
		return
	}
	msgs, err := s.msgRepo.ListUnacked(ctx, 256)
	if err != nil {
		log.ErrorContext(ctx, "未回执消息查询失败", "err", err)
		return
	}
	for _, m := range msgs {
		s.ackDelivered(ctx, m.ID)
	}
	if len(msgs) > 0 {
		log.InfoContext(ctx, "补发回执完成", "count", len(msgs))
	}
}

// OnReconnected 连通恢复：补发回执，唤醒出站排空
func (s *ingestServiceImpl) OnReconnected(ctx context.Context) {
	s.FlushPendingAcks(ctx)
	s.queue.Wake()
}

// HandleReadReceipt 对端已读回执：推进本端出站消息到 READ
func (s *ingestServiceImpl) HandleReadReceipt(ctx context.Context, rc *transport.ReadReceiptEvent) {
	if rc.PeerID == "" {
		return
	}
	if err := s.msgRepo.MarkOutboundRead(ctx, rc.PeerID, s.selfID, rc.Timestamp); err != nil {
		log.ErrorContext(ctx, "已读回执落库失败", "peer", rc.PeerID, "err", err)
		return
	}

	// 回执时间点是水位线，摘要仅在最新一条出站消息也被覆盖时才推进
	if conv, err := s.convRepo.Get(ctx, rc.PeerID); err == nil &&
		conv.LastSenderID == s.selfID && conv.LastMessageAt <= rc.Timestamp {
		_ = s.convRepo.UpdateLastStatus(ctx, rc.PeerID, conv.LastMessageAt, model.StatusRead)
	}
	s.hub.Publish(observe.Change{Kind: observe.ChangeConversation, PeerID: rc.PeerID, Status: model.StatusRead})
}

// safeNotify 通知展示是可丢弃副作用，独立隔离，失败不回传
func (s *ingestServiceImpl) safeNotify(ctx context.Context, msg *model.Message) {
	if s.active.IsActive(msg.SenderID) {
		// 该会话正在前台可见，不打扰
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("通知展示崩溃已隔离", "panic", r)
			}
		}()
		preview := msg.Content
		if msg.MsgType == model.MsgTypeMedia {
			preview = msg.FileName
		}
		s.notifier.Notify(context.WithoutCancel(ctx), msg.SenderID, msg.ID, preview)
	}()
}

// toModel 把线上事件转成规范化本地记录并套用下载策略
func (s *ingestServiceImpl) toModel(ev *transport.InboundMessage) (*model.Message, error) {
	if ev == nil || ev.ID == "" || ev.SenderID == "" {
		return nil, ErrPayloadMalformed
	}

	ts, err := transport.ParseTimestamp(ev.Timestamp)
	if err != nil {
		return nil, ErrPayloadMalformed
	}

	msg := &model.Message{}
	if err := copier.Copy(msg, ev); err != nil {
		return nil, ErrPayloadMalformed
	}
	msg.ConversationID = ev.SenderID
	msg.RecipientID = s.selfID
	msg.MsgType = model.MsgTypeText
	msg.Status = model.StatusDelivered
	msg.Timestamp = ts

	if ev.Attachment != nil {
		msg.MsgType = model.MsgTypeMedia
		msg.AttachmentID = ev.Attachment.ID
		msg.MimeType = ev.Attachment.MimeType
		msg.FileType = ev.Attachment.Type
		msg.FileName = ev.Attachment.Filename
		msg.Size = ev.Attachment.Size
		// 小附件自动排队下载，大附件等用户显式触发
		if ev.Attachment.Size < consts.AutoDownloadMaxBytes {
			msg.DownloadStatus = model.DownloadPending
		} else {
			msg.DownloadStatus = model.DownloadNotStarted
		}
	}
	return msg, nil
}
