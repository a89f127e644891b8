package service

import (
	"Fieldlink/internal/api/dto"
	"Fieldlink/internal/model"
	"Fieldlink/internal/pkg/consts"
	"Fieldlink/internal/pkg/observe"
	"Fieldlink/internal/pkg/transport"
	"Fieldlink/internal/repository"
	"context"
	"errors"
	log "log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RealtimeTransport 投递与摄取引擎所需的实时通道最小契约
type RealtimeTransport interface {
	IsConnected() bool
	Connect(ctx context.Context) error
	Emit(ctx context.Context, kind transport.OutboundKind, payload interface{}) error
	WaitConnected(ctx context.Context) error
}

// Uploader 附件管线入口契约
type Uploader interface {
	Begin(ctx context.Context, msg *model.Message, req *dto.AttachmentReq) error
	QueueDownload(messageID string)
}

// DeliveryQueue 投递队列引擎：本地创建的消息最终必达，
// 会话内严格有序，重试有界，失败可见可手动重试
type DeliveryQueue interface {
	Enqueue(ctx context.Context, req *dto.EnqueueReq) (*dto.EnqueueResp, error)
	Retry(ctx context.Context, messageID string) error
	HandleAck(ctx context.Context, ack *transport.AckEvent)
	OnUploadDone(ctx context.Context, messageID, attachmentID string)
	OnUploadFailed(ctx context.Context, messageID string, cause error)
	Run(ctx context.Context) error
	Wake()
}

var errAckTimeout = errors.New("ack wait timed out")

type deliveryQueueImpl struct {
	msgRepo  repository.MessageRepo
	convRepo repository.ConversationRepo
	uploader Uploader
	tp       RealtimeTransport
	hub      *observe.Hub
	selfID   string

	wakeChan chan struct{}

	ackMu      sync.Mutex
	ackWaiters map[string]chan *transport.AckEvent
}

func NewDeliveryQueue(
	msgRepo repository.MessageRepo,
	convRepo repository.ConversationRepo,
	uploader Uploader,
	tp RealtimeTransport,
	hub *observe.Hub,
	selfID string,
) DeliveryQueue {
	return &deliveryQueueImpl{
		msgRepo:    msgRepo,
		convRepo:   convRepo,
		uploader:   uploader,
		tp:         tp,
		hub:        hub,
		selfID:     selfID,
		wakeChan:   make(chan struct{}, 1),
		ackWaiters: make(map[string]chan *transport.AckEvent),
	}
}

// Enqueue 出站消息入队。只做本地落盘与会话摘要乐观更新，绝不等网络
func (s *deliveryQueueImpl) Enqueue(ctx context.Context, req *dto.EnqueueReq) (*dto.EnqueueResp, error) {
	if req.MsgType == model.MsgTypeMedia && req.Attachment == nil {
		return nil, ErrAttachmentMissing
	}
	if req.Attachment != nil && req.Attachment.Size > consts.MaxAttachmentBytes {
		return nil, ErrAttachmentTooLarge
	}

	now := repository.NowMillis()
	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: req.PeerID,
		SenderID:       s.selfID,
		RecipientID:    req.PeerID,
		Content:        req.Content,
		MsgType:        req.MsgType,
		Status:         model.StatusPending,
		Timestamp:      now,
	}

	if req.Attachment != nil {
		// 附件先上传，拿到服务端 attachmentId 之前不进入发送管线
		msg.Status = model.StatusUploading
		msg.LocalPath = req.Attachment.LocalPath
		msg.MimeType = req.Attachment.MimeType
		msg.FileType = req.Attachment.FileType
		msg.FileName = req.Attachment.FileName
		msg.Size = req.Attachment.Size
	}

	if err := s.msgRepo.Create(ctx, msg); err != nil {
		log.ErrorContext(ctx, "出站消息落盘失败", "err", err)
		return nil, UnExpectedError
	}

	preview := msg.Content
	if msg.MsgType == model.MsgTypeMedia {
		preview = msg.FileName
	}
	if err := s.convRepo.Upsert(ctx, &model.Conversation{
		PeerID:             req.PeerID,
		LastMessageContent: preview,
		LastMessageAt:      now,
		LastSenderID:       s.selfID,
		LastMessageStatus:  msg.Status,
	}); err != nil {
		log.WarnContext(ctx, "会话摘要更新失败", "peer", req.PeerID, "err", err)
	}

	if req.Attachment != nil {
		if err := s.uploader.Begin(ctx, msg, req.Attachment); err != nil {
			_, _ = s.msgRepo.CASStatus(ctx, msg.ID,
				[]string{model.StatusUploading},
				map[string]interface{}{"status": model.StatusFailed})
			return nil, err
		}
	}

	s.hub.Publish(observe.Change{Kind: observe.ChangeMessage, PeerID: req.PeerID, MessageID: msg.ID, Status: msg.Status})
	s.Wake()

	return &dto.EnqueueResp{MessageID: msg.ID, Status: msg.Status}, nil
}

// Retry 手动重试：FAILED 回到 PENDING 并清零重试预算
func (s *deliveryQueueImpl) Retry(ctx context.Context, messageID string) error {
	msg, err := s.msgRepo.Get(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMessageNotFound
		}
		return UnExpectedError
	}
	if msg.Status != model.StatusFailed {
		return ErrMessageNotRetrybl
	}

	ok, err := s.msgRepo.CASStatus(ctx, messageID,
		[]string{model.StatusFailed},
		map[string]interface{}{"status": model.StatusPending, "retry_count": 0, "next_retry_at": 0})
	if err != nil {
		return UnExpectedError
	}
	if !ok {
		return ErrMessageNotRetrybl
	}

	s.hub.Publish(observe.Change{Kind: observe.ChangeMessage, PeerID: msg.ConversationID, MessageID: messageID, Status: model.StatusPending})
	s.Wake()
	return nil
}

// Wake 提前唤醒一次排空，信号合并，满了直接丢
func (s *deliveryQueueImpl) Wake() {
	select {
	case s.wakeChan <- struct{}{}:
	default:
	}
}

// Run 排空主循环：定时器、显式唤醒与重连事件共同驱动
func (s *deliveryQueueImpl) Run(ctx context.Context) error {
	ticker := time.NewTicker(consts.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-s.wakeChan:
		}
		s.drainOnce(ctx)
	}
}

// drainOnce 单次排空。通道断开不是失败：不消耗任何消息的重试预算，
// 等下一次唤醒重新评估即可
func (s *deliveryQueueImpl) drainOnce(ctx context.Context) {
	if !s.tp.IsConnected() {
		return
	}

	heads, err := s.msgRepo.FetchHeads(ctx, repository.NowMillis())
	if err != nil {
		log.ErrorContext(ctx, "队头查询失败", "err", err)
		return
	}
	if len(heads) == 0 {
		return
	}

	// 队头互不同会话，可以并行发送；会话内定序由队头选取本身保证
	var wg sync.WaitGroup
	for _, m := range heads {
		wg.Add(1)
		go func(msg *model.Message) {
			defer wg.Done()
			s.transmit(ctx, msg)
		}(m)
	}
	wg.Wait()
}

// transmit 发送单条队头消息并在限时内等待回执
func (s *deliveryQueueImpl) transmit(ctx context.Context, msg *model.Message) {
	waiter := make(chan *transport.AckEvent, 1)
	s.ackMu.Lock()
	s.ackWaiters[msg.ID] = waiter
	s.ackMu.Unlock()
	defer func() {
		s.ackMu.Lock()
		delete(s.ackWaiters, msg.ID)
		s.ackMu.Unlock()
	}()

	ev := &transport.OutboundMessage{
		ID:           msg.ID,
		RecipientID:  msg.RecipientID,
		Content:      msg.Content,
		Type:         msg.MsgType,
		AttachmentID: msg.AttachmentID,
	}
	if err := s.tp.Emit(ctx, transport.OutboundSend, ev); err != nil {
		s.onSendFailure(ctx, msg, err)
		return
	}

	select {
	case ack := <-waiter:
		s.onAcked(ctx, msg, ack)
	case <-time.After(consts.AckWait):
		s.onSendFailure(ctx, msg, errAckTimeout)
	case <-ctx.Done():
	}
}

// HandleAck 服务端回执入口。有等待方就地交付；等待方已超时放弃的迟到回执直接落库
func (s *deliveryQueueImpl) HandleAck(ctx context.Context, ack *transport.AckEvent) {
	s.ackMu.Lock()
	waiter := s.ackWaiters[ack.MessageID]
	s.ackMu.Unlock()

	if waiter != nil {
		select {
		case waiter <- ack:
		default:
		}
		return
	}

	to := statusFromAck(ack.Status)
	ok, err := s.msgRepo.CASStatus(ctx, ack.MessageID,
		[]string{model.StatusPending, model.StatusSent},
		map[string]interface{}{"status": to, "retry_count": 0, "next_retry_at": 0})
	if err != nil {
		log.ErrorContext(ctx, "迟到回执落库失败", "message_id", ack.MessageID, "err", err)
		return
	}
	if ok {
		log.InfoContext(ctx, "迟到回执已生效", "message_id", ack.MessageID, "status", to)
	}
}

func (s *deliveryQueueImpl) onAcked(ctx context.Context, msg *model.Message, ack *transport.AckEvent) {
	to := statusFromAck(ack.Status)
	ok, err := s.msgRepo.CASStatus(ctx, msg.ID,
		[]string{model.StatusPending},
		map[string]interface{}{"status": to, "retry_count": 0, "next_retry_at": 0})
	if err != nil {
		log.ErrorContext(ctx, "回执状态落库失败", "message_id", msg.ID, "err", err)
		return
	}
	if !ok {
		// 状态已被并发任务推进（例如对端更早的已读回执），不回退
		return
	}

	_ = s.convRepo.UpdateLastStatus(ctx, msg.ConversationID, msg.Timestamp, to)
	s.hub.Publish(observe.Change{Kind: observe.ChangeMessage, PeerID: msg.ConversationID, MessageID: msg.ID, Status: to})
}

// onSendFailure 一次失败的发送尝试：预算内退避重试，预算耗尽转 FAILED
func (s *deliveryQueueImpl) onSendFailure(ctx context.Context, msg *model.Message, cause error) {
	retry := msg.RetryCount + 1

	if retry >= consts.MaxSendRetries {
		ok, err := s.msgRepo.CASStatus(ctx, msg.ID,
			[]string{model.StatusPending},
			map[string]interface{}{"status": model.StatusFailed, "retry_count": retry})
		if err != nil || !ok {
			return
		}
		log.WarnContext(ctx, "重试预算耗尽，消息转入失败态", "message_id", msg.ID, "retries", retry, "err", cause)
		_ = s.convRepo.UpdateLastStatus(ctx, msg.ConversationID, msg.Timestamp, model.StatusFailed)
		s.hub.Publish(observe.Change{Kind: observe.ChangeFailure, PeerID: msg.ConversationID, MessageID: msg.ID, Status: model.StatusFailed})
		return
	}

	delay := backoffDelay(retry)
	_, err := s.msgRepo.CASStatus(ctx, msg.ID,
		[]string{model.StatusPending},
		map[string]interface{}{"retry_count": retry, "next_retry_at": repository.NowMillis() + delay.Milliseconds()})
	if err != nil {
		log.ErrorContext(ctx, "重试状态落库失败", "message_id", msg.ID, "err", err)
		return
	}
	log.InfoContext(ctx, "发送失败，已安排退避重试", "message_id", msg.ID, "attempt", retry, "delay", delay, "err", cause)
}

// OnUploadDone 附件管线回调：拿到服务端 attachmentId，消息回到发送管线
func (s *deliveryQueueImpl) OnUploadDone(ctx context.Context, messageID, attachmentID string) {
	ok, err := s.msgRepo.CASStatus(ctx, messageID,
		[]string{model.StatusUploading},
		map[string]interface{}{"status": model.StatusPending, "attachment_id": attachmentID, "next_retry_at": 0, "retry_count": 0})
	if err != nil || !ok {
		log.WarnContext(ctx, "上传完成回调未命中期望状态", "message_id", messageID, "err", err)
		return
	}
	s.hub.Publish(observe.Change{Kind: observe.ChangeMessage, MessageID: messageID, Status: model.StatusPending})
	s.Wake()
}

// OnUploadFailed 附件管线重试耗尽，消息整体转 FAILED
func (s *deliveryQueueImpl) OnUploadFailed(ctx context.Context, messageID string, cause error) {
	ok, err := s.msgRepo.CASStatus(ctx, messageID,
		[]string{model.StatusUploading},
		map[string]interface{}{"status": model.StatusFailed})
	if err != nil || !ok {
		return
	}
	log.WarnContext(ctx, "附件上传失败，消息转入失败态", "message_id", messageID, "err", cause)
	s.hub.Publish(observe.Change{Kind: observe.ChangeFailure, MessageID: messageID, Status: model.StatusFailed})
}

func statusFromAck(ackStatus string) string {
	if ackStatus == model.StatusDelivered {
		return model.StatusDelivered
	}
	return model.StatusSent
}

// backoffDelay 指数退避加抖动，避免弱网下的重试风暴
func backoffDelay(attempt int) time.Duration {
	d := consts.RetryBackoffBase << (attempt - 1)
	if d > consts.RetryBackoffCap {
		d = consts.RetryBackoffCap
	}
	jitter := 1 + (rand.Float64()*2-1)*consts.RetryJitterRatio
	return time.Duration(float64(d) * jitter)
}
