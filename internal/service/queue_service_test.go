package service

import (
	"Fieldlink/internal/api/dto"
	"Fieldlink/internal/model"
	"Fieldlink/internal/pkg/consts"
	"Fieldlink/internal/pkg/observe"
	"Fieldlink/internal/pkg/transport"
	"Fieldlink/internal/repository"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&model.Message{}, &model.Conversation{}, &model.PendingUpload{}))
	return db
}

// fakeTransport 可控的实时通道替身
type fakeTransport struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	emitErr    error
	emitted    []*transport.OutboundMessage
	emits      []transport.OutboundKind
	onEmit     func(kind transport.OutboundKind, payload interface{})
	onWait     func()
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Emit(ctx context.Context, kind transport.OutboundKind, payload interface{}) error {
	f.mu.Lock()
	if f.emitErr != nil {
		err := f.emitErr
		f.mu.Unlock()
		return err
	}
	f.emits = append(f.emits, kind)
	if m, ok := payload.(*transport.OutboundMessage); ok {
		f.emitted = append(f.emitted, m)
	}
	cb := f.onEmit
	f.mu.Unlock()

	if cb != nil {
		cb(kind, payload)
	}
	return nil
}

func (f *fakeTransport) WaitConnected(ctx context.Context) error {
	f.mu.Lock()
	hook := f.onWait
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if f.IsConnected() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return context.DeadlineExceeded
}

func (f *fakeTransport) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *fakeTransport) emittedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.emitted))
	for _, m := range f.emitted {
		ids = append(ids, m.ID)
	}
	return ids
}

func (f *fakeTransport) emitKinds() []transport.OutboundKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.OutboundKind(nil), f.emits...)
}

// fakeUploader 附件管线替身
type fakeUploader struct {
	mu        sync.Mutex
	began     []string
	downloads []string
	beginErr  error
}

func (f *fakeUploader) Begin(ctx context.Context, msg *model.Message, req *dto.AttachmentReq) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beginErr != nil {
		return f.beginErr
	}
	f.began = append(f.began, msg.ID)
	return nil
}

func (f *fakeUploader) QueueDownload(messageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, messageID)
}

func (f *fakeUploader) queuedDownloads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.downloads...)
}

type queueFixture struct {
	db       *gorm.DB
	msgRepo  repository.MessageRepo
	convRepo repository.ConversationRepo
	tp       *fakeTransport
	up       *fakeUploader
	hub      *observe.Hub
	queue    *deliveryQueueImpl
}

func newQueueFixture(t *testing.T) *queueFixture {
	t.Helper()
	db := newTestDB(t)
	msgRepo := repository.NewMessageRepo(db)
	convRepo := repository.NewConversationRepo(db)
	tp := &fakeTransport{connected: true}
	up := &fakeUploader{}
	hub := observe.NewHub()
	q := NewDeliveryQueue(msgRepo, convRepo, up, tp, hub, "self").(*deliveryQueueImpl)
	return &queueFixture{db: db, msgRepo: msgRepo, convRepo: convRepo, tp: tp, up: up, hub: hub, queue: q}
}

// autoAck 让替身通道对每条出站消息立即回送达回执
func (f *queueFixture) autoAck(status string) {
	f.tp.onEmit = func(kind transport.OutboundKind, payload interface{}) {
		if kind != transport.OutboundSend {
			return
		}
		m := payload.(*transport.OutboundMessage)
		f.queue.HandleAck(context.Background(), &transport.AckEvent{MessageID: m.ID, Status: status})
	}
}

func TestEnqueuePersistsWithoutNetwork(t *testing.T) {
	f := newQueueFixture(t)
	f.tp.setConnected(false)
	ctx := context.Background()

	resp, err := f.queue.Enqueue(ctx, &dto.EnqueueReq{
		PeerID: "peer-a", Content: "离线也要落盘", MsgType: model.MsgTypeText,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, resp.Status)

	msg, err := f.msgRepo.Get(ctx, resp.MessageID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, msg.Status)
	assert.Equal(t, "self", msg.SenderID)

	conv, err := f.convRepo.Get(ctx, "peer-a")
	require.NoError(t, err)
	assert.Equal(t, "离线也要落盘", conv.LastMessageContent)

	// 断开状态下排空不发送，也不消耗重试预算
	f.queue.drainOnce(ctx)
	assert.Empty(t, f.tp.emittedIDs())
	msg, err = f.msgRepo.Get(ctx, resp.MessageID)
	require.NoError(t, err)
	assert.Equal(t, 0, msg.RetryCount)
}

func TestEnqueueMediaRequiresAttachment(t *testing.T) {
	f := newQueueFixture(t)

	_, err := f.queue.Enqueue(context.Background(), &dto.EnqueueReq{
		PeerID: "peer-a", MsgType: model.MsgTypeMedia,
	})
	assert.ErrorIs(t, err, ErrAttachmentMissing)
}

func TestEnqueueMediaRejectsOversizedAttachment(t *testing.T) {
	f := newQueueFixture(t)

	_, err := f.queue.Enqueue(context.Background(), &dto.EnqueueReq{
		PeerID:  "peer-a",
		MsgType: model.MsgTypeMedia,
		Attachment: &dto.AttachmentReq{
			LocalPath: "/tmp/raw.mov", FileName: "raw.mov",
			MimeType: "video/quicktime", Size: consts.MaxAttachmentBytes + 1,
		},
	})
	assert.ErrorIs(t, err, ErrAttachmentTooLarge)

	// 拒绝发生在落盘之前，不留半截消息
	var count int64
	require.NoError(t, f.db.Model(&model.Message{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestEnqueueMediaEntersUploadPipeline(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	resp, err := f.queue.Enqueue(ctx, &dto.EnqueueReq{
		PeerID:  "peer-a",
		MsgType: model.MsgTypeMedia,
		Attachment: &dto.AttachmentReq{
			LocalPath: "/tmp/photo.jpg", FileName: "photo.jpg",
			MimeType: "image/jpeg", Size: 1024,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusUploading, resp.Status)
	assert.Equal(t, []string{resp.MessageID}, f.up.began)

	// 上传中不可投递
	f.queue.drainOnce(ctx)
	assert.Empty(t, f.tp.emittedIDs())

	// 上传确认后回到发送管线
	f.queue.OnUploadDone(ctx, resp.MessageID, "att-1")
	msg, err := f.msgRepo.Get(ctx, resp.MessageID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, msg.Status)
	assert.Equal(t, "att-1", msg.AttachmentID)
}

func TestDrainDeliversConversationInOrder(t *testing.T) {
	f := newQueueFixture(t)
	f.autoAck(model.StatusDelivered)
	ctx := context.Background()

	require.NoError(t, f.msgRepo.Create(ctx, &model.Message{
		ID: "m-1", ConversationID: "peer-a", SenderID: "self", RecipientID: "peer-a",
		MsgType: model.MsgTypeText, Status: model.StatusPending, Timestamp: 100,
	}))
	require.NoError(t, f.msgRepo.Create(ctx, &model.Message{
		ID: "m-2", ConversationID: "peer-a", SenderID: "self", RecipientID: "peer-a",
		MsgType: model.MsgTypeText, Status: model.StatusPending, Timestamp: 200,
	}))

	// 第一轮只发队头
	f.queue.drainOnce(ctx)
	assert.Equal(t, []string{"m-1"}, f.tp.emittedIDs())

	msg, err := f.msgRepo.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, msg.Status)

	// 队头确认后下一条才放行
	f.queue.drainOnce(ctx)
	assert.Equal(t, []string{"m-1", "m-2"}, f.tp.emittedIDs())
}

func TestDrainParallelAcrossConversations(t *testing.T) {
	f := newQueueFixture(t)
	f.autoAck(model.StatusDelivered)
	ctx := context.Background()

	require.NoError(t, f.msgRepo.Create(ctx, &model.Message{
		ID: "m-a", ConversationID: "peer-a", SenderID: "self", RecipientID: "peer-a",
		MsgType: model.MsgTypeText, Status: model.StatusPending, Timestamp: 100,
	}))
	require.NoError(t, f.msgRepo.Create(ctx, &model.Message{
		ID: "m-b", ConversationID: "peer-b", SenderID: "self", RecipientID: "peer-b",
		MsgType: model.MsgTypeText, Status: model.StatusPending, Timestamp: 200,
	}))

	f.queue.drainOnce(ctx)
	assert.ElementsMatch(t, []string{"m-a", "m-b"}, f.tp.emittedIDs())
}

func TestSendFailureSchedulesBackoff(t *testing.T) {
	f := newQueueFixture(t)
	f.tp.emitErr = errors.New("网关写入失败")
	ctx := context.Background()

	require.NoError(t, f.msgRepo.Create(ctx, &model.Message{
		ID: "m-1", ConversationID: "peer-a", SenderID: "self", RecipientID: "peer-a",
		MsgType: model.MsgTypeText, Status: model.StatusPending, Timestamp: 100,
	}))

	before := repository.NowMillis()
	f.queue.drainOnce(ctx)

	msg, err := f.msgRepo.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, msg.Status)
	assert.Equal(t, 1, msg.RetryCount)
	assert.Greater(t, msg.NextRetryAt, before)

	// 退避未到期，立即再排空不会重发
	f.queue.drainOnce(ctx)
	msg, err = f.msgRepo.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, 1, msg.RetryCount)
}

func TestRetryBudgetExhaustionMarksFailed(t *testing.T) {
	f := newQueueFixture(t)
	f.tp.emitErr = errors.New("网关写入失败")
	ctx := context.Background()

	require.NoError(t, f.msgRepo.Create(ctx, &model.Message{
		ID: "m-1", ConversationID: "peer-a", SenderID: "self", RecipientID: "peer-a",
		MsgType: model.MsgTypeText, Status: model.StatusPending, Timestamp: 100,
		RetryCount: consts.MaxSendRetries - 1,
	}))
	require.NoError(t, f.convRepo.Upsert(ctx, &model.Conversation{
		PeerID: "peer-a", LastMessageAt: 100, LastMessageStatus: model.StatusPending,
	}))

	f.queue.drainOnce(ctx)

	msg, err := f.msgRepo.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, msg.Status)

	conv, err := f.convRepo.Get(ctx, "peer-a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, conv.LastMessageStatus)
}

func TestManualRetryResetsBudget(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	require.NoError(t, f.msgRepo.Create(ctx, &model.Message{
		ID: "m-1", ConversationID: "peer-a", SenderID: "self", RecipientID: "peer-a",
		MsgType: model.MsgTypeText, Status: model.StatusFailed, Timestamp: 100,
		RetryCount: consts.MaxSendRetries, NextRetryAt: 9_999_999_999_999,
	}))

	require.NoError(t, f.queue.Retry(ctx, "m-1"))

	msg, err := f.msgRepo.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, msg.Status)
	assert.Equal(t, 0, msg.RetryCount)
	assert.EqualValues(t, 0, msg.NextRetryAt)
}

func TestManualRetryRejectsNonFailed(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	require.NoError(t, f.msgRepo.Create(ctx, &model.Message{
		ID: "m-1", ConversationID: "peer-a", SenderID: "self",
		MsgType: model.MsgTypeText, Status: model.StatusSent, Timestamp: 100,
	}))

	assert.ErrorIs(t, f.queue.Retry(ctx, "m-1"), ErrMessageNotRetrybl)
	assert.ErrorIs(t, f.queue.Retry(ctx, "ghost"), ErrMessageNotFound)
}

func TestLateAckStillLands(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	require.NoError(t, f.msgRepo.Create(ctx, &model.Message{
		ID: "m-1", ConversationID: "peer-a", SenderID: "self",
		MsgType: model.MsgTypeText, Status: model.StatusPending, Timestamp: 100,
	}))

	// 没有等待方的回执直接落库
	f.queue.HandleAck(ctx, &transport.AckEvent{MessageID: "m-1", Status: model.StatusDelivered})

	msg, err := f.msgRepo.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, msg.Status)
}

func TestBackoffDelayBounds(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := backoffDelay(1)
		assert.GreaterOrEqual(t, d, time.Duration(float64(consts.RetryBackoffBase)*(1-consts.RetryJitterRatio)))
		assert.LessOrEqual(t, d, time.Duration(float64(consts.RetryBackoffBase)*(1+consts.RetryJitterRatio)))
	}

	// 深度重试受上限约束
	d := backoffDelay(20)
	assert.LessOrEqual(t, d, time.Duration(float64(consts.RetryBackoffCap)*(1+consts.RetryJitterRatio)))
}
