package service

import (
	"Fieldlink/internal/model"
	"Fieldlink/internal/pkg/consts"
	"Fieldlink/internal/pkg/observe"
	"Fieldlink/internal/pkg/state"
	"Fieldlink/internal/pkg/transport"
	"Fieldlink/internal/repository"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeNotifier 记录通知调用
type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
	fired chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{fired: make(chan struct{}, 16)}
}

func (f *fakeNotifier) Notify(ctx context.Context, peerID, messageID, preview string) {
	f.mu.Lock()
	f.calls = append(f.calls, messageID)
	f.mu.Unlock()
	f.fired <- struct{}{}
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type ingestFixture struct {
	db       *gorm.DB
	msgRepo  repository.MessageRepo
	convRepo repository.ConversationRepo
	tp       *fakeTransport
	up       *fakeUploader
	active   *state.ActiveConversation
	notifier *fakeNotifier
	hub      *observe.Hub
	queue    *deliveryQueueImpl
	ingest   *ingestServiceImpl
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	db := newTestDB(t)
	msgRepo := repository.NewMessageRepo(db)
	convRepo := repository.NewConversationRepo(db)
	tp := &fakeTransport{connected: true}
	up := &fakeUploader{}
	active := state.NewActiveConversation()
	notifier := newFakeNotifier()
	hub := observe.NewHub()
	queue := NewDeliveryQueue(msgRepo, convRepo, up, tp, hub, "self").(*deliveryQueueImpl)
	ingest := NewIngestService(msgRepo, convRepo, tp, active, notifier, hub, up, queue, "self").(*ingestServiceImpl)
	return &ingestFixture{
		db: db, msgRepo: msgRepo, convRepo: convRepo, tp: tp, up: up,
		active: active, notifier: notifier, hub: hub, queue: queue, ingest: ingest,
	}
}

func inboundEvent(id string) *transport.InboundMessage {
	return &transport.InboundMessage{
		ID:          id,
		SenderID:    "peer-a",
		Content:     "你好",
		MessageType: "text",
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func TestRealtimeIngestPersistsAndAcks(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	f.ingest.HandleRealtime(ctx, inboundEvent("in-1"))

	msg, err := f.msgRepo.Get(ctx, "in-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, msg.Status)
	assert.Equal(t, "peer-a", msg.ConversationID)
	assert.Equal(t, "self", msg.RecipientID)
	assert.True(t, msg.DeliveryAcked)

	assert.Equal(t, []transport.OutboundKind{transport.OutboundAck}, f.tp.emitKinds())

	conv, err := f.convRepo.Get(ctx, "peer-a")
	require.NoError(t, err)
	assert.Equal(t, "你好", conv.LastMessageContent)
}

func TestDuplicateDeliveryIsNoOp(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	f.ingest.HandleRealtime(ctx, inboundEvent("in-1"))
	f.ingest.HandleRealtime(ctx, inboundEvent("in-1"))

	var count int64
	require.NoError(t, f.db.Model(&model.Message{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	// 重复投递不产生第二次回执，也不重复通知
	assert.Len(t, f.tp.emitKinds(), 1)
}

func TestIngestDefersAckWhenOffline(t *testing.T) {
	f := newIngestFixture(t)
	f.tp.setConnected(false)
	ctx := context.Background()

	f.ingest.HandleRealtime(ctx, inboundEvent("in-1"))

	msg, err := f.msgRepo.Get(ctx, "in-1")
	require.NoError(t, err)
	assert.False(t, msg.DeliveryAcked)
	assert.Empty(t, f.tp.emitKinds())

	// 重连后补发
	f.tp.setConnected(true)
	f.ingest.FlushPendingAcks(ctx)

	msg, err = f.msgRepo.Get(ctx, "in-1")
	require.NoError(t, err)
	assert.True(t, msg.DeliveryAcked)
	assert.Equal(t, []transport.OutboundKind{transport.OutboundAck}, f.tp.emitKinds())
}

func TestPushWakeSkipsWhenChannelAlive(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	payload := map[string]string{
		"id": "in-1", "senderId": "peer-a", "content": "推送来的",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	require.NoError(t, f.ingest.HandlePushWake(ctx, payload))

	// 通道在线时实时路径负责送达，推送兜底整体跳过
	_, err := f.msgRepo.Get(ctx, "in-1")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestPushWakePersistsWhileOffline(t *testing.T) {
	f := newIngestFixture(t)
	f.tp.setConnected(false)
	f.tp.connectErr = errors.New("无网络")
	ctx := context.Background()

	payload := map[string]string{
		"id": "in-1", "senderId": "peer-a", "content": "推送来的",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	require.NoError(t, f.ingest.HandlePushWake(ctx, payload))

	// 通道拉不起来也必须落盘，回执延后
	msg, err := f.msgRepo.Get(ctx, "in-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, msg.Status)
	assert.False(t, msg.DeliveryAcked)
}

func TestPushWakeRidesAlongConcurrentDial(t *testing.T) {
	f := newIngestFixture(t)
	f.tp.setConnected(false)
	f.tp.connectErr = errors.New("拨号中")
	// 直连失败但重连主循环抢先把通道建了起来
	f.tp.onWait = func() { f.tp.setConnected(true) }
	ctx := context.Background()

	payload := map[string]string{
		"id": "in-1", "senderId": "peer-a", "content": "推送来的",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	require.NoError(t, f.ingest.HandlePushWake(ctx, payload))

	// 搭上已建立的通道：落盘并立即回执
	msg, err := f.msgRepo.Get(ctx, "in-1")
	require.NoError(t, err)
	assert.True(t, msg.DeliveryAcked)
	assert.Contains(t, f.tp.emitKinds(), transport.OutboundAck)
}

func TestPushWakeRejectsMalformedPayload(t *testing.T) {
	f := newIngestFixture(t)
	f.tp.setConnected(false)
	f.tp.connectErr = errors.New("无网络")

	err := f.ingest.HandlePushWake(context.Background(), map[string]string{"senderId": "peer-a"})
	assert.ErrorIs(t, err, ErrPayloadMalformed)
}

func TestAutoDownloadThreshold(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	small := inboundEvent("in-small")
	small.Attachment = &transport.Attachment{
		ID: "att-1", Type: "image", MimeType: "image/jpeg", Filename: "a.jpg",
		Size: consts.AutoDownloadMaxBytes - 1,
	}
	big := inboundEvent("in-big")
	big.Attachment = &transport.Attachment{
		ID: "att-2", Type: "video", MimeType: "video/mp4", Filename: "b.mp4",
		Size: consts.AutoDownloadMaxBytes,
	}

	f.ingest.HandleRealtime(ctx, small)
	f.ingest.HandleRealtime(ctx, big)

	msg, err := f.msgRepo.Get(ctx, "in-small")
	require.NoError(t, err)
	assert.Equal(t, model.DownloadPending, msg.DownloadStatus)

	msg, err = f.msgRepo.Get(ctx, "in-big")
	require.NoError(t, err)
	assert.Equal(t, model.DownloadNotStarted, msg.DownloadStatus)

	// 只有小附件进入自动下载队列
	assert.Equal(t, []string{"in-small"}, f.up.queuedDownloads())
}

func TestNotificationSuppressedForActiveConversation(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	f.active.Set("peer-a")
	f.ingest.HandleRealtime(ctx, inboundEvent("in-1"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, f.notifier.count())

	// 离开会话后恢复通知
	f.active.Clear()
	f.ingest.HandleRealtime(ctx, inboundEvent("in-2"))

	select {
	case <-f.notifier.fired:
	case <-time.After(time.Second):
		t.Fatal("期望触发通知")
	}
	assert.Equal(t, 1, f.notifier.count())
}

func TestHandleReadReceiptPromotesOutbound(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	require.NoError(t, f.msgRepo.Create(ctx, &model.Message{
		ID: "out-1", ConversationID: "peer-a", SenderID: "self", RecipientID: "peer-a",
		MsgType: model.MsgTypeText, Status: model.StatusDelivered, Timestamp: 100,
	}))
	require.NoError(t, f.convRepo.Upsert(ctx, &model.Conversation{
		PeerID: "peer-a", LastMessageAt: 100, LastSenderID: "self", LastMessageStatus: model.StatusDelivered,
	}))

	f.ingest.HandleReadReceipt(ctx, &transport.ReadReceiptEvent{PeerID: "peer-a", Timestamp: 150})

	msg, err := f.msgRepo.Get(ctx, "out-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRead, msg.Status)

	conv, err := f.convRepo.Get(ctx, "peer-a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRead, conv.LastMessageStatus)
}

func TestMalformedRealtimeEventDropped(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	f.ingest.HandleRealtime(ctx, &transport.InboundMessage{ID: "", SenderID: "peer-a"})
	f.ingest.HandleRealtime(ctx, &transport.InboundMessage{ID: "in-1", SenderID: "peer-a", Timestamp: "不是时间"})

	var count int64
	require.NoError(t, f.db.Model(&model.Message{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}
