package service

import (
	"Fieldlink/internal/api/dto"
	"Fieldlink/internal/model"
	"Fieldlink/internal/pkg/observe"
	"Fieldlink/internal/pkg/transport"
	"Fieldlink/internal/repository"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChatFixture(t *testing.T) (ChatService, repository.MessageRepo, repository.ConversationRepo, *fakeTransport) {
	t.Helper()
	db := newTestDB(t)
	msgRepo := repository.NewMessageRepo(db)
	convRepo := repository.NewConversationRepo(db)
	uploadRepo := repository.NewUploadRepo(db)
	tp := &fakeTransport{connected: true}
	chat := NewChatService(msgRepo, convRepo, uploadRepo, tp, observe.NewHub())
	return chat, msgRepo, convRepo, tp
}

func TestMarkReadEmitsReceipt(t *testing.T) {
	chat, msgRepo, _, tp := newChatFixture(t)
	ctx := context.Background()

	require.NoError(t, msgRepo.Create(ctx, &model.Message{
		ID: "in-1", ConversationID: "peer-a", SenderID: "peer-a",
		MsgType: model.MsgTypeText, Status: model.StatusDelivered, Timestamp: 100,
	}))

	require.NoError(t, chat.MarkRead(ctx, "peer-a"))

	msg, err := msgRepo.Get(ctx, "in-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRead, msg.Status)
	assert.Equal(t, []transport.OutboundKind{transport.OutboundRead}, tp.emitKinds())
}

func TestMarkReadOfflineStillSucceeds(t *testing.T) {
	chat, msgRepo, _, tp := newChatFixture(t)
	tp.setConnected(false)
	ctx := context.Background()

	require.NoError(t, msgRepo.Create(ctx, &model.Message{
		ID: "in-1", ConversationID: "peer-a", SenderID: "peer-a",
		MsgType: model.MsgTypeText, Status: model.StatusDelivered, Timestamp: 100,
	}))

	// 已读是本地事实，回执只是尽力而为
	require.NoError(t, chat.MarkRead(ctx, "peer-a"))

	msg, err := msgRepo.Get(ctx, "in-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRead, msg.Status)
	assert.Empty(t, tp.emitKinds())
}

func TestHistoryDefaultsPageSize(t *testing.T) {
	chat, msgRepo, _, _ := newChatFixture(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		require.NoError(t, msgRepo.Create(ctx, &model.Message{
			ID: string(rune('a'+i)), ConversationID: "peer-a", SenderID: "self",
			MsgType: model.MsgTypeText, Status: model.StatusSent, Timestamp: int64(i + 1),
		}))
	}

	page, err := chat.History(ctx, &dto.HistoryReq{PeerID: "peer-a"})
	require.NoError(t, err)
	assert.Len(t, page, 20)
	assert.EqualValues(t, 25, page[0].Timestamp)
}

func TestSetPinnedUnknownPeer(t *testing.T) {
	chat, _, _, _ := newChatFixture(t)
	err := chat.SetPinned(context.Background(), "ghost", true)
	assert.ErrorIs(t, err, ErrConversationAbsent)
}

func TestClearAllWipesLocalCopy(t *testing.T) {
	chat, msgRepo, convRepo, _ := newChatFixture(t)
	ctx := context.Background()

	require.NoError(t, msgRepo.Create(ctx, &model.Message{
		ID: "m-1", ConversationID: "peer-a", SenderID: "self",
		MsgType: model.MsgTypeText, Status: model.StatusSent, Timestamp: 100,
	}))
	require.NoError(t, convRepo.Upsert(ctx, &model.Conversation{PeerID: "peer-a", LastMessageAt: 100}))

	require.NoError(t, chat.ClearAll(ctx))

	_, err := msgRepo.Get(ctx, "m-1")
	assert.Error(t, err)
	convs, err := convRepo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, convs)
}
