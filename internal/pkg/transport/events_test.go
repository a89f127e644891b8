package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrameInboundMessage(t *testing.T) {
	raw := []byte(`{
		"event": "message:new",
		"data": {
			"id": "msg-1",
			"senderId": "peer-a",
			"content": "你好",
			"messageType": "text",
			"timestamp": "2026-09-01T08:30:00Z",
			"attachment": {"id":"att-1","type":"image","mimeType":"image/jpeg","filename":"a.jpg","size":2048}
		}
	}`)

	ev, err := ParseFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, EventInboundMessage, ev.Kind)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "msg-1", ev.Message.ID)
	assert.Equal(t, "peer-a", ev.Message.SenderID)
	require.NotNil(t, ev.Message.Attachment)
	assert.EqualValues(t, 2048, ev.Message.Attachment.Size)
}

func TestParseFrameAck(t *testing.T) {
	ev, err := ParseFrame([]byte(`{"event":"message:ack","data":{"messageId":"msg-1","status":"DELIVERED"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventAck, ev.Kind)
	require.NotNil(t, ev.Ack)
	assert.Equal(t, "msg-1", ev.Ack.MessageID)
	assert.Equal(t, "DELIVERED", ev.Ack.Status)
}

func TestParseFramePresenceAndTyping(t *testing.T) {
	ev, err := ParseFrame([]byte(`{"event":"presence:update","data":{"userId":"peer-a","status":"ONLINE"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventPresence, ev.Kind)
	assert.Equal(t, "ONLINE", ev.Presence.Status)

	ev, err = ParseFrame([]byte(`{"event":"typing","data":{"userId":"peer-a","typing":true}}`))
	require.NoError(t, err)
	assert.Equal(t, EventTyping, ev.Kind)
	assert.True(t, ev.Typing.Typing)
}

func TestParseFrameReadReceipt(t *testing.T) {
	ev, err := ParseFrame([]byte(`{"event":"message:read","data":{"peerId":"peer-a","timestamp":1756700000000}}`))
	require.NoError(t, err)
	assert.Equal(t, EventReadReceipt, ev.Kind)
	assert.EqualValues(t, 1756700000000, ev.Receipt.Timestamp)
}

func TestParseFrameUnknownEventIsNotAnError(t *testing.T) {
	ev, err := ParseFrame([]byte(`{"event":"group:invite","data":{"whatever":true}}`))
	require.NoError(t, err)
	assert.Equal(t, EventUnknown, ev.Kind)
}

func TestParseFrameMalformed(t *testing.T) {
	_, err := ParseFrame([]byte(`{not json`))
	assert.Error(t, err)

	_, err = ParseFrame([]byte(`{"event":"message:ack","data":"不是对象"}`))
	assert.Error(t, err)
}

func TestParseTimestamp(t *testing.T) {
	ms, err := ParseTimestamp("2026-09-01T08:30:00.250Z")
	require.NoError(t, err)
	want := time.Date(2026, 9, 1, 8, 30, 0, 250_000_000, time.UTC).UnixMilli()
	assert.Equal(t, want, ms)

	_, err = ParseTimestamp("昨天下午")
	assert.Error(t, err)
}
