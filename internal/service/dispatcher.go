package service

import (
	"Fieldlink/internal/pkg/transport"
	"context"
	log "log/slog"
)

// eventDispatcher 实时通道事件分发器。入站事件是封闭枚举，
// 这里的 switch 必须穷尽所有分支
type eventDispatcher struct {
	queue    DeliveryQueue
	ingest   IngestService
	presence PresenceService
}

func NewEventDispatcher(queue DeliveryQueue, ingest IngestService, presence PresenceService) transport.Handler {
	return &eventDispatcher{queue: queue, ingest: ingest, presence: presence}
}

func (d *eventDispatcher) OnEvent(ctx context.Context, ev *transport.Event) {
	switch ev.Kind {
	case transport.EventInboundMessage:
		d.ingest.HandleRealtime(ctx, ev.Message)
	case transport.EventAck:
		d.queue.HandleAck(ctx, ev.Ack)
	case transport.EventPresence:
		d.presence.HandlePresence(ctx, ev.Presence)
	case transport.EventTyping:
		d.presence.HandleTyping(ctx, ev.Typing)
	case transport.EventReadReceipt:
		d.ingest.HandleReadReceipt(ctx, ev.Receipt)
	case transport.EventUnknown:
		log.WarnContext(ctx, "未识别的网关事件，丢弃")
	}
}

func (d *eventDispatcher) OnConnected(ctx context.Context) {
	d.ingest.OnReconnected(ctx)
}

func (d *eventDispatcher) OnDisconnected(err error) {
	log.Warn("实时通道断开，等待重连", "err", err)
}
