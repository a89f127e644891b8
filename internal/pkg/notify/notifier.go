package notify

import (
	"Fieldlink/internal/pkg/observe"
	"context"
	log "log/slog"
)

// Notifier 通知展示契约。展示失败属于可丢弃副作用，绝不能影响持久化与回执
type Notifier interface {
	Notify(ctx context.Context, peerID, messageID, preview string)
}

type hubNotifier struct {
	hub *observe.Hub
}

// NewNotifier 默认实现：把通知交给观察总线，由 UI 进程负责系统级展示
func NewNotifier(hub *observe.Hub) Notifier {
	return &hubNotifier{hub: hub}
}

func (n *hubNotifier) Notify(ctx context.Context, peerID, messageID, preview string) {
	log.InfoContext(ctx, "触发消息通知", "peer", peerID, "message_id", messageID)
	n.hub.Publish(observe.Change{
		Kind:      observe.ChangeNotification,
		PeerID:    peerID,
		MessageID: messageID,
		Body:      preview,
	})
}
