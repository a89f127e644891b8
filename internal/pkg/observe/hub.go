package observe

import (
	"context"
	"sync"
)

// ChangeKind 本地状态变化类别
type ChangeKind string

const (
	ChangeMessage      ChangeKind = "message"
	ChangeConversation ChangeKind = "conversation"
	ChangePresence     ChangeKind = "presence"
	ChangeFailure      ChangeKind = "delivery_failure"
	ChangeNotification ChangeKind = "notification"
)

// Change 推给 UI 观察流的一次状态快照变化
type Change struct {
	Kind      ChangeKind `json:"kind"`
	PeerID    string     `json:"peer_id,omitempty"`
	MessageID string     `json:"message_id,omitempty"`
	Status    string     `json:"status,omitempty"`
	Title     string     `json:"title,omitempty"`
	Body      string     `json:"body,omitempty"`
}

// Hub 存储变化的进程内订阅总线。订阅是可随时重建的长活流，
// 生命周期跟随消费方的 ctx；慢消费者丢事件而不是拖垮发布方
type Hub struct {
	mu   sync.Mutex
	subs map[int]chan Change
	next int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Change)}
}

// Subscribe 新建一条订阅流，ctx 结束时自动注销并关闭
func (h *Hub) Subscribe(ctx context.Context) <-chan Change {
	ch := make(chan Change, 64)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Publish 非阻塞广播
func (h *Hub) Publish(c Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- c:
		default:
		}
	}
}
