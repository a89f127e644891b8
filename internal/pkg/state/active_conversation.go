package state

import "sync"

// ActiveConversation 前台可见会话标记。UI 进入聊天页时 Set、退出时 Clear，
// 摄取引擎据此抑制当前会话的通知。显式注入，不做包级单例
type ActiveConversation struct {
	mu     sync.RWMutex
	peerID string
}

func NewActiveConversation() *ActiveConversation {
	return &ActiveConversation{}
}

func (a *ActiveConversation) Set(peerID string) {
	a.mu.Lock()
	a.peerID = peerID
	a.mu.Unlock()
}

func (a *ActiveConversation) Clear() {
	a.mu.Lock()
	a.peerID = ""
	a.mu.Unlock()
}

func (a *ActiveConversation) Get() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.peerID
}

func (a *ActiveConversation) IsActive(peerID string) bool {
	return peerID != "" && a.Get() == peerID
}
