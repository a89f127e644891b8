package service

import (
	"Fieldlink/internal/api/dto"
	"Fieldlink/internal/pkg/observe"
	"Fieldlink/internal/pkg/transport"
	"Fieldlink/internal/repository"
	"context"
	log "log/slog"
	"sort"
	"sync"
)

// PresenceService 在线状态与输入信号层。全部是短暂态：不落盘、失败不重试、
// 任何错误都不许传染到消息管线
type PresenceService interface {
	SetStatus(ctx context.Context, status string) error
	SetTyping(ctx context.Context, peerID string, typing bool) error
	HandlePresence(ctx context.Context, ev *transport.PresenceEvent)
	HandleTyping(ctx context.Context, ev *transport.TypingEvent)
	Snapshot() []*dto.PeerPresenceDTO
}

type peerState struct {
	status   string
	isTyping bool
	seenAt   int64
}

type presenceServiceImpl struct {
	tp  RealtimeTransport
	hub *observe.Hub

	mu    sync.RWMutex
	peers map[string]*peerState
}

func NewPresenceService(tp RealtimeTransport, hub *observe.Hub) PresenceService {
	return &presenceServiceImpl{
		tp:    tp,
		hub:   hub,
		peers: make(map[string]*peerState),
	}
}

// SetStatus 上报本机状态，离线时静默放弃
func (s *presenceServiceImpl) SetStatus(ctx context.Context, status string) error {
	if !s.tp.IsConnected() {
		return nil
	}
	err := s.tp.Emit(ctx, transport.OutboundPresence, &transport.PresenceEvent{Status: status})
	if err != nil {
		log.WarnContext(ctx, "状态上报失败", "err", err)
	}
	return nil
}

// SetTyping 上报输入信号，同样尽力而为
func (s *presenceServiceImpl) SetTyping(ctx context.Context, peerID string, typing bool) error {
	if !s.tp.IsConnected() {
		return nil
	}
	err := s.tp.Emit(ctx, transport.OutboundTyping, &transport.TypingEvent{PeerID: peerID, Typing: typing})
	if err != nil {
		log.WarnContext(ctx, "输入信号上报失败", "err", err)
	}
	return nil
}

func (s *presenceServiceImpl) HandlePresence(ctx context.Context, ev *transport.PresenceEvent) {
	if ev.UserID == "" {
		return
	}
	s.mu.Lock()
	p := s.peers[ev.UserID]
	if p == nil {
		p = &peerState{}
		s.peers[ev.UserID] = p
	}
	p.status = ev.Status
	p.seenAt = repository.NowMillis()
	s.mu.Unlock()

	s.hub.Publish(observe.Change{Kind: observe.ChangePresence, PeerID: ev.UserID, Status: ev.Status})
}

func (s *presenceServiceImpl) HandleTyping(ctx context.Context, ev *transport.TypingEvent) {
	if ev.UserID == "" {
		return
	}
	s.mu.Lock()
	p := s.peers[ev.UserID]
	if p == nil {
		p = &peerState{}
		s.peers[ev.UserID] = p
	}
	p.isTyping = ev.Typing
	p.seenAt = repository.NowMillis()
	s.mu.Unlock()

	s.hub.Publish(observe.Change{Kind: observe.ChangePresence, PeerID: ev.UserID})
}

// Snapshot 当前已知对端状态快照
func (s *presenceServiceImpl) Snapshot() []*dto.PeerPresenceDTO {
	s.mu.RLock()
	res := make([]*dto.PeerPresenceDTO, 0, len(s.peers))
	for id, p := range s.peers {
		res = append(res, &dto.PeerPresenceDTO{
			PeerID:   id,
			Status:   p.status,
			IsTyping: p.isTyping,
			SeenAt:   p.seenAt,
		})
	}
	s.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].PeerID < res[j].PeerID })
	return res
}
