package transport

import (
	"context"
	log "log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// Observer 网络可达性观察者，上线/离线变化经 Changes 通知重连循环
type Observer interface {
	Changes() <-chan bool
}

const probeInterval = 15 * time.Second

// Prober 默认观察者实现：周期性探测后端健康接口。
// 外勤网络在蜂窝/专网间切换频繁，系统层网络事件不可靠，主动探测更稳
type Prober struct {
	http *resty.Client
	ch   chan bool
}

func NewProber(baseURL string) *Prober {
	return &Prober{
		http: resty.New().SetBaseURL(baseURL).SetTimeout(5 * time.Second),
		ch:   make(chan bool, 1),
	}
}

func (p *Prober) Changes() <-chan bool {
	return p.ch
}

// Run 探测主循环，仅在状态翻转时投递事件
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	last := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		resp, err := p.http.R().SetContext(ctx).Get("/healthz")
		online := err == nil && resp.StatusCode() < 500
		if online != last {
			log.Info("网络可达性变化", "online", online)
			last = online
			select {
			case p.ch <- online:
			default:
			}
		}
	}
}
