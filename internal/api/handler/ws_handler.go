package handler

import (
	"Fieldlink/internal/api/config"
	"Fieldlink/internal/pkg/observe"
	"Fieldlink/internal/pkg/response"
	"Fieldlink/internal/service"
	"context"
	log "log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// 仅监听回环地址，来源校验放行
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WsHandler struct {
	hub *observe.Hub
}

func NewWsHandler(hub *observe.Hub) *WsHandler {
	return &WsHandler{hub: hub}
}

// Stream UI 观察流。订阅本地状态总线并推送变化事件，
// UI 收到后按需拉取对应快照
func (s *WsHandler) Stream(c *gin.Context) {
	// WebSocket 握手带不了 Header，令牌走查询参数
	token := c.Query("token")
	if token == "" || token != config.Cfg.Server.LocalToken {
		response.Error(c, service.UnauthorizedError)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WS 协议升级失败", "err", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	// 升级后的连接不随请求上下文结束，订阅生命周期手动管理
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := s.hub.Subscribe(ctx)

	log.Info("UI 观察流已建立")

	stopChan := make(chan struct{})

	// 读循环：监听 UI 主动断开
	go func() {
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				close(stopChan)
				return
			}
		}
	}()

	// 写循环：状态变化推送至 UI
	for {
		select {
		case ch, ok := <-changes:
			if !ok {
				return
			}
			payload, err := json.Marshal(ch)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Warn("UI 观察流推送失败", "err", err)
				return
			}
		case <-stopChan:
			log.Info("UI 观察流已断开")
			return
		}
	}
}
