package transport

import (
	"Fieldlink/internal/pkg/auth"
	"context"
	log "log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingInterval       = 25 * time.Second
	reconnectBase      = time.Second
	reconnectCap       = 30 * time.Second
	handshakeTimeout   = 10 * time.Second
	inboundMessageSize = 1 << 20
)

var ErrNotConnected = errors.New("realtime channel not connected")

// Handler 入站事件与连接生命周期的处理方
type Handler interface {
	OnEvent(ctx context.Context, ev *Event)
	OnConnected(ctx context.Context)
	OnDisconnected(err error)
}

// Client 到后端网关的实时通道。连接断开不是错误状态，
// 重连由网络观察者与内部退避共同驱动
type Client struct {
	gatewayURL string
	creds      auth.Provider
	observer   Observer
	handler    Handler

	mu        sync.Mutex
	conn      *websocket.Conn
	connCh    chan struct{} // 连接建立时关闭，等待方借此唤醒
	connected atomic.Bool

	writeMu sync.Mutex

	lostCh chan struct{} // 读循环探测到断开时投递信号
}

func NewClient(gatewayURL string, creds auth.Provider, observer Observer) *Client {
	return &Client{
		gatewayURL: gatewayURL,
		creds:      creds,
		observer:   observer,
		connCh:     make(chan struct{}),
		lostCh:     make(chan struct{}, 1),
	}
}

// SetHandler 注册事件处理方，必须在 Connect/Run 之前调用
func (c *Client) SetHandler(h Handler) {
	c.handler = h
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Connect 单次拨号。凭据经由凭据提供方获取，401 会触发其单飞刷新
func (c *Client) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}

	return c.creds.Execute(ctx, func(token string) error {
		u, err := url.Parse(c.gatewayURL)
		if err != nil {
			return errors.Wrap(err, "invalid gateway url")
		}
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()

		dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			if resp != nil && resp.StatusCode == 401 {
				return auth.ErrUnauthorized
			}
			return errors.Wrap(err, "gateway dial failed")
		}

		conn.SetReadLimit(inboundMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		c.mu.Lock()
		if c.conn != nil {
			// 重连主循环与推送兜底可能同时拨号，已有连接生效，后到者让位
			c.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		c.conn = conn
		c.connected.Store(true)
		close(c.connCh)
		c.mu.Unlock()

		go c.readLoop(conn)
		go c.pingLoop(conn)

		log.Info("实时通道已建立", "gateway", c.gatewayURL)
		if c.handler != nil {
			c.handler.OnConnected(context.WithoutCancel(ctx))
		}
		return nil
	})
}

// Disconnect 主动断开
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Emit 发送一帧出站事件，未连接时立即失败
func (c *Client) Emit(ctx context.Context, kind OutboundKind, payload interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !c.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal outbound payload")
	}
	raw, err := json.Marshal(&frame{Event: string(kind), Data: data})
	if err != nil {
		return errors.Wrap(err, "marshal outbound frame")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return errors.Wrap(err, "gateway write failed")
	}
	return nil
}

// WaitConnected 挂起直到连接建立或 ctx 到期，调用方必须自带超时
func (c *Client) WaitConnected(ctx context.Context) error {
	for {
		if c.IsConnected() {
			return nil
		}
		c.mu.Lock()
		ch := c.connCh
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Run 重连主循环：断线信号、网络恢复信号与退避定时器共同触发重拨
func (c *Client) Run(ctx context.Context) error {
	backoff := reconnectBase
	for {
		if !c.IsConnected() {
			if err := c.Connect(ctx); err != nil {
				if errors.Is(err, auth.ErrSessionExpired) {
					// 会话失效只能等重新登录，不再盲目重拨
					log.Error("实时通道凭据失效，暂停重连", "err", err)
					backoff = reconnectCap
				} else {
					log.Warn("实时通道连接失败，退避后重试", "err", err, "backoff", backoff)
				}
			} else {
				backoff = reconnectBase
			}
		}

		select {
		case <-ctx.Done():
			c.Disconnect()
			return ctx.Err()
		case <-c.lostCh:
			backoff = reconnectBase
		case online := <-c.observer.Changes():
			if online {
				backoff = reconnectBase
			}
		case <-time.After(backoff):
			if backoff < reconnectCap {
				backoff *= 2
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.markDisconnected(conn, err)
			return
		}

		ev, perr := ParseFrame(raw)
		if perr != nil {
			// 坏帧只记日志，绝不让摄取路径崩掉
			log.Warn("入站帧解析失败，丢弃", "err", perr)
			continue
		}
		if c.handler != nil {
			c.handler.OnEvent(context.Background(), ev)
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		current := c.conn
		c.mu.Unlock()
		if current != conn {
			return
		}
		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteMessage(websocket.PingMessage, nil)
		c.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (c *Client) markDisconnected(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected.Store(false)
	c.connCh = make(chan struct{})
	c.mu.Unlock()

	_ = conn.Close()
	log.Warn("实时通道断开", "err", cause)

	select {
	case c.lostCh <- struct{}{}:
	default:
	}
	if c.handler != nil {
		c.handler.OnDisconnected(cause)
	}
}
