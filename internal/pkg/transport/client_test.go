package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCreds struct{}

func (staticCreds) Execute(ctx context.Context, call func(token string) error) error {
	return call("tok")
}

func (staticCreds) Token(ctx context.Context) (string, error) { return "tok", nil }

func newGatewayServer(t *testing.T) string {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// 重连主循环与推送兜底同时拨号时只能有一条连接生效，且不允许崩溃
func TestConcurrentConnectKeepsSingleConnection(t *testing.T) {
	wsURL := newGatewayServer(t)

	for i := 0; i < 20; i++ {
		c := NewClient(wsURL, staticCreds{}, nil)

		var wg sync.WaitGroup
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, c.Connect(context.Background()))
			}()
		}
		wg.Wait()

		assert.True(t, c.IsConnected())
		c.Disconnect()
	}
}

func TestConnectWhileConnectedIsNoOp(t *testing.T) {
	wsURL := newGatewayServer(t)
	c := NewClient(wsURL, staticCreds{}, nil)

	require.NoError(t, c.Connect(context.Background()))
	c.mu.Lock()
	first := c.conn
	c.mu.Unlock()

	require.NoError(t, c.Connect(context.Background()))
	c.mu.Lock()
	second := c.conn
	c.mu.Unlock()

	assert.Same(t, first, second)
	c.Disconnect()
}
