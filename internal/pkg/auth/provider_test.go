package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRefreshServer(t *testing.T, hits *atomic.Int64, status int, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/refresh" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		n := hits.Add(1)
		time.Sleep(delay)

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token": fmt.Sprintf("tok-%d", n),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConcurrentCallsRefreshOnce(t *testing.T) {
	var hits atomic.Int64
	srv := newRefreshServer(t, &hits, http.StatusOK, 100*time.Millisecond)
	p := NewProvider(srv.URL, "refresh-1")

	var wg sync.WaitGroup
	tokens := make([]string, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := p.Execute(context.Background(), func(token string) error {
				tokens[i] = token
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// 三个并发调用只允许一次刷新，拿到同一枚令牌
	assert.EqualValues(t, 1, hits.Load())
	assert.Equal(t, "tok-1", tokens[0])
	assert.Equal(t, tokens[0], tokens[1])
	assert.Equal(t, tokens[1], tokens[2])
}

func TestExecuteRetriesOnceAfter401(t *testing.T) {
	var hits atomic.Int64
	srv := newRefreshServer(t, &hits, http.StatusOK, 0)
	p := NewProvider(srv.URL, "refresh-1")

	calls := 0
	err := p.Execute(context.Background(), func(token string) error {
		calls++
		if token == "tok-1" {
			// 模拟旧令牌被服务端拒绝
			return ErrUnauthorized
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.EqualValues(t, 2, hits.Load())
}

func TestRefreshRejectionMeansSessionExpired(t *testing.T) {
	var hits atomic.Int64
	srv := newRefreshServer(t, &hits, http.StatusUnauthorized, 0)
	p := NewProvider(srv.URL, "refresh-stale")

	err := p.Execute(context.Background(), func(token string) error {
		t.Fatal("刷新被拒时不应执行业务调用")
		return nil
	})
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestTokenReusedWhileFresh(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		// 不带 exp 声明的令牌按 5 分钟有效处理
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-stable"})
	}))
	t.Cleanup(srv.Close)
	p := NewProvider(srv.URL, "refresh-1")

	for i := 0; i < 3; i++ {
		tok, err := p.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-stable", tok)
	}
	assert.EqualValues(t, 1, hits.Load())
}
