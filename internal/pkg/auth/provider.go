package auth

import (
	"context"
	log "log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrUnauthorized 由调用方在收到 401 时返回，触发一次刷新后重试
	ErrUnauthorized = errors.New("credential rejected")
	// ErrSessionExpired 刷新令牌本身被拒绝，只能重新登录
	ErrSessionExpired = errors.New("session expired, re-login required")
)

// Provider 凭据提供方。Execute 对调用透明地完成 401 后的单飞刷新与单次重试
type Provider interface {
	Execute(ctx context.Context, call func(token string) error) error
	Token(ctx context.Context) (string, error)
}

type providerImpl struct {
	http       *resty.Client
	refreshURL string

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time

	sf singleflight.Group
}

func NewProvider(baseURL, refreshToken string) Provider {
	return &providerImpl{
		http:         resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second),
		refreshURL:   "/api/auth/refresh",
		refreshToken: refreshToken,
	}
}

// Token 返回当前访问令牌，过期或临近过期时先刷新
func (p *providerImpl) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	token := p.accessToken
	fresh := token != "" && time.Until(p.expiresAt) > 30*time.Second
	p.mu.Unlock()

	if fresh {
		return token, nil
	}
	return p.refresh(ctx)
}

// Execute 带令牌执行调用；401 时刷新一次并重试一次，刷新被拒则上抛会话失效
func (p *providerImpl) Execute(ctx context.Context, call func(token string) error) error {
	token, err := p.Token(ctx)
	if err != nil {
		return err
	}

	err = call(token)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}

	token, err = p.refresh(ctx)
	if err != nil {
		return err
	}
	return call(token)
}

type refreshResp struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// refresh 单飞刷新：N 个并发 401 只打一次刷新接口，所有等待方拿到同一枚新令牌
func (p *providerImpl) refresh(ctx context.Context) (string, error) {
	v, err, _ := p.sf.Do("refresh", func() (interface{}, error) {
		p.mu.Lock()
		rt := p.refreshToken
		p.mu.Unlock()

		var out refreshResp
		resp, err := p.http.R().
			SetContext(ctx).
			SetBody(map[string]string{"refresh_token": rt}).
			SetResult(&out).
			Post(p.refreshURL)
		if err != nil {
			return nil, errors.Wrap(err, "refresh request failed")
		}
		if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
			return nil, ErrSessionExpired
		}
		if resp.IsError() || out.AccessToken == "" {
			return nil, errors.Errorf("refresh rejected with status %d", resp.StatusCode())
		}

		p.mu.Lock()
		p.accessToken = out.AccessToken
		if out.RefreshToken != "" {
			p.refreshToken = out.RefreshToken
		}
		p.expiresAt = tokenExpiry(out.AccessToken)
		p.mu.Unlock()

		log.Info("访问令牌已刷新", "expires_at", p.expiresAt)
		return out.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// tokenExpiry 从 JWT 声明中读过期时间。终端不持有签名密钥，只做非验证解析
func tokenExpiry(tokenString string) time.Time {
	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(tokenString, claims)
	if err != nil {
		return time.Now().Add(5 * time.Minute)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Now().Add(5 * time.Minute)
	}
	return exp.Time
}
