package mot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/langchou/garagebook/internal/api/upstream"
)

// Token OAuth2 访问令牌
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExpiresAt 过期时间
func (t *Token) ExpiresAt() time.Time {
	return t.CreatedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// NeedsRefresh 在过期前 skew 时间内即视为需要刷新
func (t *Token) NeedsRefresh(now time.Time, skew time.Duration) bool {
	return !now.Before(t.ExpiresAt().Add(-skew))
}

// TokenSource client credentials 令牌缓存，按 (client id, scope) 存放
// 同一 key 同时只有一次刷新
type TokenSource struct {
	httpClient   *http.Client
	tokenURL     string
	clientID     string
	clientSecret string
	scope        string
	skew         time.Duration
	timeout      time.Duration
	now          func() time.Time
	logger       *zap.Logger

	mu     sync.RWMutex
	tokens map[string]*Token
	group  singleflight.Group
}

// NewTokenSource 创建令牌源
func NewTokenSource(httpClient *http.Client, tokenURL, clientID, clientSecret, scope string, skew time.Duration, logger *zap.Logger) *TokenSource {
	if skew <= 0 {
		skew = 60 * time.Second
	}
	timeout := httpClient.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TokenSource{
		httpClient:   httpClient,
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		scope:        scope,
		skew:         skew,
		timeout:      timeout,
		now:          time.Now,
		logger:       logger,
		tokens:       make(map[string]*Token),
	}
}

func (s *TokenSource) key() string {
	return s.clientID + "|" + s.scope
}

func (s *TokenSource) cached() *Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[s.key()]
}

// Token 返回有效令牌，临近过期时主动刷新
func (s *TokenSource) Token(ctx context.Context) (*Token, error) {
	if t := s.cached(); t != nil && !t.NeedsRefresh(s.now(), s.skew) {
		return t, nil
	}
	return s.refresh(ctx, "")
}

// Refresh 强制刷新；stale 为调用方被拒绝的令牌，若已被其他请求换新则直接返回新令牌
func (s *TokenSource) Refresh(ctx context.Context, stale string) (*Token, error) {
	return s.refresh(ctx, stale)
}

func (s *TokenSource) refresh(ctx context.Context, stale string) (*Token, error) {
	ch := s.group.DoChan(s.key(), func() (interface{}, error) {
		if t := s.cached(); t != nil && !t.NeedsRefresh(s.now(), s.skew) {
			if stale == "" || t.AccessToken != stale {
				return t, nil
			}
		}

		// 刷新结果由所有等待者共享，不随发起者取消
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		t, err := s.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.tokens[s.key()] = t
		s.mu.Unlock()

		s.logger.Info("Refreshed MOT history access token", zap.Time("expires_at", t.ExpiresAt()))
		return t, nil
	})

	select {
	case <-ctx.Done():
		return nil, upstream.Transient(APIName, "token", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Token), nil
	}
}

// fetch 请求令牌端点
func (s *TokenSource) fetch(ctx context.Context) (*Token, error) {
	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", s.clientID)
	data.Set("client_secret", s.clientSecret)
	data.Set("scope", s.scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, upstream.Transient(APIName, "token", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		e := upstream.FromStatus(APIName, "token", resp, body)
		if !e.Retryable() {
			// 令牌端点的 4xx 均为凭证问题
			e.Kind = upstream.KindAuth
		}
		return nil, e
	}

	var t Token
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, upstream.Unavailable(APIName, "token", fmt.Errorf("decode token response: %w", err))
	}
	if t.AccessToken == "" {
		return nil, &upstream.Error{API: APIName, Kind: upstream.KindAuth, Query: "token", Err: fmt.Errorf("empty access token")}
	}
	t.CreatedAt = s.now()
	return &t, nil
}
