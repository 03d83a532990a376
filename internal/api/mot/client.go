// Package mot DVSA MOT 检测历史客户端（OAuth2 client credentials）
package mot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/langchou/garagebook/internal/api/upstream"
	"github.com/langchou/garagebook/internal/cache"
	"github.com/langchou/garagebook/internal/metrics"
	"github.com/langchou/garagebook/internal/models"
)

// APIName 缓存 key 与指标中的名称
const APIName = "mot"

// Options 客户端配置
type Options struct {
	BaseURL          string
	TokenURL         string
	ClientID         string
	ClientSecret     string
	Scope            string
	APIKey           string
	Timeout          time.Duration
	RateLimit        float64
	Burst            int
	Backoff          []time.Duration
	CacheTTL         time.Duration
	RefreshSkew      time.Duration
	TestRegistration string
}

// Client MOT 历史客户端
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	tokens     *TokenSource
	limiter    *rate.Limiter
	backoff    []time.Duration
	testReg    string
	lookup     *upstream.CachedLookup
	recorder   metrics.Recorder
	logger     *zap.Logger
}

// NewClient 创建 MOT 历史客户端
func NewClient(opts Options, store cache.Store, recorder metrics.Recorder, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Backoff == nil {
		opts.Backoff = upstream.DefaultBackoff
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	if opts.TestRegistration == "" {
		opts.TestRegistration = "AA19AAA"
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	httpClient := &http.Client{
		Timeout: opts.Timeout,
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		tokens:     NewTokenSource(httpClient, opts.TokenURL, opts.ClientID, opts.ClientSecret, opts.Scope, opts.RefreshSkew, logger),
		limiter:    limiter,
		backoff:    opts.Backoff,
		testReg:    opts.TestRegistration,
		lookup:     upstream.NewCachedLookup(APIName, store, opts.CacheTTL, recorder, logger).WithTimeout(upstream.Budget(4*opts.Timeout, opts.Backoff)),
		recorder:   recorder,
		logger:     logger,
	}
}

// Tokens 令牌源
func (c *Client) Tokens() *TokenSource {
	return c.tokens
}

// Source 数据来源标记
func (c *Client) Source() models.DataSource {
	return models.SourceInspectionHistory
}

// Lookup 查询 MOT 历史；没有检测记录的车辆返回空历史
func (c *Client) Lookup(ctx context.Context, registration string, force bool) (*History, error) {
	reg := models.NormalizeRegistration(registration)
	if !models.ValidRegistration(reg) {
		err := upstream.InvalidInput(APIName, registration, "malformed registration")
		c.recorder.RecordCall(ctx, APIName, false, err)
		return nil, err
	}

	return upstream.Fetch(ctx, c.lookup, reg, force, func(ctx context.Context) (*History, error) {
		h, err := upstream.Retry(ctx, c.backoff, func(ctx context.Context) (*History, error) {
			return c.fetch(ctx, reg)
		})
		if errors.Is(err, upstream.ErrAuth) {
			return nil, upstream.Unavailable(APIName, reg, err)
		}
		return h, err
	})
}

// Invalidate 删除缓存
func (c *Client) Invalidate(ctx context.Context, registration string) error {
	return c.lookup.Invalidate(ctx, models.NormalizeRegistration(registration))
}

// TestConnection 获取令牌并查询测试车牌
func (c *Client) TestConnection(ctx context.Context) (upstream.ConnectionStatus, error) {
	status := upstream.ConnectionStatus{API: APIName}
	start := time.Now()

	_, err := c.fetch(ctx, c.testReg)
	status.LatencyMS = time.Since(start).Milliseconds()
	c.recorder.RecordCall(ctx, APIName, false, err)

	if err != nil {
		status.Message = err.Error()
		return status, err
	}
	status.OK = true
	return status, nil
}

// fetch 单次查询；401 时强制刷新一次令牌后重试
func (c *Client) fetch(ctx context.Context, reg string) (*History, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, upstream.Transient(APIName, reg, fmt.Errorf("rate limiter: %w", err))
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, reg, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		c.logger.Warn("MOT history rejected token, forcing refresh", zap.String("registration", reg))

		token, err = c.tokens.Refresh(ctx, token.AccessToken)
		if err != nil {
			return nil, err
		}
		resp, err = c.doRequest(ctx, reg, token)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// 正常
	case http.StatusNotFound:
		// 新车尚无检测记录
		return &History{Registration: reg, Tests: []models.MOTTest{}}, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, upstream.FromStatus(APIName, reg, resp, body)
	}

	var vr vehicleResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, upstream.Unavailable(APIName, reg, fmt.Errorf("decode response: %w", err))
	}

	h := vr.toHistory(reg)
	c.logger.Debug("MOT history lookup", zap.String("registration", reg), zap.Int("tests", len(h.Tests)))
	return h, nil
}

// doRequest 执行带认证的请求
func (c *Client) doRequest(ctx context.Context, reg string, token *Token) (*http.Response, error) {
	path := "/v1/trade/vehicles/registration/" + url.PathEscape(reg)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, upstream.Transient(APIName, reg, err)
	}
	return resp, nil
}
