// Package registry DVLA 车辆登记查询客户端（API Key 认证）
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/langchou/garagebook/internal/api/upstream"
	"github.com/langchou/garagebook/internal/cache"
	"github.com/langchou/garagebook/internal/metrics"
	"github.com/langchou/garagebook/internal/models"
)

// APIName 缓存 key 与指标中的名称
const APIName = "registry"

// Options 客户端配置
type Options struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
	RateLimit        float64 // 每秒请求数，<=0 不限流
	Burst            int
	Backoff          []time.Duration
	CacheTTL         time.Duration
	TestRegistration string
}

// Client DVLA 客户端
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	backoff    []time.Duration
	testReg    string
	lookup     *upstream.CachedLookup
	recorder   metrics.Recorder
	logger     *zap.Logger
}

// NewClient 创建 DVLA 客户端
func NewClient(opts Options, store cache.Store, recorder metrics.Recorder, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Backoff == nil {
		opts.Backoff = upstream.DefaultBackoff
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
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

	return &Client{
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		baseURL:  opts.BaseURL,
		apiKey:   opts.APIKey,
		limiter:  limiter,
		backoff:  opts.Backoff,
		testReg:  opts.TestRegistration,
		lookup:   upstream.NewCachedLookup(APIName, store, opts.CacheTTL, recorder, logger).WithTimeout(upstream.Budget(opts.Timeout, opts.Backoff)),
		recorder: recorder,
		logger:   logger,
	}
}

// Source 数据来源标记
func (c *Client) Source() models.DataSource {
	return models.SourceRegistry
}

// Lookup 查询车辆登记信息，格式校验在任何网络请求之前
func (c *Client) Lookup(ctx context.Context, registration string, force bool) (*Vehicle, error) {
	reg := models.NormalizeRegistration(registration)
	if !models.ValidRegistration(reg) {
		err := upstream.InvalidInput(APIName, registration, "malformed registration")
		c.recorder.RecordCall(ctx, APIName, false, err)
		return nil, err
	}

	return upstream.Fetch(ctx, c.lookup, reg, force, func(ctx context.Context) (*Vehicle, error) {
		return upstream.Retry(ctx, c.backoff, func(ctx context.Context) (*Vehicle, error) {
			return c.fetch(ctx, reg)
		})
	})
}

// Invalidate 删除缓存
func (c *Client) Invalidate(ctx context.Context, registration string) error {
	return c.lookup.Invalidate(ctx, models.NormalizeRegistration(registration))
}

// TestConnection 使用测试车牌检测凭证与连通性，404 也视为连通
func (c *Client) TestConnection(ctx context.Context) (upstream.ConnectionStatus, error) {
	status := upstream.ConnectionStatus{API: APIName}
	start := time.Now()

	_, err := c.fetch(ctx, c.testReg)
	status.LatencyMS = time.Since(start).Milliseconds()
	if errors.Is(err, upstream.ErrNotFound) {
		err = nil
	}
	c.recorder.RecordCall(ctx, APIName, false, err)

	if err != nil {
		status.Message = err.Error()
		return status, err
	}
	status.OK = true
	return status, nil
}

// fetch 单次请求
func (c *Client) fetch(ctx context.Context, reg string) (*Vehicle, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, upstream.Transient(APIName, reg, fmt.Errorf("rate limiter: %w", err))
	}

	payload, err := json.Marshal(map[string]string{"registrationNumber": reg})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/vehicle-enquiry/v1/vehicles", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, upstream.Transient(APIName, reg, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		e := upstream.FromStatus(APIName, reg, resp, body)
		if e.Kind == upstream.KindAuth {
			// API Key 无法刷新，直接对外暴露为不可用
			c.logger.Error("Registry rejected API key", zap.Int("status", resp.StatusCode))
			return nil, upstream.Unavailable(APIName, reg, e)
		}
		return nil, e
	}

	var vr vehicleResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, upstream.Unavailable(APIName, reg, fmt.Errorf("decode response: %w", err))
	}

	c.logger.Debug("Registry lookup", zap.String("registration", reg), zap.String("make", vr.Make))
	return vr.toVehicle(reg), nil
}
