// Package upstream 两个政府 API 客户端共用的错误分类、重试与缓存查询
package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/langchou/garagebook/internal/models"
)

// Kind 上游错误类别
type Kind int

const (
	KindInvalidInput Kind = iota + 1
	KindNotFound
	KindRateLimited
	KindTransient
	KindAuth
	KindUnavailable
)

// 错误定义
var (
	ErrInvalidInput        = models.ErrInvalidInput
	ErrNotFound            = errors.New("not found upstream")
	ErrRateLimited         = errors.New("rate limited")
	ErrTransient           = errors.New("transient upstream failure")
	ErrAuth                = errors.New("upstream authentication failed")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidInput:
		return ErrInvalidInput
	case KindNotFound:
		return ErrNotFound
	case KindRateLimited:
		return ErrRateLimited
	case KindTransient:
		return ErrTransient
	case KindAuth:
		return ErrAuth
	case KindUnavailable:
		return ErrUpstreamUnavailable
	}
	return nil
}

// Error 带上下文的上游错误
type Error struct {
	API        string
	Kind       Kind
	Query      string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.API, e.Query, e.Kind.sentinel())
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status=%d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is 按类别匹配哨兵错误
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable 限流与瞬时错误可重试
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindTransient
}

// Fatal 非法输入与不存在不可重试，也不应降级
func (e *Error) Fatal() bool {
	return e.Kind == KindInvalidInput || e.Kind == KindNotFound
}

// InvalidInput 参数非法，调用前即拒绝
func InvalidInput(api, query, reason string) *Error {
	return &Error{API: api, Kind: KindInvalidInput, Query: query, Err: errors.New(reason)}
}

// NotFound 上游不存在该记录
func NotFound(api, query string) *Error {
	return &Error{API: api, Kind: KindNotFound, Query: query, StatusCode: http.StatusNotFound}
}

// Transient 网络错误或超时
func Transient(api, query string, err error) *Error {
	return &Error{API: api, Kind: KindTransient, Query: query, Err: err}
}

// Unavailable 重试耗尽或认证失败后对外暴露的错误
func Unavailable(api, query string, cause error) *Error {
	return &Error{API: api, Kind: KindUnavailable, Query: query, Err: cause}
}

// FromStatus 将非 2xx 状态码映射为错误类别
func FromStatus(api, query string, resp *http.Response, body []byte) *Error {
	e := &Error{API: api, Query: query, StatusCode: resp.StatusCode}
	if len(body) > 0 {
		e.Err = fmt.Errorf("body=%s", truncate(body, 256))
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		e.Kind = KindInvalidInput
	case resp.StatusCode == http.StatusNotFound:
		e.Kind = KindNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		e.Kind = KindAuth
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode >= 500:
		e.Kind = KindTransient
	default:
		e.Kind = KindUnavailable
	}
	return e
}

// parseRetryAfter 支持秒数与 HTTP 日期两种格式
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// ConnectionStatus 连通性检测结果
type ConnectionStatus struct {
	API       string `json:"api"`
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Message   string `json:"message,omitempty"`
}
