// Package metrics 上游调用计数，供配额观察使用
package metrics

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder 上游调用观测接口
type Recorder interface {
	RecordCall(ctx context.Context, api string, cacheHit bool, err error)
}

// CallStats 单个 API 的调用统计
type CallStats struct {
	Calls     int64 `json:"calls"`
	CacheHits int64 `json:"cache_hits"`
	Errors    int64 `json:"errors"`
}

// Tally 进程内计数器
type Tally struct {
	mu    sync.Mutex
	stats map[string]*CallStats
}

// NewTally 创建计数器
func NewTally() *Tally {
	return &Tally{stats: make(map[string]*CallStats)}
}

// RecordCall 记录一次调用
func (t *Tally) RecordCall(_ context.Context, api string, cacheHit bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[api]
	if !ok {
		s = &CallStats{}
		t.stats[api] = s
	}
	s.Calls++
	if cacheHit {
		s.CacheHits++
	}
	if err != nil {
		s.Errors++
	}
}

// Snapshot 返回统计副本
func (t *Tally) Snapshot() map[string]CallStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]CallStats, len(t.stats))
	for k, v := range t.stats {
		out[k] = *v
	}
	return out
}

// APIs 已记录的 API 名称
func (t *Tally) APIs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.stats))
	for k := range t.stats {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Otel 通过 OpenTelemetry 计数器上报
type Otel struct {
	calls metric.Int64Counter
}

// NewOtel 在给定 meter 上注册计数器
func NewOtel(meter metric.Meter) (*Otel, error) {
	calls, err := meter.Int64Counter("garagebook.upstream.calls",
		metric.WithDescription("Upstream API lookups, including cache hits"),
	)
	if err != nil {
		return nil, err
	}
	return &Otel{calls: calls}, nil
}

// RecordCall 记录一次调用
func (o *Otel) RecordCall(ctx context.Context, api string, cacheHit bool, err error) {
	o.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("api", api),
		attribute.Bool("cache_hit", cacheHit),
		attribute.Bool("error", err != nil),
	))
}

// Multi 同时上报到多个 Recorder
type Multi []Recorder

// RecordCall 记录一次调用
func (m Multi) RecordCall(ctx context.Context, api string, cacheHit bool, err error) {
	for _, r := range m {
		r.RecordCall(ctx, api, cacheHit, err)
	}
}

// Nop 丢弃全部记录
type Nop struct{}

// RecordCall 空实现
func (Nop) RecordCall(context.Context, string, bool, error) {}
