package upstream

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/langchou/garagebook/internal/cache"
	"github.com/langchou/garagebook/internal/metrics"
)

// CachedLookup 先查缓存再请求上游，同一 key 的并发未命中只触发一次请求
type CachedLookup struct {
	api      string
	store    cache.Store
	ttl      time.Duration
	timeout  time.Duration
	recorder metrics.Recorder
	logger   *zap.Logger
	group    singleflight.Group
}

// NewCachedLookup 创建缓存查询
func NewCachedLookup(api string, store cache.Store, ttl time.Duration, recorder metrics.Recorder, logger *zap.Logger) *CachedLookup {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &CachedLookup{
		api:      api,
		store:    store,
		ttl:      ttl,
		recorder: recorder,
		logger:   logger,
	}
}

// WithTimeout 设置共享请求自身的超时，不受任一调用方取消影响
func (l *CachedLookup) WithTimeout(d time.Duration) *CachedLookup {
	l.timeout = d
	return l
}

// Budget 单次请求超时叠加全部重试后的总耗时上限
func Budget(perCall time.Duration, backoff []time.Duration) time.Duration {
	total := perCall * time.Duration(len(backoff)+1)
	for _, b := range backoff {
		total += b
	}
	return total
}

// Key 缓存 key
func (l *CachedLookup) Key(query string) string {
	return l.api + ":" + query
}

// Invalidate 删除指定查询的缓存
func (l *CachedLookup) Invalidate(ctx context.Context, query string) error {
	return l.store.Delete(ctx, l.Key(query))
}

// Fetch 查询缓存，未命中或强制刷新时调用 fetch 并回写缓存
func Fetch[T any](ctx context.Context, l *CachedLookup, query string, force bool, fetch func(context.Context) (T, error)) (T, error) {
	key := l.Key(query)

	if !force {
		if v, ok := readCache[T](ctx, l, key); ok {
			l.recorder.RecordCall(ctx, l.api, true, nil)
			return v, nil
		}
	}

	ch := l.group.DoChan(key, func() (interface{}, error) {
		// 共享请求脱离发起者的取消，每个调用方各自等待
		callCtx := context.WithoutCancel(ctx)
		if l.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, l.timeout)
			defer cancel()
		}

		v, err := fetch(callCtx)
		if err != nil {
			return v, err
		}
		if data, mErr := json.Marshal(v); mErr == nil {
			if sErr := l.store.Set(callCtx, key, data, l.ttl); sErr != nil {
				l.logger.Warn("Failed to write cache", zap.String("key", key), zap.Error(sErr))
			}
		}
		return v, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		err := Unavailable(l.api, query, ctx.Err())
		l.recorder.RecordCall(ctx, l.api, false, err)
		return zero, err
	case res := <-ch:
		l.recorder.RecordCall(ctx, l.api, false, res.Err)
		if res.Shared {
			l.logger.Debug("Shared upstream call", zap.String("key", key))
		}
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	}
}

func readCache[T any](ctx context.Context, l *CachedLookup, key string) (T, bool) {
	var v T
	data, ok, err := l.store.Get(ctx, key)
	if err != nil {
		l.logger.Warn("Failed to read cache", zap.String("key", key), zap.Error(err))
		return v, false
	}
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		l.logger.Warn("Discarding corrupt cache entry", zap.String("key", key), zap.Error(err))
		return v, false
	}
	return v, true
}
