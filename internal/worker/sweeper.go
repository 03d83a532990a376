// Package worker 周期性后台任务
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// BookingSweeper 预约清理所需的能力
type BookingSweeper interface {
	ExpireStale(ctx context.Context) (int, error)
	CompletePast(ctx context.Context) (int, error)
}

// Stats 清理统计
type Stats struct {
	Runs      int64 `json:"runs"`
	Expired   int64 `json:"expired"`
	Completed int64 `json:"completed"`
	Failures  int64 `json:"failures"`
}

// Sweeper 定期过期超时的待支付预约、完成已结束的预约
type Sweeper struct {
	bookings BookingSweeper
	interval time.Duration
	logger   *zap.Logger

	runs      atomic.Int64
	expired   atomic.Int64
	completed atomic.Int64
	failures  atomic.Int64
}

// NewSweeper 创建清理任务
func NewSweeper(bookings BookingSweeper, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{bookings: bookings, interval: interval, logger: logger}
}

// Start 阻塞运行直到 ctx 结束，启动时立即执行一轮
func (w *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("Booking sweeper started", zap.Duration("interval", w.interval))
	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Booking sweeper stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce 执行一轮清理
func (w *Sweeper) RunOnce(ctx context.Context) {
	w.runs.Add(1)

	expired, err := w.bookings.ExpireStale(ctx)
	w.expired.Add(int64(expired))
	if err != nil {
		w.failures.Add(1)
		w.logger.Error("Failed to expire stale bookings", zap.Error(err))
	}

	completed, err := w.bookings.CompletePast(ctx)
	w.completed.Add(int64(completed))
	if err != nil {
		w.failures.Add(1)
		w.logger.Error("Failed to complete past bookings", zap.Error(err))
	}

	if expired > 0 || completed > 0 {
		w.logger.Info("Booking sweep finished",
			zap.Int("expired", expired),
			zap.Int("completed", completed))
	}
}

// Stats 获取统计
func (w *Sweeper) Stats() Stats {
	return Stats{
		Runs:      w.runs.Load(),
		Expired:   w.expired.Load(),
		Completed: w.completed.Load(),
		Failures:  w.failures.Load(),
	}
}
