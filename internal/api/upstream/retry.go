package upstream

import (
	"context"
	"errors"
	"time"
)

// DefaultBackoff 两次重试的等待时间
var DefaultBackoff = []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond}

// MaxRetryAfter Retry-After 提示超过该值时不再等待
const MaxRetryAfter = 5 * time.Second

// Retry 对可重试错误按 backoff 重试，耗尽后返回 Unavailable
func Retry[T any](ctx context.Context, backoff []time.Duration, call func(context.Context) (T, error)) (T, error) {
	var zero T

	for attempt := 0; ; attempt++ {
		v, err := call(ctx)
		if err == nil {
			return v, nil
		}

		var ue *Error
		if !errors.As(err, &ue) || !ue.Retryable() {
			return zero, err
		}
		if attempt >= len(backoff) {
			return zero, Unavailable(ue.API, ue.Query, err)
		}

		wait := backoff[attempt]
		if ue.RetryAfter > wait {
			if ue.RetryAfter > MaxRetryAfter {
				return zero, Unavailable(ue.API, ue.Query, err)
			}
			wait = ue.RetryAfter
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, Unavailable(ue.API, ue.Query, ctx.Err())
		case <-timer.C:
		}
	}
}
