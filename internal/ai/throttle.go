package ai

import (
	"context"
	"sync"
	"time"

	"github.com/kiranshivaraju/findoc/internal/cache"
	"go.uber.org/zap"
)

// Throttle blocks until one more model call fits inside the rate limit.
type Throttle interface {
	Wait(ctx context.Context) error
}

// LocalThrottle is a fixed-window limiter for a single process.
type LocalThrottle struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	start time.Time
	count int
}

// NewLocalThrottle allows limit calls per window. A limit of zero or less never blocks.
func NewLocalThrottle(limit int, window time.Duration) *LocalThrottle {
	return &LocalThrottle{limit: limit, window: window, now: time.Now}
}

func (t *LocalThrottle) Wait(ctx context.Context) error {
	if t.limit <= 0 {
		return nil
	}
	for {
		t.mu.Lock()
		now := t.now()
		if now.Sub(t.start) >= t.window {
			t.start = now.Truncate(t.window)
			t.count = 0
		}
		if t.count < t.limit {
			t.count++
			t.mu.Unlock()
			return nil
		}
		wait := t.start.Add(t.window).Sub(now)
		t.mu.Unlock()

		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// RedisThrottle shares one fixed-window budget between every worker using the same Redis.
// Redis failures let the call through.
type RedisThrottle struct {
	cache  cache.Cache
	name   string
	limit  int
	window time.Duration
	logger *zap.Logger
}

func NewRedisThrottle(c cache.Cache, name string, limit int, window time.Duration, logger *zap.Logger) *RedisThrottle {
	return &RedisThrottle{cache: c, name: name, limit: limit, window: window, logger: logger}
}

func (t *RedisThrottle) Wait(ctx context.Context) error {
	if t.limit <= 0 {
		return nil
	}
	for {
		now := time.Now()
		slot := now.UnixNano() / int64(t.window)
		n, err := t.cache.IncrWithExpiry(ctx, cache.ThrottleKey(t.name, slot), 2*t.window)
		if err != nil {
			t.logger.Warn("throttle unavailable, allowing call", zap.Error(err))
			return nil
		}
		if n <= int64(t.limit) {
			return nil
		}
		next := time.Unix(0, (slot+1)*int64(t.window))
		if err := sleepCtx(ctx, next.Sub(now)); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
