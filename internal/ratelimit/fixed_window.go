package ratelimit

import (
	"context"
	"time"

	"github.com/aman-churiwal/delivery-gateway/internal/apperror"
)

const (
	DefaultLimit        = 10
	DefaultWindow       = time.Second
	DefaultStoreTimeout = 100 * time.Millisecond
)

// FixedWindowLimiter counts requests per key in fixed windows held in the
// shared store. Every call increments, rejected ones included.
type FixedWindowLimiter struct {
	store        Counter
	limit        int
	window       time.Duration
	storeTimeout time.Duration
}

type Option func(*FixedWindowLimiter)

// WithStoreTimeout bounds each store round-trip.
func WithStoreTimeout(d time.Duration) Option {
	return func(f *FixedWindowLimiter) {
		if d > 0 {
			f.storeTimeout = d
		}
	}
}

func NewFixedWindow(store Counter, limit int, window time.Duration, opts ...Option) *FixedWindowLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}

	f := &FixedWindowLimiter{
		store:        store,
		limit:        limit,
		window:       window, // Window of time duration
		storeTimeout: DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FixedWindowLimiter) Admit(ctx context.Context, key string) (Decision, error) {
	storeCtx, cancel := context.WithTimeout(ctx, f.storeTimeout)
	defer cancel()

	count, ttl, err := f.store.IncrWindow(storeCtx, key, f.window)
	if err != nil {
		return Decision{
			Allowed:   true,
			Limit:     f.limit,
			Remaining: f.limit,
			ResetIn:   f.window,
			Degraded:  true,
		}, apperror.Degraded("rate limiter degraded", err)
	}

	if ttl <= 0 || ttl > f.window {
		ttl = f.window
	}

	remaining := f.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= int64(f.limit),
		Count:     count,
		Limit:     f.limit,
		Remaining: remaining,
		ResetIn:   ttl,
	}, nil
}

func (f *FixedWindowLimiter) Limit() int {
	return f.limit
}

func (f *FixedWindowLimiter) Window() time.Duration {
	return f.window
}
