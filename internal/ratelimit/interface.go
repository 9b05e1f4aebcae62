package ratelimit

import (
	"context"
	"time"
)

// Counter is the shared counter store. IncrWindow must increment and arm
// the expiry atomically.
type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

type Limiter interface {
	// Admit counts one request against key. A store failure admits the
	// request and returns a DependencyDegraded error alongside the decision.
	Admit(ctx context.Context, key string) (Decision, error)

	Limit() int

	Window() time.Duration
}

type Decision struct {
	Allowed   bool
	Count     int64
	Limit     int
	Remaining int
	ResetIn   time.Duration
	Degraded  bool
}

// RetryAfter is the Retry-After value in whole seconds, never below one.
func (d Decision) RetryAfter() int {
	secs := int((d.ResetIn + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
