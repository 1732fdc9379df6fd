package memstore

import (
	"context"
	"sync"
	"time"

	"dirhub/internal/core"
	"dirhub/internal/types"
)

// RateLimiter is a process-local fixed-window core.RateLimitStore for local
// development and single-instance deployments.
type RateLimiter struct {
	mu      sync.Mutex
	clock   types.Clock
	windows map[string]*window
}

type window struct {
	count   int
	resetAt time.Time
}

var _ core.RateLimitStore = (*RateLimiter)(nil)

// NewRateLimiter creates an empty limiter. clock may be nil.
func NewRateLimiter(clock types.Clock) *RateLimiter {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &RateLimiter{clock: clock, windows: make(map[string]*window)}
}

func (l *RateLimiter) IncrementAndCheck(_ context.Context, key string, limit int, d time.Duration) (core.RateLimitResult, error) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(d)}
		l.windows[key] = w
		l.sweep(now)
	}
	w.count++

	return core.RateLimitResult{
		Allowed:   w.count <= limit,
		Remaining: max(limit-w.count, 0),
		ResetAt:   w.resetAt,
	}, nil
}

// sweep drops expired windows. Callers hold mu.
func (l *RateLimiter) sweep(now time.Time) {
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
		}
	}
}
