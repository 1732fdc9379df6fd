package core

import (
	"context"
	"time"

	"dirhub/internal/types"
)

// Authenticator decouples the HTTP layer from session storage, allowing for
// easy mocking in tests.
type Authenticator interface {
	// ResolveToken returns the Actor owning a session token.
	//
	// Distinct Error Codes:
	// - ErrCodeAuthTokenInvalid if the token is unknown.
	// - ErrCodeAuthTokenExpired if the token exists but has expired.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// RateLimitStore abstracts the backing store for rate limiting.
// Production uses Redis; local development uses the in-memory store.
type RateLimitStore interface {
	// IncrementAndCheck atomically increments the counter for key and reports
	// whether limit has been exceeded within the current window.
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// RateLimitResult contains the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// MetricsCollector records per-route request telemetry.
type MetricsCollector interface {
	// RecordRequest receives the chi route pattern, never the raw path, so
	// label cardinality stays bounded.
	RecordRequest(method, route, status string, duration time.Duration)
}

// HealthProbe is one subsystem checked by GET /health.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthProbeFunc adapts a function to HealthProbe.
type HealthProbeFunc struct {
	ProbeName string
	Fn        func(ctx context.Context) error
}

func (p HealthProbeFunc) Name() string                    { return p.ProbeName }
func (p HealthProbeFunc) Check(ctx context.Context) error { return p.Fn(ctx) }
