package core

import (
	"context"
	"sync"
	"time"

	"dirhub/internal/types"
)

// MockAuthenticator resolves every token to Actor, or fails with Err. Tokens
// not in Tokens (when Tokens is non-nil) are rejected as invalid.
type MockAuthenticator struct {
	Actor  *types.Actor
	Tokens map[string]types.Actor
	Err    error

	mu    sync.Mutex
	Calls []string
}

func (m *MockAuthenticator) ResolveToken(_ context.Context, token string) (*types.Actor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if m.Tokens != nil {
		actor, ok := m.Tokens[token]
		if !ok {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unknown session", nil)
		}
		return &actor, nil
	}
	return m.Actor, nil
}

// RateLimitCall records one IncrementAndCheck invocation.
type RateLimitCall struct {
	Key    string
	Limit  int
	Window time.Duration
}

// MockRateLimitStore returns Result and Err for every call.
type MockRateLimitStore struct {
	Result RateLimitResult
	Err    error

	mu    sync.Mutex
	Calls []RateLimitCall
}

func (m *MockRateLimitStore) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, RateLimitCall{Key: key, Limit: limit, Window: window})
	m.mu.Unlock()
	return m.Result, m.Err
}

// RequestRecord is one MetricsCollector observation.
type RequestRecord struct {
	Method, Route, Status string
}

// MockMetricsCollector records every request.
type MockMetricsCollector struct {
	mu       sync.Mutex
	Requests []RequestRecord
}

func (m *MockMetricsCollector) RecordRequest(method, route, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, RequestRecord{Method: method, Route: route, Status: status})
}

var (
	_ Authenticator    = (*MockAuthenticator)(nil)
	_ RateLimitStore   = (*MockRateLimitStore)(nil)
	_ MetricsCollector = (*MockMetricsCollector)(nil)
)
