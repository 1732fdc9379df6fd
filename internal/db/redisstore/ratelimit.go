package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dirhub/internal/core"
)

// fixedWindowScript increments the window counter and starts its expiry on
// first use. Returns {count, remaining ttl in ms}.
var fixedWindowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RateLimiter is a fixed-window core.RateLimitStore shared by every API
// instance.
type RateLimiter struct {
	client redis.UniversalClient
	prefix string
}

var _ core.RateLimitStore = (*RateLimiter)(nil)

// NewRateLimiter creates a limiter whose keys live under prefix.
func NewRateLimiter(client redis.UniversalClient, prefix string) (*RateLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = "dirhub"
	}
	return &RateLimiter{client: client, prefix: prefix}, nil
}

func (l *RateLimiter) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (core.RateLimitResult, error) {
	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + ":ratelimit:" + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return core.RateLimitResult{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return core.RateLimitResult{}, fmt.Errorf("rate limit %s: unexpected reply %v", key, res)
	}
	return windowResult(res[0], res[1], limit, time.Now()), nil
}

func windowResult(count, ttlMillis int64, limit int, now time.Time) core.RateLimitResult {
	return core.RateLimitResult{
		Allowed:   count <= int64(limit),
		Remaining: int(max(int64(limit)-count, 0)),
		ResetAt:   now.Add(time.Duration(ttlMillis) * time.Millisecond),
	}
}
