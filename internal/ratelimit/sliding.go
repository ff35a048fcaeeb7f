// Package ratelimit implements the gateway's Redis-backed rate limiters:
// a fixed sliding window (per key / per org request limits) and an
// exponential-backoff variant (abuse-prone flows such as signup).
//
// Both limiters fail open: if Redis is unreachable the request is allowed.
// Rate limiting protects capacity; it must never become the outage.
package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript implements the window atomically over a sorted set.
// KEYS[1] = limiter key
// ARGV[1] = now (unix ms)
// ARGV[2] = window (ms)
// ARGV[3] = max requests per window
// ARGV[4] = key TTL (seconds)
// Returns {allowed, remaining}.
var slidingWindowScript = redis.NewScript(`
		local key    = KEYS[1]
		local now    = tonumber(ARGV[1])
		local window = tonumber(ARGV[2])
		local limit  = tonumber(ARGV[3])
		local ttl    = tonumber(ARGV[4])

		redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

		local count = redis.call('ZCARD', key)
		local allowed = 0
		if count < limit then
			allowed = 1
			redis.call('ZADD', key, now, tostring(now) .. '-' .. tostring(math.random(1, 1000000)))
			count = count + 1
		end
		redis.call('EXPIRE', key, ttl)
		return {allowed, limit - count}
`)

// Result is a limiter decision.
type Result struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long the caller must wait when blocked.
	RetryAfter time.Duration
}

// Limiter wraps a Redis client with the two limiter variants. The key prefix
// is environment-scoped so staging and production never share windows.
type Limiter struct {
	rdb    *redis.Client
	prefix string
}

// New creates a Limiter. prefix is typically the deploy environment.
func New(rdb *redis.Client, prefix string) *Limiter {
	return &Limiter{rdb: rdb, prefix: prefix}
}

func (l *Limiter) key(k string) string {
	if l.prefix == "" {
		return k
	}
	return l.prefix + ":" + k
}

// CheckRateLimit evaluates a fixed sliding window: allowed iff fewer than
// maxReq entries remain in the trailing window. The entry for this request is
// appended only on allow; the TTL is always refreshed to ceil(window/1s).
//
// On Redis error the limiter fails open with Remaining = maxReq-1.
func (l *Limiter) CheckRateLimit(ctx context.Context, key string, window time.Duration, maxReq int) Result {
	now := time.Now().UnixMilli()
	ttl := int64(math.Ceil(window.Seconds()))
	if ttl < 1 {
		ttl = 1
	}

	vals, err := slidingWindowScript.Run(ctx, l.rdb,
		[]string{l.key(key)},
		now, window.Milliseconds(), maxReq, ttl,
	).Int64Slice()
	if err != nil || len(vals) != 2 {
		return Result{Allowed: true, Remaining: maxReq - 1}
	}

	res := Result{Allowed: vals[0] == 1, Remaining: int(vals[1])}
	if !res.Allowed {
		res.RetryAfter = window
	}
	return res
}
