package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// exponentialScript records an attempt and reports whether it falls inside
// the backoff window of the previous one.
// KEYS[1] = last-attempt key, KEYS[2] = attempt-count key
// ARGV[1] = now (unix ms), ARGV[2] = base backoff (ms), ARGV[3] = max backoff (ms)
// ARGV[4] = key TTL (seconds)
// Returns {allowed, reset_at_ms}.
var exponentialScript = redis.NewScript(`
		local lastKey  = KEYS[1]
		local countKey = KEYS[2]
		local now  = tonumber(ARGV[1])
		local base = tonumber(ARGV[2])
		local max  = tonumber(ARGV[3])
		local ttl  = tonumber(ARGV[4])

		local last  = tonumber(redis.call('GET', lastKey) or '0')
		local count = tonumber(redis.call('GET', countKey) or '0')

		local allowed = 1
		local resetAt = now
		if count > 0 then
			local backoff = math.min(base * 2 ^ (count - 1), max)
			resetAt = last + backoff
			if now < resetAt then
				allowed = 0
			end
		end

		-- Both outcomes record the attempt: retrying inside the window
		-- extends it.
		redis.call('SET', lastKey, now, 'EX', ttl)
		redis.call('INCR', countKey)
		redis.call('EXPIRE', countKey, ttl)

		return {allowed, resetAt}
`)

// CheckExponential evaluates exponential backoff for key: after n recorded
// attempts, the next one is blocked until base·2^(n-1) (capped at max) has
// elapsed since the previous one. Every call — allowed or blocked — records
// the attempt.
//
// On Redis error the limiter fails open with RetryAfter = base.
func (l *Limiter) CheckExponential(ctx context.Context, key string, base, max time.Duration) Result {
	now := time.Now().UnixMilli()
	ttl := int64(math.Ceil(max.Seconds()))
	if ttl < 1 {
		ttl = 1
	}

	vals, err := exponentialScript.Run(ctx, l.rdb,
		[]string{l.key(key), l.key(key) + "_attempts"},
		now, base.Milliseconds(), max.Milliseconds(), ttl,
	).Int64Slice()
	if err != nil || len(vals) != 2 {
		return Result{Allowed: true, RetryAfter: base}
	}

	res := Result{Allowed: vals[0] == 1}
	if !res.Allowed {
		res.RetryAfter = time.Duration(vals[1]-now) * time.Millisecond
	}
	return res
}

// ResetExponential clears the backoff state for key. Called on success paths
// (e.g. completed verification) so past failures stop penalizing the caller.
func (l *Limiter) ResetExponential(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, l.key(key), l.key(key)+"_attempts").Err()
}
