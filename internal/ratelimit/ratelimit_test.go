package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/relaypoint/llm-gateway/internal/ratelimit"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestSlidingWindow_AllowsUnderLimit(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := ratelimit.New(rdb, "test")
	ctx := context.Background()

	const limit = 5
	for i := 0; i < limit; i++ {
		res := l.CheckRateLimit(ctx, "rl:org1", time.Minute, limit)
		if !res.Allowed {
			t.Fatalf("request %d blocked under limit", i)
		}
		if res.Remaining != limit-i-1 {
			t.Errorf("request %d: remaining = %d, want %d", i, res.Remaining, limit-i-1)
		}
	}
}

func TestSlidingWindow_BlocksOverLimit(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := ratelimit.New(rdb, "test")
	ctx := context.Background()

	const limit = 3
	for i := 0; i < limit; i++ {
		if res := l.CheckRateLimit(ctx, "rl:org2", time.Minute, limit); !res.Allowed {
			t.Fatalf("request %d blocked under limit", i)
		}
	}
	res := l.CheckRateLimit(ctx, "rl:org2", time.Minute, limit)
	if res.Allowed {
		t.Error("expected block after limit exhausted")
	}
	if res.RetryAfter <= 0 {
		t.Error("blocked result must carry RetryAfter")
	}
}

func TestSlidingWindow_SetsTTL(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := ratelimit.New(rdb, "test")

	l.CheckRateLimit(context.Background(), "rl:ttl", 90*time.Second, 10)
	ttl := mr.TTL("test:rl:ttl")
	if ttl != 90*time.Second {
		t.Errorf("ttl = %v, want 90s", ttl)
	}
}

func TestSlidingWindow_FailOpen(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := ratelimit.New(rdb, "test")
	mr.Close()

	res := l.CheckRateLimit(context.Background(), "rl:down", time.Minute, 10)
	if !res.Allowed {
		t.Error("limiter must fail open when Redis is unreachable")
	}
	if res.Remaining != 9 {
		t.Errorf("fail-open remaining = %d, want 9", res.Remaining)
	}
}

func TestExponential_BackoffSchedule(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := ratelimit.New(rdb, "test")
	ctx := context.Background()
	base, max := time.Minute, 24*time.Hour

	// First attempt passes; there is no prior attempt to back off from.
	if res := l.CheckExponential(ctx, "signup_rate_limit:203.0.113.5", base, max); !res.Allowed {
		t.Fatal("first attempt must be allowed")
	}

	// Immediate retry is inside the 60s window of attempt one.
	res := l.CheckExponential(ctx, "signup_rate_limit:203.0.113.5", base, max)
	if res.Allowed {
		t.Fatal("second immediate attempt must be blocked")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > base {
		t.Errorf("RetryAfter = %v, want (0, %v]", res.RetryAfter, base)
	}

	// The blocked attempt still counted: the window is now 2 minutes.
	res = l.CheckExponential(ctx, "signup_rate_limit:203.0.113.5", base, max)
	if res.Allowed {
		t.Fatal("third immediate attempt must be blocked")
	}
	if res.RetryAfter <= base {
		t.Errorf("backoff did not grow: RetryAfter = %v", res.RetryAfter)
	}
}

func TestExponential_Reset(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := ratelimit.New(rdb, "test")
	ctx := context.Background()

	l.CheckExponential(ctx, "verify:u1", time.Minute, time.Hour)
	l.CheckExponential(ctx, "verify:u1", time.Minute, time.Hour)

	if err := l.ResetExponential(ctx, "verify:u1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if mr.Exists("test:verify:u1") || mr.Exists("test:verify:u1_attempts") {
		t.Error("reset must delete both keys")
	}

	if res := l.CheckExponential(ctx, "verify:u1", time.Minute, time.Hour); !res.Allowed {
		t.Error("attempt after reset must be allowed")
	}
}

func TestExponential_FailOpen(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := ratelimit.New(rdb, "test")
	mr.Close()

	res := l.CheckExponential(context.Background(), "signup_rate_limit:x", time.Minute, time.Hour)
	if !res.Allowed {
		t.Error("backoff limiter must fail open when Redis is unreachable")
	}
	if res.RetryAfter != time.Minute {
		t.Errorf("fail-open RetryAfter = %v, want base", res.RetryAfter)
	}
}

func TestClientIP_Precedence(t *testing.T) {
	mk := func(h map[string]string) ratelimit.HeaderGetter {
		return func(name string) string { return h[name] }
	}

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"cloudflare wins", map[string]string{
			"cf-connecting-ip": "203.0.113.5", "x-forwarded-for": "10.0.0.1"}, "203.0.113.5"},
		{"forwarded-for first token", map[string]string{
			"x-forwarded-for": "198.51.100.7, 10.0.0.1"}, "198.51.100.7"},
		{"real-ip", map[string]string{"x-real-ip": "192.0.2.9"}, "192.0.2.9"},
		{"client-ip", map[string]string{"x-client-ip": "192.0.2.10"}, "192.0.2.10"},
		{"nothing", map[string]string{}, "unknown"},
	}
	for _, tt := range tests {
		if got := ratelimit.ClientIP(mk(tt.headers)); got != tt.want {
			t.Errorf("%s: ClientIP = %q, want %q", tt.name, got, tt.want)
		}
	}
}
