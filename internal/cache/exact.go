package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCacheTimeout = 500 * time.Millisecond

// ExactCache is the Redis-backed Cache implementation. All operations
// degrade gracefully when Redis is unavailable.
type ExactCache struct {
	client       *redis.Client
	queryTimeout time.Duration
}

// NewExactCache wraps an existing Redis client. The caller owns the client
// lifecycle.
func NewExactCache(client *redis.Client) *ExactCache {
	return &ExactCache{client: client, queryTimeout: defaultCacheTimeout}
}

func (c *ExactCache) Get(ctx context.Context, key string) ([]byte, bool) {
	opCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	val, err := c.client.Get(opCtx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

func (c *ExactCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	opCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	// Errors are swallowed: a failed cache write must not fail the request.
	_ = c.client.Set(opCtx, key, value, ttl).Err()
	return nil
}

func (c *ExactCache) Delete(ctx context.Context, key string) error {
	opCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()
	return c.client.Del(opCtx, key).Err()
}
