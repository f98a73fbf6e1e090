// internal/pkg/ratelimit/redis.go
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window counter shared by every gateway replica.
type RedisLimiter struct {
	client redis.Cmdable
	max    int64
	window time.Duration
}

func NewRedisLimiter(client redis.Cmdable, limit int64, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, max: limit, window: window}
}

// Allow increments the window counter for scope and key.
func (r *RedisLimiter) Allow(ctx context.Context, scope, key string) (Decision, error) {
	k := r.key(scope, key)

	count, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	// Set expiration on first hit of the window
	if count == 1 {
		if err := r.client.Expire(ctx, k, r.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}

	remaining := r.max - count
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{Allowed: count <= r.max, Remaining: remaining}
	if !d.Allowed {
		ttl, err := r.client.TTL(ctx, k).Result()
		if err == nil && ttl > 0 {
			d.RetryAfter = ttl
		} else {
			d.RetryAfter = r.window
		}
	}
	return d, nil
}

// Reset clears the counter for scope and key.
func (r *RedisLimiter) Reset(ctx context.Context, scope, key string) error {
	return r.client.Del(ctx, r.key(scope, key)).Err()
}

func (r *RedisLimiter) key(scope, key string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, key)
}
