package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter implements RateLimiter using Redis for distributed
// deployments.
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisRateLimiter creates a new Redis-based rate limiter.
func NewRedisRateLimiter(client *redis.Client, prefix string) *RedisRateLimiter {
	if prefix == "" {
		prefix = "magiclink:ratelimit:"
	}
	return &RedisRateLimiter{client: client, prefix: prefix}
}

func (r *RedisRateLimiter) key(key string) string {
	return r.prefix + key
}

// Allow uses a fixed window counter. A Lua script keeps the increment and
// the expiry set atomic.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	script := redis.NewScript(`
		local count = redis.call('INCR', KEYS[1])
		if count == 1 then
			redis.call('PEXPIRE', KEYS[1], ARGV[1])
		end
		return count
	`)

	result, err := script.Run(ctx, r.client, []string{r.key(key)}, window.Milliseconds()).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis ratelimit: %w", err)
	}

	count, ok := result.(int64)
	if !ok {
		return false, 0, fmt.Errorf("redis ratelimit: unexpected result type %T", result)
	}

	if int(count) > limit {
		return false, 0, nil
	}
	return true, limit - int(count), nil
}

// Reset clears the counter for the given key.
func (r *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis ratelimit: reset failed: %w", err)
	}
	return nil
}
