package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// allowScript atomically increments the counter for a key and sets its
// expiry when the increment opened a fresh window. Returns the
// post-increment count.
var allowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisLimiter is the shared Limiter. All serving instances pointing at the
// same Redis see one consistent set of counters, which the in-memory
// limiter cannot provide across processes.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter creates a limiter over an existing Redis client.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: "ratelimit:",
	}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) (bool, error) {
	count, err := allowScript.Run(ctx, l.client, []string{l.prefix + key}, window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}
	return count <= max, nil
}

// Remaining implements Limiter.
func (l *RedisLimiter) Remaining(ctx context.Context, key string, max int) (int, error) {
	count, err := l.client.Get(ctx, l.prefix+key).Int()
	if err != nil {
		if err == redis.Nil {
			return max, nil
		}
		return 0, fmt.Errorf("rate limit read failed: %w", err)
	}

	remaining := max - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset implements Limiter.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("rate limit reset failed: %w", err)
	}
	return nil
}
