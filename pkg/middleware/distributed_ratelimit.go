package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DistributedRateLimiter is a fixed-window counter in Redis so every
// instance shares the same budget
type DistributedRateLimiter struct {
	redis  redis.UniversalClient
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient redis.UniversalClient, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

func (rl *DistributedRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Config returns the limiter settings
func (rl *DistributedRateLimiter) Config() *RateLimitConfig {
	return rl.config
}

// Allow increments the window counter for key. The window starts with the
// first request and lasts WindowDuration.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := rl.key(key)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	if count == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return false, fmt.Errorf("redis error: %w", err)
		}
	} else if ttl, err := rl.redis.TTL(ctx, redisKey).Result(); err == nil && ttl < 0 {
		// a crash between INCR and EXPIRE would otherwise pin the key forever
		rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration)
	}

	return count <= int64(rl.config.RequestsPerWindow+rl.config.BurstSize), nil
}

// Remaining returns the number of remaining requests in the window
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	count, err := rl.redis.Get(ctx, rl.key(key)).Int()
	if err == redis.Nil {
		return rl.config.RequestsPerWindow + rl.config.BurstSize, nil
	} else if err != nil {
		return 0, err
	}

	remaining := rl.config.RequestsPerWindow + rl.config.BurstSize - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// TTL returns the time until the rate limit window resets
func (rl *DistributedRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, rl.key(key)).Result()
}

// Reset clears the rate limit for a key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}

// HealthCheck verifies Redis connectivity for rate limiting
func (rl *DistributedRateLimiter) HealthCheck(ctx context.Context) error {
	return rl.redis.Ping(ctx).Err()
}
