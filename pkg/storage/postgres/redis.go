package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/coursehub/pkg/storage"
)

// RedisClient owns the shared Redis connection used for access locks and
// distributed rate limiting
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client and verifies connectivity
func NewRedisClient(config storage.Config) (*RedisClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	// Override with config values if provided
	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB > 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// Ping checks Redis connectivity
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetClient returns the underlying client for lockers, rate limiters and health checks
func (c *RedisClient) GetClient() *redis.Client {
	return c.client
}

// GetPoolStats returns connection pool statistics
func (c *RedisClient) GetPoolStats() *redis.PoolStats {
	return c.client.PoolStats()
}

// Close closes the Redis connection
func (c *RedisClient) Close() error {
	return c.client.Close()
}
