package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Config holds redis cache configuration.
type Config struct {
	// Enabled turns the cache on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Addr is the redis host:port.
	Addr string `mapstructure:"addr" yaml:"addr" validate:"required_if=Enabled true"`

	// Password authenticates to redis. Optional.
	Password string `mapstructure:"password" yaml:"password"`

	// DB selects the redis database.
	DB int `mapstructure:"db" yaml:"db" validate:"gte=0"`

	// Prefix namespaces every key.
	Prefix string `mapstructure:"prefix" yaml:"prefix"`

	// TTL is how long entries live. Zero keeps them until evicted.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gte=0"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Addr:    "localhost:6379",
		Prefix:  "healthgraph:",
		TTL:     24 * time.Hour,
	}
}

// Cache stores JSON-encoded values by key.
type Cache interface {
	// Get decodes the value at key into dst and reports whether it was found.
	Get(ctx context.Context, key string, dst any) (bool, error)

	// Set stores value at key.
	Set(ctx context.Context, key string, value any) error

	// Delete removes key.
	Delete(ctx context.Context, key string) error
}

// RedisCache is a Cache backed by redis.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisCache connects to redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg Config, logger zerolog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return NewRedisCacheWithClient(client, cfg, logger), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, cfg Config, logger zerolog.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		logger: logger.With().Str("component", "cache").Logger(),
	}
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cache key %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Dropping undecodable cache entry")
		_ = c.client.Del(ctx, c.key(key)).Err()
		return false, nil
	}
	return true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache key %s: %w", key, err)
	}
	return nil
}

// Delete implements Cache.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache key %s: %w", key, err)
	}
	return nil
}

// HealthCheck pings redis.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
