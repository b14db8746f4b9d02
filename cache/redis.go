package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GoCodeAlone/persistunit/config"
)

const flushBatch = 100

// RedisCache implements Engine on a redis server. Values are stored as JSON
// under KeyPrefix, so Flush removes this suite's entries only.
type RedisCache struct {
	config config.CacheConfig
	mu     sync.RWMutex
	client *redis.Client
}

// NewRedisCache creates a new Redis cache engine
func NewRedisCache(cfg config.CacheConfig) *RedisCache {
	return &RedisCache{config: cfg}
}

// Connect establishes connection to Redis
func (c *RedisCache) Connect(ctx context.Context) error {
	opts, err := redis.ParseURL(c.config.RedisURL)
	if err != nil {
		return fmt.Errorf("parsing redis URL: %w", err)
	}
	if c.config.RedisPassword != "" {
		opts.Password = c.config.RedisPassword
	}
	if c.config.RedisDB != 0 {
		opts.DB = c.config.RedisDB
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("pinging redis: %w", err)
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	return nil
}

// Close closes the connection to Redis
func (c *RedisCache) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	if err != nil {
		return fmt.Errorf("closing redis client: %w", err)
	}
	return nil
}

func (c *RedisCache) conn() (*redis.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, ErrNotConnected
	}
	return c.client, nil
}

func (c *RedisCache) key(k string) string { return c.config.KeyPrefix + k }

// Get retrieves and decodes an item
func (c *RedisCache) Get(ctx context.Context, key string) (any, bool) {
	client, err := c.conn()
	if err != nil {
		return nil, false
	}
	data, err := client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		return nil, false
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false
	}
	return value, true
}

// Set encodes value as JSON and stores it with ttl
func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	client, err := c.conn()
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return ErrInvalidValue
	}
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	if err := client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	client, err := c.conn()
	if err != nil {
		return err
	}
	if err := client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Flush deletes every key under the configured prefix
func (c *RedisCache) Flush(ctx context.Context) error {
	client, err := c.conn()
	if err != nil {
		return err
	}

	// Deleting while the cursor is open can make SCAN skip keys, so the whole
	// prefix is collected first.
	var keys []string
	iter := client.Scan(ctx, 0, c.config.KeyPrefix+"*", flushBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis scan: %w", err)
	}
	for batch := range slices.Chunk(keys, flushBatch) {
		if err := client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis flush: %w", err)
		}
	}
	return nil
}
