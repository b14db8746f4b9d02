// Package cache provides the second-tier cache engines shared by persistence
// factories and evicted when a factory is torn down.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GoCodeAlone/persistunit/config"
)

var (
	// ErrCacheFull is returned when the memory cache is full and cannot store new items
	ErrCacheFull = errors.New("cache is full")

	// ErrInvalidValue is returned when the value cannot be stored in the cache
	ErrInvalidValue = errors.New("invalid cache value")

	// ErrNotConnected is returned when an operation is attempted on a cache that is not connected
	ErrNotConnected = errors.New("cache not connected")

	// ErrDisabled is returned by New when the configured engine is "none"
	ErrDisabled = errors.New("cache disabled")
)

// Engine is a cache backend. Engines satisfy persistunit.SecondLevelCache.
type Engine interface {
	// Connect establishes connection to the cache backend
	Connect(ctx context.Context) error

	// Close closes the connection to the cache backend
	Close(ctx context.Context) error

	// Get retrieves an item from the cache
	Get(ctx context.Context, key string) (any, bool)

	// Set stores an item in the cache with a TTL; zero uses the engine default
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Delete removes an item from the cache
	Delete(ctx context.Context, key string) error

	// Flush removes all items owned by this engine
	Flush(ctx context.Context) error
}

// New creates and connects the engine selected by cfg.
func New(ctx context.Context, cfg config.CacheConfig) (Engine, error) {
	var engine Engine
	switch cfg.Engine {
	case config.CacheMemory:
		engine = NewMemoryCache(cfg)
	case config.CacheRedis:
		engine = NewRedisCache(cfg)
	case config.CacheNone, "":
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownCacheEngine, cfg.Engine)
	}
	if err := engine.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting %s cache: %w", cfg.Engine, err)
	}
	return engine, nil
}
