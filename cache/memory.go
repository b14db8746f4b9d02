package cache

import (
	"context"
	"sync"
	"time"

	"github.com/GoCodeAlone/persistunit/config"
)

// MemoryCache implements Engine using in-process storage
type MemoryCache struct {
	config     config.CacheConfig
	items      map[string]cacheItem
	mutex      sync.RWMutex
	cancelFunc context.CancelFunc
}

type cacheItem struct {
	value      any
	expiration time.Time
}

// NewMemoryCache creates a new memory cache engine
func NewMemoryCache(cfg config.CacheConfig) *MemoryCache {
	return &MemoryCache{
		config: cfg,
		items:  make(map[string]cacheItem),
	}
}

// Connect starts the cleanup loop for expired items
func (c *MemoryCache) Connect(_ context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.cancelFunc != nil || c.config.CleanupInterval <= 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelFunc = cancel
	go c.startCleanupTimer(ctx)
	return nil
}

// Close stops the cleanup loop
func (c *MemoryCache) Close(_ context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.cancelFunc != nil {
		c.cancelFunc()
		c.cancelFunc = nil
	}
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string) (any, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, found := c.items[key]
	if !found {
		return nil, false
	}
	if !item.expiration.IsZero() && time.Now().After(item.expiration) {
		return nil, false
	}
	return item.value, true
}

func (c *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	// A full cache rejects new keys but still accepts updates
	if _, exists := c.items[key]; !exists && c.config.MaxItems > 0 && len(c.items) >= c.config.MaxItems {
		return ErrCacheFull
	}

	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.items[key] = cacheItem{value: value, expiration: exp}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.items, key)
	return nil
}

func (c *MemoryCache) Flush(_ context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.items = make(map[string]cacheItem)
	return nil
}

// Len returns the number of stored items, expired ones included.
func (c *MemoryCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.items)
}

func (c *MemoryCache) startCleanupTimer(ctx context.Context) {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanupExpiredItems()
		case <-ctx.Done():
			return
		}
	}
}

func (c *MemoryCache) cleanupExpiredItems() {
	now := time.Now()
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for key, item := range c.items {
		if !item.expiration.IsZero() && now.After(item.expiration) {
			delete(c.items, key)
		}
	}
}
