// Package cache provides caching implementations for ClaimGuard.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUCache is a thread-safe, size-bounded cache with TTL support.
// Used as the Community tier cache and as L1 in two-phase caching.
//
// Entries expire at the earlier of their own TTL and the cache-wide maxTTL.
type LRUCache struct {
	lru    *expirable.LRU[string, cacheEntry]
	maxTTL time.Duration
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates a cache holding at most maxSize entries, none of which
// outlive maxTTL.
func NewLRUCache(maxSize int, maxTTL time.Duration) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if maxTTL <= 0 {
		maxTTL = 30 * time.Minute
	}
	return &LRUCache{
		lru:    expirable.NewLRU[string, cacheEntry](maxSize, nil, maxTTL),
		maxTTL: maxTTL,
	}
}

// Get retrieves a value from cache.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, error) {
	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.lru.Remove(key)
		return nil, nil
	}
	return entry.value, nil
}

// Set stores a value in cache with TTL. A zero or negative ttl uses the
// cache-wide maximum.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 || ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	c.lru.Add(key, cacheEntry{value: value, expiresAt: time.Now().Add(ttl)})
	return nil
}

// GetExplanation retrieves a cached issue explanation.
func (c *LRUCache) GetExplanation(ctx context.Context, key string) (string, bool, error) {
	return getExplanation(ctx, c, key)
}

// SetExplanation caches an issue explanation.
func (c *LRUCache) SetExplanation(ctx context.Context, key string, text string, ttl time.Duration) error {
	return c.Set(ctx, key, []byte(text), ttl)
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close cleans up the cache.
func (c *LRUCache) Close() error {
	c.lru.Purge()
	return nil
}
