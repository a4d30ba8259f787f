package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is a process-local cache backed by go-cache
type MemoryCache struct {
	cache *gocache.Cache
}

// NewMemoryCache creates a memory cache. Expired entries are swept every
// cleanupInterval.
func NewMemoryCache(defaultTTL time.Duration, cleanupInterval time.Duration) *MemoryCache {
	if defaultTTL <= 0 {
		defaultTTL = gocache.NoExpiration
	}
	return &MemoryCache{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get returns a copy of the cached bytes
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	val, found := c.cache.Get(key)
	if !found {
		return nil, false
	}
	b, ok := val.([]byte)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// Set stores a copy of value. A zero ttl uses the cache default.
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	c.cache.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

// Delete removes a value
func (c *MemoryCache) Delete(key string) error {
	c.cache.Delete(key)
	return nil
}

// Clear removes all values
func (c *MemoryCache) Clear() error {
	c.cache.Flush()
	return nil
}

// Len returns the number of entries, expired ones included until swept
func (c *MemoryCache) Len() int {
	return c.cache.ItemCount()
}
