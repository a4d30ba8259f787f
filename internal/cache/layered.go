package cache

import (
	"errors"
	"time"
)

// LayeredCache reads memory first and falls back to disk, promoting disk
// hits into memory
type LayeredCache struct {
	memory *MemoryCache
	disk   *DiskCache
}

// NewLayeredCache creates a memory-over-disk cache
func NewLayeredCache(memoryTTL time.Duration, diskDir string, diskTTL time.Duration) *LayeredCache {
	return &LayeredCache{
		memory: NewMemoryCache(memoryTTL, 10*time.Minute),
		disk:   NewDiskCache(diskDir, diskTTL),
	}
}

// Get checks memory, then disk
func (c *LayeredCache) Get(key string) ([]byte, bool) {
	if val, found := c.memory.Get(key); found {
		return val, true
	}

	if val, found := c.disk.Get(key); found {
		_ = c.memory.Set(key, val, 0)
		return val, true
	}

	return nil, false
}

// Set writes both layers. The memory layer keeps its own default TTL when
// ttl is zero.
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	if err := c.memory.Set(key, value, ttl); err != nil {
		return err
	}
	return c.disk.Set(key, value, ttl)
}

// Delete removes the key from both layers
func (c *LayeredCache) Delete(key string) error {
	return errors.Join(c.memory.Delete(key), c.disk.Delete(key))
}

// Clear empties both layers
func (c *LayeredCache) Clear() error {
	return errors.Join(c.memory.Clear(), c.disk.Clear())
}
