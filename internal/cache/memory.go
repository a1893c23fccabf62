package cache

import (
	"bytes"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache holds entries in process until they expire.
// A ttl of zero or less at construction means entries never expire.
type MemoryCache struct {
	items *gocache.Cache
}

// NewMemoryCache creates a memory cache swept every sweep interval
func NewMemoryCache(ttl, sweep time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &MemoryCache{items: gocache.New(ttl, sweep)}
}

// Get retrieves a value from the cache
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	v, ok := c.items.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// Set keeps a private copy of value, so callers may reuse their buffer
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	c.items.Set(key, bytes.Clone(value), ttl)
	return nil
}

// Delete removes a value from the cache
func (c *MemoryCache) Delete(key string) error {
	c.items.Delete(key)
	return nil
}

// Clear removes all values from the cache
func (c *MemoryCache) Clear() error {
	c.items.Flush()
	return nil
}

// Len counts entries, including expired ones not yet swept
func (c *MemoryCache) Len() int {
	return c.items.ItemCount()
}
