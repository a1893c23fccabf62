package cache

import (
	"errors"
	"time"
)

// LayeredCache reads through a fast front tier to a persistent back tier.
// Writes go to both; a back-tier hit is copied forward.
type LayeredCache struct {
	front Cache
	back  Cache
}

// NewLayeredCache creates a layered cache over front and back
func NewLayeredCache(front, back Cache) *LayeredCache {
	return &LayeredCache{front: front, back: back}
}

// Get checks the front tier, then the back tier
func (c *LayeredCache) Get(key string) ([]byte, bool) {
	if val, ok := c.front.Get(key); ok {
		return val, true
	}
	val, ok := c.back.Get(key)
	if ok {
		_ = c.front.Set(key, val, 0)
	}
	return val, ok
}

// Set stores a value in both tiers
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	if err := c.front.Set(key, value, ttl); err != nil {
		return err
	}
	return c.back.Set(key, value, ttl)
}

// Delete removes a value from both tiers
func (c *LayeredCache) Delete(key string) error {
	return errors.Join(c.front.Delete(key), c.back.Delete(key))
}

// Clear removes all values from both tiers
func (c *LayeredCache) Clear() error {
	return errors.Join(c.front.Clear(), c.back.Clear())
}
