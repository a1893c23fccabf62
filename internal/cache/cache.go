// Package cache memoizes computed distributions and fetched input tables.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/ppiankov/pollcast/internal/model"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// keyVersion is bumped whenever a cached payload changes shape
const keyVersion = "pollcast:v1:"

// Key derives a cache key from a namespace and the digest of a payload
func Key(namespace string, payload []byte) string {
	hash := sha256.Sum256(payload)
	return keyVersion + namespace + ":" + hex.EncodeToString(hash[:])
}

// URLKey derives the cache key of a fetched input table
func URLKey(url string) string {
	return Key("url", []byte(url))
}

// New builds the cache described by cfg: nil when disabled, memory only when
// no directory is set, memory in front of disk otherwise.
func New(cfg model.CacheConfig) Cache {
	if !cfg.Enabled {
		return nil
	}
	memory := NewMemoryCache(cfg.MemoryTTL, 10*time.Minute)
	if cfg.Dir == "" {
		return memory
	}
	return NewLayeredCache(memory, NewDiskCache(cfg.Dir, cfg.DiskTTL))
}
