package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DiskCache keeps one JSON file per key under dir, grouped by key namespace,
// so distributions and tables from an earlier run survive into the next.
type DiskCache struct {
	dir string
	ttl time.Duration
}

// NewDiskCache returns a cache rooted at dir; ttl applies when Set gets zero
func NewDiskCache(dir string, ttl time.Duration) *DiskCache {
	return &DiskCache{dir: dir, ttl: ttl}
}

type diskEntry struct {
	Key      string    `json:"key"`
	StoredAt time.Time `json:"stored_at"`
	Expires  time.Time `json:"expires,omitempty"`
	Payload  []byte    `json:"payload"`
}

func (e diskEntry) expired(now time.Time) bool {
	return !e.Expires.IsZero() && now.After(e.Expires)
}

// Get retrieves a value from the disk cache; expired entries are removed
func (c *DiskCache) Get(key string) ([]byte, bool) {
	file := c.path(key)
	entry, err := readEntry(file)
	if err != nil || entry.Key != key {
		return nil, false
	}
	if entry.expired(time.Now()) {
		_ = os.Remove(file)
		return nil, false
	}
	return entry.Payload, true
}

// Set stores a value in the disk cache; a zero ttl uses the cache default
func (c *DiskCache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}
	now := time.Now()
	entry := diskEntry{Key: key, StoredAt: now, Payload: value}
	if ttl > 0 {
		entry.Expires = now.Add(ttl)
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return replaceFile(c.path(key), raw)
}

// Delete removes a value from the disk cache
func (c *DiskCache) Delete(key string) error {
	if err := os.Remove(c.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Clear removes every cached file
func (c *DiskCache) Clear() error {
	return os.RemoveAll(c.dir)
}

// path places "pollcast:v1:distribution:<hex>" at <dir>/distribution/<hex>.json;
// keys outside that shape land in the root with ':' replaced.
func (c *DiskCache) path(key string) string {
	rest := strings.TrimPrefix(key, keyVersion)
	if ns, digest, ok := strings.Cut(rest, ":"); ok && rest != key && ns != "" && digest != "" {
		return filepath.Join(c.dir, ns, digest+".json")
	}
	return filepath.Join(c.dir, strings.ReplaceAll(key, ":", "_")+".json")
}

func readEntry(file string) (diskEntry, error) {
	var entry diskEntry
	raw, err := os.ReadFile(file)
	if err != nil {
		return entry, err
	}
	err = json.Unmarshal(raw, &entry)
	return entry, err
}

// replaceFile writes data next to file and renames it into place
func replaceFile(file string, data []byte) error {
	dir := filepath.Dir(file)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".entry-*")
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), file); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("commit cache file: %w", err)
	}
	return nil
}
