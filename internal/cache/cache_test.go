package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/pollcast/internal/model"
)

func TestKey(t *testing.T) {
	a := Key("dist", []byte("XX:0.5:3"))
	b := Key("dist", []byte("XX:0.5:3"))
	c := Key("dist", []byte("XX:0.5:4"))
	d := Key("url", []byte("XX:0.5:3"))

	if a != b {
		t.Error("expected identical payloads to share a key")
	}
	if a == c || a == d {
		t.Error("expected different payloads or namespaces to differ")
	}
	if !strings.HasPrefix(a, "pollcast:v1:dist:") {
		t.Errorf("unexpected key prefix: %s", a)
	}
	if URLKey("https://example.org/polls.csv") != Key("url", []byte("https://example.org/polls.csv")) {
		t.Error("URLKey should use the url namespace")
	}
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)

	value := []byte("distribution")
	if err := c.Set("k", value, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value[0] = 'X' // stored copy must not change

	got, ok := c.Get("k")
	if !ok || string(got) != "distribution" {
		t.Fatalf("expected stored value, got %q (found=%v)", got, ok)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}

	_ = c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after delete")
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	_ = c.Set("short", []byte("v"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("short"); ok {
		t.Error("expected entry to expire")
	}
}

func TestDiskCache_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c := NewDiskCache(dir, time.Hour)

	key := Key("dist", []byte("payload"))
	if err := c.Set(key, []byte("mass"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok := c.Get(key)
	if !ok || string(got) != "mass" {
		t.Fatalf("expected disk hit, got %q (found=%v)", got, ok)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "dist"))
	if err != nil {
		t.Fatalf("expected namespace directory: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file in namespace directory, got %d", len(entries))
	}
	name := entries[0].Name()
	if strings.HasPrefix(name, ".entry-") {
		t.Errorf("temporary file left behind: %s", name)
	}
	if strings.Contains(name, ":") || !strings.HasSuffix(name, ".json") {
		t.Errorf("unexpected file name: %s", name)
	}

	if err := c.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := c.Delete(key); err != nil {
		t.Errorf("deleting a missing key should not fail: %v", err)
	}
}

func TestDiskCache_Expired(t *testing.T) {
	c := NewDiskCache(t.TempDir(), time.Hour)
	_ = c.Set("k", []byte("v"), time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expected expired entry to miss")
	}
}

func TestDiskCache_UnversionedKey(t *testing.T) {
	dir := t.TempDir()
	c := NewDiskCache(dir, 0)
	if err := c.Set("a:b", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a_b.json")); err != nil {
		t.Errorf("expected flat file for unversioned key: %v", err)
	}
	if got, ok := c.Get("a:b"); !ok || string(got) != "v" {
		t.Errorf("expected hit without expiry, got %q (found=%v)", got, ok)
	}
}

func TestDiskCache_Corrupt(t *testing.T) {
	dir := t.TempDir()
	c := NewDiskCache(dir, time.Hour)
	if err := os.WriteFile(c.path("k"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("k"); ok {
		t.Error("expected corrupt entry to miss")
	}
}

func TestLayeredCache_PromotesDiskHits(t *testing.T) {
	dir := t.TempDir()
	disk := NewDiskCache(dir, time.Hour)
	_ = disk.Set("k", []byte("from disk"), 0)

	memory := NewMemoryCache(time.Minute, time.Minute)
	layered := NewLayeredCache(memory, disk)

	got, ok := layered.Get("k")
	if !ok || string(got) != "from disk" {
		t.Fatalf("expected disk hit, got %q", got)
	}
	if _, ok := memory.Get("k"); !ok {
		t.Error("expected disk hit to be promoted to memory")
	}

	_ = layered.Set("k2", []byte("both"), 0)
	if _, ok := disk.Get("k2"); !ok {
		t.Error("expected Set to write through to disk")
	}

	_ = layered.Clear()
	if _, ok := layered.Get("k2"); ok {
		t.Error("expected miss after Clear")
	}
}

func TestNew(t *testing.T) {
	if c := New(model.CacheConfig{Enabled: false}); c != nil {
		t.Error("expected nil cache when disabled")
	}
	if _, ok := New(model.CacheConfig{Enabled: true, MemoryTTL: time.Minute}).(*MemoryCache); !ok {
		t.Error("expected memory cache without a directory")
	}
	if _, ok := New(model.CacheConfig{Enabled: true, Dir: t.TempDir()}).(*LayeredCache); !ok {
		t.Error("expected layered cache with a directory")
	}
}
