// Package cache implements a bounded, file-granularity LRU cache keyed by
// arbitrary strings. Recency is tracked through file modification times.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// evictionFloor protects entries touched just before an eviction pass from
// clock skew on file systems with coarse mtime resolution.
const evictionFloor = 100 * time.Millisecond

// Cache is a bounded file cache rooted at a directory.
type Cache struct {
	root       string
	maxEntries int
}

// New creates a Cache rooted at root holding at most maxEntries entries.
func New(root string, maxEntries int) (*Cache, error) {
	if maxEntries < 1 {
		return nil, fmt.Errorf("cache size must be positive, got %d", maxEntries)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{root: root, maxEntries: maxEntries}, nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// Path resolves a key to its file-system path inside the cache.
// Keys map to stable names; unsafe characters are replaced and a short
// digest disambiguates collisions. Subdirectory entries are permitted.
func (c *Cache) Path(key string) string {
	return filepath.Join(c.root, entryName(key))
}

// IsCached reports whether an entry exists for key.
func (c *Cache) IsCached(key string) bool {
	_, err := os.Stat(c.Path(key))
	return err == nil
}

// Touch updates the entry's mtime so eviction treats it as recently used.
func (c *Cache) Touch(key string) error {
	now := time.Now()
	return os.Chtimes(c.Path(key), now, now)
}

// Evict removes the oldest-mtime entries beyond the cap. Entries modified
// within the last 100 ms are never removed.
func (c *Cache) Evict() error {
	dirents, err := os.ReadDir(c.root)
	if err != nil {
		return fmt.Errorf("failed to list cache: %w", err)
	}

	type entry struct {
		name  string
		mtime time.Time
	}

	entries := make([]entry, 0, len(dirents))
	for _, de := range dirents {
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, entry{name: de.Name(), mtime: info.ModTime()})
	}

	if len(entries) <= c.maxEntries {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].mtime.Before(entries[j].mtime)
	})

	now := time.Now()
	for _, e := range entries[:len(entries)-c.maxEntries] {
		if now.Sub(e.mtime) < evictionFloor {
			continue
		}
		path := filepath.Join(c.root, e.name)
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to evict %s: %w", e.name, err)
		}
		slog.Debug("evicted cache entry", "entry", e.name)
	}
	return nil
}

// entryName maps a key to a stable, file-system safe name.
func entryName(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	sum := sha256.Sum256([]byte(key))
	digest := hex.EncodeToString(sum[:4])

	name := b.String()
	const maxBase = 100
	if len(name) > maxBase {
		name = name[:maxBase]
	}
	if name == "" {
		return digest
	}
	return name + "-" + digest
}
