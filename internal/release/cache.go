package release

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	cacheSchemaVersion = 1

	// forceThrottle is the minimum gap between forced refreshes of the
	// same key. A user hammering the refresh button gets the cached
	// answer inside this window.
	forceThrottle = 10 * time.Second
)

type cacheEntry struct {
	Release   Release   `json:"release"`
	ETag      string    `json:"etag,omitempty"`
	FetchedAt time.Time `json:"fetchedAt"`
}

type cacheDocument struct {
	SchemaVersion int                   `json:"schemaVersion"`
	Entries       map[string]cacheEntry `json:"entries"`
}

// Cache serves release metadata from a disk-backed cache, collapsing
// concurrent fetches of the same key into one upstream request.
type Cache struct {
	path   string
	client *http.Client

	mu      sync.Mutex
	entries map[string]cacheEntry
	group   singleflight.Group
	now     func() time.Time
}

// NewCache loads the cache file at path, starting empty when it is
// missing or unreadable.
func NewCache(path string, client *http.Client) *Cache {
	c := &Cache{
		path:    path,
		client:  client,
		entries: map[string]cacheEntry{},
		now:     time.Now,
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c
	}
	var doc cacheDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("ignoring corrupt release cache", "path", path, "error", err)
		return c
	}
	if doc.Entries != nil {
		c.entries = doc.Entries
	}
	return c
}

// Key returns the cache key for a repo and track.
func Key(repo Repo, track Track) string {
	return fmt.Sprintf("%s:%s/%s:%s", repo.host(), repo.Owner, repo.Name, track)
}

// GetOrFetch returns the release for repo on track. A cached entry is
// served as-is; force revalidates upstream with the stored ETag but is
// throttled per key. Concurrent callers for the same key share one
// upstream request.
func (c *Cache) GetOrFetch(ctx context.Context, repo Repo, track Track, force bool) (*Release, error) {
	key := Key(repo, track)

	c.mu.Lock()
	entry, ok := c.entries[key]
	now := c.now()
	c.mu.Unlock()

	throttled := ok && now.Sub(entry.FetchedAt) < forceThrottle
	if ok && (!force || throttled) {
		r := entry.Release
		return &r, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.Lock()
		prev, havePrev := c.entries[key]
		c.mu.Unlock()

		etag := ""
		if havePrev {
			etag = prev.ETag
		}
		res, err := Fetch(ctx, c.client, repo, track, etag)
		if err != nil {
			// Serve the stale entry rather than failing a poll.
			if havePrev {
				slog.Debug("serving stale release after fetch failure", "key", key, "error", err)
				r := prev.Release
				return &r, nil
			}
			return nil, err
		}

		next := cacheEntry{ETag: res.ETag, FetchedAt: c.now()}
		if res.NotModified {
			next.Release = prev.Release
		} else {
			next.Release = res.Release
		}

		c.mu.Lock()
		c.entries[key] = next
		persistErr := c.persistLocked()
		c.mu.Unlock()
		if persistErr != nil {
			slog.Warn("failed to persist release cache", "error", persistErr)
		}

		r := next.Release
		return &r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Release), nil
}

// Cached returns the cached release for repo on track without any
// network traffic, or nil when absent.
func (c *Cache) Cached(repo Repo, track Track) *Release {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[Key(repo, track)]
	if !ok {
		return nil
	}
	r := entry.Release
	return &r
}

func (c *Cache) persistLocked() error {
	doc := cacheDocument{SchemaVersion: cacheSchemaVersion, Entries: c.entries}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
