// Package settings persists the flat user settings document.
package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// Listener is invoked synchronously after a key changes.
type Listener func(key string, value json.RawMessage)

// Store is a flat key-value settings document persisted atomically.
// Unknown keys round-trip unchanged.
type Store struct {
	path     string
	fileLock *flock.Flock

	mu        sync.Mutex
	values    map[string]json.RawMessage
	listeners []Listener
}

// NewStore creates a Store backed by the given file, loading it if present.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create settings directory: %w", err)
	}

	s := &Store{
		path:     path,
		fileLock: flock.New(path + ".lock"),
		values:   make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	return s, nil
}

// Subscribe registers a listener fired synchronously on every Set.
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Get returns the raw value for key.
func (s *Store) Get(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// GetString returns the string value for key, or def when absent or not a string.
func (s *Store) GetString(key, def string) string {
	raw, ok := s.Get(key)
	if !ok {
		return def
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return def
	}
	return v
}

// GetBool returns the bool value for key, or def when absent or not a bool.
func (s *Store) GetBool(key string, def bool) bool {
	raw, ok := s.Get(key)
	if !ok {
		return def
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return def
	}
	return v
}

// Set stores a value, persists the document atomically, then fires listeners
// synchronously. The value must be JSON-marshalable.
func (s *Store) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal setting %q: %w", key, err)
	}

	s.mu.Lock()
	s.values[key] = raw
	err = s.persistLocked()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	if err != nil {
		return err
	}

	for _, l := range listeners {
		l(key, raw)
	}
	return nil
}

// All returns a copy of the whole document.
func (s *Store) All() map[string]json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]json.RawMessage, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// persistLocked writes the document with temp-file-then-rename.
// Must be called with s.mu held.
func (s *Store) persistLocked() error {
	locked, err := s.fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire settings lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("settings file is locked by another process")
	}
	defer func() {
		if err := s.fileLock.Unlock(); err != nil {
			slog.Warn("failed to release settings lock", "error", err)
		}
	}()

	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp settings file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename settings file: %w", err)
	}
	return nil
}
