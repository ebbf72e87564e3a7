package registry

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/hangar-sh/hangar/internal/errors"
)

// Registry is the persistent ordered sequence of installation records.
// All mutations hold an internal lock, mutate an in-memory copy, then
// persist atomically (temp-write + rename), so concurrent readers see
// either the prior or the new document.
type Registry struct {
	path     string
	fileLock *flock.Flock

	mu      sync.RWMutex
	entries []*Record
}

// Open loads (or initializes) the registry at path.
func Open(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}

	r := &Registry{
		path:     path,
		fileLock: flock.New(path + ".lock"),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewStateError("failed to parse installation registry", err)
	}
	r.entries = doc.Entries
	return r, nil
}

// List returns a snapshot of all records in order.
func (r *Registry) List() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Record, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Clone())
	}
	return out
}

// Get returns a snapshot of the record with the given id.
func (r *Registry) Get(id string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.ID == id {
			return e.Clone(), nil
		}
	}
	return nil, errors.UnknownInstallation(id)
}

// Add inserts a record at the end of the sequence. A missing id is
// assigned; the name is made unique by suffixing; a duplicate install
// path (case-folded) is rejected.
func (r *Registry) Add(rec *Record) (*Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec = rec.Clone()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	for _, e := range r.entries {
		if e.ID == rec.ID {
			return nil, errors.New(errors.CategoryState, fmt.Sprintf("duplicate installation id %q", rec.ID))
		}
	}
	if rec.InstallPath != "" {
		for _, e := range r.entries {
			if samePath(e.InstallPath, rec.InstallPath) {
				return nil, errors.ErrDuplicatePath.WithDetail("path", rec.InstallPath)
			}
		}
	}
	rec.Name = r.uniqueNameLocked(rec.Name)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	entries := append(append([]*Record{}, r.entries...), rec)
	if err := r.persistLocked(entries); err != nil {
		return nil, err
	}
	r.entries = entries
	slog.Debug("installation added", "id", rec.ID, "name", rec.Name, "source", rec.SourceID)
	return rec.Clone(), nil
}

// Update applies mutate to the record with the given id and persists.
func (r *Registry) Update(id string, mutate func(*Record)) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, e := range r.entries {
		if e.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, errors.UnknownInstallation(id)
	}

	updated := r.entries[idx].Clone()
	mutate(updated)
	updated.ID = id // id is stable across renames
	if err := updated.Validate(); err != nil {
		return nil, err
	}

	if updated.Name != r.entries[idx].Name {
		for _, e := range r.entries {
			if e.ID != id && e.Name == updated.Name {
				return nil, errors.ErrDuplicateName.WithDetail("name", updated.Name)
			}
		}
	}
	if updated.InstallPath != r.entries[idx].InstallPath && updated.InstallPath != "" {
		for _, e := range r.entries {
			if e.ID != id && samePath(e.InstallPath, updated.InstallPath) {
				return nil, errors.ErrDuplicatePath.WithDetail("path", updated.InstallPath)
			}
		}
	}

	entries := append([]*Record{}, r.entries...)
	entries[idx] = updated
	if err := r.persistLocked(entries); err != nil {
		return nil, err
	}
	r.entries = entries
	return updated.Clone(), nil
}

// Remove deletes the record with the given id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]*Record, 0, len(r.entries))
	found := false
	for _, e := range r.entries {
		if e.ID == id {
			found = true
			continue
		}
		entries = append(entries, e)
	}
	if !found {
		return errors.UnknownInstallation(id)
	}
	if err := r.persistLocked(entries); err != nil {
		return err
	}
	r.entries = entries
	slog.Debug("installation removed", "id", id)
	return nil
}

// Reorder replaces the sequence by the given id order. Ids not present in
// the registry are ignored; records missing from ids keep their previous
// relative order at the tail.
func (r *Registry) Reorder(ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := make(map[string]*Record, len(r.entries))
	for _, e := range r.entries {
		byID[e.ID] = e
	}

	entries := make([]*Record, 0, len(r.entries))
	placed := make(map[string]bool, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok && !placed[id] {
			entries = append(entries, e)
			placed[id] = true
		}
	}
	for _, e := range r.entries {
		if !placed[e.ID] {
			entries = append(entries, e)
		}
	}

	if err := r.persistLocked(entries); err != nil {
		return err
	}
	r.entries = entries
	return nil
}

// SeedDefaults inserts records whose id is not already present.
func (r *Registry) SeedDefaults(defaults []*Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := make(map[string]bool, len(r.entries))
	for _, e := range r.entries {
		existing[e.ID] = true
	}

	entries := append([]*Record{}, r.entries...)
	added := false
	for _, d := range defaults {
		if d.ID == "" || existing[d.ID] {
			continue
		}
		seeded := d.Clone()
		seeded.Name = uniqueNameIn(entries, seeded.Name)
		if seeded.CreatedAt.IsZero() {
			seeded.CreatedAt = time.Now()
		}
		entries = append(entries, seeded)
		existing[seeded.ID] = true
		added = true
	}
	if !added {
		return nil
	}
	if err := r.persistLocked(entries); err != nil {
		return err
	}
	r.entries = entries
	return nil
}

// UniqueName appends " (N)" to base until no record uses the name.
func (r *Registry) UniqueName(base string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uniqueNameIn(r.entries, base)
}

// uniqueNameLocked is UniqueName without taking the lock.
func (r *Registry) uniqueNameLocked(base string) string {
	return uniqueNameIn(r.entries, base)
}

func uniqueNameIn(entries []*Record, base string) string {
	if base == "" {
		base = "Installation"
	}
	taken := make(map[string]bool, len(entries))
	for _, e := range entries {
		taken[e.Name] = true
	}
	if !taken[base] {
		return base
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", base, n)
		if !taken[candidate] {
			return candidate
		}
	}
}

// persistLocked writes the document atomically under the cross-process lock.
// Must be called with r.mu held.
func (r *Registry) persistLocked(entries []*Record) error {
	locked, err := r.fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire registry lock: %w", err)
	}
	if !locked {
		return errors.NewLockError(r.fileLock.Path(), 0)
	}
	defer func() {
		if err := r.fileLock.Unlock(); err != nil {
			slog.Warn("failed to release registry lock", "error", err)
		}
	}()

	doc := Document{SchemaVersion: SchemaVersion, Entries: entries}
	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	tmpPath := r.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp registry file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename registry file: %w", err)
	}
	return nil
}

// samePath compares install paths, case-folding on case-insensitive
// file systems.
func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	a, b = filepath.Clean(a), filepath.Clean(b)
	if caseInsensitiveFS() {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func caseInsensitiveFS() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

// IsUnknownInstallation reports whether err is an unknown-installation error.
func IsUnknownInstallation(err error) bool {
	return stderrors.Is(err, errors.ErrUnknownInstallation)
}
