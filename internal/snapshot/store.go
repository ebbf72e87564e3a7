package snapshot

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	hangarErrors "github.com/hangar-sh/hangar/internal/errors"
)

// DirName is the snapshot directory relative to an install path.
const DirName = ".launcher/snapshots"

// DefaultMaxAuto is how many unlabelled automatic snapshots are kept.
const DefaultMaxAuto = 50

// Store reads and writes the snapshots of one installation.
type Store struct {
	dir     string
	maxAuto int
	now     func() time.Time
}

// NewStore creates a Store rooted at the installation path.
func NewStore(installPath string) *Store {
	return &Store{
		dir:     filepath.Join(installPath, filepath.FromSlash(DirName)),
		maxAuto: DefaultMaxAuto,
		now:     time.Now,
	}
}

// Dir returns the snapshots directory.
func (s *Store) Dir() string { return s.dir }

// fileName builds "<YYYYMMDD_HHMMSS_mmm>-<trigger>-<hex6>.json".
func (s *Store) fileName(trigger Trigger) string {
	ts := s.now().Format("20060102_150405.000")
	ts = strings.Replace(ts, ".", "_", 1)
	var rnd [3]byte
	_, _ = rand.Read(rnd[:])
	return fmt.Sprintf("%s-%s-%s.json", ts, trigger, hex.EncodeToString(rnd[:]))
}

// validateName enforces that name is a bare basename resolving inside
// the snapshots directory.
func (s *Store) validateName(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", invalidSnapshot(name)
	}
	path := filepath.Join(s.dir, name)
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", invalidSnapshot(name)
	}
	dirAbs, err := filepath.Abs(s.dir)
	if err != nil {
		return "", invalidSnapshot(name)
	}
	if filepath.Dir(abs) != dirAbs {
		return "", invalidSnapshot(name)
	}
	return path, nil
}

func invalidSnapshot(name string) error {
	return &hangarErrors.Error{
		Category: hangarErrors.CategorySnapshot,
		Code:     hangarErrors.CodeInvalidSnapshot,
		Message:  fmt.Sprintf("invalid snapshot reference %q", name),
	}
}

// Save writes the snapshot and returns its file name.
func (s *Store) Save(snap *Snapshot) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshots directory: %w", err)
	}
	snap.SchemaVersion = SchemaVersion
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = s.now().UTC()
	}
	if snap.Fingerprint == "" {
		snap.Fingerprint = snap.ComputeFingerprint()
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	name := s.fileName(snap.Trigger)
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return name, nil
}

// Load reads a snapshot by file name, validating the reference.
func (s *Store) Load(name string) (*Snapshot, error) {
	path, err := s.validateName(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, invalidSnapshot(name)
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", name, err)
	}
	return &snap, nil
}

// Delete removes a snapshot by file name, validating the reference.
func (s *Store) Delete(name string) error {
	path, err := s.validateName(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return invalidSnapshot(name)
		}
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// Entry pairs a snapshot with its file name.
type Entry struct {
	Name     string
	Snapshot *Snapshot
}

// List returns all snapshots, oldest first. File names sort
// chronologically by construction.
func (s *Store) List() ([]Entry, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	var names []string
	for _, de := range dirents {
		if !de.IsDir() && strings.HasSuffix(de.Name(), ".json") {
			names = append(names, de.Name())
		}
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		snap, err := s.Load(name)
		if err != nil {
			slog.Warn("skipping unreadable snapshot", "name", name, "error", err)
			continue
		}
		entries = append(entries, Entry{Name: name, Snapshot: snap})
	}
	return entries, nil
}

// Latest returns the newest snapshot, or nil when none exist.
func (s *Store) Latest() (*Entry, error) {
	entries, err := s.List()
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	e := entries[len(entries)-1]
	return &e, nil
}

// SaveBoot persists a boot snapshot unless the state fingerprint equals
// the newest snapshot's, keeping no-change restarts from accumulating.
func (s *Store) SaveBoot(snap *Snapshot) (string, bool, error) {
	snap.Trigger = TriggerBoot
	if snap.Fingerprint == "" {
		snap.Fingerprint = snap.ComputeFingerprint()
	}

	latest, err := s.Latest()
	if err != nil {
		return "", false, err
	}
	if latest != nil && latest.Snapshot.Fingerprint == snap.Fingerprint {
		slog.Debug("boot snapshot skipped, state unchanged")
		return latest.Name, false, nil
	}

	name, err := s.Save(snap)
	return name, err == nil, err
}

// SaveRestart persists a restart snapshot. When the immediately
// previous snapshot is also an unlabelled restart with the same payload
// and extension set, it is superseded and deleted: the new snapshot is
// the fully-materialized restart state.
func (s *Store) SaveRestart(snap *Snapshot) (string, error) {
	snap.Trigger = TriggerRestart

	latest, err := s.Latest()
	if err != nil {
		return "", err
	}

	name, err := s.Save(snap)
	if err != nil {
		return "", err
	}

	if latest != nil &&
		latest.Snapshot.Trigger == TriggerRestart &&
		latest.Snapshot.Label == "" &&
		latest.Snapshot.Payload == snap.Payload &&
		latest.Snapshot.SameExtensionSet(snap) {
		if err := s.Delete(latest.Name); err != nil {
			slog.Warn("failed to delete superseded restart snapshot", "name", latest.Name, "error", err)
		}
	}
	return name, nil
}

// Prune drops the oldest automatic snapshots beyond the retention cap.
// Labelled and pre-update snapshots are kept indefinitely.
func (s *Store) Prune() error {
	entries, err := s.List()
	if err != nil {
		return err
	}

	var auto []Entry
	for _, e := range entries {
		if e.Snapshot.Auto() {
			auto = append(auto, e)
		}
	}
	if len(auto) <= s.maxAuto {
		return nil
	}

	for _, e := range auto[:len(auto)-s.maxAuto] {
		if err := s.Delete(e.Name); err != nil {
			return err
		}
		slog.Debug("pruned snapshot", "name", e.Name)
	}
	return nil
}
