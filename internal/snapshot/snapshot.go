// Package snapshot captures and restores the mutable state of an
// installation: payload version, extension set and Python package set.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hangar-sh/hangar/internal/uvenv"
)

// SchemaVersion is the snapshot file format version.
const SchemaVersion = 1

// Trigger names why a snapshot was taken.
type Trigger string

const (
	TriggerBoot      Trigger = "boot"
	TriggerRestart   Trigger = "restart"
	TriggerPreUpdate Trigger = "pre-update"
	TriggerManual    Trigger = "manual"
)

// ExtensionType classifies how an extension arrived on disk.
type ExtensionType string

const (
	// ExtensionRegistry was installed from a remote registry and carries
	// a .tracking manifest.
	ExtensionRegistry ExtensionType = "registry"
	// ExtensionSourceTree is a git checkout.
	ExtensionSourceTree ExtensionType = "source-tree"
	// ExtensionFile is a single .py file dropped into the directory.
	ExtensionFile ExtensionType = "file"
)

// Extension is one captured extension.
type Extension struct {
	Type    ExtensionType `json:"type"`
	DirName string        `json:"dirName"`
	Version string        `json:"version,omitempty"`
	Commit  string        `json:"commit,omitempty"`
	URL     string        `json:"url,omitempty"`
	Enabled bool          `json:"enabled"`
}

// Key identifies an extension across snapshots.
func (e Extension) Key() string {
	return string(e.Type) + "/" + e.DirName
}

// Payload is the captured payload identity.
type Payload struct {
	Ref     string `json:"ref,omitempty"`
	Commit  string `json:"commit,omitempty"`
	Version string `json:"version,omitempty"`
}

// Snapshot is one captured state.
type Snapshot struct {
	SchemaVersion int             `json:"schemaVersion"`
	CreatedAt     time.Time       `json:"createdAt"`
	Trigger       Trigger         `json:"trigger"`
	Label         string          `json:"label,omitempty"`
	Payload       Payload         `json:"payload"`
	Extensions    []Extension     `json:"extensions"`
	Packages      []uvenv.Package `json:"packages"`
	Fingerprint   string          `json:"fingerprint"`
}

// Auto reports whether the snapshot is an unlabelled automatic one,
// subject to pruning.
func (s *Snapshot) Auto() bool {
	if s.Label != "" {
		return false
	}
	return s.Trigger == TriggerBoot || s.Trigger == TriggerRestart
}

// ComputeFingerprint hashes the captured state (payload, extensions,
// packages) so unchanged restarts can skip a write. Creation metadata
// is excluded.
func (s *Snapshot) ComputeFingerprint() string {
	exts := append([]Extension(nil), s.Extensions...)
	sort.Slice(exts, func(i, j int) bool { return exts[i].Key() < exts[j].Key() })
	pkgs := append([]uvenv.Package(nil), s.Packages...)
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })

	canonical := struct {
		Payload    Payload         `json:"payload"`
		Extensions []Extension     `json:"extensions"`
		Packages   []uvenv.Package `json:"packages"`
	}{s.Payload, exts, pkgs}

	data, err := json.Marshal(canonical)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SameExtensionSet reports whether two snapshots carry the same
// extensions (keyed identity, version, commit and enabled state).
func (s *Snapshot) SameExtensionSet(other *Snapshot) bool {
	if len(s.Extensions) != len(other.Extensions) {
		return false
	}
	index := make(map[string]Extension, len(s.Extensions))
	for _, e := range s.Extensions {
		index[e.Key()] = e
	}
	for _, e := range other.Extensions {
		got, ok := index[e.Key()]
		if !ok || got != e {
			return false
		}
	}
	return true
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("%s snapshot of %s (%d extensions, %d packages)",
		s.Trigger, s.CreatedAt.Format(time.RFC3339), len(s.Extensions), len(s.Packages))
}
