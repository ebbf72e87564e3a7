// Package registry persists the ordered list of installation records.
package registry

import (
	"time"

	"github.com/hangar-sh/hangar/internal/errors"
)

// SchemaVersion is the current registry file format version.
const SchemaVersion = 1

// Status is the lifecycle status of an installation.
type Status string

const (
	StatusNew           Status = "new"
	StatusInstalling    Status = "installing"
	StatusInstalled     Status = "installed"
	StatusFailed        Status = "failed"
	StatusPartialDelete Status = "partial-delete"
)

// LaunchMode selects how a session is presented.
type LaunchMode string

const (
	LaunchModeWindow  LaunchMode = "window"
	LaunchModeConsole LaunchMode = "console"
)

// BrowserPartition selects cookie/storage isolation for window sessions.
type BrowserPartition string

const (
	PartitionShared BrowserPartition = "shared"
	PartitionUnique BrowserPartition = "unique"
)

// PortConflictPolicy selects behavior when the launch port is occupied.
type PortConflictPolicy string

const (
	PortConflictAsk  PortConflictPolicy = "ask"
	PortConflictAuto PortConflictPolicy = "auto"
)

// UpdateTrack is a named channel for upstream releases.
type UpdateTrack string

const (
	TrackStable UpdateTrack = "stable"
	TrackLatest UpdateTrack = "latest"
)

// TrackInfo records the last release applied from a track.
type TrackInfo struct {
	InstalledTag string `json:"installedTag"`
}

// Record is a persistent installation record.
type Record struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	SourceID    string `json:"sourceId"`
	InstallPath string `json:"installPath,omitempty"`
	Status      Status `json:"status"`

	CreatedAt      time.Time  `json:"createdAt"`
	LastLaunchedAt *time.Time `json:"lastLaunchedAt,omitempty"`

	// Variant-specific fields.
	Version           string                    `json:"version,omitempty"`
	DownloadURL       string                    `json:"downloadUrl,omitempty"`
	Branch            string                    `json:"branch,omitempty"`
	Commit            string                    `json:"commit,omitempty"`
	RemoteURL         string                    `json:"remoteUrl,omitempty"`
	LaunchArgs        string                    `json:"launchArgs,omitempty"`
	LaunchMode        LaunchMode                `json:"launchMode,omitempty"`
	BrowserPartition  BrowserPartition          `json:"browserPartition,omitempty"`
	PortConflict      PortConflictPolicy        `json:"portConflict,omitempty"`
	UseSharedPaths    *bool                     `json:"useSharedPaths,omitempty"`
	UpdateTrack       UpdateTrack               `json:"updateTrack,omitempty"`
	UpdateInfoByTrack map[UpdateTrack]TrackInfo `json:"updateInfoByTrack,omitempty"`
	ActiveEnv         string                    `json:"activeEnv,omitempty"`
	Seen              bool                      `json:"seen,omitempty"`
	Pinned            bool                      `json:"pinned,omitempty"`
	Primary           bool                      `json:"primary,omitempty"`
}

// SharedPathsEnabled reports whether shared model/input/output directories
// should be injected into launches. Defaults to true when unset.
func (r *Record) SharedPathsEnabled() bool {
	return r.UseSharedPaths == nil || *r.UseSharedPaths
}

// Track returns the record's update track, defaulting to stable.
func (r *Record) Track() UpdateTrack {
	if r.UpdateTrack == "" {
		return TrackStable
	}
	return r.UpdateTrack
}

// Validate checks the enumerated fields. Unknown values fail fast rather
// than defaulting silently.
func (r *Record) Validate() error {
	switch r.Status {
	case StatusNew, StatusInstalling, StatusInstalled, StatusFailed, StatusPartialDelete:
	default:
		return errors.InvalidConfig("status", string(r.Status))
	}
	switch r.LaunchMode {
	case "", LaunchModeWindow, LaunchModeConsole:
	default:
		return errors.InvalidConfig("launchMode", string(r.LaunchMode))
	}
	switch r.BrowserPartition {
	case "", PartitionShared, PartitionUnique:
	default:
		return errors.InvalidConfig("browserPartition", string(r.BrowserPartition))
	}
	switch r.PortConflict {
	case "", PortConflictAsk, PortConflictAuto:
	default:
		return errors.InvalidConfig("portConflict", string(r.PortConflict))
	}
	switch r.UpdateTrack {
	case "", TrackStable, TrackLatest:
	default:
		return errors.InvalidConfig("updateTrack", string(r.UpdateTrack))
	}
	return nil
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	if r.LastLaunchedAt != nil {
		t := *r.LastLaunchedAt
		c.LastLaunchedAt = &t
	}
	if r.UseSharedPaths != nil {
		b := *r.UseSharedPaths
		c.UseSharedPaths = &b
	}
	if r.UpdateInfoByTrack != nil {
		c.UpdateInfoByTrack = make(map[UpdateTrack]TrackInfo, len(r.UpdateInfoByTrack))
		for k, v := range r.UpdateInfoByTrack {
			c.UpdateInfoByTrack[k] = v
		}
	}
	return &c
}

// Document is the on-disk registry file.
type Document struct {
	SchemaVersion int       `json:"schemaVersion"`
	Entries       []*Record `json:"entries"`
}
