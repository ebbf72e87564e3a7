// Package diskspace probes free space and validates candidate install
// paths against protected locations.
package diskspace

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// Space reports capacity of the volume holding a path.
type Space struct {
	FreeBytes  uint64 `json:"freeBytes"`
	TotalBytes uint64 `json:"totalBytes"`
}

// GetDiskSpace walks up from path to the nearest existing directory and
// reports that volume's free and total bytes, so a not-yet-created
// install path still validates.
func GetDiskSpace(path string) (*Space, error) {
	probe := filepath.Clean(path)
	for {
		if _, err := os.Stat(probe); err == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			return nil, fmt.Errorf("no existing ancestor for %s", path)
		}
		probe = parent
	}

	usage, err := disk.Usage(probe)
	if err != nil {
		return nil, fmt.Errorf("failed to read disk usage for %s: %w", probe, err)
	}
	return &Space{FreeBytes: usage.Free, TotalBytes: usage.Total}, nil
}

// Issue is one reason an install path is rejected.
type Issue string

const (
	IssueNotAbsolute          Issue = "not-absolute"
	IssueInsideLauncherData   Issue = "inside-launcher-data"
	IssueInsideUpdaterCache   Issue = "inside-updater-cache"
	IssueInsideCloudSync      Issue = "inside-cloud-sync"
	IssueInsideSharedDir      Issue = "inside-shared-dir"
	IssueInsideExistingInstall Issue = "inside-existing-install"
)

// cloudSyncMarkers are directory names of known sync clients anywhere on
// the path.
var cloudSyncMarkers = []string{
	"OneDrive", "Dropbox", "Google Drive", "GoogleDrive", "iCloud Drive",
	"Library/Mobile Documents",
}

// Rules describes the protected locations a candidate is checked
// against.
type Rules struct {
	// LauncherDirs are the launcher's own config/data/cache directories.
	LauncherDirs []string
	// UpdaterCacheDir holds staged self-updates.
	UpdaterCacheDir string
	// SharedDirs are the shared model/input/output directories.
	SharedDirs []string
	// InstallPaths are the directories of existing installations.
	InstallPaths []string
}

// ValidateInstallPath returns every issue with the candidate path. An
// empty slice means the path is acceptable.
func ValidateInstallPath(path string, rules Rules) []Issue {
	var issues []Issue
	if !filepath.IsAbs(path) {
		return append(issues, IssueNotAbsolute)
	}
	candidate := filepath.Clean(path)

	for _, dir := range rules.LauncherDirs {
		if dir != "" && isWithin(candidate, dir) {
			issues = append(issues, IssueInsideLauncherData)
			break
		}
	}
	if rules.UpdaterCacheDir != "" && isWithin(candidate, rules.UpdaterCacheDir) {
		issues = append(issues, IssueInsideUpdaterCache)
	}
	for _, marker := range cloudSyncMarkers {
		if pathContainsSegment(candidate, marker) {
			issues = append(issues, IssueInsideCloudSync)
			break
		}
	}
	for _, dir := range rules.SharedDirs {
		if dir != "" && isWithin(candidate, dir) {
			issues = append(issues, IssueInsideSharedDir)
			break
		}
	}
	for _, dir := range rules.InstallPaths {
		if dir != "" && isWithin(candidate, dir) {
			issues = append(issues, IssueInsideExistingInstall)
			break
		}
	}
	return issues
}

// isWithin reports whether path equals base or lives under it.
func isWithin(path, base string) bool {
	path = normalizeCase(filepath.Clean(path))
	base = normalizeCase(filepath.Clean(base))
	if path == base {
		return true
	}
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// pathContainsSegment reports whether any path component matches seg,
// which may itself span several components.
func pathContainsSegment(path, seg string) bool {
	p := normalizeCase(filepath.ToSlash(path))
	s := normalizeCase(filepath.ToSlash(seg))
	return strings.Contains("/"+p+"/", "/"+s+"/")
}

func normalizeCase(s string) string {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		return strings.ToLower(s)
	}
	return s
}
