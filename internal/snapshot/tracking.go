package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// TrackingFileName is the manifest a registry install leaves behind. It
// records where the extension came from and every file it placed, so a
// later switch can garbage-collect what the new version no longer ships.
const TrackingFileName = ".tracking"

// Tracking is the registry install manifest.
type Tracking struct {
	ID      string   `json:"id"`
	Version string   `json:"version"`
	URL     string   `json:"url,omitempty"`
	Files   []string `json:"files"`
}

// ReadTracking loads the manifest from an extension directory.
func ReadTracking(dir string) (*Tracking, error) {
	data, err := os.ReadFile(filepath.Join(dir, TrackingFileName))
	if err != nil {
		return nil, err
	}
	var t Tracking
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode tracking manifest in %s: %w", dir, err)
	}
	return &t, nil
}

// WriteTracking persists the manifest into an extension directory.
func WriteTracking(dir string, t *Tracking) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tracking manifest: %w", err)
	}
	path := filepath.Join(dir, TrackingFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write tracking manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write tracking manifest: %w", err)
	}
	return nil
}
