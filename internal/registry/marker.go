package registry

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// MarkerFileName is the ownership marker written into every install path.
	MarkerFileName = ".LAUNCHER_MARKER"

	// MarkerTracked marks a pre-existing directory adopted without installation.
	MarkerTracked = "tracked"
)

// MarkerPath returns the marker file path for an install directory.
func MarkerPath(installPath string) string {
	return filepath.Join(installPath, MarkerFileName)
}

// WriteMarker writes the ownership marker for an installation.
func WriteMarker(installPath, content string) error {
	return os.WriteFile(MarkerPath(installPath), []byte(content), 0644)
}

// ReadMarker reads the marker content, trimmed. Returns "" if absent.
func ReadMarker(installPath string) (string, error) {
	data, err := os.ReadFile(MarkerPath(installPath))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// MarkerMatches reports whether the marker at installPath authorizes
// destructive operations for the given installation id. The marker must
// exist and contain either the id or the literal "tracked".
func MarkerMatches(installPath, id string) (bool, error) {
	content, err := ReadMarker(installPath)
	if err != nil {
		return false, err
	}
	return content == id || content == MarkerTracked, nil
}
