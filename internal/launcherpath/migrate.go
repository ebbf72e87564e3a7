package launcherpath

import (
	"log/slog"
	"os"
	"path/filepath"
)

// legacyDirName is the pre-1.0 flat layout under the home directory.
const legacyDirName = ".hangar"

// MigrateLegacyLayout moves files from the old flat ~/.hangar layout into the
// split config/data directories. It runs once: if the new registry file
// already exists, or no legacy directory is present, it does nothing.
func (p *Paths) MigrateLegacyLayout() error {
	if _, err := os.Stat(p.RegistryFile()); err == nil {
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	legacyDir := filepath.Join(home, legacyDirName)
	if _, err := os.Stat(legacyDir); err != nil {
		return nil
	}

	slog.Info("migrating legacy layout", "from", legacyDir)

	moves := []struct {
		name string
		dest string
	}{
		{"settings.json", p.configDir},
		{"installations.json", p.dataDir},
		{"release-cache.json", p.dataDir},
	}

	for _, m := range moves {
		src := filepath.Join(legacyDir, m.name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := EnsureDir(m.dest); err != nil {
			return err
		}
		dst := filepath.Join(m.dest, m.name)
		if _, err := os.Stat(dst); err == nil {
			continue // never clobber the new layout
		}
		if err := os.Rename(src, dst); err != nil {
			return err
		}
		slog.Debug("migrated legacy file", "file", m.name, "dest", dst)
	}

	return nil
}
