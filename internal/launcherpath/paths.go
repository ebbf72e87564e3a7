// Package launcherpath resolves the per-OS directories hangar stores its
// files in. On POSIX systems the XDG base-directory environment variables
// are honored; on Windows and macOS the platform app-data roots are used.
package launcherpath

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/OpenPeeDeeP/xdg"
)

const (
	vendorName = "hangar-sh"
	appName    = "hangar"
)

// Paths holds the resolved directories for hangar.
type Paths struct {
	configDir         string
	cacheDir          string
	dataDir           string
	stateDir          string
	defaultInstallDir string
}

// Option is a functional option for configuring Paths.
type Option func(*Paths)

// WithConfigDir sets a custom config directory.
func WithConfigDir(dir string) Option {
	return func(p *Paths) { p.configDir = dir }
}

// WithDataDir sets a custom data directory.
func WithDataDir(dir string) Option {
	return func(p *Paths) { p.dataDir = dir }
}

// WithCacheDir sets a custom cache directory.
func WithCacheDir(dir string) Option {
	return func(p *Paths) { p.cacheDir = dir }
}

// WithStateDir sets a custom state directory.
func WithStateDir(dir string) Option {
	return func(p *Paths) { p.stateDir = dir }
}

// New creates a new Paths with optional custom configuration.
func New(opts ...Option) (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	x := xdg.New(vendorName, appName)

	p := &Paths{
		configDir:         x.ConfigHome(),
		cacheDir:          x.CacheHome(),
		dataDir:           x.DataHome(),
		stateDir:          stateHome(home),
		defaultInstallDir: filepath.Join(home, "hangar"),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// stateHome returns the state directory.
// The xdg library predates XDG_STATE_HOME, so POSIX resolves it here;
// Windows and macOS fold state into the data root.
func stateHome(home string) string {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		return filepath.Join(xdg.New(vendorName, appName).DataHome(), "state")
	}
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	return filepath.Join(home, ".local", "state", appName)
}

// ConfigDir returns the configuration directory.
func (p *Paths) ConfigDir() string { return p.configDir }

// CacheDir returns the cache directory.
func (p *Paths) CacheDir() string { return p.cacheDir }

// DataDir returns the data directory.
func (p *Paths) DataDir() string { return p.dataDir }

// StateDir returns the state directory.
func (p *Paths) StateDir() string { return p.stateDir }

// DefaultInstallDir returns the suggested parent directory for new installations.
func (p *Paths) DefaultInstallDir() string { return p.defaultInstallDir }

// SettingsFile returns the path to the user settings file.
// Returns <configDir>/settings.json
func (p *Paths) SettingsFile() string {
	return filepath.Join(p.configDir, "settings.json")
}

// RegistryFile returns the path to the installation registry file.
// Returns <dataDir>/installations.json
func (p *Paths) RegistryFile() string {
	return filepath.Join(p.dataDir, "installations.json")
}

// ReleaseCacheFile returns the path to the release metadata cache.
// Returns <dataDir>/release-cache.json
func (p *Paths) ReleaseCacheFile() string {
	return filepath.Join(p.dataDir, "release-cache.json")
}

// ModelPathsFile returns the path of the derived model-paths YAML.
// Returns <dataDir>/extra_model_paths.yaml
func (p *Paths) ModelPathsFile() string {
	return filepath.Join(p.dataDir, "extra_model_paths.yaml")
}

// PortLockDir returns the directory holding port lock files.
// Returns <stateDir>/port-locks
func (p *Paths) PortLockDir() string {
	return filepath.Join(p.stateDir, "port-locks")
}

// SessionTempDir returns the per-session temp directory for an installation.
func (p *Paths) SessionTempDir(installationID string) string {
	return filepath.Join(p.stateDir, "sessions", installationID)
}

// LogDir returns the directory for operation output logs.
func (p *Paths) LogDir() string {
	return filepath.Join(p.stateDir, "logs")
}

// DownloadCacheDir returns the directory for the bounded download cache.
func (p *Paths) DownloadCacheDir() string {
	return filepath.Join(p.cacheDir, "downloads")
}

// UpdaterCacheDir returns the cache directory of the launcher's own updater.
// Install paths inside it are rejected by validation.
func (p *Paths) UpdaterCacheDir() string {
	return filepath.Join(p.cacheDir, "updater")
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// Expand expands ~ to the home directory.
func Expand(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}

	if path == "~" {
		return os.UserHomeDir()
	}

	return path, nil
}
