// Package uvenv wraps the uv package manager for the Python
// environments embedded in installations: freezing, installing and
// uninstalling packages, and locating dist-info metadata.
package uvenv

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	hangarErrors "github.com/hangar-sh/hangar/internal/errors"
)

// Env is a located Python environment inside an installation.
type Env struct {
	// Root is the environment directory (the venv itself).
	Root string
	// Python is the interpreter path inside the environment.
	Python string
}

// envDirNames are probed in order under an install path.
var envDirNames = []string{".venv", "venv"}

// FindEnv locates the Python environment under installPath.
func FindEnv(installPath string) (*Env, error) {
	for _, name := range envDirNames {
		root := filepath.Join(installPath, name)
		python := pythonPath(root)
		if _, err := os.Stat(python); err == nil {
			return &Env{Root: root, Python: python}, nil
		}
	}
	return nil, hangarErrors.NoEnvFound(installPath)
}

func pythonPath(envRoot string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(envRoot, "Scripts", "python.exe")
	}
	return filepath.Join(envRoot, "bin", "python")
}

// Runner executes uv commands. Swapped for a fake in tests.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecRunner runs the real uv binary.
type ExecRunner struct {
	// UVBinary defaults to "uv" on PATH.
	UVBinary string
}

func (r *ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	bin := r.UVBinary
	if bin == "" {
		bin = "uv"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	out := buf.String()
	if err != nil {
		if ctx.Err() != nil {
			return out, hangarErrors.Cancelled("uv")
		}
		return out, fmt.Errorf("uv %s failed: %w\n%s", strings.Join(args, " "), err, strings.TrimSpace(out))
	}
	return out, nil
}

// Manager performs package operations against one environment.
type Manager struct {
	env    *Env
	runner Runner
}

// NewManager creates a Manager for env using the given runner (nil for
// the real uv binary).
func NewManager(env *Env, runner Runner) *Manager {
	if runner == nil {
		runner = &ExecRunner{}
	}
	return &Manager{env: env, runner: runner}
}

// Env returns the managed environment.
func (m *Manager) Env() *Env { return m.env }

func (m *Manager) pipArgs(args ...string) []string {
	return append([]string{"pip"}, append(args, "--python", m.env.Python)...)
}

// Package is one installed distribution.
type Package struct {
	// Name as reported by freeze.
	Name string `json:"name"`
	// Version is the exact installed version.
	Version string `json:"version"`
}

// Spec renders the package as a pinned requirement.
func (p Package) Spec() string {
	return p.Name + "==" + p.Version
}

// Freeze lists installed packages with pinned versions. Editable
// installs and direct references have no usable version pin and are
// skipped.
func (m *Manager) Freeze(ctx context.Context) ([]Package, error) {
	out, err := m.runner.Run(ctx, m.env.Root, m.pipArgs("freeze")...)
	if err != nil {
		return nil, err
	}

	var pkgs []Package
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "-e ") || strings.Contains(line, " @ ") {
			slog.Debug("skipping non-standard requirement", "line", line)
			continue
		}
		name, version, ok := strings.Cut(line, "==")
		if !ok {
			continue
		}
		pkgs = append(pkgs, Package{Name: strings.TrimSpace(name), Version: strings.TrimSpace(version)})
	}
	return pkgs, nil
}

// Install installs all specs in one uv invocation.
func (m *Manager) Install(ctx context.Context, specs []string) error {
	if len(specs) == 0 {
		return nil
	}
	_, err := m.runner.Run(ctx, m.env.Root, m.pipArgs(append([]string{"install"}, specs...)...)...)
	return err
}

// InstallNoDeps installs a single spec without resolving dependencies,
// used as the per-package fallback after a failed bulk install so the
// already-working part of the environment is not disturbed.
func (m *Manager) InstallNoDeps(ctx context.Context, spec string) error {
	_, err := m.runner.Run(ctx, m.env.Root, m.pipArgs("install", "--no-deps", spec)...)
	return err
}

// Uninstall removes all named packages in one invocation.
func (m *Manager) Uninstall(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	_, err := m.runner.Run(ctx, m.env.Root, m.pipArgs(append([]string{"uninstall"}, names...)...)...)
	return err
}

// UninstallOne removes a single package.
func (m *Manager) UninstallOne(ctx context.Context, name string) error {
	_, err := m.runner.Run(ctx, m.env.Root, m.pipArgs("uninstall", name)...)
	return err
}

var normalizeRe = regexp.MustCompile(`[-_.]+`)

// NormalizeName applies PEP 503 normalization: lowercase with runs of
// '-', '_' and '.' collapsed to a single '-'.
func NormalizeName(name string) string {
	return normalizeRe.ReplaceAllString(strings.ToLower(name), "-")
}

// SitePackages returns the environment's site-packages directory.
func (m *Manager) SitePackages() (string, error) {
	if runtime.GOOS == "windows" {
		dir := filepath.Join(m.env.Root, "Lib", "site-packages")
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
		return "", fmt.Errorf("site-packages not found under %s", m.env.Root)
	}

	lib := filepath.Join(m.env.Root, "lib")
	dirents, err := os.ReadDir(lib)
	if err != nil {
		return "", fmt.Errorf("site-packages not found under %s: %w", m.env.Root, err)
	}
	for _, de := range dirents {
		if de.IsDir() && strings.HasPrefix(de.Name(), "python") {
			dir := filepath.Join(lib, de.Name(), "site-packages")
			if _, err := os.Stat(dir); err == nil {
				return dir, nil
			}
		}
	}
	return "", fmt.Errorf("site-packages not found under %s", m.env.Root)
}

// DistInfoDir locates the dist-info directory for a package, matching
// the directory prefix with PEP 503 normalization.
func (m *Manager) DistInfoDir(name string) (string, error) {
	site, err := m.SitePackages()
	if err != nil {
		return "", err
	}

	want := NormalizeName(name)
	dirents, err := os.ReadDir(site)
	if err != nil {
		return "", fmt.Errorf("failed to list site-packages: %w", err)
	}
	for _, de := range dirents {
		if !de.IsDir() || !strings.HasSuffix(de.Name(), ".dist-info") {
			continue
		}
		// <name>-<version>.dist-info
		base := strings.TrimSuffix(de.Name(), ".dist-info")
		idx := strings.LastIndex(base, "-")
		if idx <= 0 {
			continue
		}
		if NormalizeName(base[:idx]) == want {
			return filepath.Join(site, de.Name()), nil
		}
	}
	return "", fmt.Errorf("dist-info for %q not found", name)
}

// RecordTopLevel reads a dist-info RECORD file and returns the distinct
// top-level entries (files or directories directly under site-packages)
// it references.
func RecordTopLevel(distInfoDir string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(distInfoDir, "RECORD"))
	if err != nil {
		return nil, fmt.Errorf("failed to read RECORD: %w", err)
	}

	seen := map[string]bool{}
	var tops []string
	for _, line := range strings.Split(string(data), "\n") {
		path, _, _ := strings.Cut(line, ",")
		path = strings.TrimSpace(path)
		if path == "" || strings.HasPrefix(path, "..") {
			continue
		}
		top, _, _ := strings.Cut(filepath.ToSlash(path), "/")
		if top == "" || seen[top] {
			continue
		}
		seen[top] = true
		tops = append(tops, top)
	}
	return tops, nil
}
