package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hangar-sh/hangar/internal/gitrepo"
)

// RegistryInstaller fetches a registry extension (metadata lookup,
// download, extract) into destDir and returns the relative paths of the
// files it placed.
type RegistryInstaller interface {
	Install(ctx context.Context, ext Extension, destDir string) ([]string, error)
}

// GitOps is the slice of git operations an extension restore needs.
type GitOps interface {
	CloneAtCommit(ctx context.Context, url, destPath, commit string) error
	Checkout(repoPath, rev string) error
}

type execGit struct{}

func (execGit) CloneAtCommit(ctx context.Context, url, destPath, commit string) error {
	return gitrepo.CloneAtCommit(ctx, url, destPath, commit)
}

func (execGit) Checkout(repoPath, rev string) error {
	return gitrepo.Checkout(repoPath, rev)
}

// ExtensionTools collects the collaborators of an extension restore.
type ExtensionTools struct {
	Registry RegistryInstaller
	// Git defaults to the real git operations.
	Git GitOps
	// Env, when set, installs each extension's filtered requirements
	// after an install or switch.
	Env EnvManager
	// RunHook, when set, is invoked with an extension directory whose
	// install hook script should run.
	RunHook func(ctx context.Context, dir string) error
}

func (t *ExtensionTools) git() GitOps {
	if t.Git != nil {
		return t.Git
	}
	return execGit{}
}

// ExtensionResult summarizes an extension restore.
type ExtensionResult struct {
	Installed []string `json:"installed"`
	Switched  []string `json:"switched"`
	Moved     []string `json:"moved"`
	Removed   []string `json:"removed"`
	Failed    []string `json:"failed"`
	Errors    []string `json:"errors"`
}

func (r *ExtensionResult) fail(key string, err error) {
	r.Failed = append(r.Failed, key)
	r.Errors = append(r.Errors, err.Error())
}

// extensionPath places an extension under the root or its .disabled/
// parking directory.
func extensionPath(root string, ext Extension) string {
	if ext.Enabled {
		return filepath.Join(root, ext.DirName)
	}
	return filepath.Join(root, DisabledDirName, ext.DirName)
}

// RestoreExtensions brings the extensions under root to the snapshot
// target. Failures are collected per extension; the rest of the restore
// continues.
func RestoreExtensions(ctx context.Context, root string, target []Extension, tools *ExtensionTools) (*ExtensionResult, error) {
	current, err := ScanExtensions(root)
	if err != nil {
		return nil, err
	}
	curByKey := make(map[string]Extension, len(current))
	for _, e := range current {
		curByKey[e.Key()] = e
	}

	result := &ExtensionResult{}
	for _, want := range target {
		key := want.Key()
		cur, present := curByKey[key]

		if !present {
			if err := installExtension(ctx, root, want, tools); err != nil {
				result.fail(key, err)
				continue
			}
			result.Installed = append(result.Installed, key)
			if err := postInstallExtension(ctx, extensionPath(root, want), tools); err != nil {
				result.fail(key, err)
			}
			continue
		}

		if cur.Enabled != want.Enabled {
			if err := moveExtension(root, cur, want.Enabled); err != nil {
				result.fail(key, err)
				continue
			}
			cur.Enabled = want.Enabled
			result.Moved = append(result.Moved, key)
		}

		if cur.Version != want.Version || cur.Commit != want.Commit {
			if err := switchExtension(ctx, root, want, tools); err != nil {
				result.fail(key, err)
				continue
			}
			result.Switched = append(result.Switched, key)
			if err := postInstallExtension(ctx, extensionPath(root, want), tools); err != nil {
				result.fail(key, err)
			}
		}
	}

	wanted := make(map[string]bool, len(target))
	for _, e := range target {
		wanted[e.Key()] = true
	}
	for _, cur := range current {
		if wanted[cur.Key()] {
			continue
		}
		if err := os.RemoveAll(extensionPath(root, cur)); err != nil {
			result.fail(cur.Key(), err)
			continue
		}
		result.Removed = append(result.Removed, cur.Key())
	}
	return result, nil
}

func installExtension(ctx context.Context, root string, ext Extension, tools *ExtensionTools) error {
	dest := extensionPath(root, ext)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	switch ext.Type {
	case ExtensionRegistry:
		if tools.Registry == nil {
			return fmt.Errorf("no registry client available to install %s", ext.DirName)
		}
		files, err := tools.Registry.Install(ctx, ext, dest)
		if err != nil {
			_ = os.RemoveAll(dest)
			return err
		}
		return WriteTracking(dest, &Tracking{
			ID:      ext.DirName,
			Version: ext.Version,
			URL:     ext.URL,
			Files:   files,
		})
	case ExtensionSourceTree:
		if ext.URL == "" {
			return fmt.Errorf("extension %s has no source URL recorded", ext.DirName)
		}
		return tools.git().CloneAtCommit(ctx, ext.URL, dest, ext.Commit)
	default:
		return fmt.Errorf("extension file %s cannot be reinstalled", ext.DirName)
	}
}

// switchExtension replaces an installed extension with the target
// version. Registry switches re-download under a temp path and
// garbage-collect files the new version no longer ships.
func switchExtension(ctx context.Context, root string, ext Extension, tools *ExtensionTools) error {
	dest := extensionPath(root, ext)

	if ext.Type == ExtensionSourceTree {
		return tools.git().Checkout(dest, ext.Commit)
	}

	if tools.Registry == nil {
		return fmt.Errorf("no registry client available to switch %s", ext.DirName)
	}
	tmp := filepath.Join(root, ".switch-"+ext.DirName)
	if err := os.RemoveAll(tmp); err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	files, err := tools.Registry.Install(ctx, ext, tmp)
	if err != nil {
		return err
	}

	var oldFiles []string
	if t, err := ReadTracking(dest); err == nil {
		oldFiles = t.Files
	}

	if err := copyFS(dest, tmp); err != nil {
		// CopyFS refuses to overwrite; replace conflicting files first.
		for _, rel := range files {
			if err := os.RemoveAll(filepath.Join(dest, rel)); err != nil {
				return err
			}
		}
		if err := copyFS(dest, tmp); err != nil {
			return err
		}
	}

	newSet := make(map[string]bool, len(files))
	for _, rel := range files {
		newSet[filepath.ToSlash(rel)] = true
	}
	for _, rel := range oldFiles {
		if newSet[filepath.ToSlash(rel)] {
			continue
		}
		if err := os.Remove(filepath.Join(dest, rel)); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to garbage-collect extension file", "file", rel, "error", err)
		}
	}

	return WriteTracking(dest, &Tracking{
		ID:      ext.DirName,
		Version: ext.Version,
		URL:     ext.URL,
		Files:   files,
	})
}

func moveExtension(root string, ext Extension, enable bool) error {
	from := extensionPath(root, ext)
	moved := ext
	moved.Enabled = enable
	to := extensionPath(root, moved)
	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return err
	}
	return os.Rename(from, to)
}

// postInstallExtension installs the extension's declared requirements,
// filtered so the payload's own pinned stack is never touched, then
// runs its install hook.
func postInstallExtension(ctx context.Context, dir string, tools *ExtensionTools) error {
	if tools.Env != nil {
		specs, err := filteredRequirements(filepath.Join(dir, "requirements.txt"))
		if err != nil {
			return err
		}
		if len(specs) > 0 {
			if err := tools.Env.Install(ctx, specs); err != nil {
				return err
			}
		}
	}

	if tools.RunHook != nil {
		if _, err := os.Stat(filepath.Join(dir, "install.py")); err == nil {
			return tools.RunHook(ctx, dir)
		}
	}
	return nil
}

// filteredRequirements reads a requirements file and drops comments,
// options and protected packages.
func filteredRequirements(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var specs []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		name := line
		for _, sep := range []string{"==", ">=", "<=", "~=", ">", "<", "[", ";", " "} {
			if idx := strings.Index(name, sep); idx != -1 {
				name = name[:idx]
			}
		}
		if IsProtected(name) {
			slog.Debug("skipping protected requirement", "name", name)
			continue
		}
		specs = append(specs, line)
	}
	return specs, nil
}
