package snapshot

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hangar-sh/hangar/internal/gitrepo"
)

// DisabledDirName holds extensions that are present but not loaded.
const DisabledDirName = ".disabled"

// extensionsDirCandidates are probed in order under an install path.
var extensionsDirCandidates = []string{
	filepath.Join("ComfyUI", "custom_nodes"),
	"custom_nodes",
}

// ExtensionsDir locates the extensions directory of an installation.
// The last candidate is returned even when nothing exists yet, so
// installs have a target.
func ExtensionsDir(installPath string) string {
	for _, rel := range extensionsDirCandidates {
		dir := filepath.Join(installPath, rel)
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return dir
		}
	}
	return filepath.Join(installPath, extensionsDirCandidates[len(extensionsDirCandidates)-1])
}

// ScanExtensions enumerates the extensions under root, including the
// disabled ones parked in .disabled/. Results are sorted by key.
func ScanExtensions(root string) ([]Extension, error) {
	var exts []Extension

	enabled, err := scanLevel(root, true)
	if err != nil {
		return nil, err
	}
	exts = append(exts, enabled...)

	disabled, err := scanLevel(filepath.Join(root, DisabledDirName), false)
	if err != nil {
		return nil, err
	}
	exts = append(exts, disabled...)

	sort.Slice(exts, func(i, j int) bool { return exts[i].Key() < exts[j].Key() })
	return exts, nil
}

func scanLevel(dir string, enabled bool) ([]Extension, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var exts []Extension
	for _, de := range dirents {
		name := de.Name()
		if name == DisabledDirName || name == "__pycache__" || strings.HasPrefix(name, ".") {
			continue
		}
		if !de.IsDir() {
			if strings.HasSuffix(name, ".py") {
				exts = append(exts, Extension{Type: ExtensionFile, DirName: name, Enabled: enabled})
			}
			continue
		}
		exts = append(exts, classifyDir(filepath.Join(dir, name), name, enabled))
	}
	return exts, nil
}

// classifyDir decides how an extension directory arrived on disk. A
// tracking manifest or pyproject marks a registry install, a .git
// directory marks a checkout, anything else is treated as an untracked
// source tree.
func classifyDir(path, name string, enabled bool) Extension {
	ext := Extension{DirName: name, Enabled: enabled}

	if t, err := ReadTracking(path); err == nil {
		ext.Type = ExtensionRegistry
		ext.Version = t.Version
		ext.URL = t.URL
		return ext
	}
	if _, err := os.Stat(filepath.Join(path, "pyproject.toml")); err == nil && !gitrepo.Exists(path) {
		ext.Type = ExtensionRegistry
		return ext
	}

	ext.Type = ExtensionSourceTree
	if gitrepo.Exists(path) {
		if head, err := gitrepo.Head(path); err == nil {
			ext.Commit = head.Commit
			ext.URL = head.RemoteURL
		}
	}
	return ext
}
