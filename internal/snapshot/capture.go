package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"regexp"

	"github.com/hangar-sh/hangar/internal/gitrepo"
	"github.com/hangar-sh/hangar/internal/uvenv"
)

// PackageFreezer enumerates the installed packages of an environment.
// *uvenv.Manager satisfies it; capture of an installation without a
// managed environment passes nil.
type PackageFreezer interface {
	Freeze(ctx context.Context) ([]uvenv.Package, error)
}

var pyprojectVersionRe = regexp.MustCompile(`(?m)^version\s*=\s*"([^"]+)"`)

// payloadDir is where the payload manifest and checkout live.
func payloadDir(installPath string) string {
	nested := filepath.Join(installPath, "ComfyUI")
	if fi, err := os.Stat(nested); err == nil && fi.IsDir() {
		return nested
	}
	return installPath
}

// ReadPayload captures the payload identity: checkout ref and commit
// when the payload is a git tree, version from its pyproject manifest.
func ReadPayload(installPath string) Payload {
	dir := payloadDir(installPath)
	var p Payload

	if gitrepo.Exists(dir) {
		if head, err := gitrepo.Head(dir); err == nil {
			p.Ref = head.Branch
			p.Commit = head.Commit
		}
	}
	if data, err := os.ReadFile(filepath.Join(dir, "pyproject.toml")); err == nil {
		if m := pyprojectVersionRe.FindSubmatch(data); m != nil {
			p.Version = string(m[1])
		}
	}
	return p
}

// Capture assembles the current state of an installation: payload
// identity, extension scan and package freeze. The trigger and label
// are the caller's to set before saving.
func Capture(ctx context.Context, installPath string, freezer PackageFreezer) (*Snapshot, error) {
	exts, err := ScanExtensions(ExtensionsDir(installPath))
	if err != nil {
		return nil, err
	}

	var pkgs []uvenv.Package
	if freezer != nil {
		pkgs, err = freezer.Freeze(ctx)
		if err != nil {
			return nil, err
		}
	}

	snap := &Snapshot{
		SchemaVersion: SchemaVersion,
		Payload:       ReadPayload(installPath),
		Extensions:    exts,
		Packages:      pkgs,
	}
	snap.Fingerprint = snap.ComputeFingerprint()
	return snap, nil
}
