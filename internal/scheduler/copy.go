package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	hangarErrors "github.com/hangar-sh/hangar/internal/errors"
	"github.com/hangar-sh/hangar/internal/registry"
	"github.com/hangar-sh/hangar/internal/source"
)

// CopyFixer lets a plugin rewrite absolute paths in config files after
// an installation is copied.
type CopyFixer interface {
	FixupCopy(rec *registry.Record, oldPath, newPath string) error
}

// Copy duplicates an installation's directory and registers the copy
// with inherited settings.
func (s *Scheduler) Copy(ctx context.Context, installationID string) (*registry.Record, error) {
	rec, plugin, err := s.resolve(installationID)
	if err != nil {
		return nil, err
	}
	if rec.InstallPath == "" {
		return nil, hangarErrors.ErrPathDoesNotExist
	}

	_, release, err := s.guard.begin(ctx, installationID)
	if err != nil {
		return nil, err
	}
	defer release()

	newPath, err := siblingCopyPath(rec.InstallPath)
	if err != nil {
		return nil, err
	}
	if err := copyTree(rec.InstallPath, newPath); err != nil {
		_ = os.RemoveAll(newPath)
		return nil, err
	}

	newRec := rec.Clone()
	newRec.ID = ""
	newRec.Name = s.registry.UniqueName(rec.Name + " copy")
	newRec.InstallPath = newPath
	newRec.LastLaunchedAt = nil
	newRec.Pinned = false
	newRec.Primary = false

	if fixer, ok := plugin.(CopyFixer); ok {
		if err := fixer.FixupCopy(newRec, rec.InstallPath, newPath); err != nil {
			_ = os.RemoveAll(newPath)
			return nil, err
		}
	}

	added, err := s.registry.Add(newRec)
	if err != nil {
		_ = os.RemoveAll(newPath)
		return nil, err
	}
	// The copy carries the original's marker; rewrite it so the new
	// record owns its own directory.
	if err := registry.WriteMarker(newPath, added.ID); err != nil {
		slog.Warn("failed to rewrite ownership marker on copy", "path", newPath, "error", err)
	}
	s.events.publish(Event{Kind: EventInstallationsChanged, InstallationID: added.ID})
	return added, nil
}

// CopyUpdate copies the installation, then runs the payload update on
// the copy. A failed update leaves the copy intact; the result message
// says so.
func (s *Scheduler) CopyUpdate(ctx context.Context, installationID string) (*registry.Record, error) {
	copied, err := s.Copy(ctx, installationID)
	if err != nil {
		return nil, err
	}

	if _, err := s.RunAction(ctx, copied.ID, "update-comfyui", nil); err != nil {
		return copied, fmt.Errorf("copy created as %q but update failed: %w", copied.Name, err)
	}
	return copied, nil
}

// ReleaseUpdate installs a fresh release alongside the current
// installation and migrates extensions, models, input and output into
// it. A failed migration rolls back the new record and its directory.
func (s *Scheduler) ReleaseUpdate(ctx context.Context, installationID string) error {
	rec, plugin, err := s.resolve(installationID)
	if err != nil {
		return err
	}
	if _, ok := plugin.(source.Installer); !ok {
		return hangarErrors.NoLaunchSupport(plugin.ID(), "release-update")
	}

	opCtx, release, err := s.guard.begin(ctx, installationID)
	if err != nil {
		return err
	}
	defer release()

	latest, err := s.releases.GetOrFetch(opCtx, payloadRepo, releaseTrack(rec.Track()), false)
	if err != nil {
		return err
	}

	newRec := rec.Clone()
	newRec.ID = ""
	newRec.Name = s.registry.UniqueName(fmt.Sprintf("%s %s", rec.Name, latest.TagName))
	newRec.Version = latest.TagName
	newRec.Status = registry.StatusNew
	newRec.LastLaunchedAt = nil
	newRec.Primary = false
	newPath, err := siblingCopyPath(rec.InstallPath)
	if err != nil {
		return err
	}
	newRec.InstallPath = newPath

	added, err := s.registry.Add(newRec)
	if err != nil {
		return err
	}

	rollback := func() {
		_ = os.RemoveAll(newPath)
		_ = s.registry.Remove(added.ID)
		s.events.publish(Event{Kind: EventInstallationsChanged})
	}

	if err := os.MkdirAll(newPath, 0755); err != nil {
		rollback()
		return err
	}
	if err := registry.WriteMarker(newPath, added.ID); err != nil {
		rollback()
		return err
	}
	if err := s.runInstall(opCtx, added, plugin); err != nil {
		rollback()
		return err
	}

	if err := s.migrateState(rec.InstallPath, newPath); err != nil {
		rollback()
		return fmt.Errorf("failed to migrate state into new release: %w", err)
	}

	if _, err := s.registry.Update(added.ID, func(r *registry.Record) {
		r.Status = registry.StatusInstalled
		if r.UpdateInfoByTrack == nil {
			r.UpdateInfoByTrack = map[registry.UpdateTrack]registry.TrackInfo{}
		}
		r.UpdateInfoByTrack[rec.Track()] = registry.TrackInfo{InstalledTag: latest.TagName}
	}); err != nil {
		return err
	}
	s.events.publish(Event{Kind: EventInstallationsChanged, InstallationID: added.ID})
	return nil
}

// migratedDirs are copied from the old installation into the new one on
// a release update, relative to the payload directory.
var migratedDirs = []string{"custom_nodes", "models", "input", "output"}

func (s *Scheduler) migrateState(oldPath, newPath string) error {
	for _, rel := range migratedDirs {
		src := payloadSubdir(oldPath, rel)
		if src == "" {
			continue
		}
		dst := filepath.Join(payloadRoot(newPath), rel)
		if err := mergeTree(src, dst); err != nil {
			return err
		}
	}
	return nil
}

// mergeTree copies src into dst, overwriting files the fresh install
// already ships.
func mergeTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode().Perm())
	})
}

// payloadRoot resolves the payload directory inside an install path.
func payloadRoot(installPath string) string {
	nested := filepath.Join(installPath, "ComfyUI")
	if fi, err := os.Stat(nested); err == nil && fi.IsDir() {
		return nested
	}
	return installPath
}

// payloadSubdir returns the existing payload subdirectory or "".
func payloadSubdir(installPath, rel string) string {
	dir := filepath.Join(payloadRoot(installPath), rel)
	if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
		return dir
	}
	return ""
}

// siblingCopyPath picks a non-existing sibling directory name.
func siblingCopyPath(installPath string) (string, error) {
	for i := 1; i <= 100; i++ {
		candidate := fmt.Sprintf("%s-copy", installPath)
		if i > 1 {
			candidate = fmt.Sprintf("%s-copy-%d", installPath, i)
		}
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free sibling directory next to %s", installPath)
}

// copyTree recursively copies src into dst, creating dst.
func copyTree(src, dst string) error {
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	return copyFS(dst, src)
}
