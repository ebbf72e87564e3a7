package scheduler

import (
	"context"

	hangarErrors "github.com/hangar-sh/hangar/internal/errors"
	"github.com/hangar-sh/hangar/internal/progress"
	"github.com/hangar-sh/hangar/internal/snapshot"
	"github.com/hangar-sh/hangar/internal/uvenv"
)

// CaptureSnapshot captures and persists the current state of an
// installation. Boot and restart triggers apply their write-skipping
// and dedup rules; the store prunes old automatic snapshots afterwards.
func (s *Scheduler) CaptureSnapshot(ctx context.Context, installationID string, trigger snapshot.Trigger, label string) (string, error) {
	rec, _, err := s.resolve(installationID)
	if err != nil {
		return "", err
	}
	if rec.InstallPath == "" {
		return "", hangarErrors.ErrPathDoesNotExist
	}

	var freezer snapshot.PackageFreezer
	if env, err := uvenv.FindEnv(rec.InstallPath); err == nil {
		freezer = uvenv.NewManager(env, nil)
	}

	snap, err := snapshot.Capture(ctx, rec.InstallPath, freezer)
	if err != nil {
		return "", err
	}
	snap.Trigger = trigger
	snap.Label = label

	store := snapshot.NewStore(rec.InstallPath)
	var name string
	switch trigger {
	case snapshot.TriggerBoot:
		name, _, err = store.SaveBoot(snap)
	case snapshot.TriggerRestart:
		name, err = store.SaveRestart(snap)
	default:
		name, err = store.Save(snap)
	}
	if err != nil {
		return "", err
	}
	if perr := store.Prune(); perr != nil {
		return name, perr
	}
	return name, nil
}

// ListSnapshots lists an installation's snapshots, oldest first.
func (s *Scheduler) ListSnapshots(installationID string) ([]snapshot.Entry, error) {
	rec, _, err := s.resolve(installationID)
	if err != nil {
		return nil, err
	}
	return snapshot.NewStore(rec.InstallPath).List()
}

// DeleteSnapshot removes one snapshot by file name.
func (s *Scheduler) DeleteSnapshot(installationID, name string) error {
	rec, _, err := s.resolve(installationID)
	if err != nil {
		return err
	}
	return snapshot.NewStore(rec.InstallPath).Delete(name)
}

// RestoreResult pairs the package and extension outcomes of a restore.
type RestoreResult struct {
	Packages   *snapshot.PackageResult   `json:"packages,omitempty"`
	Extensions *snapshot.ExtensionResult `json:"extensions,omitempty"`
}

// RestoreSnapshot brings an installation back to a saved snapshot. The
// installation must not be running; the restore holds the operation
// guard for its whole duration.
func (s *Scheduler) RestoreSnapshot(ctx context.Context, installationID, name string) (*RestoreResult, error) {
	if _, running := s.sessions.get(installationID); running {
		return nil, hangarErrors.ErrAlreadyRunning
	}

	rec, _, err := s.resolve(installationID)
	if err != nil {
		return nil, err
	}

	opCtx, release, err := s.guard.begin(ctx, installationID)
	if err != nil {
		return nil, err
	}
	defer release()

	store := snapshot.NewStore(rec.InstallPath)
	snap, err := store.Load(name)
	if err != nil {
		return nil, err
	}

	if s.logs != nil {
		s.logs.RecordStart(installationID, rec.Name, "restore")
	}
	s.sendProgress(installationID, progress.PhaseRestore, 0)

	result := &RestoreResult{}

	var mgr *uvenv.Manager
	if env, err := uvenv.FindEnv(rec.InstallPath); err == nil {
		mgr = uvenv.NewManager(env, nil)
	}

	tools := &snapshot.ExtensionTools{Registry: &snapshot.RegistryClient{}}
	if mgr != nil {
		tools.Env = mgr
	}
	result.Extensions, err = snapshot.RestoreExtensions(opCtx, snapshot.ExtensionsDir(rec.InstallPath), snap.Extensions, tools)
	if err != nil {
		if s.logs != nil {
			s.logs.RecordError(installationID, err)
		}
		return result, err
	}
	s.sendProgress(installationID, progress.PhaseRestore, 50)

	if mgr != nil && len(snap.Packages) > 0 {
		result.Packages, err = snapshot.RestorePackages(opCtx, mgr, snap.Packages)
		if err != nil {
			if s.logs != nil {
				s.logs.RecordError(installationID, err)
			}
			return result, err
		}
	}

	s.sendProgress(installationID, progress.PhaseRestore, 100)
	if s.logs != nil {
		s.logs.RecordComplete(installationID)
	}
	return result, nil
}
