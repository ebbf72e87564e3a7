package scheduler

import (
	"context"
	stderrors "errors"
	"os"

	hangarErrors "github.com/hangar-sh/hangar/internal/errors"
	"github.com/hangar-sh/hangar/internal/deleter"
	"github.com/hangar-sh/hangar/internal/progress"
	"github.com/hangar-sh/hangar/internal/registry"
	"github.com/hangar-sh/hangar/internal/source"
)

// Delete removes an installation's files and its registry entry. The
// ownership marker must authorize the deletion; an interrupted delete
// leaves the record in partial-delete for a retry.
func (s *Scheduler) Delete(ctx context.Context, installationID string) error {
	if _, running := s.sessions.get(installationID); running {
		return hangarErrors.ErrAlreadyRunning
	}

	rec, plugin, err := s.resolve(installationID)
	if err != nil {
		return err
	}

	opCtx, release, err := s.guard.begin(ctx, installationID)
	if err != nil {
		return err
	}
	defer release()

	// Remote installs have no files; removing the record is the whole
	// operation.
	if plugin.Category() == source.CategoryRemote || rec.InstallPath == "" {
		if err := s.registry.Remove(installationID); err != nil {
			return err
		}
		s.events.publish(Event{Kind: EventInstallationsChanged, InstallationID: installationID})
		return nil
	}

	// A cancelled delete may have already removed the marker; the
	// partial-delete status keeps the retry authorized.
	ok, err := registry.MarkerMatches(rec.InstallPath, rec.ID)
	if err != nil {
		return err
	}
	if !ok && rec.Status != registry.StatusPartialDelete {
		return hangarErrors.SafetyCheckFailed(rec.InstallPath)
	}

	if s.logs != nil {
		s.logs.RecordStart(installationID, rec.Name, "delete")
	}

	err = deleter.Delete(opCtx, rec.InstallPath, func(p deleter.Progress) {
		s.sendProgress(installationID, progress.PhaseDelete, p.Percent)
	})
	if err != nil {
		if stderrors.Is(err, hangarErrors.ErrCancelled) {
			_, _ = s.registry.Update(installationID, func(r *registry.Record) {
				r.Status = registry.StatusPartialDelete
			})
			// Re-own what is left so the retry passes the safety check.
			if _, statErr := os.Stat(rec.InstallPath); statErr == nil {
				if ok, _ := registry.MarkerMatches(rec.InstallPath, rec.ID); !ok {
					_ = registry.WriteMarker(rec.InstallPath, rec.ID)
				}
			}
		}
		if s.logs != nil {
			s.logs.RecordError(installationID, err)
		}
		s.events.publish(Event{Kind: EventInstallationsChanged, InstallationID: installationID})
		return err
	}

	if err := s.registry.Remove(installationID); err != nil {
		return err
	}
	if s.logs != nil {
		s.logs.RecordComplete(installationID)
	}
	s.events.publish(Event{Kind: EventInstallationsChanged, InstallationID: installationID})
	return nil
}
