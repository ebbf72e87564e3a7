package scheduler

import (
	"context"
	"os"
	"path/filepath"

	stderrors "errors"

	hangarErrors "github.com/hangar-sh/hangar/internal/errors"
	"github.com/hangar-sh/hangar/internal/progress"
	"github.com/hangar-sh/hangar/internal/registry"
	"github.com/hangar-sh/hangar/internal/source"
)

// AddInstallation builds a record from plugin field selections and
// registers it. Local plugins leave the record in status "new" until
// Install materializes it.
func (s *Scheduler) AddInstallation(sourceID string, selections map[string]string) (*registry.Record, error) {
	plugin, err := s.catalog.Get(sourceID)
	if err != nil {
		return nil, err
	}

	merged := map[string]string{}
	for k, v := range source.Defaults(plugin) {
		merged[k] = v
	}
	for k, v := range selections {
		if v != "" {
			merged[k] = v
		}
	}

	rec, err := plugin.BuildInstallation(merged)
	if err != nil {
		return nil, err
	}
	if rec.Name == "" {
		rec.Name = s.registry.UniqueName(plugin.Label())
	}

	added, err := s.registry.Add(rec)
	if err != nil {
		return nil, err
	}
	s.events.publish(Event{Kind: EventInstallationsChanged, InstallationID: added.ID})
	return added, nil
}

// Install materializes a "new" installation on disk, driving the status
// machine: installing, then installed / failed / partial-delete.
func (s *Scheduler) Install(ctx context.Context, installationID string) error {
	rec, plugin, err := s.resolve(installationID)
	if err != nil {
		return err
	}

	opCtx, release, err := s.guard.begin(ctx, installationID)
	if err != nil {
		return err
	}
	defer release()

	if s.logs != nil {
		s.logs.RecordStart(installationID, rec.Name, "install")
	}

	if _, err = s.registry.Update(installationID, func(r *registry.Record) {
		r.Status = registry.StatusInstalling
	}); err != nil {
		return err
	}
	s.events.publish(Event{Kind: EventInstallationsChanged, InstallationID: installationID})

	err = s.runInstall(opCtx, rec, plugin)

	// A cancel before any file hit the disk leaves nothing worth
	// keeping: drop the directory and the record.
	if stderrors.Is(err, hangarErrors.ErrCancelled) && !dirHasContent(rec.InstallPath) {
		if rec.InstallPath != "" {
			_ = os.RemoveAll(rec.InstallPath)
		}
		_ = s.registry.Remove(installationID)
		if s.logs != nil {
			s.logs.RecordError(installationID, err)
		}
		s.events.publish(Event{Kind: EventInstallationsChanged, InstallationID: installationID})
		return err
	}

	final := registry.StatusInstalled
	if err != nil {
		// A cancel after files hit the disk leaves a partial tree that
		// needs an explicit delete; any other failure just fails.
		if stderrors.Is(err, hangarErrors.ErrCancelled) {
			final = registry.StatusPartialDelete
		} else {
			final = registry.StatusFailed
		}
	}
	if _, uerr := s.registry.Update(installationID, func(r *registry.Record) {
		r.Status = final
	}); uerr != nil && err == nil {
		err = uerr
	}

	if s.logs != nil {
		if err != nil {
			s.logs.RecordError(installationID, err)
		} else {
			s.logs.RecordComplete(installationID)
		}
	}
	s.events.publish(Event{Kind: EventInstallationsChanged, InstallationID: installationID})
	return err
}

func (s *Scheduler) runInstall(ctx context.Context, rec *registry.Record, plugin source.Plugin) error {
	if rec.InstallPath != "" {
		if err := os.MkdirAll(rec.InstallPath, 0755); err != nil {
			return err
		}
		if err := registry.WriteMarker(rec.InstallPath, rec.ID); err != nil {
			return err
		}
	}

	tools := &source.InstallTools{
		Pipeline: s.pipeline,
		SendProgress: func(phase progress.Phase, percent float64) {
			s.sendProgress(rec.ID, phase, percent)
		},
		SendOutput: func(line string) {
			s.recordOutput(rec.ID, line)
		},
	}

	if err := source.Install(ctx, plugin, rec, tools); err != nil {
		return err
	}
	return source.PostInstall(ctx, plugin, rec, tools)
}

// osMetadataNames are ignored when judging a directory empty.
var osMetadataNames = map[string]bool{
	".DS_Store":   true,
	"Thumbs.db":   true,
	"desktop.ini": true,
	".localized":  true,
	"__pycache__": true,
}

// effectivelyEmpty reports whether the directory holds nothing beyond
// the ownership marker and OS metadata.
func effectivelyEmpty(dir string) bool {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, de := range dirents {
		name := de.Name()
		if name == registry.MarkerFileName || osMetadataNames[name] {
			continue
		}
		return false
	}
	return true
}

// dirHasContent reports whether anything beyond the marker exists.
func dirHasContent(dir string) bool {
	if dir == "" {
		return false
	}
	if _, err := os.Stat(dir); err != nil {
		return false
	}
	return !effectivelyEmpty(dir)
}

// SweepEmptyInstalls removes local installations whose directory holds
// nothing but the marker. Runs at startup to clear failed or abandoned
// installs.
func (s *Scheduler) SweepEmptyInstalls() []string {
	var removed []string
	for _, rec := range s.registry.List() {
		plugin, err := s.catalog.Get(rec.SourceID)
		if err != nil || plugin.Category() != source.CategoryLocal {
			continue
		}
		if rec.InstallPath == "" {
			continue
		}
		if _, err := os.Stat(rec.InstallPath); err != nil {
			continue
		}
		if !effectivelyEmpty(rec.InstallPath) {
			continue
		}
		_ = os.Remove(filepath.Join(rec.InstallPath, registry.MarkerFileName))
		if err := os.Remove(rec.InstallPath); err != nil {
			continue
		}
		if err := s.registry.Remove(rec.ID); err == nil {
			removed = append(removed, rec.ID)
		}
	}
	if len(removed) > 0 {
		s.events.publish(Event{Kind: EventInstallationsChanged})
	}
	return removed
}
