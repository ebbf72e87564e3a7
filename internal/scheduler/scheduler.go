// Package scheduler coordinates installation operations: install,
// launch, delete, copy and update flows, with per-installation mutual
// exclusion and session supervision.
package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"os/exec"
	"runtime"
	"sync"

	hangarErrors "github.com/hangar-sh/hangar/internal/errors"
	"github.com/hangar-sh/hangar/internal/installer"
	"github.com/hangar-sh/hangar/internal/launcherpath"
	"github.com/hangar-sh/hangar/internal/logstream"
	"github.com/hangar-sh/hangar/internal/proc"
	"github.com/hangar-sh/hangar/internal/progress"
	"github.com/hangar-sh/hangar/internal/registry"
	"github.com/hangar-sh/hangar/internal/release"
	"github.com/hangar-sh/hangar/internal/settings"
	"github.com/hangar-sh/hangar/internal/source"
)

// Config wires the scheduler's collaborators.
type Config struct {
	Registry *registry.Registry
	Catalog  *source.Catalog
	Settings *settings.Store
	Paths    *launcherpath.Paths
	Pipeline *installer.Pipeline
	Releases *release.Cache
	// Progress receives operation progress; nil discards.
	Progress progress.Sink
	// Logs persists per-operation output; nil disables.
	Logs *logstream.Store
}

// Scheduler runs installation operations.
type Scheduler struct {
	registry *registry.Registry
	catalog  *source.Catalog
	settings *settings.Store
	paths    *launcherpath.Paths
	pipeline *installer.Pipeline
	releases *release.Cache
	progress progress.Sink
	logs     *logstream.Store

	guard    *opGuard
	sessions *sessionSet
	events   *eventBus

	// spawn is swapped for a fake in tests.
	spawn func(proc.Spec) (ProcessHandle, error)

	etagMu sync.Mutex
	etags  map[string]string
	client *http.Client
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		registry: cfg.Registry,
		catalog:  cfg.Catalog,
		settings: cfg.Settings,
		paths:    cfg.Paths,
		pipeline: cfg.Pipeline,
		releases: cfg.Releases,
		progress: cfg.Progress,
		logs:     cfg.Logs,
		guard:    newOpGuard(),
		sessions: newSessionSet(),
		events:   newEventBus(),
		spawn: func(spec proc.Spec) (ProcessHandle, error) {
			return proc.Spawn(spec)
		},
		etags:    make(map[string]string),
		client:   &http.Client{},
	}
	if s.progress == nil {
		s.progress = progress.SinkFunc(func(progress.Event) {})
	}
	return s
}

// Subscribe returns a lifecycle event channel and its cancel func.
func (s *Scheduler) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe()
}

// Sessions lists the running sessions.
func (s *Scheduler) Sessions() []*Session {
	return s.sessions.list()
}

// Busy reports whether an operation is running for the installation.
func (s *Scheduler) Busy(installationID string) bool {
	return s.guard.busy(installationID)
}

// Cancel aborts the running operation for an installation.
func (s *Scheduler) Cancel(installationID string) bool {
	return s.guard.cancel(installationID)
}

// resolve loads the record and its plugin.
func (s *Scheduler) resolve(installationID string) (*registry.Record, source.Plugin, error) {
	rec, err := s.registry.Get(installationID)
	if err != nil {
		return nil, nil, err
	}
	plugin, err := s.catalog.Get(rec.SourceID)
	if err != nil {
		return nil, nil, err
	}
	return rec, plugin, nil
}

// sendProgress publishes one progress tick for an installation.
func (s *Scheduler) sendProgress(installationID string, phase progress.Phase, percent float64) {
	s.progress.Publish(progress.Event{
		InstallationID: installationID,
		Phase:          phase,
		Percent:        percent,
	})
}

// actionTools builds the capability bag handed to plugin actions.
func (s *Scheduler) actionTools(installationID string) *source.ActionTools {
	return &source.ActionTools{
		Update: func(mutate func(*registry.Record)) error {
			_, err := s.registry.Update(installationID, mutate)
			if err == nil {
				s.events.publish(Event{Kind: EventInstallationsChanged, InstallationID: installationID})
			}
			return err
		},
		SendProgress: func(phase progress.Phase, percent float64) {
			s.sendProgress(installationID, phase, percent)
		},
		SendOutput: func(line string) {
			s.recordOutput(installationID, line)
		},
	}
}

func (s *Scheduler) recordOutput(installationID, line string) {
	if s.logs != nil {
		s.logs.RecordOutput(installationID, line)
	}
}

// RunAction dispatches an action for an installation. Core actions are
// handled here; everything else goes to the plugin.
func (s *Scheduler) RunAction(ctx context.Context, installationID, actionID string, actionData map[string]any) (any, error) {
	rec, plugin, err := s.resolve(installationID)
	if err != nil {
		return nil, err
	}

	switch actionID {
	case "remove":
		return nil, s.Untrack(installationID)
	case "delete":
		return nil, s.Delete(ctx, installationID)
	case "open-folder":
		return nil, openFolder(rec.InstallPath)
	case "copy":
		return s.Copy(ctx, installationID)
	case "copy-update":
		return s.CopyUpdate(ctx, installationID)
	case "release-update":
		return nil, s.ReleaseUpdate(ctx, installationID)
	case "launch":
		return s.Launch(ctx, installationID)
	case "stop":
		return nil, s.Stop(installationID)
	case "pin":
		return nil, s.setPinned(installationID, true)
	case "unpin":
		return nil, s.setPinned(installationID, false)
	case "set-primary":
		return nil, s.SetPrimary(installationID)
	}

	opCtx, release, err := s.guard.begin(ctx, installationID)
	if err != nil {
		return nil, err
	}
	defer release()

	if s.logs != nil {
		s.logs.RecordStart(installationID, rec.Name, actionID)
		defer func() {
			if err != nil {
				s.logs.RecordError(installationID, err)
			} else {
				s.logs.RecordComplete(installationID)
			}
		}()
	}
	err = plugin.HandleAction(opCtx, actionID, rec, actionData, s.actionTools(installationID))
	return nil, err
}

func (s *Scheduler) setPinned(installationID string, pinned bool) error {
	_, err := s.registry.Update(installationID, func(r *registry.Record) {
		r.Pinned = pinned
	})
	if err == nil {
		s.events.publish(Event{Kind: EventInstallationsChanged, InstallationID: installationID})
	}
	return err
}

// SetPrimary marks one installation as primary and clears the flag on
// all others.
func (s *Scheduler) SetPrimary(installationID string) error {
	if _, err := s.registry.Get(installationID); err != nil {
		return err
	}
	for _, rec := range s.registry.List() {
		want := rec.ID == installationID
		if rec.Primary == want {
			continue
		}
		if _, err := s.registry.Update(rec.ID, func(r *registry.Record) {
			r.Primary = want
		}); err != nil {
			return err
		}
	}
	s.events.publish(Event{Kind: EventInstallationsChanged, InstallationID: installationID})
	return nil
}

// Untrack removes the registry entry without touching files.
func (s *Scheduler) Untrack(installationID string) error {
	if _, busy := s.sessions.get(installationID); busy {
		return hangarErrors.ErrAlreadyRunning
	}
	if err := s.registry.Remove(installationID); err != nil {
		return err
	}
	s.events.publish(Event{Kind: EventInstallationsChanged, InstallationID: installationID})
	return nil
}

// settingStrings decodes a JSON string-array setting.
func (s *Scheduler) settingStrings(key string) []string {
	if s.settings == nil {
		return nil
	}
	raw, ok := s.settings.Get(key)
	if !ok {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// openFolder reveals a directory in the OS file manager.
var openFolder = func(path string) error {
	if path == "" {
		return hangarErrors.ErrPathDoesNotExist
	}
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", path).Start()
	case "windows":
		return exec.Command("explorer", path).Start()
	default:
		return exec.Command("xdg-open", path).Start()
	}
}
