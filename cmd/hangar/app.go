package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hangar-sh/hangar/internal/cache"
	"github.com/hangar-sh/hangar/internal/download"
	"github.com/hangar-sh/hangar/internal/errors"
	"github.com/hangar-sh/hangar/internal/extract"
	"github.com/hangar-sh/hangar/internal/installer"
	"github.com/hangar-sh/hangar/internal/launcherpath"
	"github.com/hangar-sh/hangar/internal/logstream"
	"github.com/hangar-sh/hangar/internal/progress"
	"github.com/hangar-sh/hangar/internal/registry"
	"github.com/hangar-sh/hangar/internal/release"
	"github.com/hangar-sh/hangar/internal/scheduler"
	"github.com/hangar-sh/hangar/internal/settings"
	"github.com/hangar-sh/hangar/internal/source"
	"github.com/hangar-sh/hangar/internal/ui"
)

// downloadCacheEntries caps the archive download cache.
const downloadCacheEntries = 10

// app holds the wired core for one command invocation.
type app struct {
	paths     *launcherpath.Paths
	registry  *registry.Registry
	settings  *settings.Store
	catalog   *source.Catalog
	scheduler *scheduler.Scheduler
	progress  *ui.ProgressManager
	throttler *progress.Throttler
	logs      *logstream.Store
}

// newApp wires the orchestration core with progress rendering to w.
func newApp(w io.Writer) (*app, error) {
	paths, err := launcherpath.New()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve directories: %w", err)
	}

	reg, err := registry.Open(paths.RegistryFile())
	if err != nil {
		return nil, err
	}
	st, err := settings.NewStore(paths.SettingsFile())
	if err != nil {
		return nil, err
	}

	dlCache, err := cache.New(paths.DownloadCacheDir(), downloadCacheEntries)
	if err != nil {
		return nil, err
	}
	pipeline := installer.New(dlCache, download.NewDownloader(), extract.New(extract.NewBuiltinCodec()))

	logs, err := logstream.NewStore(paths.LogDir())
	if err != nil {
		slog.Warn("failed to create log store", "error", err)
		logs = nil
	}

	pm := ui.NewProgressManager(w)
	throttler := progress.NewThrottler(pm)

	releases := release.NewCache(paths.ReleaseCacheFile(), http.DefaultClient)
	catalog := source.NewCatalog(
		&source.PortablePlugin{Releases: releases},
		&source.StandalonePlugin{},
		&source.GitPlugin{},
		&source.RemotePlugin{},
		&source.CloudPlugin{},
	)

	sched := scheduler.New(scheduler.Config{
		Registry: reg,
		Catalog:  catalog,
		Settings: st,
		Paths:    paths,
		Pipeline: pipeline,
		Releases: releases,
		Progress: throttler,
		Logs:     logs,
	})

	a := &app{
		paths:     paths,
		registry:  reg,
		settings:  st,
		catalog:   catalog,
		scheduler: sched,
		progress:  pm,
		throttler: throttler,
		logs:      logs,
	}
	for _, rec := range reg.List() {
		pm.SetName(rec.ID, rec.Name)
	}
	if removed := sched.SweepEmptyInstalls(); len(removed) > 0 {
		slog.Info("swept empty installations", "count", len(removed))
	}
	return a, nil
}

// Close flushes progress output and log files.
func (a *app) Close() {
	a.throttler.Close()
	a.progress.Wait()
	if a.logs != nil {
		a.logs.Close()
	}
}

// findInstallation resolves a CLI argument to a record, matching the id
// exactly or the name case-insensitively.
func (a *app) findInstallation(arg string) (*registry.Record, error) {
	if rec, err := a.registry.Get(arg); err == nil {
		return rec, nil
	}
	var match *registry.Record
	for _, rec := range a.registry.List() {
		if !strings.EqualFold(rec.Name, arg) {
			continue
		}
		if match != nil {
			return nil, errors.New(errors.CategoryOperation,
				fmt.Sprintf("name %q matches more than one installation, use the id", arg))
		}
		match = rec
	}
	if match == nil {
		return nil, errors.UnknownInstallation(arg)
	}
	return match, nil
}
