package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hangarErrors "github.com/hangar-sh/hangar/internal/errors"
	"github.com/hangar-sh/hangar/internal/launcherpath"
	"github.com/hangar-sh/hangar/internal/progress"
	"github.com/hangar-sh/hangar/internal/registry"
	"github.com/hangar-sh/hangar/internal/settings"
	"github.com/hangar-sh/hangar/internal/source"
)

// stubPlugin is a minimal local plugin for scheduler tests.
type stubPlugin struct {
	id        string
	category  source.Category
	launch    *source.LaunchCommand
	launchErr error

	handled  []string
	handleFn func(ctx context.Context) error
}

func (p *stubPlugin) ID() string    { return p.id }
func (p *stubPlugin) Label() string { return p.id }
func (p *stubPlugin) Category() source.Category {
	if p.category == "" {
		return source.CategoryLocal
	}
	return p.category
}

func (p *stubPlugin) BuildInstallation(selections map[string]string) (*registry.Record, error) {
	return &registry.Record{
		Name:        selections["name"],
		SourceID:    p.id,
		InstallPath: selections["installPath"],
		Status:      registry.StatusNew,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (p *stubPlugin) LaunchCommand(rec *registry.Record) (*source.LaunchCommand, error) {
	if p.launchErr != nil {
		return nil, p.launchErr
	}
	return p.launch, nil
}

func (p *stubPlugin) Fields() []source.Field { return nil }

func (p *stubPlugin) FieldOptions(ctx context.Context, fieldID string, selections map[string]string) ([]source.Option, error) {
	return nil, nil
}

func (p *stubPlugin) DetailSections(rec *registry.Record) []source.DetailSection { return nil }
func (p *stubPlugin) ListActions(rec *registry.Record) []string                  { return nil }

func (p *stubPlugin) HandleAction(ctx context.Context, actionID string, rec *registry.Record, actionData map[string]any, tools *source.ActionTools) error {
	p.handled = append(p.handled, actionID)
	if p.handleFn != nil {
		return p.handleFn(ctx)
	}
	return nil
}

// installablePlugin adds the Install capability.
type installablePlugin struct {
	stubPlugin
	installFn func(ctx context.Context, rec *registry.Record, tools *source.InstallTools) error
}

func (p *installablePlugin) Install(ctx context.Context, rec *registry.Record, tools *source.InstallTools) error {
	if p.installFn == nil {
		return nil
	}
	return p.installFn(ctx, rec, tools)
}

func newTestScheduler(t *testing.T, plugins ...source.Plugin) *Scheduler {
	t.Helper()
	dir := t.TempDir()

	paths, err := launcherpath.New(
		launcherpath.WithConfigDir(filepath.Join(dir, "config")),
		launcherpath.WithDataDir(filepath.Join(dir, "data")),
		launcherpath.WithCacheDir(filepath.Join(dir, "cache")),
		launcherpath.WithStateDir(filepath.Join(dir, "state")),
	)
	require.NoError(t, err)

	reg, err := registry.Open(filepath.Join(dir, "registry.json"))
	require.NoError(t, err)

	st, err := settings.NewStore(filepath.Join(dir, "settings.json"))
	require.NoError(t, err)

	return New(Config{
		Registry: reg,
		Catalog:  source.NewCatalog(plugins...),
		Settings: st,
		Paths:    paths,
	})
}

// addRecord registers a record directly.
func addRecord(t *testing.T, s *Scheduler, rec *registry.Record) *registry.Record {
	t.Helper()
	added, err := s.registry.Add(rec)
	require.NoError(t, err)
	return added
}

func TestOpGuard_MutualExclusion(t *testing.T) {
	g := newOpGuard()

	_, release, err := g.begin(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, g.busy("a"))

	_, _, err = g.begin(context.Background(), "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, hangarErrors.ErrAnotherOperationRunning)

	// Other installations are unaffected.
	_, releaseB, err := g.begin(context.Background(), "b")
	require.NoError(t, err)
	releaseB()

	release()
	assert.False(t, g.busy("a"))
	_, release2, err := g.begin(context.Background(), "a")
	require.NoError(t, err)
	release2()
}

func TestOpGuard_CancelAbortsContext(t *testing.T) {
	g := newOpGuard()
	ctx, release, err := g.begin(context.Background(), "a")
	require.NoError(t, err)
	defer release()

	assert.True(t, g.cancel("a"))
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled")
	}
	assert.False(t, g.cancel("ghost"))
}

func TestRunAction_RefusesConcurrentPluginActions(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	p := &stubPlugin{id: "stub", handleFn: func(ctx context.Context) error {
		close(started)
		select {
		case <-unblock:
			return nil
		case <-ctx.Done():
			return hangarErrors.Cancelled("stub action")
		}
	}}
	s := newTestScheduler(t, p)
	rec := addRecord(t, s, &registry.Record{
		Name: "A", SourceID: "stub", Status: registry.StatusInstalled, CreatedAt: time.Now(),
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := s.RunAction(context.Background(), rec.ID, "custom", nil)
		errCh <- err
	}()
	<-started

	_, err := s.RunAction(context.Background(), rec.ID, "custom", nil)
	assert.ErrorIs(t, err, hangarErrors.ErrAnotherOperationRunning)

	close(unblock)
	require.NoError(t, <-errCh)

	// Guard is released after completion.
	_, err = s.RunAction(context.Background(), rec.ID, "another", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"custom", "another"}, p.handled)
}

func TestRunAction_CancelCleansUp(t *testing.T) {
	started := make(chan struct{})
	p := &stubPlugin{id: "stub", handleFn: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return hangarErrors.Cancelled("stub action")
	}}
	s := newTestScheduler(t, p)
	rec := addRecord(t, s, &registry.Record{
		Name: "A", SourceID: "stub", Status: registry.StatusInstalled, CreatedAt: time.Now(),
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := s.RunAction(context.Background(), rec.ID, "slow", nil)
		errCh <- err
	}()
	<-started

	assert.True(t, s.Cancel(rec.ID))
	err := <-errCh
	assert.ErrorIs(t, err, hangarErrors.ErrCancelled)
	assert.False(t, s.Busy(rec.ID))
}

func TestInstall_StatusMachine_Success(t *testing.T) {
	p := &installablePlugin{stubPlugin: stubPlugin{id: "stub"}}
	s := newTestScheduler(t, p)

	installPath := filepath.Join(t.TempDir(), "install-a")
	rec := addRecord(t, s, &registry.Record{
		Name: "A", SourceID: "stub", InstallPath: installPath,
		Status: registry.StatusNew, CreatedAt: time.Now(),
	})

	require.NoError(t, s.Install(context.Background(), rec.ID))

	got, err := s.registry.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusInstalled, got.Status)

	// Ownership marker carries the record id.
	content, err := registry.ReadMarker(installPath)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, content)
}

func TestInstall_StatusMachine_Failure(t *testing.T) {
	p := &installablePlugin{
		stubPlugin: stubPlugin{id: "stub"},
		installFn: func(ctx context.Context, rec *registry.Record, tools *source.InstallTools) error {
			return hangarErrors.NewStateError("download failed", nil)
		},
	}
	s := newTestScheduler(t, p)
	rec := addRecord(t, s, &registry.Record{
		Name: "A", SourceID: "stub", InstallPath: filepath.Join(t.TempDir(), "install-a"),
		Status: registry.StatusNew, CreatedAt: time.Now(),
	})

	require.Error(t, s.Install(context.Background(), rec.ID))
	got, err := s.registry.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusFailed, got.Status)
}

func TestInstall_CancelAfterExtractLeavesPartialDelete(t *testing.T) {
	started := make(chan struct{})
	p := &installablePlugin{
		stubPlugin: stubPlugin{id: "stub"},
		installFn: func(ctx context.Context, rec *registry.Record, tools *source.InstallTools) error {
			// Files hit the disk before the cancel arrives.
			_ = os.WriteFile(filepath.Join(rec.InstallPath, "payload.bin"), []byte("x"), 0644)
			close(started)
			<-ctx.Done()
			return hangarErrors.Cancelled("install")
		},
	}
	s := newTestScheduler(t, p)
	rec := addRecord(t, s, &registry.Record{
		Name: "A", SourceID: "stub", InstallPath: filepath.Join(t.TempDir(), "install-a"),
		Status: registry.StatusNew, CreatedAt: time.Now(),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Install(context.Background(), rec.ID) }()
	<-started
	s.Cancel(rec.ID)

	err := <-errCh
	assert.ErrorIs(t, err, hangarErrors.ErrCancelled)

	got, err := s.registry.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusPartialDelete, got.Status)
}

func TestInstall_CancelBeforeFilesRemovesRecord(t *testing.T) {
	started := make(chan struct{})
	p := &installablePlugin{
		stubPlugin: stubPlugin{id: "stub"},
		installFn: func(ctx context.Context, rec *registry.Record, tools *source.InstallTools) error {
			close(started)
			<-ctx.Done()
			return hangarErrors.Cancelled("install")
		},
	}
	s := newTestScheduler(t, p)
	installPath := filepath.Join(t.TempDir(), "install-a")
	rec := addRecord(t, s, &registry.Record{
		Name: "A", SourceID: "stub", InstallPath: installPath,
		Status: registry.StatusNew, CreatedAt: time.Now(),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Install(context.Background(), rec.ID) }()
	<-started
	s.Cancel(rec.ID)

	err := <-errCh
	assert.ErrorIs(t, err, hangarErrors.ErrCancelled)

	// Nothing was extracted, so neither directory nor record survive.
	_, err = os.Stat(installPath)
	assert.True(t, os.IsNotExist(err))
	_, err = s.registry.Get(rec.ID)
	assert.ErrorIs(t, err, hangarErrors.ErrUnknownInstallation)
}

func TestDelete_SafetyCheck(t *testing.T) {
	p := &stubPlugin{id: "stub"}
	s := newTestScheduler(t, p)

	installPath := t.TempDir()
	rec := addRecord(t, s, &registry.Record{
		Name: "A", SourceID: "stub", InstallPath: installPath,
		Status: registry.StatusInstalled, CreatedAt: time.Now(),
	})

	// Marker owned by someone else: refuse.
	require.NoError(t, registry.WriteMarker(installPath, "someone-else"))
	err := s.Delete(context.Background(), rec.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, hangarErrors.ErrSafetyCheckFailed)
	_, err = s.registry.Get(rec.ID)
	require.NoError(t, err)

	// Matching marker: delete files and record.
	require.NoError(t, registry.WriteMarker(installPath, rec.ID))
	require.NoError(t, os.WriteFile(filepath.Join(installPath, "data.bin"), []byte("x"), 0644))
	require.NoError(t, s.Delete(context.Background(), rec.ID))

	_, err = os.Stat(installPath)
	assert.True(t, os.IsNotExist(err))
	_, err = s.registry.Get(rec.ID)
	assert.ErrorIs(t, err, hangarErrors.ErrUnknownInstallation)
}

func TestDelete_TrackedMarkerAuthorizes(t *testing.T) {
	p := &stubPlugin{id: "stub"}
	s := newTestScheduler(t, p)

	installPath := t.TempDir()
	require.NoError(t, registry.WriteMarker(installPath, registry.MarkerTracked))
	rec := addRecord(t, s, &registry.Record{
		Name: "A", SourceID: "stub", InstallPath: installPath,
		Status: registry.StatusInstalled, CreatedAt: time.Now(),
	})

	require.NoError(t, s.Delete(context.Background(), rec.ID))
}

// newCancellingScheduler wires a progress sink that cancels ctx on the
// first delete tick.
func newCancellingScheduler(t *testing.T, cancel context.CancelFunc, plugins ...source.Plugin) *Scheduler {
	t.Helper()
	dir := t.TempDir()

	paths, err := launcherpath.New(
		launcherpath.WithConfigDir(filepath.Join(dir, "config")),
		launcherpath.WithDataDir(filepath.Join(dir, "data")),
		launcherpath.WithCacheDir(filepath.Join(dir, "cache")),
		launcherpath.WithStateDir(filepath.Join(dir, "state")),
	)
	require.NoError(t, err)
	reg, err := registry.Open(filepath.Join(dir, "registry.json"))
	require.NoError(t, err)
	st, err := settings.NewStore(filepath.Join(dir, "settings.json"))
	require.NoError(t, err)

	return New(Config{
		Registry: reg,
		Catalog:  source.NewCatalog(plugins...),
		Settings: st,
		Paths:    paths,
		Progress: progress.SinkFunc(func(e progress.Event) {
			if e.Phase == progress.PhaseDelete {
				cancel()
			}
		}),
	})
}

func TestDelete_CancelledRetryStaysAuthorized(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &stubPlugin{id: "stub"}
	s := newCancellingScheduler(t, cancel, p)

	installPath := t.TempDir()
	// Short names sort below the marker, so the marker is removed in the
	// first batch; enough entries remain for the cancel to land.
	for i := 0; i < 130; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(installPath, fmt.Sprintf("f%03d", i)), []byte("x"), 0644))
	}
	rec := addRecord(t, s, &registry.Record{
		Name: "A", SourceID: "stub", InstallPath: installPath,
		Status: registry.StatusInstalled, CreatedAt: time.Now(),
	})
	require.NoError(t, registry.WriteMarker(installPath, rec.ID))

	err := s.Delete(ctx, rec.ID)
	assert.ErrorIs(t, err, hangarErrors.ErrCancelled)

	got, err := s.registry.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusPartialDelete, got.Status)

	// The marker was rewritten so the retry passes the safety check.
	content, err := registry.ReadMarker(installPath)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, content)

	require.NoError(t, s.Delete(context.Background(), rec.ID))
	_, err = os.Stat(installPath)
	assert.True(t, os.IsNotExist(err))
	_, err = s.registry.Get(rec.ID)
	assert.ErrorIs(t, err, hangarErrors.ErrUnknownInstallation)
}

func TestDelete_PartialDeleteRetryWithoutMarker(t *testing.T) {
	p := &stubPlugin{id: "stub"}
	s := newTestScheduler(t, p)

	installPath := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(installPath, "leftover.bin"), []byte("x"), 0644))
	rec := addRecord(t, s, &registry.Record{
		Name: "A", SourceID: "stub", InstallPath: installPath,
		Status: registry.StatusPartialDelete, CreatedAt: time.Now(),
	})

	require.NoError(t, s.Delete(context.Background(), rec.ID))
	_, err := os.Stat(installPath)
	assert.True(t, os.IsNotExist(err))
	_, err = s.registry.Get(rec.ID)
	assert.ErrorIs(t, err, hangarErrors.ErrUnknownInstallation)
}

func TestUntrack_LeavesFiles(t *testing.T) {
	p := &stubPlugin{id: "stub"}
	s := newTestScheduler(t, p)

	installPath := t.TempDir()
	keep := filepath.Join(installPath, "keep.txt")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0644))
	rec := addRecord(t, s, &registry.Record{
		Name: "A", SourceID: "stub", InstallPath: installPath,
		Status: registry.StatusInstalled, CreatedAt: time.Now(),
	})

	require.NoError(t, s.Untrack(rec.ID))
	_, err := os.Stat(keep)
	assert.NoError(t, err)
	_, err = s.registry.Get(rec.ID)
	assert.ErrorIs(t, err, hangarErrors.ErrUnknownInstallation)
}

func TestSweepEmptyInstalls(t *testing.T) {
	p := &stubPlugin{id: "stub"}
	s := newTestScheduler(t, p)

	emptyPath := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.MkdirAll(emptyPath, 0755))
	emptyRec := addRecord(t, s, &registry.Record{
		Name: "Empty", SourceID: "stub", InstallPath: emptyPath,
		Status: registry.StatusInstalled, CreatedAt: time.Now(),
	})
	require.NoError(t, registry.WriteMarker(emptyPath, emptyRec.ID))

	fullPath := filepath.Join(t.TempDir(), "full")
	require.NoError(t, os.MkdirAll(fullPath, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(fullPath, "main.py"), []byte("pass"), 0644))
	fullRec := addRecord(t, s, &registry.Record{
		Name: "Full", SourceID: "stub", InstallPath: fullPath,
		Status: registry.StatusInstalled, CreatedAt: time.Now(),
	})

	removed := s.SweepEmptyInstalls()
	assert.Equal(t, []string{emptyRec.ID}, removed)

	_, err := os.Stat(emptyPath)
	assert.True(t, os.IsNotExist(err))
	_, err = s.registry.Get(fullRec.ID)
	assert.NoError(t, err)
}

func TestCopy(t *testing.T) {
	p := &stubPlugin{id: "stub"}
	s := newTestScheduler(t, p)

	installPath := filepath.Join(t.TempDir(), "build-a")
	require.NoError(t, os.MkdirAll(installPath, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(installPath, "main.py"), []byte("pass"), 0644))
	rec := addRecord(t, s, &registry.Record{
		Name: "Build A", SourceID: "stub", InstallPath: installPath,
		Status: registry.StatusInstalled, CreatedAt: time.Now(), Pinned: true,
	})
	require.NoError(t, registry.WriteMarker(installPath, rec.ID))

	copied, err := s.Copy(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.NotEqual(t, rec.ID, copied.ID)
	assert.Equal(t, installPath+"-copy", copied.InstallPath)
	assert.False(t, copied.Pinned)

	data, err := os.ReadFile(filepath.Join(copied.InstallPath, "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "pass", string(data))

	// The copy owns its directory under its own id.
	content, err := registry.ReadMarker(copied.InstallPath)
	require.NoError(t, err)
	assert.Equal(t, copied.ID, content)
}

func TestSetPrimary_Exclusive(t *testing.T) {
	p := &stubPlugin{id: "stub"}
	s := newTestScheduler(t, p)

	a := addRecord(t, s, &registry.Record{Name: "A", SourceID: "stub", Status: registry.StatusInstalled, CreatedAt: time.Now(), Primary: true})
	b := addRecord(t, s, &registry.Record{Name: "B", SourceID: "stub", Status: registry.StatusInstalled, CreatedAt: time.Now()})

	require.NoError(t, s.SetPrimary(b.ID))

	gotA, err := s.registry.Get(a.ID)
	require.NoError(t, err)
	gotB, err := s.registry.Get(b.ID)
	require.NoError(t, err)
	assert.False(t, gotA.Primary)
	assert.True(t, gotB.Primary)
}

// defaultingPlugin pre-fills the name field.
type defaultingPlugin struct {
	stubPlugin
}

func (p *defaultingPlugin) Defaults() map[string]string {
	return map[string]string{"name": "Prefilled"}
}

func TestAddInstallation_AppliesPluginDefaults(t *testing.T) {
	p := &defaultingPlugin{stubPlugin: stubPlugin{id: "stub"}}
	s := newTestScheduler(t, p)

	rec, err := s.AddInstallation("stub", map[string]string{"name": ""})
	require.NoError(t, err)
	assert.Equal(t, "Prefilled", rec.Name)

	// Explicit selections win over defaults.
	rec, err = s.AddInstallation("stub", map[string]string{"name": "Chosen"})
	require.NoError(t, err)
	assert.Equal(t, "Chosen", rec.Name)
}

func TestAddInstallation_PublishesEvent(t *testing.T) {
	p := &stubPlugin{id: "stub"}
	s := newTestScheduler(t, p)

	events, cancel := s.Subscribe()
	defer cancel()

	rec, err := s.AddInstallation("stub", map[string]string{"name": "Fresh"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)

	select {
	case e := <-events:
		assert.Equal(t, EventInstallationsChanged, e.Kind)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}
