package scheduler

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hangarErrors "github.com/hangar-sh/hangar/internal/errors"
	"github.com/hangar-sh/hangar/internal/proc"
	"github.com/hangar-sh/hangar/internal/registry"
	"github.com/hangar-sh/hangar/internal/source"
)

// fakeHandle is a controllable ProcessHandle.
type fakeHandle struct {
	pid  int
	tail string

	mu       sync.Mutex
	done     chan struct{}
	exited   bool
	listener net.Listener
}

// Fakes carry the test's own pid so port-lock liveness checks see a
// running process.
func newFakeHandle() *fakeHandle {
	return &fakeHandle{pid: os.Getpid(), done: make(chan struct{})}
}

func (h *fakeHandle) PID() int              { return h.pid }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }
func (h *fakeHandle) ExitErr() error        { return nil }
func (h *fakeHandle) StderrTail() string    { return h.tail }

func (h *fakeHandle) KillTree() error {
	h.exit()
	return nil
}

// exit simulates process termination.
func (h *fakeHandle) exit() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited {
		return
	}
	h.exited = true
	if h.listener != nil {
		_ = h.listener.Close()
	}
	close(h.done)
}

// argPort extracts the --port value from spawn args.
func argPort(t *testing.T, args []string) int {
	t.Helper()
	for i, a := range args {
		if a == "--port" && i+1 < len(args) {
			p, err := strconv.Atoi(args[i+1])
			require.NoError(t, err)
			return p
		}
	}
	t.Fatal("no --port in args")
	return 0
}

// listeningSpawner fakes a payload that binds its assigned port.
type listeningSpawner struct {
	t *testing.T

	mu      sync.Mutex
	handles []*fakeHandle
	specs   []proc.Spec
	// failPorts makes attempts on these ports exit with bind-failure
	// output instead of listening.
	failPorts map[int]bool
}

func (ls *listeningSpawner) spawn(spec proc.Spec) (ProcessHandle, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.specs = append(ls.specs, spec)

	port := argPort(ls.t, spec.Args)
	h := newFakeHandle()
	ls.handles = append(ls.handles, h)

	if ls.failPorts[port] {
		if spec.OnStdout != nil {
			spec.OnStdout(fmt.Sprintf("error while attempting to bind on address ('127.0.0.1', %d)", port))
		}
		h.exit()
		return h, nil
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	h.listener = ln
	ls.t.Cleanup(h.exit)
	return h, nil
}

func (ls *listeningSpawner) last() *fakeHandle {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.handles[len(ls.handles)-1]
}

func (ls *listeningSpawner) count() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.handles)
}

// freePort grabs an ephemeral port and releases it.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// newLaunchScheduler builds a scheduler with one installed local record
// ready to launch.
func newLaunchScheduler(t *testing.T, port int) (*Scheduler, *registry.Record, *listeningSpawner) {
	t.Helper()
	installPath := filepath.Join(t.TempDir(), "build-a")
	require.NoError(t, os.MkdirAll(installPath, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(installPath, "main.py"), []byte("pass"), 0644))

	p := &stubPlugin{id: "stub", launch: &source.LaunchCommand{
		Cmd:  "python",
		Args: []string{"main.py"},
		Cwd:  installPath,
		Port: port,
	}}
	s := newTestScheduler(t, p)
	rec := addRecord(t, s, &registry.Record{
		Name: "Build A", SourceID: "stub", InstallPath: installPath,
		Status: registry.StatusInstalled, CreatedAt: time.Now(),
	})
	require.NoError(t, registry.WriteMarker(installPath, rec.ID))

	ls := &listeningSpawner{t: t, failPorts: map[int]bool{}}
	s.spawn = ls.spawn
	return s, rec, ls
}

func TestLaunch_Succeeds(t *testing.T) {
	port := freePort(t)
	s, rec, ls := newLaunchScheduler(t, port)

	result, err := s.Launch(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, port, result.Port)
	assert.Equal(t, fmt.Sprintf("http://127.0.0.1:%d", port), result.URL)

	sess, ok := s.sessions.get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, port, sess.Port)

	// The payload learns its session temp dir from the environment.
	assert.Equal(t, sess.TempDir, ls.specs[0].Env[sessionDirEnvVar])

	// Startup wrote the port lock.
	lock, err := proc.ReadPortLock(s.paths.PortLockDir(), port)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, "Build A", lock.InstallationName)

	// The guard is released once the port is open.
	assert.False(t, s.Busy(rec.ID))

	got, err := s.registry.Get(rec.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastLaunchedAt)

	require.NoError(t, s.Stop(rec.ID))
}

func TestLaunch_RefusesSecondSession(t *testing.T) {
	port := freePort(t)
	s, rec, _ := newLaunchScheduler(t, port)

	_, err := s.Launch(context.Background(), rec.ID)
	require.NoError(t, err)
	defer s.Stop(rec.ID)

	_, err = s.Launch(context.Background(), rec.ID)
	assert.ErrorIs(t, err, hangarErrors.ErrAlreadyRunning)
}

func TestLaunch_RefusesEmptyInstallDir(t *testing.T) {
	port := freePort(t)
	s, rec, _ := newLaunchScheduler(t, port)

	// Strip the install dir down to the marker.
	require.NoError(t, os.Remove(filepath.Join(rec.InstallPath, "main.py")))

	_, err := s.Launch(context.Background(), rec.ID)
	assert.ErrorIs(t, err, hangarErrors.ErrInstallDirEmpty)
}

func TestLaunch_PortConflictAsk(t *testing.T) {
	port := freePort(t)
	occupier, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer occupier.Close()

	s, rec, ls := newLaunchScheduler(t, port)

	// A port lock from another installation marks the occupant as ours.
	require.NoError(t, proc.WritePortLock(s.paths.PortLockDir(), port, proc.PortLock{
		PID:              os.Getpid(),
		InstallationName: "Other build",
	}))

	result, err := s.Launch(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.False(t, result.OK)
	require.NotNil(t, result.PortConflict)
	assert.Equal(t, port, result.PortConflict.Port)
	assert.True(t, result.PortConflict.IsComfy)
	assert.Greater(t, result.PortConflict.NextPort, port)

	// Nothing was spawned.
	assert.Equal(t, 0, ls.count())
}

func TestLaunch_PortConflictAuto(t *testing.T) {
	port := freePort(t)
	occupier, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer occupier.Close()

	s, rec, ls := newLaunchScheduler(t, port)
	_, err = s.registry.Update(rec.ID, func(r *registry.Record) {
		r.PortConflict = registry.PortConflictAuto
	})
	require.NoError(t, err)

	result, err := s.Launch(context.Background(), rec.ID)
	require.NoError(t, err)
	defer s.Stop(rec.ID)

	assert.True(t, result.OK)
	assert.Greater(t, result.Port, port)
	assert.Equal(t, result.Port, argPort(t, ls.specs[0].Args))
}

func TestLaunch_ExplicitPortDisablesAuto(t *testing.T) {
	port := freePort(t)
	occupier, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer occupier.Close()

	s, rec, ls := newLaunchScheduler(t, port)
	_, err = s.registry.Update(rec.ID, func(r *registry.Record) {
		r.PortConflict = registry.PortConflictAuto
		r.LaunchArgs = fmt.Sprintf("--port %d", port)
	})
	require.NoError(t, err)

	result, err := s.Launch(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.False(t, result.OK)
	require.NotNil(t, result.PortConflict)
	assert.Equal(t, 0, ls.count())
}

func TestLaunch_RetriesOnBindFailureOutput(t *testing.T) {
	port := freePort(t)
	s, rec, ls := newLaunchScheduler(t, port)
	ls.failPorts[port] = true

	result, err := s.Launch(context.Background(), rec.ID)
	require.NoError(t, err)
	defer s.Stop(rec.ID)

	assert.True(t, result.OK)
	assert.Greater(t, result.Port, port)
	assert.Equal(t, 2, ls.count())
}

func TestLaunch_EarlyExitSurfacesStderr(t *testing.T) {
	port := freePort(t)
	s, rec, _ := newLaunchScheduler(t, port)
	s.spawn = func(spec proc.Spec) (ProcessHandle, error) {
		h := newFakeHandle()
		h.tail = "ModuleNotFoundError: No module named 'torch'"
		h.exit()
		return h, nil
	}

	_, err := s.Launch(context.Background(), rec.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, hangarErrors.ErrStartupTimeout)
	assert.Contains(t, err.Error(), "payload exited during startup")

	_, running := s.sessions.get(rec.ID)
	assert.False(t, running)
}

func TestExitHandler_CrashBroadcast(t *testing.T) {
	port := freePort(t)
	s, rec, ls := newLaunchScheduler(t, port)

	_, err := s.Launch(context.Background(), rec.ID)
	require.NoError(t, err)

	events, cancel := s.Subscribe()
	defer cancel()

	ls.last().exit()

	select {
	case e := <-events:
		assert.Equal(t, EventSessionExited, e.Kind)
		assert.Equal(t, rec.ID, e.InstallationID)
		assert.True(t, e.Crashed)
	case <-time.After(2 * time.Second):
		t.Fatal("no exit event")
	}

	_, running := s.sessions.get(rec.ID)
	assert.False(t, running)
	lock, err := proc.ReadPortLock(s.paths.PortLockDir(), port)
	require.NoError(t, err)
	assert.Nil(t, lock)
}

func TestStop_NotACrash(t *testing.T) {
	port := freePort(t)
	s, rec, _ := newLaunchScheduler(t, port)

	_, err := s.Launch(context.Background(), rec.ID)
	require.NoError(t, err)

	events, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.Stop(rec.ID))

	select {
	case e := <-events:
		assert.Equal(t, EventSessionExited, e.Kind)
		assert.False(t, e.Crashed)
	case <-time.After(2 * time.Second):
		t.Fatal("no exit event")
	}
}

func TestExitHandler_RebootSentinelRespawns(t *testing.T) {
	port := freePort(t)
	s, rec, ls := newLaunchScheduler(t, port)

	_, err := s.Launch(context.Background(), rec.ID)
	require.NoError(t, err)

	sess, ok := s.sessions.get(rec.ID)
	require.True(t, ok)

	events, cancel := s.Subscribe()
	defer cancel()

	// The payload's manager asks for a controlled restart.
	require.NoError(t, os.WriteFile(filepath.Join(sess.TempDir, rebootSentinelName), nil, 0644))
	first := ls.last()
	first.exit()

	require.Eventually(t, func() bool {
		return ls.count() == 2 && sess.Handle() != ProcessHandle(first)
	}, 2*time.Second, 10*time.Millisecond, "expected a respawn")

	// The respawn carries the session temp dir too.
	assert.Equal(t, sess.TempDir, ls.specs[1].Env[sessionDirEnvVar])

	// Session survived; no exit event fired.
	_, running := s.sessions.get(rec.ID)
	assert.True(t, running)
	select {
	case e := <-events:
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(200 * time.Millisecond):
	}

	// The sentinel is consumed: the next exit tears down for real.
	require.NoError(t, s.Stop(rec.ID))
	select {
	case e := <-events:
		assert.Equal(t, EventSessionExited, e.Kind)
		assert.False(t, e.Crashed)
	case <-time.After(2 * time.Second):
		t.Fatal("no exit event after stop")
	}
}

func TestLaunch_Remote(t *testing.T) {
	p := &stubPlugin{id: "remote", category: source.CategoryRemote, launch: &source.LaunchCommand{
		Remote: true,
		URL:    "http://10.0.0.5:8188",
		Port:   8188,
	}}
	s := newTestScheduler(t, p)
	rec := addRecord(t, s, &registry.Record{
		Name: "Studio box", SourceID: "remote", Status: registry.StatusInstalled, CreatedAt: time.Now(),
	})

	result, err := s.Launch(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, "http://10.0.0.5:8188", result.URL)

	require.NoError(t, s.Stop(rec.ID))
	_, running := s.sessions.get(rec.ID)
	assert.False(t, running)
}

func TestExplicitPortArg(t *testing.T) {
	tests := []struct {
		args string
		want int
		ok   bool
	}{
		{"", 0, false},
		{"--cpu", 0, false},
		{"--port 8288", 8288, true},
		{"--port=9000", 9000, true},
		{"--cpu --port 8288 --disable-auto-launch", 8288, true},
		{"--port", 0, false},
		{"--port notanumber", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			ok, port := explicitPortArg(tt.args)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, port)
		})
	}
}

func TestPortInUseOutput(t *testing.T) {
	assert.True(t, portInUseOutput("OSError: [Errno 98] Address already in use"))
	assert.True(t, portInUseOutput("error while attempting to bind on address ('127.0.0.1', 8188)"))
	assert.True(t, portInUseOutput("Only one usage of each socket address is normally permitted"))
	assert.False(t, portInUseOutput("To see the GUI go to: http://127.0.0.1:8188"))
}
