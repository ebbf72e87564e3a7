package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	hangarErrors "github.com/hangar-sh/hangar/internal/errors"
	"github.com/hangar-sh/hangar/internal/modelpaths"
	"github.com/hangar-sh/hangar/internal/proc"
	"github.com/hangar-sh/hangar/internal/progress"
	"github.com/hangar-sh/hangar/internal/registry"
	"github.com/hangar-sh/hangar/internal/source"
)

// portSearchWindow bounds the hunt for a free port above the requested
// one.
const portSearchWindow = 1000

// launchRetries is how often a launch is retried on the next free port
// when the payload itself reports the port as taken.
const launchRetries = 3

// rebootSentinelName, when present in the session temp dir, makes the
// exit handler respawn instead of tearing the session down. The
// payload's own manager writes it to request a controlled restart.
const rebootSentinelName = "reboot"

// sessionDirEnvVar tells the spawned payload where its session temp dir
// is, so its manager can write the reboot sentinel.
const sessionDirEnvVar = "HANGAR_SESSION_DIR"

// sessionEnv copies the plugin's launch environment and adds the
// session temp dir.
func sessionEnv(env map[string]string, tempDir string) map[string]string {
	out := make(map[string]string, len(env)+1)
	for k, v := range env {
		out[k] = v
	}
	out[sessionDirEnvVar] = tempDir
	return out
}

// PortConflictInfo describes an occupied launch port.
type PortConflictInfo struct {
	Port     int   `json:"port"`
	PIDs     []int `json:"pids"`
	IsComfy  bool  `json:"isComfy"`
	NextPort int   `json:"nextPort"`
}

// LaunchResult is the outcome of a launch request. OK false with a
// PortConflict means the caller should ask the user how to proceed.
type LaunchResult struct {
	OK           bool              `json:"ok"`
	Message      string            `json:"message,omitempty"`
	URL          string            `json:"url,omitempty"`
	Port         int               `json:"port,omitempty"`
	PID          int               `json:"pid,omitempty"`
	PortConflict *PortConflictInfo `json:"portConflict,omitempty"`
}

// Launch starts an installation and supervises it until the port is
// open. The operation guard covers only the startup window; the running
// session is tracked separately.
func (s *Scheduler) Launch(ctx context.Context, installationID string) (*LaunchResult, error) {
	if _, running := s.sessions.get(installationID); running {
		return nil, hangarErrors.ErrAlreadyRunning
	}

	rec, plugin, err := s.resolve(installationID)
	if err != nil {
		return nil, err
	}

	opCtx, release, err := s.guard.begin(ctx, installationID)
	if err != nil {
		return nil, err
	}
	defer release()

	if plugin.Category() == source.CategoryRemote {
		cmd, err := plugin.LaunchCommand(rec)
		if err != nil {
			return nil, err
		}
		return s.attachRemote(rec, cmd)
	}

	if rec.InstallPath == "" || effectivelyEmpty(rec.InstallPath) {
		return nil, hangarErrors.ErrInstallDirEmpty
	}

	cmd, err := plugin.LaunchCommand(rec)
	if err != nil {
		return nil, err
	}

	args := append([]string(nil), cmd.Args...)
	args = s.injectSharedPaths(rec, args)

	port := cmd.Port
	explicit, explicitPort := explicitPortArg(rec.LaunchArgs)
	if explicit {
		port = explicitPort
	}

	if !proc.IsPortFree(port) {
		if rec.PortConflict == registry.PortConflictAuto && !explicit {
			next, err := proc.FindAvailablePort(port+1, portSearchWindow)
			if err != nil {
				return nil, err
			}
			slog.Info("port occupied, moving to next free port", "port", port, "next", next)
			port = next
		} else {
			return s.portConflictResult(rec, port)
		}
	}
	args = proc.SetPortArg(args, port)

	result, err := s.spawnAndWait(opCtx, rec, cmd, args, port)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// attachRemote registers a session for a remote installation; there is
// no process to supervise.
func (s *Scheduler) attachRemote(rec *registry.Record, cmd *source.LaunchCommand) (*LaunchResult, error) {
	sess := &Session{
		InstallationID: rec.ID,
		Port:           cmd.Port,
		URL:            cmd.URL,
		Remote:         true,
	}
	if !s.sessions.add(sess) {
		return nil, hangarErrors.ErrAlreadyRunning
	}
	s.touchLastLaunched(rec.ID)
	return &LaunchResult{OK: true, URL: cmd.URL, Port: cmd.Port}, nil
}

// injectSharedPaths appends shared model/input/output directory
// arguments unless the record opts out.
func (s *Scheduler) injectSharedPaths(rec *registry.Record, args []string) []string {
	if !rec.SharedPathsEnabled() {
		return args
	}

	if roots := s.settingStrings("modelDirs"); len(roots) > 0 {
		path, err := modelpaths.Write(s.paths.DataDir(), roots)
		if err != nil {
			slog.Warn("failed to write model paths file", "error", err)
		} else if !hasArg(args, "--extra-model-paths-config") {
			args = append(args, "--extra-model-paths-config", path)
		}
	}
	if dir := s.settings.GetString("inputDir", ""); dir != "" && !hasArg(args, "--input-directory") {
		args = append(args, "--input-directory", dir)
	}
	if dir := s.settings.GetString("outputDir", ""); dir != "" && !hasArg(args, "--output-directory") {
		args = append(args, "--output-directory", dir)
	}
	return args
}

func hasArg(args []string, flag string) bool {
	for _, a := range args {
		if a == flag || strings.HasPrefix(a, flag+"=") {
			return true
		}
	}
	return false
}

// explicitPortArg reports whether the user's own launch args pin a port.
func explicitPortArg(launchArgs string) (bool, int) {
	fields := strings.Fields(launchArgs)
	for i, f := range fields {
		if f == "--port" && i+1 < len(fields) {
			var p int
			if _, err := fmt.Sscanf(fields[i+1], "%d", &p); err == nil {
				return true, p
			}
		}
		if rest, ok := strings.CutPrefix(f, "--port="); ok {
			var p int
			if _, err := fmt.Sscanf(rest, "%d", &p); err == nil {
				return true, p
			}
		}
	}
	return false, 0
}

// portConflictResult assembles the ask-the-user payload for an occupied
// port. The port-lock file decides whether the occupant is one of ours;
// the process-identity heuristic is the fallback.
func (s *Scheduler) portConflictResult(rec *registry.Record, port int) (*LaunchResult, error) {
	pids, _ := proc.FindPidsByPort(port)

	isComfy := false
	if lock, _ := proc.ReadPortLock(s.paths.PortLockDir(), port); lock != nil {
		isComfy = true
	} else {
		for _, pid := range pids {
			if info, err := proc.GetProcessInfo(pid); err == nil && proc.LooksLikePayload(info) {
				isComfy = true
				break
			}
		}
	}

	next, _ := proc.FindAvailablePort(port+1, portSearchWindow)
	return &LaunchResult{
		OK:      false,
		Message: fmt.Sprintf("Port %d is already in use.", port),
		PortConflict: &PortConflictInfo{
			Port:     port,
			PIDs:     pids,
			IsComfy:  isComfy,
			NextPort: next,
		},
	}, nil
}

// portInUseOutput matches the payload's own bind failure text.
func portInUseOutput(line string) bool {
	l := strings.ToLower(line)
	return strings.Contains(l, "address already in use") ||
		strings.Contains(l, "error while attempting to bind on address") ||
		strings.Contains(l, "only one usage of each socket address")
}

// spawnAndWait starts the payload and races port readiness against an
// early exit, retrying on the next free port when the payload reports
// the port as taken.
func (s *Scheduler) spawnAndWait(ctx context.Context, rec *registry.Record, cmd *source.LaunchCommand, args []string, port int) (*LaunchResult, error) {
	tempDir := s.paths.SessionTempDir(rec.ID)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= launchRetries; attempt++ {
		handle, portTaken, err := s.spawnOnce(ctx, rec, cmd, args, port, tempDir)
		if err == nil {
			sess := &Session{
				InstallationID: rec.ID,
				Port:           port,
				URL:            fmt.Sprintf("http://127.0.0.1:%d", port),
				TempDir:        tempDir,
			}
			sess.setHandle(handle)
			if !s.sessions.add(sess) {
				_ = handle.KillTree()
				return nil, hangarErrors.ErrAlreadyRunning
			}

			if err := proc.WritePortLock(s.paths.PortLockDir(), port, proc.PortLock{
				PID:              handle.PID(),
				InstallationName: rec.Name,
			}); err != nil {
				slog.Warn("failed to write port lock", "port", port, "error", err)
			}
			s.touchLastLaunched(rec.ID)
			go s.superviseExit(sess, rec, cmd, args)

			s.sendProgress(rec.ID, progress.PhaseLaunch, 100)
			return &LaunchResult{OK: true, URL: sess.URL, Port: port, PID: handle.PID()}, nil
		}

		lastErr = err
		if !portTaken {
			return nil, err
		}
		next, ferr := proc.FindAvailablePort(port+1, portSearchWindow)
		if ferr != nil {
			return nil, ferr
		}
		slog.Info("payload reported port in use, retrying", "port", port, "next", next, "attempt", attempt+1)
		port = next
		args = proc.SetPortArg(args, port)
	}
	return nil, lastErr
}

// spawnOnce runs a single launch attempt. portTaken reports that the
// child exited complaining about the port, which is retryable.
func (s *Scheduler) spawnOnce(ctx context.Context, rec *registry.Record, cmd *source.LaunchCommand, args []string, port int, tempDir string) (handle ProcessHandle, portTaken bool, err error) {
	sawPortClash := false
	onLine := func(line string) {
		if portInUseOutput(line) {
			sawPortClash = true
		}
		s.recordOutput(rec.ID, line)
	}

	handle, err = s.spawn(proc.Spec{
		Command:  cmd.Cmd,
		Args:     args,
		Dir:      cmd.Cwd,
		Env:      sessionEnv(cmd.Env, tempDir),
		OnStdout: onLine,
		OnStderr: onLine,
	})
	if err != nil {
		return nil, false, err
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- proc.WaitForPort(ctx, "127.0.0.1", port, proc.WaitOptions{})
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			_ = handle.KillTree()
			return nil, false, err
		}
		return handle, false, nil
	case <-handle.Done():
		// Exited before the port opened.
		if sawPortClash {
			return nil, true, fmt.Errorf("payload exited: port %d in use", port)
		}
		tail := handle.StderrTail()
		return nil, false, &hangarErrors.Error{
			Category: hangarErrors.CategoryLaunch,
			Code:     hangarErrors.CodeStartupTimeout,
			Message:  "payload exited during startup",
			Details:  map[string]any{"stderr": tail},
		}
	}
}

// superviseExit waits for the child to exit. A reboot sentinel in the
// session temp dir triggers a respawn; anything else tears the session
// down and reports whether it crashed.
func (s *Scheduler) superviseExit(sess *Session, rec *registry.Record, cmd *source.LaunchCommand, args []string) {
	for {
		handle := sess.Handle()
		if handle == nil {
			return
		}
		<-handle.Done()

		sentinel := filepath.Join(sess.TempDir, rebootSentinelName)
		if _, err := os.Stat(sentinel); err == nil && !sess.wasStopped() {
			_ = os.Remove(sentinel)
			slog.Info("reboot sentinel found, respawning", "installation", rec.ID)

			next, err := s.spawn(proc.Spec{
				Command: cmd.Cmd,
				Args:    args,
				Dir:     cmd.Cwd,
				Env:     sessionEnv(cmd.Env, sess.TempDir),
				OnStdout: func(line string) {
					s.recordOutput(rec.ID, line)
				},
				OnStderr: func(line string) {
					s.recordOutput(rec.ID, line)
				},
			})
			if err == nil {
				sess.setHandle(next)
				_ = proc.WritePortLock(s.paths.PortLockDir(), sess.Port, proc.PortLock{
					PID:              next.PID(),
					InstallationName: rec.Name,
				})
				continue
			}
			slog.Error("respawn failed", "installation", rec.ID, "error", err)
		}

		crashed := !sess.wasStopped()
		s.sessions.remove(sess.InstallationID)
		_ = proc.RemovePortLock(s.paths.PortLockDir(), sess.Port)
		s.events.publish(Event{
			Kind:           EventSessionExited,
			InstallationID: sess.InstallationID,
			Crashed:        crashed,
		})
		return
	}
}

// Stop terminates a running session.
func (s *Scheduler) Stop(installationID string) error {
	sess, ok := s.sessions.get(installationID)
	if !ok {
		return hangarErrors.UnknownInstallation(installationID)
	}
	sess.markStopped()

	if sess.Remote {
		s.sessions.remove(installationID)
		s.events.publish(Event{Kind: EventSessionExited, InstallationID: installationID})
		return nil
	}

	handle := sess.Handle()
	if handle == nil {
		s.sessions.remove(installationID)
		return nil
	}
	if err := handle.KillTree(); err != nil {
		return err
	}
	select {
	case <-handle.Done():
	case <-time.After(10 * time.Second):
		slog.Warn("process did not exit after kill", "installation", installationID)
	}
	return nil
}

func (s *Scheduler) touchLastLaunched(installationID string) {
	now := time.Now().UTC()
	_, _ = s.registry.Update(installationID, func(r *registry.Record) {
		r.LastLaunchedAt = &now
	})
}
