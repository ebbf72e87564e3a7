package proc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// PortLock records which installation claimed a port and from which
// process. Lock files are advisory; staleness is decided by pid liveness.
type PortLock struct {
	PID              int       `json:"pid"`
	InstallationName string    `json:"installationName"`
	Timestamp        time.Time `json:"timestamp"`
}

// aliveProbe is swapped out in tests.
var aliveProbe = PidAlive

func portLockFile(dir string, port int) string {
	return filepath.Join(dir, fmt.Sprintf("port-%d.json", port))
}

// WritePortLock claims a port for an installation.
func WritePortLock(dir string, port int, lock PortLock) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create port lock directory: %w", err)
	}
	if lock.Timestamp.IsZero() {
		lock.Timestamp = time.Now().UTC()
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode port lock: %w", err)
	}

	path := portLockFile(dir, port)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write port lock: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write port lock: %w", err)
	}
	return nil
}

// ReadPortLock returns the lock for port, or nil when absent. Locks
// whose pid no longer exists are removed on read and treated as absent.
// Unreadable lock files are also cleaned up.
func ReadPortLock(dir string, port int) (*PortLock, error) {
	path := portLockFile(dir, port)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read port lock: %w", err)
	}

	var lock PortLock
	if err := json.Unmarshal(data, &lock); err != nil {
		slog.Warn("removing corrupt port lock", "path", path, "error", err)
		_ = os.Remove(path)
		return nil, nil
	}

	if !aliveProbe(lock.PID) {
		slog.Debug("removing stale port lock", "port", port, "pid", lock.PID)
		_ = os.Remove(path)
		return nil, nil
	}
	return &lock, nil
}

// RemovePortLock releases the port. Missing locks are not an error.
func RemovePortLock(dir string, port int) error {
	err := os.Remove(portLockFile(dir, port))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove port lock: %w", err)
	}
	return nil
}

// ActivePortLocks scans dir and returns live locks keyed by port,
// cleaning up stale ones along the way.
func ActivePortLocks(dir string) (map[int]PortLock, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[int]PortLock{}, nil
		}
		return nil, fmt.Errorf("failed to list port locks: %w", err)
	}

	locks := make(map[int]PortLock)
	for _, de := range dirents {
		name := de.Name()
		if !strings.HasPrefix(name, "port-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		port, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "port-"), ".json"))
		if err != nil {
			continue
		}
		lock, err := ReadPortLock(dir, port)
		if err != nil {
			return nil, err
		}
		if lock != nil {
			locks[port] = *lock
		}
	}
	return locks, nil
}
