// Package logstream accumulates per-installation operation output and
// persists logs for failed operations. Output is streamed to temporary
// files on disk to avoid unbounded memory usage.
package logstream

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FailedOperation holds log information for a failed operation.
type FailedOperation struct {
	InstallationID   string
	InstallationName string
	Action           string
	Error            error
	Output           string // all accumulated output lines joined
}

type operationMeta struct {
	installationName string
	action           string
}

// Store accumulates output per installation and keeps logs for failed
// operations.
type Store struct {
	baseDir    string
	sessionID  string
	sessionDir string
	mu         sync.Mutex
	dirCreated bool
	writers    map[string]*os.File
	metadata   map[string]*operationMeta
	failed     map[string]error
}

// NewStore creates a Store with a new session under baseDir.
func NewStore(baseDir string) (*Store, error) {
	sessionID := time.Now().Format("20060102T150405")
	return &Store{
		baseDir:    baseDir,
		sessionID:  sessionID,
		sessionDir: filepath.Join(baseDir, sessionID),
		writers:    make(map[string]*os.File),
		metadata:   make(map[string]*operationMeta),
		failed:     make(map[string]error),
	}, nil
}

func tmpFilename(installationID string) string {
	return ".tmp_" + installationID
}

// ensureSessionDir creates the session directory lazily.
// Must be called with s.mu held.
func (s *Store) ensureSessionDir() error {
	if s.dirCreated {
		return nil
	}
	if err := os.MkdirAll(s.sessionDir, 0755); err != nil {
		return fmt.Errorf("failed to create log session directory: %w", err)
	}
	s.dirCreated = true
	return nil
}

// RecordStart records the start of an action for an installation.
func (s *Store) RecordStart(installationID, installationName, action string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Close previous writer if exists (retry of the same id).
	if f, ok := s.writers[installationID]; ok {
		f.Close()
		os.Remove(f.Name())
	}

	if err := s.ensureSessionDir(); err != nil {
		slog.Warn("failed to create log session directory", "error", err)
		return
	}

	tmpPath := filepath.Join(s.sessionDir, tmpFilename(installationID))
	f, err := os.Create(tmpPath)
	if err != nil {
		slog.Warn("failed to create log temp file", "path", tmpPath, "error", err)
		return
	}

	s.writers[installationID] = f
	s.metadata[installationID] = &operationMeta{
		installationName: installationName,
		action:           action,
	}
}

// RecordOutput appends an output line, streaming directly to disk.
func (s *Store) RecordOutput(installationID, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.writers[installationID]; ok {
		if _, err := fmt.Fprintln(f, line); err != nil {
			slog.Warn("failed to write log output", "installation", installationID, "error", err)
		}
	}
}

// RecordError marks an operation as failed.
func (s *Store) RecordError(installationID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[installationID] = err
}

// RecordComplete marks an operation as successful, removing its
// temporary file.
func (s *Store) RecordComplete(installationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.writers[installationID]; ok {
		tmpPath := f.Name()
		f.Close()
		os.Remove(tmpPath)
		delete(s.writers, installationID)
	}
	delete(s.metadata, installationID)
	delete(s.failed, installationID)
}

// readTmpFile reads the accumulated output for an installation.
// Must be called with s.mu held.
func (s *Store) readTmpFile(installationID string) (string, error) {
	f, ok := s.writers[installationID]
	if !ok {
		return "", nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FailedOperations returns information about all failed operations.
func (s *Store) FailedOperations() []FailedOperation {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []FailedOperation
	for id, opErr := range s.failed {
		meta := s.metadata[id]
		if meta == nil {
			continue
		}
		output, _ := s.readTmpFile(id)
		result = append(result, FailedOperation{
			InstallationID:   id,
			InstallationName: meta.installationName,
			Action:           meta.action,
			Error:            opErr,
			Output:           output,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].InstallationName < result[j].InstallationName
	})
	return result
}

// Flush writes log files for all failed operations to disk.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.failed) == 0 {
		return nil
	}

	var errs []error
	for id, opErr := range s.failed {
		meta := s.metadata[id]
		if meta == nil {
			continue
		}
		output, err := s.readTmpFile(id)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to read tmp log for %s: %w", id, err))
			continue
		}

		content := buildLogContent(id, meta, opErr, output)
		logPath := filepath.Join(s.sessionDir, fmt.Sprintf("%s_%s.log", meta.action, id))
		if err := os.WriteFile(logPath, []byte(content), 0644); err != nil {
			errs = append(errs, fmt.Errorf("failed to write log for %s: %w", id, err))
		}
	}

	s.cleanupTmpFiles()

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Close closes all open temporary files and removes them, dropping the
// session directory when it holds no flushed logs.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupTmpFiles()
	if s.dirCreated {
		s.removeIfEmpty()
	}
}

// cleanupTmpFiles closes and removes all temporary files.
// Must be called with s.mu held.
func (s *Store) cleanupTmpFiles() {
	for id, f := range s.writers {
		tmpPath := f.Name()
		f.Close()
		os.Remove(tmpPath)
		delete(s.writers, id)
	}
}

// removeIfEmpty removes the session directory when it has no .log files.
// Must be called with s.mu held.
func (s *Store) removeIfEmpty() {
	dirents, err := os.ReadDir(s.sessionDir)
	if err != nil {
		return
	}
	for _, e := range dirents {
		if strings.HasSuffix(e.Name(), ".log") {
			return
		}
	}
	os.RemoveAll(s.sessionDir)
}

// SessionDir returns the path to the current session directory.
func (s *Store) SessionDir() string {
	return s.sessionDir
}

// Cleanup removes old session directories, keeping the most recent
// keepSessions.
func (s *Store) Cleanup(keepSessions int) error {
	dirents, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read logs directory: %w", err)
	}

	var dirs []os.DirEntry
	for _, e := range dirents {
		if e.IsDir() {
			dirs = append(dirs, e)
		}
	}
	if len(dirs) <= keepSessions {
		return nil
	}

	// Timestamp names sort chronologically.
	sort.Slice(dirs, func(i, j int) bool {
		return dirs[i].Name() < dirs[j].Name()
	})
	for _, d := range dirs[:len(dirs)-keepSessions] {
		dirPath := filepath.Join(s.baseDir, d.Name())
		if err := os.RemoveAll(dirPath); err != nil {
			return fmt.Errorf("failed to remove old session %s: %w", d.Name(), err)
		}
	}
	return nil
}

func buildLogContent(id string, meta *operationMeta, err error, output string) string {
	var b strings.Builder
	fmt.Fprintln(&b, "# hangar operation log")
	fmt.Fprintf(&b, "# Installation: %s (%s)\n", meta.installationName, id)
	fmt.Fprintf(&b, "# Action: %s\n", meta.action)
	fmt.Fprintf(&b, "# Timestamp: %s\n", time.Now().Format(time.RFC3339))
	if err != nil {
		fmt.Fprintf(&b, "# Error: %v\n", err)
	}
	b.WriteByte('\n')
	b.WriteString(output)
	return b.String()
}
