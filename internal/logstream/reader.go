package logstream

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// SessionInfo describes one log session on disk.
type SessionInfo struct {
	ID        string
	Timestamp time.Time
	Dir       string
}

// OperationLog holds the content of a single flushed log file.
type OperationLog struct {
	FileName string
	Content  string
}

// ListSessions returns all sessions under baseDir, newest first.
func ListSessions(baseDir string) ([]SessionInfo, error) {
	dirents, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read logs directory: %w", err)
	}

	var sessions []SessionInfo
	for _, e := range dirents {
		if !e.IsDir() {
			continue
		}
		t, err := time.Parse("20060102T150405", e.Name())
		if err != nil {
			continue
		}
		sessions = append(sessions, SessionInfo{
			ID:        e.Name(),
			Timestamp: t,
			Dir:       filepath.Join(baseDir, e.Name()),
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Timestamp.After(sessions[j].Timestamp)
	})
	return sessions, nil
}

// ReadSession returns the flushed logs of one session, sorted by file
// name.
func ReadSession(sessionDir string) ([]OperationLog, error) {
	dirents, err := os.ReadDir(sessionDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read session directory: %w", err)
	}

	var logs []OperationLog
	for _, e := range dirents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(sessionDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read log %s: %w", e.Name(), err)
		}
		logs = append(logs, OperationLog{FileName: e.Name(), Content: string(data)})
	}

	sort.Slice(logs, func(i, j int) bool {
		return logs[i].FileName < logs[j].FileName
	})
	return logs, nil
}
