package logstream

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SuccessLeavesNothing(t *testing.T) {
	base := t.TempDir()
	s, err := NewStore(base)
	require.NoError(t, err)

	s.RecordStart("id-1", "Build A", "install")
	s.RecordOutput("id-1", "downloading")
	s.RecordOutput("id-1", "extracting")
	s.RecordComplete("id-1")
	require.NoError(t, s.Flush())
	s.Close()

	assert.NoDirExists(t, s.SessionDir())
}

func TestStore_FailurePersistsLog(t *testing.T) {
	base := t.TempDir()
	s, err := NewStore(base)
	require.NoError(t, err)

	s.RecordStart("id-1", "Build A", "install")
	s.RecordOutput("id-1", "downloading")
	s.RecordOutput("id-1", "error: disk full")
	s.RecordError("id-1", fmt.Errorf("install failed"))

	failed := s.FailedOperations()
	require.Len(t, failed, 1)
	assert.Equal(t, "Build A", failed[0].InstallationName)
	assert.Equal(t, "install", failed[0].Action)
	assert.Contains(t, failed[0].Output, "disk full")

	require.NoError(t, s.Flush())
	s.Close()

	logs, err := ReadSession(s.SessionDir())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Content, "# hangar operation log")
	assert.Contains(t, logs[0].Content, "Build A")
	assert.Contains(t, logs[0].Content, "install failed")
	assert.Contains(t, logs[0].Content, "disk full")
}

func TestStore_RetryReplacesOutput(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	s.RecordStart("id-1", "Build A", "install")
	s.RecordOutput("id-1", "first attempt")
	s.RecordStart("id-1", "Build A", "install")
	s.RecordOutput("id-1", "second attempt")
	s.RecordError("id-1", fmt.Errorf("boom"))

	failed := s.FailedOperations()
	require.Len(t, failed, 1)
	assert.NotContains(t, failed[0].Output, "first attempt")
	assert.Contains(t, failed[0].Output, "second attempt")
}

func TestStore_CompleteClearsEarlierFailure(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	s.RecordStart("id-1", "Build A", "launch")
	s.RecordError("id-1", fmt.Errorf("transient"))
	s.RecordComplete("id-1")

	assert.Empty(t, s.FailedOperations())
	require.NoError(t, s.Flush())
}

func TestStore_Cleanup(t *testing.T) {
	base := t.TempDir()
	for _, name := range []string{
		"20260101T000000", "20260102T000000", "20260103T000000", "notasession",
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(base, name), 0755))
	}

	s, err := NewStore(base)
	require.NoError(t, err)
	require.NoError(t, s.Cleanup(3))

	assert.NoDirExists(t, filepath.Join(base, "20260101T000000"))
	assert.DirExists(t, filepath.Join(base, "20260102T000000"))
	assert.DirExists(t, filepath.Join(base, "20260103T000000"))
	assert.DirExists(t, filepath.Join(base, "notasession"))
}

func TestListSessions(t *testing.T) {
	base := t.TempDir()
	for _, name := range []string{"20260101T000000", "20260103T120000", "junk"} {
		require.NoError(t, os.MkdirAll(filepath.Join(base, name), 0755))
	}

	sessions, err := ListSessions(base)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "20260103T120000", sessions[0].ID, "newest first")
	assert.Equal(t, "20260101T000000", sessions[1].ID)
}

func TestListSessions_MissingDir(t *testing.T) {
	sessions, err := ListSessions(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Nil(t, sessions)
}
