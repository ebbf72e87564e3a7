package gitrepo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo builds a local repository with the given number of commits
// and returns its path plus the commit hashes in order.
func initRepo(t *testing.T, commits int) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	w, err := repo.Worktree()
	require.NoError(t, err)

	var hashes []string
	for i := 0; i < commits; i++ {
		name := filepath.Join(dir, "file.txt")
		require.NoError(t, os.WriteFile(name, []byte{byte('a' + i)}, 0644))
		_, err = w.Add("file.txt")
		require.NoError(t, err)
		h, err := w.Commit("commit", &git.CommitOptions{
			Author: &object.Signature{Name: "test", Email: "test@example.com"},
		})
		require.NoError(t, err)
		hashes = append(hashes, h.String())
	}
	return dir, hashes
}

func TestCloneAndHead(t *testing.T) {
	src, hashes := initRepo(t, 2)

	dest := filepath.Join(t.TempDir(), "clone")
	require.NoError(t, Clone(context.Background(), src, dest, nil))
	assert.True(t, Exists(dest))

	info, err := Head(dest)
	require.NoError(t, err)
	assert.Equal(t, hashes[1], info.Commit)
	assert.Equal(t, src, info.RemoteURL)
	assert.False(t, info.When.IsZero())
}

func TestClone_AlreadyExists(t *testing.T) {
	src, _ := initRepo(t, 1)
	dest := filepath.Join(t.TempDir(), "clone")

	require.NoError(t, Clone(context.Background(), src, dest, nil))
	err := Clone(context.Background(), src, dest, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestCloneAtCommit(t *testing.T) {
	src, hashes := initRepo(t, 3)

	dest := filepath.Join(t.TempDir(), "pinned")
	require.NoError(t, CloneAtCommit(context.Background(), src, dest, hashes[0]))

	info, err := Head(dest)
	require.NoError(t, err)
	assert.Equal(t, hashes[0], info.Commit)

	data, err := os.ReadFile(filepath.Join(dest, "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
}

func TestCloneAtCommit_BadRevisionCleansUp(t *testing.T) {
	src, _ := initRepo(t, 1)

	dest := filepath.Join(t.TempDir(), "pinned")
	err := CloneAtCommit(context.Background(), src, dest, "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	require.Error(t, err)
	assert.NoDirExists(t, dest)
}

func TestCheckout(t *testing.T) {
	dir, hashes := initRepo(t, 2)

	require.NoError(t, Checkout(dir, hashes[0]))
	info, err := Head(dir)
	require.NoError(t, err)
	assert.Equal(t, hashes[0], info.Commit)
	assert.Empty(t, info.Branch, "detached HEAD after checkout by hash")
}

func TestCommitsAhead(t *testing.T) {
	dir, hashes := initRepo(t, 4)

	n, err := CommitsAhead(dir, hashes[1])
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = CommitsAhead(dir, hashes[3])
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestExists(t *testing.T) {
	dir, _ := initRepo(t, 1)
	assert.True(t, Exists(dir))
	assert.False(t, Exists(t.TempDir()))
}
