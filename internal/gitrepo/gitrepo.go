// Package gitrepo wraps go-git for the operations the launcher needs:
// cloning payloads and extensions, pinning them to commits or tags, and
// describing the current checkout.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// CloneOptions configures clone behavior.
type CloneOptions struct {
	// Branch to checkout (default branch when empty).
	Branch string
	// Depth for shallow clone (0 = full clone).
	Depth int
}

// Clone clones url into destPath, creating parent directories.
func Clone(ctx context.Context, url, destPath string, opts *CloneOptions) error {
	slog.Debug("cloning repository", "url", url, "dest", destPath)

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	cloneOpts := &git.CloneOptions{URL: url}
	if opts != nil {
		if opts.Depth > 0 {
			cloneOpts.Depth = opts.Depth
			cloneOpts.SingleBranch = true
		}
		if opts.Branch != "" {
			cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(opts.Branch)
			cloneOpts.SingleBranch = true
		}
	}

	if _, err := git.PlainCloneContext(ctx, destPath, false, cloneOpts); err != nil {
		if errors.Is(err, git.ErrRepositoryAlreadyExists) {
			return fmt.Errorf("repository already exists at %s: %w", destPath, err)
		}
		return fmt.Errorf("failed to clone repository: %w", err)
	}
	return nil
}

// CloneAtCommit clones url and pins the worktree to commit. Restores use
// this to reproduce an extension exactly as captured.
func CloneAtCommit(ctx context.Context, url, destPath, commit string) error {
	if err := Clone(ctx, url, destPath, nil); err != nil {
		return err
	}
	if commit == "" {
		return nil
	}
	if err := Checkout(destPath, commit); err != nil {
		// A half-pinned clone is worse than none.
		_ = os.RemoveAll(destPath)
		return err
	}
	return nil
}

// Checkout moves the worktree at repoPath to a commit hash or tag.
func Checkout(repoPath, rev string) error {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}
	w, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return fmt.Errorf("failed to resolve %q: %w", rev, err)
	}
	if err := w.Checkout(&git.CheckoutOptions{Hash: *hash}); err != nil {
		return fmt.Errorf("failed to checkout %s: %w", rev, err)
	}

	slog.Debug("checked out revision", "path", repoPath, "rev", rev, "hash", hash.String())
	return nil
}

// Pull fast-forwards the repository at repoPath. An up-to-date tree is
// not an error.
func Pull(ctx context.Context, repoPath string) error {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}
	w, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := w.PullContext(ctx, &git.PullOptions{}); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		return fmt.Errorf("failed to pull: %w", err)
	}
	return nil
}

// HeadInfo describes the current checkout of a repository.
type HeadInfo struct {
	Commit    string    `json:"commit"`
	Branch    string    `json:"branch,omitempty"`
	RemoteURL string    `json:"remoteUrl,omitempty"`
	When      time.Time `json:"when"`
}

// Head returns commit, branch and origin URL for the repository at path.
func Head(path string) (*HeadInfo, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD: %w", err)
	}

	info := &HeadInfo{Commit: ref.Hash().String()}
	if ref.Name().IsBranch() {
		info.Branch = ref.Name().Short()
	}

	if commit, err := repo.CommitObject(ref.Hash()); err == nil {
		info.When = commit.Author.When
	}
	if remote, err := repo.Remote("origin"); err == nil && len(remote.Config().URLs) > 0 {
		info.RemoteURL = remote.Config().URLs[0]
	}
	return info, nil
}

// Exists reports whether a git repository exists at path.
func Exists(path string) bool {
	_, err := git.PlainOpen(path)
	return err == nil
}

// CommitsAhead counts commits on HEAD that are not reachable from rev.
// Used to render "<tag> + N commits" for checkouts past a release tag.
func CommitsAhead(path, rev string) (int, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return 0, fmt.Errorf("failed to read HEAD: %w", err)
	}
	base, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %q: %w", rev, err)
	}
	if head.Hash() == *base {
		return 0, nil
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return 0, fmt.Errorf("failed to walk history: %w", err)
	}
	defer iter.Close()

	count := 0
	for {
		c, err := iter.Next()
		if err != nil {
			break
		}
		if c.Hash == *base {
			return count, nil
		}
		count++
		if count > 10000 {
			break
		}
	}
	// rev is not an ancestor of HEAD; ahead count is meaningless.
	return 0, nil
}
