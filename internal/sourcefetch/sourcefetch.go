// Package sourcefetch wraps the version-control operations the coordinator
// and agent need — clone, resolve HEAD, rewind to a specific commit —
// behind a narrow interface. The concrete implementation uses go-git.
package sourcefetch

import (
	"context"
	"fmt"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Fetcher clones a source tree at a URL, resolves its HEAD commit, and
// rewinds an existing clone to a specific commit for reuse.
type Fetcher interface {
	// Clone destructively replaces dest with a fresh clone of url and
	// returns the resolved HEAD commit hash.
	Clone(ctx context.Context, url, dest string) (commit string, err error)
	// Rewind hard-resets the repository at dest to commit. Returns an
	// error if commit is not known locally.
	Rewind(ctx context.Context, dest, commit string) error
}

// GitFetcher is the go-git-backed Fetcher implementation.
type GitFetcher struct{}

// NewGitFetcher returns the default Fetcher.
func NewGitFetcher() *GitFetcher { return &GitFetcher{} }

// Clone removes any existing directory at dest, clones url into it, and
// resolves HEAD to a commit hash.
func (f *GitFetcher) Clone(ctx context.Context, url, dest string) (string, error) {
	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("sourcefetch: failed to clear workspace %s: %w", dest, err)
	}

	repo, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
		URL: url,
	})
	if err != nil {
		return "", fmt.Errorf("sourcefetch: clone of %s failed: %w", url, err)
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("sourcefetch: %s: failed to resolve HEAD: %w", url, err)
	}
	return head.Hash().String(), nil
}

// Rewind hard-resets the working tree at dest to commit, reusing the
// existing clone instead of cloning from scratch. Used by the agent's clone
// reuse path and the coordinator's Reinvoke.
func (f *GitFetcher) Rewind(ctx context.Context, dest, commit string) error {
	repo, err := git.PlainOpen(dest)
	if err != nil {
		return fmt.Errorf("sourcefetch: %s: not a git repository: %w", dest, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("sourcefetch: %s: failed to open worktree: %w", dest, err)
	}

	hash := plumbing.NewHash(commit)
	if hash.IsZero() {
		return fmt.Errorf("sourcefetch: %s: commit %q is not a valid hash", dest, commit)
	}
	if _, err := repo.CommitObject(hash); err != nil {
		return fmt.Errorf("sourcefetch: %s: commit %s not known locally: %w", dest, commit, err)
	}

	if err := wt.Reset(&git.ResetOptions{Commit: hash, Mode: git.HardReset}); err != nil {
		return fmt.Errorf("sourcefetch: %s: rewind to %s failed: %w", dest, commit, err)
	}
	return nil
}
