// Package git provides the repository checkout used by pipeline jobs.
package git

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	appcfg "git.home.luguber.info/inful/matrixci/internal/config"
	"git.home.luguber.info/inful/matrixci/internal/logfields"
)

// Client handles Git operations.
type Client struct {
	shallowDepth int
}

// NewClient creates a new Git client.
func NewClient() *Client { return &Client{} }

// WithShallowDepth sets the clone depth (0 means full history).
func (c *Client) WithShallowDepth(depth int) *Client { c.shallowDepth = depth; return c }

// Checkout clones the repository into dir at the given branch and, when
// commit is non-empty, hard-resets the worktree to that commit. Each job
// checks out into its own directory; checkouts are never shared.
func (c *Client) Checkout(ctx context.Context, repo appcfg.Repository, dir, commit string) (string, error) {
	slog.Debug("Checking out repository",
		logfields.URL(repo.URL), logfields.Branch(repo.Branch), logfields.Commit(commit), logfields.Path(dir))

	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("failed to remove existing directory: %w", err)
	}

	cloneOptions := &git.CloneOptions{URL: repo.URL}
	if repo.Branch != "" {
		cloneOptions.ReferenceName = plumbing.ReferenceName("refs/heads/" + repo.Branch)
		cloneOptions.SingleBranch = true
	}
	// A pinned commit needs history to reset to; shallow clones only apply
	// to branch-tip checkouts.
	if c.shallowDepth > 0 && commit == "" {
		cloneOptions.Depth = c.shallowDepth
	}
	if repo.Auth != nil {
		auth, err := createAuth(repo.Auth)
		if err != nil {
			return "", fmt.Errorf("failed to setup authentication: %w", err)
		}
		cloneOptions.Auth = auth
	}

	repository, err := git.PlainCloneContext(ctx, dir, false, cloneOptions)
	if err != nil {
		return "", classifyCloneError(repo.URL, err)
	}

	head := ""
	if commit != "" {
		wt, werr := repository.Worktree()
		if werr != nil {
			return "", fmt.Errorf("failed to open worktree: %w", werr)
		}
		if err := wt.Reset(&git.ResetOptions{Commit: plumbing.NewHash(commit), Mode: git.HardReset}); err != nil {
			return "", fmt.Errorf("failed to reset to commit %s: %w", commit, err)
		}
		head = commit
	} else if ref, herr := repository.Head(); herr == nil {
		head = ref.Hash().String()
	}

	short := head
	if len(short) > 8 {
		short = short[:8]
	}
	slog.Info("Repository checked out", logfields.URL(repo.URL), logfields.Commit(short), logfields.Path(dir))
	return head, nil
}

// HeadCommit returns the HEAD hash of an existing checkout.
func HeadCommit(dir string) (string, error) {
	repository, err := git.PlainOpen(dir)
	if err != nil {
		return "", fmt.Errorf("failed to open repository at %s: %w", dir, err)
	}
	ref, err := repository.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// IsCheckout reports whether dir contains a git checkout.
func IsCheckout(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// classifyCloneError wraps underlying go-git errors into typed failures so
// callers can distinguish causes without string parsing.
func classifyCloneError(url string, err error) error {
	l := strings.ToLower(err.Error())
	if strings.Contains(l, "authentication") || strings.Contains(l, "auth fail") || strings.Contains(l, "invalid username or password") {
		return &AuthError{Op: "checkout", URL: url, Err: err}
	}
	if strings.Contains(l, "not found") || strings.Contains(l, "repository does not exist") {
		return &NotFoundError{Op: "checkout", URL: url, Err: err}
	}
	if strings.Contains(l, "unsupported protocol") || strings.Contains(l, "protocol not supported") {
		return &UnsupportedProtocolError{Op: "checkout", URL: url, Err: err}
	}
	if strings.Contains(l, "rate limit") || strings.Contains(l, "too many requests") {
		return &RateLimitError{Op: "checkout", URL: url, Err: err}
	}
	if strings.Contains(l, "timeout") || strings.Contains(l, "i/o timeout") {
		return &NetworkTimeoutError{Op: "checkout", URL: url, Err: err}
	}
	return fmt.Errorf("failed to checkout repository %s: %w", url, err)
}
