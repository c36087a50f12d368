package gitrepo

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kpndevrootentri/ShipEntri/internal/fault"
)

// remoteRefspec makes every remote branch discoverable even when the initial
// clone was shallow and single-branch.
const remoteRefspec = "+refs/heads/*:refs/remotes/origin/*"

// Manager owns one working directory per project slug under a common root.
// Directories are created on first deploy and updated in place afterwards.
type Manager struct {
	root   string
	logger *slog.Logger
}

// New ensures the projects root exists and is accessible.
func New(root string, logger *slog.Logger) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("projects root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create projects root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{root: root, logger: logger}, nil
}

// Dir returns the working directory for a slug without touching the disk.
func (m *Manager) Dir(slug string) string {
	return filepath.Join(m.root, slug)
}

// EnsureRepo returns a working directory whose tree matches the remote tip of
// branch. The first call clones; later calls fetch, switch branch if needed
// and hard-reset, discarding local edits. Safe to repeat.
func (m *Manager) EnsureRepo(ctx context.Context, repoURL, slug, branch string) (string, error) {
	if strings.TrimSpace(repoURL) == "" {
		return "", fault.New(fault.KindCloneFailed, "repository URL cannot be empty")
	}
	if strings.TrimSpace(slug) == "" {
		return "", fault.New(fault.KindCloneFailed, "slug cannot be empty")
	}
	if strings.TrimSpace(branch) == "" {
		branch = "main"
	}

	dir := m.Dir(slug)
	gitDir := filepath.Join(dir, ".git")
	if _, err := os.Stat(gitDir); err != nil {
		if !os.IsNotExist(err) {
			return "", fault.Wrap(fault.KindCloneFailed, "stat git directory", err)
		}
		if err := m.clone(ctx, repoURL, dir, branch); err != nil {
			return "", err
		}
		return dir, nil
	}
	if err := m.update(ctx, dir, gitDir, branch); err != nil {
		return "", err
	}
	return dir, nil
}

// Remove deletes the working directory for a slug. Called when the owning
// project is deleted.
func (m *Manager) Remove(slug string) error {
	if strings.TrimSpace(slug) == "" {
		return fmt.Errorf("slug cannot be empty")
	}
	dir := m.Dir(slug)
	rel, err := filepath.Rel(m.root, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to remove path outside projects root")
	}
	return os.RemoveAll(dir)
}

func (m *Manager) clone(ctx context.Context, repoURL, dir, branch string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fault.Wrap(fault.KindCloneFailed, "create working directory", err)
	}
	if out, err := m.git(ctx, dir, "clone", "--branch", branch, repoURL, "."); err != nil {
		// Leave no half-cloned directory behind so the next attempt clones fresh.
		_ = os.RemoveAll(dir)
		return fault.Wrap(fault.KindCloneFailed, fmt.Sprintf("git clone failed: %s", out), err)
	}
	m.logger.Info("repository cloned", "dir", dir, "branch", branch)
	return nil
}

func (m *Manager) update(ctx context.Context, dir, gitDir, branch string) error {
	if out, err := m.git(ctx, dir, "config", "remote.origin.fetch", remoteRefspec); err != nil {
		return fault.Wrap(fault.KindCloneFailed, fmt.Sprintf("set fetch refspec failed: %s", out), err)
	}

	fetchArgs := []string{"fetch", "--prune", "origin"}
	if isShallow(gitDir) {
		fetchArgs = []string{"fetch", "--unshallow", "--prune", "origin"}
	}
	if out, err := m.git(ctx, dir, fetchArgs...); err != nil {
		return fault.Wrap(fault.KindCloneFailed, fmt.Sprintf("git fetch failed: %s", out), err)
	}

	if _, err := m.git(ctx, dir, "checkout", branch); err != nil {
		// Branch unknown locally: create a tracking branch from the remote.
		if out, err := m.git(ctx, dir, "checkout", "-b", branch, "--track", "origin/"+branch); err != nil {
			return fault.Wrap(fault.KindCloneFailed, fmt.Sprintf("git checkout %s failed: %s", branch, out), err)
		}
	}

	if out, err := m.git(ctx, dir, "reset", "--hard", "origin/"+branch); err != nil {
		return fault.Wrap(fault.KindCloneFailed, fmt.Sprintf("git reset failed: %s", out), err)
	}
	m.logger.Info("repository updated", "dir", dir, "branch", branch)
	return nil
}

func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	// Prevent git from prompting for credentials interactively.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(output)), err
}

// isShallow reports whether the repository was cloned with a depth limit.
func isShallow(gitDir string) bool {
	info, err := os.Stat(filepath.Join(gitDir, "shallow"))
	return err == nil && !info.IsDir()
}
