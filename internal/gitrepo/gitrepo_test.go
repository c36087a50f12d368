package gitrepo

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestDirIsPartitionedBySlug(t *testing.T) {
	m, err := New(t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	a := m.Dir("site")
	b := m.Dir("other")
	if a == b {
		t.Fatal("expected distinct directories per slug")
	}
	if filepath.Base(a) != "site" {
		t.Fatalf("expected directory named by slug, got %s", a)
	}
}

func TestIsShallow(t *testing.T) {
	gitDir := t.TempDir()
	if isShallow(gitDir) {
		t.Fatal("expected non-shallow without marker file")
	}
	if err := os.WriteFile(filepath.Join(gitDir, "shallow"), []byte("deadbeef\n"), 0o644); err != nil {
		t.Fatalf("write shallow marker: %v", err)
	}
	if !isShallow(gitDir) {
		t.Fatal("expected shallow with marker file")
	}
}

func TestRemoveRefusesEmptySlug(t *testing.T) {
	m, err := New(t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := m.Remove(""); err == nil {
		t.Fatal("expected error for empty slug")
	}
}

// The remaining tests drive a real git binary against local repositories.

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v: %s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

func newOrigin(t *testing.T) string {
	t.Helper()
	origin := t.TempDir()
	runGit(t, origin, "init", "-b", "main")
	if err := os.WriteFile(filepath.Join(origin, "index.html"), []byte("v1\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	runGit(t, origin, "add", ".")
	runGit(t, origin, "commit", "-m", "initial")
	return origin
}

func TestEnsureRepoClonesThenUpdates(t *testing.T) {
	requireGit(t)
	origin := newOrigin(t)
	m, err := New(t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := context.Background()
	dir, err := m.EnsureRepo(ctx, origin, "site", "main")
	if err != nil {
		t.Fatalf("first EnsureRepo failed: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(dir, "index.html"))
	if err != nil || string(content) != "v1\n" {
		t.Fatalf("expected cloned tree, got %q err %v", content, err)
	}

	// Advance origin and dirty the working tree; the second ensure must
	// fetch the new tip and discard the local edit without re-cloning.
	if err := os.WriteFile(filepath.Join(origin, "index.html"), []byte("v2\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	runGit(t, origin, "commit", "-am", "second")
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("local edit\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	marker := filepath.Join(dir, ".ensure-marker")
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	dir2, err := m.EnsureRepo(ctx, origin, "site", "main")
	if err != nil {
		t.Fatalf("second EnsureRepo failed: %v", err)
	}
	if dir2 != dir {
		t.Fatalf("expected stable working directory, got %s and %s", dir, dir2)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatal("expected update in place, directory was re-created")
	}
	content, err = os.ReadFile(filepath.Join(dir, "index.html"))
	if err != nil || string(content) != "v2\n" {
		t.Fatalf("expected remote tip after reset, got %q err %v", content, err)
	}
}

func TestEnsureRepoSwitchesBranch(t *testing.T) {
	requireGit(t)
	origin := newOrigin(t)
	m, err := New(t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := context.Background()
	dir, err := m.EnsureRepo(ctx, origin, "site", "main")
	if err != nil {
		t.Fatalf("EnsureRepo main failed: %v", err)
	}

	// Branch created on origin after the initial clone.
	runGit(t, origin, "checkout", "-b", "dev")
	if err := os.WriteFile(filepath.Join(origin, "index.html"), []byte("dev\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	runGit(t, origin, "commit", "-am", "dev change")
	runGit(t, origin, "checkout", "main")

	if _, err := m.EnsureRepo(ctx, origin, "site", "dev"); err != nil {
		t.Fatalf("EnsureRepo dev failed: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(dir, "index.html"))
	if err != nil || string(content) != "dev\n" {
		t.Fatalf("expected dev branch tree, got %q err %v", content, err)
	}
}

func TestEnsureRepoMissingBranchFails(t *testing.T) {
	requireGit(t)
	origin := newOrigin(t)
	m, err := New(t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, err := m.EnsureRepo(context.Background(), origin, "site", "does-not-exist"); err == nil {
		t.Fatal("expected error for nonexistent branch")
	}
}
