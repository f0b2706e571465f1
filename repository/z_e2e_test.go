package repository

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// e2e tests run against real local git repositories served over
// file:// urls. temp dirs are created directly under the system temp
// root because remote urls are normalised to lower case.

func newE2ERoot(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git executable not found in PATH")
	}
	root, err := os.MkdirTemp("", "archive-org-e2e-*")
	if err != nil {
		t.Fatalf("unable to create temp root: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(root) })
	return root
}

func mustGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

func commitFile(t *testing.T, dir, file, content, msg string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0644); err != nil {
		t.Fatalf("unable to write file: %v", err)
	}
	mustGit(t, dir, "add", file)
	mustGit(t, dir, "commit", "-m", msg)
}

func newUpstream(t *testing.T, root, defaultBranch string) string {
	t.Helper()
	upstream := filepath.Join(root, "upstream")
	if err := os.MkdirAll(upstream, 0755); err != nil {
		t.Fatalf("unable to create upstream dir: %v", err)
	}
	mustGit(t, upstream, "init", "-b", defaultBranch)
	return upstream
}

func newTestRepo(t *testing.T, root, upstream, defaultBranch string) *Repository {
	t.Helper()
	envs := []string{"PATH=" + os.Getenv("PATH")}
	repo, err := New(Config{
		Remote:        "file://" + upstream,
		Dir:           filepath.Join(root, "archive", "repo"),
		DefaultBranch: defaultBranch,
	}, envs, slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return repo
}

func TestSyncE2E_freshMirrorAndIdempotence(t *testing.T) {
	root := newE2ERoot(t)
	upstream := newUpstream(t, root, "main")
	commitFile(t, upstream, "readme.md", "widgets", "initial commit")
	mustGit(t, upstream, "branch", "feature-x")

	repo := newTestRepo(t, root, upstream, "main")
	ctx := context.Background()

	res, err := repo.Sync(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Mirrored {
		t.Errorf("expected fresh run to create the mirror")
	}
	if len(res.BranchErrors) != 0 {
		t.Fatalf("unexpected branch errors: %v", res.BranchErrors)
	}

	dir := repo.Directory()

	// both remote branches must exist locally with correct tracking
	if got := mustGit(t, dir, "config", "branch.feature-x.remote"); got != "origin" {
		t.Errorf("feature-x tracking remote = %q, want origin", got)
	}
	if got := mustGit(t, dir, "config", "branch.main.remote"); got != "origin" {
		t.Errorf("main tracking remote = %q, want origin", got)
	}
	if got := mustGit(t, dir, "symbolic-ref", "--short", "HEAD"); got != "main" {
		t.Errorf("checked out branch = %q, want main", got)
	}
	if want := mustGit(t, upstream, "rev-parse", "feature-x"); mustGit(t, dir, "rev-parse", "feature-x") != want {
		t.Errorf("feature-x tip doesn't match upstream")
	}

	// second run with no upstream changes must be a no-op
	res, err = repo.Sync(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Mirrored {
		t.Errorf("second run must not re-mirror")
	}
	if len(res.Actions) != 0 {
		t.Errorf("second run emitted branch actions: %v", res.Actions)
	}
	if len(res.BranchErrors) != 0 {
		t.Errorf("second run branch errors: %v", res.BranchErrors)
	}
}

func TestSyncE2E_upstreamDriftAndRetention(t *testing.T) {
	root := newE2ERoot(t)
	upstream := newUpstream(t, root, "main")
	commitFile(t, upstream, "readme.md", "widgets", "initial commit")
	mustGit(t, upstream, "branch", "feature-x")

	repo := newTestRepo(t, root, upstream, "main")
	ctx := context.Background()

	if _, err := repo.Sync(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// upstream moves on: feature-x deleted, feature-y created, main advances
	mustGit(t, upstream, "branch", "-D", "feature-x")
	mustGit(t, upstream, "branch", "feature-y")
	commitFile(t, upstream, "changelog.md", "v2", "second commit")

	// the operator left the archive on a non-default branch
	dir := repo.Directory()
	mustGit(t, dir, "checkout", "feature-x")

	res, err := repo.Sync(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.BranchErrors) != 0 {
		t.Fatalf("unexpected branch errors: %v", res.BranchErrors)
	}

	// deleted upstream branch is retained locally
	mustGit(t, dir, "rev-parse", "--verify", "refs/heads/feature-x")

	// new upstream branch was created with tracking
	if got := mustGit(t, dir, "config", "branch.feature-y.remote"); got != "origin" {
		t.Errorf("feature-y tracking remote = %q, want origin", got)
	}

	// default branch fast-forwarded to the new tip
	if want := mustGit(t, upstream, "rev-parse", "main"); mustGit(t, dir, "rev-parse", "main") != want {
		t.Errorf("main was not fast-forwarded to upstream tip")
	}

	// originally active branch is restored
	if got := mustGit(t, dir, "symbolic-ref", "--short", "HEAD"); got != "feature-x" {
		t.Errorf("checked out branch = %q, want feature-x", got)
	}
	if res.RestoredBranch != "feature-x" {
		t.Errorf("RestoredBranch = %q, want feature-x", res.RestoredBranch)
	}
}

func TestSyncE2E_adoptsUntrackedLocalBranch(t *testing.T) {
	root := newE2ERoot(t)
	upstream := newUpstream(t, root, "main")
	commitFile(t, upstream, "readme.md", "widgets", "initial commit")

	repo := newTestRepo(t, root, upstream, "main")
	ctx := context.Background()

	if _, err := repo.Sync(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// a stale untracked local copy of a branch that also exists upstream
	dir := repo.Directory()
	mustGit(t, dir, "branch", "--no-track", "feature-z")

	mustGit(t, upstream, "checkout", "-b", "feature-z")
	commitFile(t, upstream, "feature.md", "z", "feature commit")
	mustGit(t, upstream, "checkout", "main")

	res, err := repo.Sync(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.BranchErrors) != 0 {
		t.Fatalf("unexpected branch errors: %v", res.BranchErrors)
	}

	var adopted bool
	for _, a := range res.Actions {
		if a.Op == OpAdoptLocal && a.Branch == "feature-z" {
			adopted = true
		}
	}
	if !adopted {
		t.Errorf("expected adopt action for feature-z, got %v", res.Actions)
	}

	// local tip overwritten to match remote and tracking link set
	if want := mustGit(t, upstream, "rev-parse", "feature-z"); mustGit(t, dir, "rev-parse", "feature-z") != want {
		t.Errorf("feature-z was not overwritten to the remote tip")
	}
	if got := mustGit(t, dir, "config", "branch.feature-z.remote"); got != "origin" {
		t.Errorf("feature-z tracking remote = %q, want origin", got)
	}
}

func TestSyncE2E_detachedHeadConverges(t *testing.T) {
	root := newE2ERoot(t)
	upstream := newUpstream(t, root, "main")
	commitFile(t, upstream, "readme.md", "widgets", "initial commit")

	repo := newTestRepo(t, root, upstream, "main")
	ctx := context.Background()

	if _, err := repo.Sync(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// the operator left the archive on a detached HEAD
	dir := repo.Directory()
	mustGit(t, dir, "checkout", "--detach", "HEAD")

	commitFile(t, upstream, "changelog.md", "v2", "second commit")

	res, err := repo.Sync(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.BranchErrors) != 0 {
		t.Fatalf("unexpected branch errors: %v", res.BranchErrors)
	}

	// the default branch ref itself must converge on the upstream tip,
	// not a floating commit
	if want := mustGit(t, upstream, "rev-parse", "main"); mustGit(t, dir, "rev-parse", "refs/heads/main") != want {
		t.Errorf("refs/heads/main was not fast-forwarded to upstream tip")
	}

	// a detached archive is left on the default branch
	if got := mustGit(t, dir, "symbolic-ref", "--short", "HEAD"); got != "main" {
		t.Errorf("checked out branch = %q, want main", got)
	}
	if res.RestoredBranch != "main" {
		t.Errorf("RestoredBranch = %q, want main", res.RestoredBranch)
	}
}

func TestSyncE2E_emptyRemote(t *testing.T) {
	root := newE2ERoot(t)
	upstream := newUpstream(t, root, "main")

	repo := newTestRepo(t, root, upstream, "main")

	res, err := repo.Sync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Mirrored {
		t.Errorf("expected mirror to be created for empty remote")
	}
	if len(res.Actions) != 0 {
		t.Errorf("expected no actions for empty remote, got %v", res.Actions)
	}
}

func TestSyncE2E_aliasDiscovery(t *testing.T) {
	root := newE2ERoot(t)
	upstream := newUpstream(t, root, "main")
	commitFile(t, upstream, "readme.md", "widgets", "initial commit")

	// archive created manually with a non-default remote alias
	dir := filepath.Join(root, "archive", "repo")
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mustGit(t, filepath.Dir(dir), "clone", "--origin", "mirror", "file://"+upstream, dir)

	mustGit(t, upstream, "branch", "feature-x")

	repo := newTestRepo(t, root, upstream, "main")

	res, err := repo.Sync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Mirrored {
		t.Errorf("pre-existing archive must not be re-mirrored")
	}
	if len(res.BranchErrors) != 0 {
		t.Fatalf("unexpected branch errors: %v", res.BranchErrors)
	}

	// new branch must track the discovered alias, not 'origin'
	if got := mustGit(t, dir, "config", "branch.feature-x.remote"); got != "mirror" {
		t.Errorf("feature-x tracking remote = %q, want mirror", got)
	}
}
