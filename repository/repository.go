package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/utilitywarehouse/archive-org/giturl"
	"github.com/utilitywarehouse/archive-org/internal/lock"
	"github.com/utilitywarehouse/archive-org/internal/utils"
)

const (
	// DefaultRemoteAlias is the remote name used for new mirror clones.
	// Pre-existing archives may use any alias, it is re-discovered from
	// the default branch's upstream on every run.
	DefaultRemoteAlias = "origin"
)

var (
	gitExecutablePath string

	// ErrClone indicates the initial mirror clone failed or the existing
	// repo directory is unusable. Fatal for the repository, not the batch.
	ErrClone = errors.New("unable to create mirror clone")

	// ErrSync indicates a branch-level fetch/pull failed on an existing
	// archive. The branch is left in its pre-sync state.
	ErrSync = errors.New("branch sync failed")
)

func init() {
	gitExecutablePath = exec.Command("git").String()
}

// syncState is the per-run state of the repository sync machine
type syncState string

const (
	stateUncloned syncState = "uncloned"
	stateMirrored syncState = "mirrored"
	stateSyncing  syncState = "syncing"
	stateSettled  syncState = "settled"
)

// Repository represents the local archive of one remote repository.
// The archive is a normal (non-bare) clone which tracks every remote
// branch as a local branch. Local branches and history are never
// deleted, even when the remote no longer advertises them.
// A Repository is safe for concurrent use by multiple goroutines, but
// only one sync runs at a time per repository.
type Repository struct {
	lock          lock.RWMutex // repository will be locked during sync
	gitURL        *giturl.URL  // parsed remote git URL
	remote        string       // remote repo to archive
	dir           string       // absolute path to the working mirror
	defaultBranch string       // convergence anchor branch
	auth          *Auth        // auth information for https remotes
	envs          []string     // envs which will be passed to git commands
	log           *slog.Logger
}

// BranchError is a contained branch-level failure of a sync run
type BranchError struct {
	Branch string
	Err    error
}

// Result is the outcome of one sync run
type Result struct {
	// Mirrored is true when this run created the archive from nothing
	Mirrored bool
	// Actions taken by the branch reconciler, in deterministic order.
	// empty on a re-run with no upstream changes
	Actions []Action
	// BranchErrors are branch-level failures which did not abort the run
	BranchErrors []BranchError
	// RestoredBranch is the branch checked out when the run finished,
	// the same branch that was checked out before the run began. An
	// archive found with a detached HEAD is left on the default branch
	RestoredBranch string
}

// New creates the repository archive handle for the given config.
// Nothing is touched on disk until Sync() is called.
func New(conf Config, envs []string, log *slog.Logger) (*Repository, error) {
	remoteURL := giturl.NormaliseURL(conf.Remote)

	gURL, err := giturl.Parse(remoteURL)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}
	log = log.With("repo", gURL.Repo)

	if !filepath.IsAbs(conf.Dir) {
		return nil, fmt.Errorf("repository dir '%s' must be absolute", conf.Dir)
	}

	if conf.DefaultBranch == "" {
		return nil, fmt.Errorf("default branch must be resolved before creating repository")
	}

	return &Repository{
		gitURL:        gURL,
		remote:        remoteURL,
		dir:           conf.Dir,
		defaultBranch: conf.DefaultBranch,
		auth:          &conf.Auth,
		envs:          envs,
		log:           log,
	}, nil
}

// Remote returns the remote URL of the repository
func (r *Repository) Remote() string {
	return r.remote
}

// Directory returns the local path of the working mirror
func (r *Repository) Directory() string {
	return r.dir
}

// IsCloned returns whether version-control metadata exists at the
// archive path
func (r *Repository) IsCloned() bool {
	_, err := os.Stat(filepath.Join(r.dir, ".git"))
	return err == nil
}

// Sync drives the repository to convergence with the remote:
//  1. mirror clone if the archive doesn't exist yet
//  2. establish the default branch baseline
//  3. reconcile local branches with the remote branch set
//  4. sync every tracked branch, then fetch-all and prune
//  5. restore the branch that was checked out before the run
//
// Branch-level failures are contained in the Result, only repository
// level failures are returned as error.
func (r *Repository) Sync(ctx context.Context) (*Result, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	defer updateSyncLatency(r.gitURL.Repo, time.Now())

	res := &Result{}
	err := r.sync(ctx, res)
	recordSync(r.gitURL.Repo, err == nil)
	return res, err
}

func (r *Repository) sync(ctx context.Context, res *Result) error {
	start := time.Now()

	// envs for commands which talk to the remote
	netEnvs := append(slices.Clone(r.envs), r.authEnv()...)

	state := stateSettled
	if !r.IsCloned() {
		state = stateUncloned
	}

	if state == stateUncloned {
		if err := r.mirror(ctx, netEnvs); err != nil {
			return fmt.Errorf("%w: repo:%s err:%v", ErrClone, r.gitURL.Repo, err)
		}
		res.Mirrored = true
		state = stateMirrored
		r.log.Debug("state transition", "state", state)
	}

	state = stateSyncing
	r.log.Debug("state transition", "state", state)

	if err := r.sanityCheckRepo(ctx); err != nil {
		return fmt.Errorf("repo dir failed checks path:%s err:%w", r.dir, err)
	}

	// a previous run or manual setup may have used any remote alias,
	// discover it instead of assuming a fixed name
	alias := r.trackingRemote(ctx)

	if err := r.verifyRemote(ctx, alias); err != nil {
		return err
	}

	remoteBranches, err := r.listRemoteBranches(ctx, alias, netEnvs)
	if err != nil {
		return fmt.Errorf("unable to list remote branches err:%w", err)
	}

	// an empty repository has nothing to reconcile, just keep the
	// remote-tracking view current
	if len(remoteBranches) == 0 {
		r.log.Info("remote advertises no branches, skipping reconciliation")
		args := []string{"fetch", "--all", "--prune", "--tags", "--no-progress"}
		if _, err := runGitCommand(ctx, r.log, netEnvs, r.dir, args...); err != nil {
			return fmt.Errorf("unable to fetch and prune remotes err:%w", err)
		}
		return nil
	}

	// record the branch active before this run for later restoration.
	// empty means HEAD was detached, a detached archive is left on the
	// default branch so pulls below move refs/heads/<default> and not a
	// floating commit
	prev := r.currentBranch(ctx)
	if prev == "" {
		r.log.Info("HEAD is detached, archive will be left on the default branch", "default", r.defaultBranch)
	}

	// reconciliation and branch syncs below need a known baseline
	if prev != r.defaultBranch {
		if err := r.checkoutDefault(ctx, alias, netEnvs); err != nil {
			return fmt.Errorf("unable to checkout default branch err:%w", err)
		}
	}
	defer func() {
		// restore even when the run is cancelled mid-way, a cancelled
		// ctx can't run git commands anymore
		rCtx := context.WithoutCancel(ctx)
		restored := prev
		if restored == "" {
			restored = r.defaultBranch
		}
		if restored != r.currentBranch(rCtx) {
			if _, err := runGitCommand(rCtx, r.log, r.envs, r.dir, "checkout", restored); err != nil {
				r.log.Error("unable to restore previously active branch", "branch", restored, "err", err)
				return
			}
		}
		res.RestoredBranch = restored
	}()

	localBranches, err := r.listLocalBranches(ctx)
	if err != nil {
		return fmt.Errorf("unable to list local branches err:%w", err)
	}

	res.Actions = reconcile(localBranches, remoteBranches, r.defaultBranch, alias)

	for _, action := range res.Actions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.apply(ctx, action, netEnvs); err != nil {
			r.log.Error("branch reconciliation failed", "op", action.Op, "branch", action.Branch, "err", err)
			res.BranchErrors = append(res.BranchErrors, BranchError{Branch: action.Branch, Err: err})
			continue
		}
		r.log.Info("branch reconciled", "op", action.Op, "branch", action.Branch, "ref", action.Ref)
	}

	// re-list so the sync pass sees branches created/retargeted above
	localBranches, err = r.listLocalBranches(ctx)
	if err != nil {
		return fmt.Errorf("unable to list local branches err:%w", err)
	}

	remoteNames := make(map[string]bool, len(remoteBranches))
	for _, rb := range remoteBranches {
		remoteNames[rb.Name] = true
	}

	for _, lb := range localBranches {
		if lb.Track == nil || lb.Track.RemoteAlias != alias {
			continue
		}
		// branches whose remote counterpart is gone are retained as-is
		if !remoteNames[lb.Track.RemoteBranch] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.syncBranch(ctx, lb, netEnvs); err != nil {
			r.log.Error("branch sync failed", "branch", lb.Name, "err", err)
			res.BranchErrors = append(res.BranchErrors, BranchError{
				Branch: lb.Name,
				Err:    fmt.Errorf("%w: branch:%s err:%v", ErrSync, lb.Name, err),
			})
		}
	}

	// unconditional fetch-all and prune so the remote-tracking view is
	// current and garbage-free for the next run
	args := []string{"fetch", "--all", "--prune", "--tags", "--no-progress"}
	if _, err := runGitCommand(ctx, r.log, netEnvs, r.dir, args...); err != nil {
		return fmt.Errorf("unable to fetch and prune remotes err:%w", err)
	}

	state = stateSettled
	r.log.Debug("state transition", "state", state)

	r.log.Info("sync cycle complete", "time", time.Since(start),
		"actions", len(res.Actions), "branch-errors", len(res.BranchErrors))
	return nil
}

// mirror creates the on-disk archive from nothing: a full clone with
// every remote branch tracked under the default alias, reflogs enabled
// for every ref update and the default branch checked out
func (r *Repository) mirror(ctx context.Context, netEnvs []string) error {
	parent := filepath.Dir(r.dir)
	if err := utils.EnsureDir(parent); err != nil {
		return fmt.Errorf("unable to create archive dir err:%w", err)
	}

	// never wipe a non-empty destination, the archive is append-only
	if _, err := os.Stat(r.dir); err == nil {
		if empty, err := utils.DirIsEmpty(r.dir); err != nil || !empty {
			return fmt.Errorf("destination path %s exists and is not an empty dir", r.dir)
		}
	}

	r.log.Info("creating mirror clone", "remote", r.remote, "path", r.dir)

	// git clone --origin <alias> <remote> <dir>
	if _, err := runGitCommand(ctx, r.log, netEnvs, "", "clone", "--origin", DefaultRemoteAlias, r.remote, r.dir); err != nil {
		return err
	}

	// keep reflog entries for every ref update, including the forced
	// branch adoptions done by the reconciler
	if _, err := runGitCommand(ctx, r.log, r.envs, r.dir, "config", "core.logAllRefUpdates", "always"); err != nil {
		return err
	}

	// make sure fetch tracks all remote heads under the alias
	fetchSpec := fmt.Sprintf("+refs/heads/*:refs/remotes/%s/*", DefaultRemoteAlias)
	if _, err := runGitCommand(ctx, r.log, r.envs, r.dir, "config", fmt.Sprintf("remote.%s.fetch", DefaultRemoteAlias), fetchSpec); err != nil {
		return err
	}

	if _, err := runGitCommand(ctx, r.log, netEnvs, r.dir, "fetch", DefaultRemoteAlias, "--prune", "--tags", "--no-progress"); err != nil {
		return err
	}

	// an empty remote has no default branch to check out yet
	remoteDefault := fmt.Sprintf("refs/remotes/%s/%s", DefaultRemoteAlias, r.defaultBranch)
	if _, err := runGitCommand(ctx, r.log, r.envs, r.dir, "rev-parse", "--verify", "--quiet", remoteDefault); err != nil {
		r.log.Info("remote default branch doesn't exist yet, skipping checkout", "branch", r.defaultBranch)
		return nil
	}

	// git checkout <default-branch>
	if _, err := runGitCommand(ctx, r.log, r.envs, r.dir, "checkout", r.defaultBranch); err != nil {
		return err
	}

	return nil
}

// sanityCheckRepo makes sure the existing dir is the root of a usable
// non-bare clone. The archive is never re-created on failed checks,
// that is for the operator to resolve.
func (r *Repository) sanityCheckRepo(ctx context.Context) error {
	if ok, err := runGitCommand(ctx, r.log, r.envs, r.dir, "rev-parse", "--is-inside-work-tree"); err != nil {
		return fmt.Errorf("unable to verify work tree err:%w", err)
	} else if ok != "true" {
		return fmt.Errorf("path is not inside a work tree")
	}

	// Check that this is actually the root of the repo.
	if root, err := runGitCommand(ctx, r.log, r.envs, r.dir, "rev-parse", "--show-toplevel"); err != nil {
		return fmt.Errorf("unable to get repo top level err:%w", err)
	} else if root != r.dir {
		return fmt.Errorf("repo directory is under another repo root:%s", root)
	}

	return nil
}

// trackingRemote discovers the remote alias used for tracking from the
// default branch's upstream config, falling back to the first
// configured remote and then to the default alias
func (r *Repository) trackingRemote(ctx context.Context) string {
	if alias, err := runGitCommand(ctx, r.log, r.envs, r.dir, "config", fmt.Sprintf("branch.%s.remote", r.defaultBranch)); err == nil && alias != "" {
		return alias
	}

	if out, err := runGitCommand(ctx, r.log, r.envs, r.dir, "remote"); err == nil {
		if remotes := strings.Fields(out); len(remotes) > 0 {
			return remotes[0]
		}
	}

	return DefaultRemoteAlias
}

// verifyRemote makes sure the discovered alias points at the expected
// remote repository. Drift here means the path holds some other
// repository's archive, which must never be overwritten.
func (r *Repository) verifyRemote(ctx context.Context, alias string) error {
	url, err := runGitCommand(ctx, r.log, r.envs, r.dir, "config", fmt.Sprintf("remote.%s.url", alias))
	if err != nil {
		return fmt.Errorf("unable to get remote url for alias:%s err:%w", alias, err)
	}

	if same, err := giturl.SameRawURL(url, r.remote); err != nil {
		return fmt.Errorf("unable to compare remote urls err:%w", err)
	} else if !same {
		return fmt.Errorf("repo configured with different remote url:%s expected:%s", url, r.remote)
	}
	return nil
}

// currentBranch returns the branch HEAD points at, or an empty string
// when HEAD is detached
func (r *Repository) currentBranch(ctx context.Context) string {
	branch, err := runGitCommand(ctx, r.log, r.envs, r.dir, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		// a detached HEAD has no symbolic ref
		return ""
	}
	return branch
}

// checkoutDefault checks out the default branch, creating it from the
// remote tip if it doesn't exist locally yet
func (r *Repository) checkoutDefault(ctx context.Context, alias string, netEnvs []string) error {
	if _, err := runGitCommand(ctx, r.log, r.envs, r.dir, "checkout", r.defaultBranch); err == nil {
		return nil
	}

	// local default branch may not exist yet on a manually created
	// archive, create it tracking the remote tip
	spec := fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", r.defaultBranch, alias, r.defaultBranch)
	if _, err := runGitCommand(ctx, r.log, netEnvs, r.dir, "fetch", alias, spec, "--no-progress"); err != nil {
		return err
	}

	_, err := runGitCommand(ctx, r.log, r.envs, r.dir, "checkout", "-B", r.defaultBranch, "--track", fmt.Sprintf("%s/%s", alias, r.defaultBranch))
	return err
}

// listRemoteBranches returns the authoritative branch set as reported
// by the remote. may be empty for an empty repository
func (r *Repository) listRemoteBranches(ctx context.Context, alias string, netEnvs []string) ([]RemoteBranch, error) {
	// git ls-remote --heads <alias>
	out, err := runGitCommand(ctx, r.log, netEnvs, r.dir, "ls-remote", "--heads", alias)
	if err != nil {
		return nil, err
	}
	return parseRemoteBranches(out), nil
}

// listLocalBranches returns local branches with their tracking links
func (r *Repository) listLocalBranches(ctx context.Context) ([]LocalBranch, error) {
	// git for-each-ref refs/heads --format=...
	out, err := runGitCommand(ctx, r.log, r.envs, r.dir, "for-each-ref", "refs/heads",
		"--format=%(refname:short)%00%(upstream:remotename)%00%(upstream:short)")
	if err != nil {
		return nil, err
	}
	return parseLocalBranches(out), nil
}

// apply executes one reconciliation action
func (r *Repository) apply(ctx context.Context, action Action, netEnvs []string) error {
	alias, branch := action.Link.RemoteAlias, action.Branch
	upstream := fmt.Sprintf("%s/%s", alias, branch)

	// make sure the remote-tracking ref of the branch is current, the
	// tracking link target must exist before it can be set
	trackSpec := fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", branch, alias, branch)

	switch action.Op {
	case OpSyncDefault:
		if _, err := runGitCommand(ctx, r.log, netEnvs, r.dir, "fetch", alias, trackSpec, "--no-progress"); err != nil {
			return err
		}
		if _, err := runGitCommand(ctx, r.log, r.envs, r.dir, "branch", fmt.Sprintf("--set-upstream-to=%s", upstream), branch); err != nil {
			return err
		}
		// default branch is checked out as the baseline, fast-forward it
		// to the remote tip
		_, err := runGitCommand(ctx, r.log, netEnvs, r.dir, "pull", "--ff-only", alias, branch)
		return err

	case OpAdoptLocal:
		oldTip, _ := runGitCommand(ctx, r.log, r.envs, r.dir, "rev-parse", branch)
		// overwrite the local tip to match remote, the old tip stays
		// reachable via the reflog
		branchSpec := fmt.Sprintf("+refs/heads/%s:refs/heads/%s", branch, branch)
		if _, err := runGitCommand(ctx, r.log, netEnvs, r.dir, "fetch", alias, branchSpec, trackSpec, "--no-progress"); err != nil {
			return err
		}
		r.log.Info("overwrote untracked local branch to remote tip", "branch", branch, "old-tip", oldTip, "new-tip", action.Ref)
		_, err := runGitCommand(ctx, r.log, r.envs, r.dir, "branch", fmt.Sprintf("--set-upstream-to=%s", upstream), branch)
		return err

	case OpCreateLocal:
		if _, err := runGitCommand(ctx, r.log, netEnvs, r.dir, "fetch", alias, trackSpec, "--no-progress"); err != nil {
			return err
		}
		// git branch --track <branch> <alias>/<branch>
		_, err := runGitCommand(ctx, r.log, r.envs, r.dir, "branch", "--track", branch, upstream)
		return err

	default:
		return fmt.Errorf("unknown reconciliation op %q", action.Op)
	}
}

// syncBranch fast-forwards one tracked branch to the remote tip. the
// default branch is checked out at this point so it is pulled, any
// other branch is fetched directly into its local ref without a
// forced update
func (r *Repository) syncBranch(ctx context.Context, lb LocalBranch, netEnvs []string) error {
	alias, branch := lb.Track.RemoteAlias, lb.Track.RemoteBranch

	if lb.Name == r.defaultBranch {
		_, err := runGitCommand(ctx, r.log, netEnvs, r.dir, "pull", "--ff-only", alias, branch)
		return err
	}

	// unforced refspec so a rewound remote branch fails this branch only
	spec := fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, lb.Name)
	_, err := runGitCommand(ctx, r.log, netEnvs, r.dir, "fetch", alias, spec, "--no-progress")
	return err
}
