// Package archive drives the archival of a resolved list of repositories
// belonging to one GitHub org or user. For each repository it maintains
// the working mirror via the repository package and mirrors releases into
// the on-disk layout
//
//	<path>/<org>/<repo>/repo
//	<path>/<org>/<repo>/releases/<tag>
//
// Repositories are processed sequentially and failures are contained per
// repository, the batch always runs to completion.
package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/utilitywarehouse/archive-org/github"
	"github.com/utilitywarehouse/archive-org/giturl"
	"github.com/utilitywarehouse/archive-org/internal/lock"
	"github.com/utilitywarehouse/archive-org/repository"
)

// ReleaseMode selects which releases of a repository are archived.
type ReleaseMode string

const (
	// ReleaseModeAll archives every release of the repository
	ReleaseModeAll ReleaseMode = "all"
	// ReleaseModeLatest archives only the most recent release
	ReleaseModeLatest ReleaseMode = "latest"
	// ReleaseModeNone skips release archival entirely
	ReleaseModeNone ReleaseMode = "none"
)

// ParseReleaseMode validates the given release mode string
func ParseReleaseMode(s string) (ReleaseMode, error) {
	switch ReleaseMode(s) {
	case ReleaseModeAll, ReleaseModeLatest, ReleaseModeNone:
		return ReleaseMode(s), nil
	}
	return "", fmt.Errorf("invalid release mode %q, must be one of all, latest or none", s)
}

// RemoteClient is the remote platform surface the archiver consumes.
// *github.Client satisfies it.
type RemoteClient interface {
	Host() string
	Repository(ctx context.Context, owner, name string) (*github.Repo, error)
	Releases(ctx context.Context, owner, repo string) ([]github.Release, error)
	LatestRelease(ctx context.Context, owner, repo string) (*github.Release, error)
	DownloadReleaseAssets(ctx context.Context, release *github.Release, destDir string) error
}

// Config is the resolved run configuration of one archival batch
type Config struct {
	// Org is the canonical login of the org or user being archived
	Org string

	// Path is the root directory of the archive tree
	Path string

	// Repos is the resolved list of repository names to archive
	Repos []string

	// ReleaseMode selects which releases to archive
	ReleaseMode ReleaseMode

	// DryRun only prints the paths a real run would create or update
	DryRun bool

	// Auth is passed through to every repository mirror
	Auth repository.Auth
}

// RepoStatus is the outcome of archiving one repository
type RepoStatus struct {
	Name     string
	Dir      string
	Mirrored bool
	// BranchErrors is the count of branches that failed to sync
	BranchErrors int
	// Releases is the count of releases archived without error
	Releases int
	// Err is set when the repository as a whole failed
	Err error
}

// Summary aggregates per-repository outcomes of one run
type Summary struct {
	Statuses []RepoStatus
}

// Failed returns the names of repositories that failed entirely
func (s *Summary) Failed() []string {
	var names []string
	for _, st := range s.Statuses {
		if st.Err != nil {
			names = append(names, st.Name)
		}
	}
	return names
}

type syncer interface {
	Sync(ctx context.Context) (*repository.Result, error)
}

// Archiver archives the configured repositories of one org
type Archiver struct {
	lock lock.Mutex

	conf   Config
	client RemoteClient
	envs   []string
	log    *slog.Logger
	out    io.Writer

	newRepo func(conf repository.Config, envs []string, log *slog.Logger) (syncer, error)
}

// New returns an archiver for the given run configuration. envs is the
// os env of the git commands run for every repository.
func New(conf Config, client RemoteClient, envs []string, log *slog.Logger) *Archiver {
	if log == nil {
		log = slog.Default()
	}
	return &Archiver{
		conf:   conf,
		client: client,
		envs:   envs,
		log:    log.With("logger", "archiver"),
		out:    os.Stdout,
		newRepo: func(conf repository.Config, envs []string, log *slog.Logger) (syncer, error) {
			return repository.New(conf, envs, log)
		},
	}
}

// Run archives every configured repository sequentially. Per-repository
// failures are recorded in the summary and logged, they never abort the
// batch. Run returns an error only when ctx is cancelled before the
// batch completes.
func (a *Archiver) Run(ctx context.Context) (*Summary, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	summary := &Summary{}
	for _, name := range a.conf.Repos {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		st := a.archiveRepo(ctx, name)
		if st.Err != nil {
			a.log.Error("repository archival failed", "repo", name, "err", st.Err)
		}
		summary.Statuses = append(summary.Statuses, st)
	}
	return summary, nil
}

func (a *Archiver) archiveRepo(ctx context.Context, name string) RepoStatus {
	repoRoot := filepath.Join(a.conf.Path, a.conf.Org, name)
	st := RepoStatus{Name: name, Dir: filepath.Join(repoRoot, "repo")}

	if a.conf.DryRun {
		st.Err = a.printRepoPaths(ctx, name, repoRoot)
		return st
	}

	meta, err := a.client.Repository(ctx, a.conf.Org, name)
	if err != nil {
		st.Err = err
		return st
	}
	if meta.DefaultBranch == "" {
		st.Err = fmt.Errorf("unable to resolve default branch of %s/%s", a.conf.Org, name)
		return st
	}

	remote := meta.CloneURL
	if remote == "" {
		remote = giturl.HTTPSURL(a.client.Host(), a.conf.Org, name)
	}

	dir, err := filepath.Abs(st.Dir)
	if err != nil {
		st.Err = fmt.Errorf("unable to resolve abs path err:%w", err)
		return st
	}

	repo, err := a.newRepo(repository.Config{
		Remote:        remote,
		Dir:           dir,
		DefaultBranch: meta.DefaultBranch,
		Auth:          a.conf.Auth,
	}, a.envs, a.log)
	if err != nil {
		st.Err = err
		return st
	}

	res, err := repo.Sync(ctx)
	if err != nil {
		st.Err = err
		return st
	}
	st.Mirrored = res.Mirrored
	st.BranchErrors = len(res.BranchErrors)

	n, err := a.archiveReleases(ctx, name, filepath.Join(repoRoot, "releases"))
	if err != nil {
		st.Err = err
		return st
	}
	st.Releases = n

	return st
}

// printRepoPaths emits the paths a real run would create or update.
// Remote listing is read-only so it is allowed here, nothing on disk is
// touched.
func (a *Archiver) printRepoPaths(ctx context.Context, name, repoRoot string) error {
	fmt.Fprintln(a.out, filepath.Join(repoRoot, "repo"))

	releases, err := a.resolveReleases(ctx, name)
	if err != nil {
		return err
	}
	for _, release := range releases {
		fmt.Fprintln(a.out, filepath.Join(repoRoot, "releases", release.TagName))
	}
	return nil
}
