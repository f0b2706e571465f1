package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/utilitywarehouse/archive-org/github"
	"github.com/utilitywarehouse/archive-org/internal/utils"
)

// resolveReleases returns the releases to archive for the given repo
// according to the configured release mode. For 'latest' the dedicated
// most-recent query is only consulted when the repo has more than one
// release, the listing order is not guaranteed but a list of zero or one
// is unambiguous on its own.
func (a *Archiver) resolveReleases(ctx context.Context, repo string) ([]github.Release, error) {
	switch a.conf.ReleaseMode {
	case ReleaseModeNone:
		return nil, nil

	case ReleaseModeAll:
		return a.client.Releases(ctx, a.conf.Org, repo)

	case ReleaseModeLatest:
		releases, err := a.client.Releases(ctx, a.conf.Org, repo)
		if err != nil {
			return nil, err
		}
		if len(releases) <= 1 {
			return releases, nil
		}
		latest, err := a.client.LatestRelease(ctx, a.conf.Org, repo)
		if err != nil {
			return nil, err
		}
		return []github.Release{*latest}, nil
	}

	return nil, fmt.Errorf("invalid release mode %q", a.conf.ReleaseMode)
}

// archiveReleases mirrors the resolved releases of the repo into relDir
// and returns the count archived without error. Release notes are
// rewritten on every run, assets already on disk are never re-fetched.
// Per-release failures are logged and the remaining releases still
// attempted. A repository with no releases gets no releases directory
// at all.
func (a *Archiver) archiveReleases(ctx context.Context, repo, relDir string) (int, error) {
	releases, err := a.resolveReleases(ctx, repo)
	if err != nil {
		return 0, err
	}
	if len(releases) == 0 {
		return 0, nil
	}

	var archived int
	for i := range releases {
		release := &releases[i]
		if ctx.Err() != nil {
			return archived, ctx.Err()
		}
		if err := a.archiveRelease(ctx, release, filepath.Join(relDir, release.TagName)); err != nil {
			a.log.Error("unable to archive release", "repo", repo, "release", release.TagName, "err", err)
			continue
		}
		recordReleaseArchived(repo)
		archived++
	}
	return archived, nil
}

func (a *Archiver) archiveRelease(ctx context.Context, release *github.Release, dir string) error {
	if err := utils.EnsureDir(dir); err != nil {
		return fmt.Errorf("unable to create release dir err:%w", err)
	}

	notes := filepath.Join(dir, fmt.Sprintf("RELEASE_NOTES-%s.md", release.TagName))
	if err := os.WriteFile(notes, []byte(release.Body), 0644); err != nil {
		return fmt.Errorf("unable to write release notes err:%w", err)
	}

	if err := a.client.DownloadReleaseAssets(ctx, release, dir); err != nil {
		return err
	}

	a.log.Debug("release archived", "release", release.TagName, "dir", dir, "assets", len(release.Assets))
	return nil
}
