package repository

import (
	"context"
	"log/slog"
	"strings"

	"github.com/utilitywarehouse/archive-org/internal/utils"
)

// runGitCommand runs git command with given arguments on given CWD
func runGitCommand(ctx context.Context, log *slog.Logger, envs []string, cwd string, args ...string) (string, error) {
	return utils.RunCommand(ctx, log, envs, cwd, gitExecutablePath, args...)
}

// parseRemoteBranches parses `git ls-remote --heads <remote>` output.
// each line is `<hash>\trefs/heads/<name>`
func parseRemoteBranches(out string) []RemoteBranch {
	var branches []RemoteBranch

	for _, line := range strings.Split(out, "\n") {
		hash, ref, found := strings.Cut(strings.TrimSpace(line), "\t")
		if !found {
			continue
		}
		name, ok := strings.CutPrefix(ref, "refs/heads/")
		if !ok {
			continue
		}
		branches = append(branches, RemoteBranch{Name: name, Ref: hash})
	}

	return branches
}

// parseLocalBranches parses output of
// `git for-each-ref refs/heads --format=%(refname:short)%00%(upstream:remotename)%00%(upstream:short)`.
// upstream fields are empty for untracked branches
func parseLocalBranches(out string) []LocalBranch {
	var branches []LocalBranch

	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		sections := strings.SplitN(line, "\x00", 3)
		if len(sections) != 3 {
			continue
		}
		name, remoteName, upstream := sections[0], sections[1], sections[2]

		lb := LocalBranch{Name: name}
		if remoteName != "" && upstream != "" {
			lb.Track = &TrackingLink{
				RemoteAlias:  remoteName,
				RemoteBranch: strings.TrimPrefix(upstream, remoteName+"/"),
			}
		}
		branches = append(branches, lb)
	}

	return branches
}
