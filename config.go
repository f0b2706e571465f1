package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/utilitywarehouse/archive-org/github"
)

// FileConfig carries optional defaults loaded from the yaml config file.
// Command line flags always win over file values.
type FileConfig struct {
	Path         string `yaml:"path"`
	ReleaseFiles string `yaml:"release_files"`

	// GitHub App credentials, used when GITHUB_TOKEN is not set
	GithubAppID             string `yaml:"github_app_id"`
	GithubAppInstallationID string `yaml:"github_app_installation_id"`
	GithubAppPrivateKeyPath string `yaml:"github_app_private_key_path"`
}

func parseConfigFile(path string) (*FileConfig, error) {
	conf := &FileConfig{}

	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(yamlFile, conf); err != nil {
		return nil, err
	}
	return conf, nil
}

// resolveOrgArg resolves the '[HOST/]ORG' positional argument, falling
// back to envLogin when no argument was given. host is empty for
// github.com.
func resolveOrgArg(arg, envLogin string) (host, org string, err error) {
	if arg == "" {
		arg = envLogin
	}
	if arg == "" {
		return "", "", fmt.Errorf("organization not specified, pass '[HOST/]ORG' or set %s", orgLoginEnvVar)
	}

	parts := strings.Split(strings.Trim(arg, "/"), "/")
	switch len(parts) {
	case 1:
		return "", parts[0], nil
	case 2:
		return parts[0], parts[1], nil
	}
	return "", "", fmt.Errorf("invalid organization argument %q, expected '[HOST/]ORG'", arg)
}

// repoLister is the discovery surface of github.Client used to resolve
// the target repository list
type repoLister interface {
	Repositories(ctx context.Context, owner *github.Owner) ([]github.Repo, error)
	SearchRepositories(ctx context.Context, owner, query string) ([]github.Repo, error)
}

// resolveTargets returns the sorted list of repository names to archive.
// An explicit repo list wins over a search query, which wins over a
// topic filter, which wins over the full org listing.
func resolveTargets(ctx context.Context, client repoLister, owner *github.Owner, repos []string, search, topic string) ([]string, error) {
	if len(repos) > 0 {
		var names []string
		for _, v := range repos {
			names = append(names, strings.Fields(v)...)
		}
		sort.Strings(names)
		return names, nil
	}

	var (
		listed []github.Repo
		err    error
	)
	switch {
	case search != "":
		listed, err = client.SearchRepositories(ctx, owner.Login, search)
	case topic != "":
		listed, err = client.SearchRepositories(ctx, owner.Login, "topic:"+topic)
	default:
		listed, err = client.Repositories(ctx, owner)
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, repo := range listed {
		names = append(names, repo.Name)
	}
	sort.Strings(names)
	return names, nil
}
