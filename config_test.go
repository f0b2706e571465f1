package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/utilitywarehouse/archive-org/github"
)

func TestParseConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
path: /var/archive
release_files: latest
github_app_id: "1234"
github_app_installation_id: "5678"
github_app_private_key_path: /etc/archive-org/key.pem
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := parseConfigFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := &FileConfig{
		Path:                    "/var/archive",
		ReleaseFiles:            "latest",
		GithubAppID:             "1234",
		GithubAppInstallationID: "5678",
		GithubAppPrivateKeyPath: "/etc/archive-org/key.pem",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseConfigFile() mismatch (-want +got):\n%s", diff)
	}

	if _, err := parseConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("expected error for missing config file")
	}
}

func TestResolveOrgArg(t *testing.T) {
	tests := []struct {
		name     string
		arg      string
		envLogin string
		wantHost string
		wantOrg  string
		wantErr  bool
	}{
		{"plain_org", "acme", "", "", "acme", false},
		{"host_and_org", "github.example.com/acme", "", "github.example.com", "acme", false},
		{"env_fallback", "", "acme", "", "acme", false},
		{"arg_wins_over_env", "widgets", "acme", "", "widgets", false},
		{"trailing_slash", "acme/", "", "", "acme", false},
		{"missing", "", "", "", "", true},
		{"too_many_parts", "a/b/c", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, org, err := resolveOrgArg(tt.arg, tt.envLogin)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveOrgArg() error = %v, wantErr %v", err, tt.wantErr)
			}
			if host != tt.wantHost || org != tt.wantOrg {
				t.Errorf("resolveOrgArg() = (%q, %q), want (%q, %q)", host, org, tt.wantHost, tt.wantOrg)
			}
		})
	}
}

type fakeLister struct {
	repos      []github.Repo
	searched   []github.Repo
	gotQuery   string
	listCalled bool
}

func (f *fakeLister) Repositories(ctx context.Context, owner *github.Owner) ([]github.Repo, error) {
	f.listCalled = true
	return f.repos, nil
}

func (f *fakeLister) SearchRepositories(ctx context.Context, owner, query string) ([]github.Repo, error) {
	f.gotQuery = query
	return f.searched, nil
}

func TestResolveTargets(t *testing.T) {
	ctx := context.Background()
	owner := &github.Owner{Login: "acme", Type: "Organization"}

	t.Run("explicit_repos_win", func(t *testing.T) {
		lister := &fakeLister{}
		got, err := resolveTargets(ctx, lister, owner, []string{"zeta alpha", "mid"}, "query", "topic")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff([]string{"alpha", "mid", "zeta"}, got); diff != "" {
			t.Errorf("resolveTargets() mismatch (-want +got):\n%s", diff)
		}
		if lister.listCalled || lister.gotQuery != "" {
			t.Errorf("explicit repo list must not trigger discovery")
		}
	})

	t.Run("search_wins_over_topic", func(t *testing.T) {
		lister := &fakeLister{searched: []github.Repo{{Name: "widgets"}}}
		got, err := resolveTargets(ctx, lister, owner, nil, "infra in:name", "cli")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff([]string{"widgets"}, got); diff != "" {
			t.Errorf("resolveTargets() mismatch (-want +got):\n%s", diff)
		}
		if lister.gotQuery != "infra in:name" {
			t.Errorf("query = %q, want search query", lister.gotQuery)
		}
	})

	t.Run("topic_filter", func(t *testing.T) {
		lister := &fakeLister{searched: []github.Repo{{Name: "widgets"}}}
		if _, err := resolveTargets(ctx, lister, owner, nil, "", "cli"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if lister.gotQuery != "topic:cli" {
			t.Errorf("query = %q, want topic:cli", lister.gotQuery)
		}
	})

	t.Run("full_listing_sorted", func(t *testing.T) {
		lister := &fakeLister{repos: []github.Repo{{Name: "zeta"}, {Name: "alpha"}}}
		got, err := resolveTargets(ctx, lister, owner, nil, "", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff([]string{"alpha", "zeta"}, got); diff != "" {
			t.Errorf("resolveTargets() mismatch (-want +got):\n%s", diff)
		}
		if !lister.listCalled {
			t.Errorf("expected full org listing")
		}
	})
}
