// Package github is a minimal REST client for the parts of the GitHub API
// the archiver needs: account and repository lookup, repository discovery
// by org, topic or search query, and release listing/downloading.
// It supports both the public github and enterprise hosts.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/utilitywarehouse/archive-org/auth"
	"github.com/utilitywarehouse/archive-org/internal/lock"
)

const (
	// DefaultHost is the host of the public github
	DefaultHost = "github.com"

	apiVersion = "2022-11-28"
	perPage    = 100
)

var (
	// ErrLookup indicates the remote account, repository or release
	// could not be resolved (missing or access denied)
	ErrLookup = errors.New("unable to resolve remote resource")

	// ErrDownload indicates a release asset could not be fetched
	ErrDownload = errors.New("release asset download failed")
)

// Config holds the connection and credential details of the client
type Config struct {
	// Host of the github instance, 'github.com' or an enterprise host.
	// empty value means public github
	Host string

	// personal access token used for authentication if set
	Token string

	// Github App details, used when Token is not set
	GithubAppID             string
	GithubAppInstallationID string
	GithubAppPrivateKeyPath string
}

// Client talks to the REST API of one github host.
// A Client is safe for concurrent use by multiple goroutines.
type Client struct {
	conf    Config
	apiBase string
	httpc   *http.Client
	log     *slog.Logger

	tokenLock         lock.Mutex
	appToken          string
	appTokenExpiresAt time.Time
}

// NewClient creates a client for the given host and credentials
func NewClient(conf Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if conf.Host == "" {
		conf.Host = DefaultHost
	}

	return &Client{
		conf:    conf,
		apiBase: apiBaseURL(conf.Host),
		httpc:   &http.Client{Timeout: 2 * time.Minute},
		log:     log.With("host", conf.Host),
	}
}

// Host returns the configured github host
func (c *Client) Host() string {
	return c.conf.Host
}

// apiBaseURL returns the REST API base url of the given host.
// enterprise instances serve the API under /api/v3
func apiBaseURL(host string) string {
	if host == DefaultHost {
		return "https://api.github.com"
	}
	return fmt.Sprintf("https://%s/api/v3", host)
}

// Token returns the credential to be used for git and API access.
// may be empty for anonymous access to public repositories
func (c *Client) Token(ctx context.Context) (string, error) {
	if c.conf.Token != "" {
		return c.conf.Token, nil
	}

	if c.conf.GithubAppInstallationID == "" {
		return "", nil
	}

	c.tokenLock.Lock()
	defer c.tokenLock.Unlock()

	// re-use token if its valid for next 10 min
	if c.appTokenExpiresAt.After(time.Now().UTC().Add(10 * time.Minute)) {
		return c.appToken, nil
	}

	token, err := auth.GithubAppInstallationToken(ctx, c.apiBase,
		c.conf.GithubAppID, c.conf.GithubAppInstallationID, c.conf.GithubAppPrivateKeyPath,
		auth.GithubAppTokenReqPermissions{Permissions: map[string]string{"contents": "read"}})
	if err != nil {
		return "", err
	}

	c.appToken = token.Token
	c.appTokenExpiresAt = token.ExpiresAt

	c.log.Debug("new github app access token created")

	return c.appToken, nil
}

// get performs GET on given API path and decodes the json response into v
func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.apiBase+path, nil)
	if err != nil {
		return err
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)

	token, err := c.Token(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: GET %s status:%d", ErrLookup, path, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("GET %s status:%d body:%q", path, resp.StatusCode, body)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

// Owner resolves the canonical, case-correct login of the given
// organization or user account
func (c *Client) Owner(ctx context.Context, login string) (*Owner, error) {
	owner := &Owner{}
	if err := c.get(ctx, "/users/"+url.PathEscape(login), owner); err != nil {
		return nil, err
	}
	return owner, nil
}

// Repository returns metadata of the given repository including
// its default branch
func (c *Client) Repository(ctx context.Context, owner, name string) (*Repo, error) {
	repo := &Repo{}
	path := fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(name))
	if err := c.get(ctx, path, repo); err != nil {
		return nil, err
	}
	return repo, nil
}

// Repositories lists all repositories of the given organization.
// if owner is a user account the user repos endpoint is used instead
func (c *Client) Repositories(ctx context.Context, owner *Owner) ([]Repo, error) {
	endpoint := fmt.Sprintf("/orgs/%s/repos", url.PathEscape(owner.Login))
	if owner.Type == "User" {
		endpoint = fmt.Sprintf("/users/%s/repos", url.PathEscape(owner.Login))
	}

	var all []Repo
	for page := 1; ; page++ {
		var repos []Repo
		path := fmt.Sprintf("%s?per_page=%d&page=%d", endpoint, perPage, page)
		if err := c.get(ctx, path, &repos); err != nil {
			return nil, err
		}
		all = append(all, repos...)
		if len(repos) < perPage {
			return all, nil
		}
	}
}

// SearchRepositories lists repositories of the owner matching the given
// search query. query is any valid repository search expression,
// eg. 'topic:kubernetes' or free text
func (c *Client) SearchRepositories(ctx context.Context, owner, query string) ([]Repo, error) {
	q := url.QueryEscape(fmt.Sprintf("org:%s %s", owner, strings.TrimSpace(query)))

	var all []Repo
	for page := 1; ; page++ {
		var result searchResult
		path := fmt.Sprintf("/search/repositories?q=%s&per_page=%d&page=%d", q, perPage, page)
		if err := c.get(ctx, path, &result); err != nil {
			return nil, err
		}
		all = append(all, result.Items...)
		if len(all) >= result.TotalCount || len(result.Items) == 0 {
			return all, nil
		}
	}
}

// Releases lists all published releases of the given repository
func (c *Client) Releases(ctx context.Context, owner, repo string) ([]Release, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/releases", url.PathEscape(owner), url.PathEscape(repo))

	var all []Release
	for page := 1; ; page++ {
		var releases []Release
		path := fmt.Sprintf("%s?per_page=%d&page=%d", endpoint, perPage, page)
		if err := c.get(ctx, path, &releases); err != nil {
			return nil, err
		}
		all = append(all, releases...)
		if len(releases) < perPage {
			return all, nil
		}
	}
}

// LatestRelease returns the most recent non-prerelease, non-draft release
// of the repository as resolved by the platform
func (c *Client) LatestRelease(ctx context.Context, owner, repo string) (*Release, error) {
	release := &Release{}
	path := fmt.Sprintf("/repos/%s/%s/releases/latest", url.PathEscape(owner), url.PathEscape(repo))
	if err := c.get(ctx, path, release); err != nil {
		return nil, err
	}
	return release, nil
}
