package github

import "time"

// Owner is the organization or user account owning repositories.
// Login is the canonical, case-correct account name.
type Owner struct {
	Login string `json:"login"`
	Type  string `json:"type"` // 'Organization' or 'User'
}

// Repo is the subset of the repository object the archiver needs
type Repo struct {
	Name          string   `json:"name"`
	FullName      string   `json:"full_name"`
	Owner         Owner    `json:"owner"`
	DefaultBranch string   `json:"default_branch"`
	CloneURL      string   `json:"clone_url"`
	SSHURL        string   `json:"ssh_url"`
	HTMLURL       string   `json:"html_url"`
	Archived      bool     `json:"archived"`
	Topics        []string `json:"topics"`
}

// Release represents a published release of a repository
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Body        string    `json:"body"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
	Assets      []Asset   `json:"assets"`
}

// Asset is a downloadable binary attached to a release
type Asset struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	// API url of the asset, downloadable with 'application/octet-stream' accept header
	URL                string `json:"url"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// searchResult is the wrapper object returned by the repository search API
type searchResult struct {
	TotalCount int    `json:"total_count"`
	Items      []Repo `json:"items"`
}
