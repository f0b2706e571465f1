package repository

// Config represents one repository archive target
type Config struct {
	// Remote is the git URL of the remote repo to archive
	Remote string

	// Dir is the absolute path of the working mirror on disk
	Dir string

	// DefaultBranch is the resolved default branch of the remote,
	// the convergence anchor for the whole repository
	DefaultBranch string

	// Auth config to fetch the remote over https
	Auth Auth
}
