package repository

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/utilitywarehouse/archive-org/giturl"
)

const loadCredsScript = `#!/bin/sh

case "$1" in
  Username*) echo "$REPO_USERNAME" ;;
  Password*) echo "$REPO_PASSWORD" ;;
esac
`

// Auth represents authentication config of the repository remote
type Auth struct {
	// username to use for basic or token based authentication
	Username string

	// password or access token to use for authentication
	Password string
}

// authEnv returns the environment variables needed for git to
// authenticate against the remote. nil when nothing is configured
// or when the remote scheme doesn't need credentials
func (r *Repository) authEnv() []string {
	if !giturl.IsHTTPSURL(r.remote) {
		return nil
	}

	var username, password string
	switch {
	case r.auth.Username != "" && r.auth.Password != "":
		username = r.auth.Username
		password = r.auth.Password

	// if only token is set use that
	case r.auth.Password != "":
		username = "-" // username is required
		password = r.auth.Password

	default:
		return nil
	}

	credsLoader, err := r.ensureCredsLoader()
	if err != nil {
		r.log.Error("unable to write load creds script file", "err", err)
		return nil
	}

	return []string{
		fmt.Sprintf(`GIT_ASKPASS=%s`, credsLoader),
		fmt.Sprintf(`REPO_USERNAME=%s`, username),
		fmt.Sprintf(`REPO_PASSWORD=%s`, password),
	}
}

func (r *Repository) ensureCredsLoader() (string, error) {
	// the loader lives next to the working mirror, not inside it, so it
	// is usable before the initial clone and never shows up as an
	// untracked file
	credsLoader := filepath.Join(filepath.Dir(r.dir), ".archive-org-creds-loader.sh")

	_, err := os.Stat(credsLoader)
	switch {
	case os.IsNotExist(err):
		if err := os.WriteFile(credsLoader, []byte(loadCredsScript), 0750); err != nil {
			return "", err
		}
	case err != nil:
		return "", fmt.Errorf("unable to check if script file exits err:%w", err)
	}

	return credsLoader, nil
}
