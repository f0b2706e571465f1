package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/utilitywarehouse/archive-org/internal/utils"
)

// DownloadReleaseAssets fetches all assets of the given release into destDir.
// An asset file that already exists by name is never re-downloaded or
// overwritten, so re-running is cheap even for large binaries.
// A failed asset is reported but does not stop remaining downloads.
func (c *Client) DownloadReleaseAssets(ctx context.Context, release *Release, destDir string) error {
	if len(release.Assets) == 0 {
		return nil
	}

	if err := utils.EnsureDir(destDir); err != nil {
		return fmt.Errorf("unable to create release dir err:%w", err)
	}

	var errs []error
	for _, asset := range release.Assets {
		dest := filepath.Join(destDir, asset.Name)

		_, err := os.Stat(dest)
		switch {
		case err == nil:
			c.log.Debug("asset already archived, skipping", "tag", release.TagName, "asset", asset.Name)
			continue
		case !os.IsNotExist(err):
			errs = append(errs, fmt.Errorf("%w: asset:%s err:%v", ErrDownload, asset.Name, err))
			continue
		}

		if err := c.downloadAsset(ctx, &asset, dest); err != nil {
			errs = append(errs, fmt.Errorf("%w: asset:%s err:%v", ErrDownload, asset.Name, err))
			continue
		}
		c.log.Info("archived release asset", "tag", release.TagName, "asset", asset.Name, "size", asset.Size)
	}

	return errors.Join(errs...)
}

// downloadAsset streams one asset to dest. the file is written to a temp
// name first and renamed so a partial download never claims the asset name
func (c *Client) downloadAsset(ctx context.Context, asset *Asset, dest string) error {
	req, err := http.NewRequestWithContext(ctx, "GET", asset.URL, nil)
	if err != nil {
		return err
	}

	// asset API url serves the binary when octet-stream is requested
	req.Header.Set("Accept", "application/octet-stream")
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

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status:%d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".partial-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), dest)
}
