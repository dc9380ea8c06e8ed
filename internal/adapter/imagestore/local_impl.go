package imagestore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// LocalStoreImpl downloads listing images onto the local filesystem, one
// directory per listing.
type LocalStoreImpl struct {
	basePath string
	client   *http.Client
}

// NewLocalStore creates a new instance of LocalStoreImpl.
func NewLocalStore(basePath string, timeout time.Duration) *LocalStoreImpl {
	return &LocalStoreImpl{
		basePath: basePath,
		client:   &http.Client{Timeout: timeout},
	}
}

// StoreImage downloads url into <base>/<listingID>/ and returns the local
// path. An image that already exists on disk is not fetched again.
func (s *LocalStoreImpl) StoreImage(ctx context.Context, listingID, url string) (string, error) {
	dir := filepath.Join(s.basePath, listingID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}

	localPath := filepath.Join(dir, fileNameFor(url))
	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download image %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image download returned status %d for %s", resp.StatusCode, url)
	}

	tmpPath := localPath + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write image %s: %w", localPath, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		return "", err
	}
	return localPath, nil
}

// fileNameFor derives a stable file name from the image URL path.
func fileNameFor(url string) string {
	name := path.Base(strings.SplitN(url, "?", 2)[0])
	if name == "" || name == "." || name == "/" {
		name = "image.jpg"
	}
	return name
}
