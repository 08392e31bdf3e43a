// Package callback fetches remotely stored documents and reports processing
// outcomes back to the caller's callback endpoint.
package callback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// ErrTooLarge is returned when a download exceeds the configured limit.
var ErrTooLarge = errors.New("downloaded file exceeds size limit")

type Downloader struct {
	client   *http.Client
	maxBytes int64
	dir      string
	logger   *zap.Logger
}

// NewDownloader returns a Downloader writing into dir (os.TempDir when empty).
// maxBytes <= 0 disables the size limit.
func NewDownloader(timeout time.Duration, maxBytes int64, dir string, logger *zap.Logger) *Downloader {
	if timeout == 0 {
		timeout = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
		dir:      dir,
		logger:   logger,
	}
}

// Fetch downloads url into a temp file that keeps the extension of filename
// and returns its path. The caller removes the file.
func (d *Downloader) Fetch(ctx context.Context, url, filename string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("download %s: unexpected status %s", filename, resp.Status)
	}

	f, err := os.CreateTemp(d.dir, "docrelay-*"+filepath.Ext(filename))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()

	var src io.Reader = resp.Body
	if d.maxBytes > 0 {
		src = io.LimitReader(resp.Body, d.maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && d.maxBytes > 0 && n > d.maxBytes {
		err = fmt.Errorf("%w: more than %d bytes", ErrTooLarge, d.maxBytes)
	}
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			d.logger.Warn("remove partial download", zap.String("path", path), zap.Error(rmErr))
		}
		return "", fmt.Errorf("download %s: %w", filename, err)
	}
	d.logger.Debug("file downloaded", zap.String("file", filename), zap.Int64("bytes", n))
	return path, nil
}
