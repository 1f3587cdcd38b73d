package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/railquery-data/internal/common/logger"
)

// DefaultFeedURL is the national Swedish GTFS archive. It requires an API key.
const DefaultFeedURL = "https://opendata.samtrafiken.se/gtfs-sweden/sweden.zip"

type HTTPDownloader struct {
	client *http.Client
	logger logger.Logger
}

func NewHTTPDownloader(logger logger.Logger) *HTTPDownloader {
	return &HTTPDownloader{
		client: &http.Client{
			Timeout: 10 * time.Minute,
		},
		logger: logger,
	}
}

// Download fetches url into destPath. The file only appears at destPath once
// the body has been read completely.
func (d *HTTPDownloader) Download(ctx context.Context, rawURL string, destPath string) error {
	destDir := filepath.Dir(destPath)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	tempFile, err := os.CreateTemp(destDir, "gtfs_download_*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer os.Remove(tempPath)

	d.logger.Info("Starting feed download", "url", redactURL(rawURL), "dest", destPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		tempFile.Close()
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/zip")

	resp, err := d.client.Do(req)
	if err != nil {
		tempFile.Close()
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		tempFile.Close()
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	written, err := d.copyWithProgress(tempFile, resp.Body, resp.ContentLength)
	if closeErr := tempFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("downloading feed: %w", err)
	}

	if err := os.Rename(tempPath, destPath); err != nil {
		return fmt.Errorf("moving file to destination: %w", err)
	}

	d.logger.Info("Feed download completed",
		"dest", destPath,
		"size_bytes", written)

	return nil
}

func (d *HTTPDownloader) copyWithProgress(dst io.Writer, src io.Reader, totalSize int64) (int64, error) {
	buf := make([]byte, 64*1024)
	var written int64
	lastLog := time.Now()

	for {
		nr, readErr := src.Read(buf)
		if nr > 0 {
			nw, err := dst.Write(buf[:nr])
			if err != nil {
				return written, err
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
			written += int64(nw)

			if time.Since(lastLog) > 10*time.Second {
				fields := []interface{}{"bytes_downloaded", written}
				if totalSize > 0 {
					fields = append(fields,
						"total_bytes", totalSize,
						"progress_percent", fmt.Sprintf("%.1f", float64(written)/float64(totalSize)*100))
				}
				d.logger.Debug("Feed download progress", fields...)
				lastLog = time.Now()
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// feedURL appends the API key as the key query parameter
func feedURL(base, apiKey string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing feed url: %w", err)
	}
	if apiKey != "" {
		q := u.Query()
		q.Set("key", apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// redactURL hides the API key in log output
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
