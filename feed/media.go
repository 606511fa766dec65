package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Downloader fetches media bytes referenced by feed entries.
type Downloader struct {
	client *http.Client
}

// NewDownloader returns a downloader whose requests are bounded by timeout.
func NewDownloader(timeout time.Duration) *Downloader {
	return &Downloader{client: &http.Client{Timeout: timeout}}
}

// Download fetches url and returns the body along with the Content-Type
// reported by the server, which may be empty.
func (d *Downloader) Download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch media %s: unexpected status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read media %s: %w", url, err)
	}

	return data, resp.Header.Get("Content-Type"), nil
}
