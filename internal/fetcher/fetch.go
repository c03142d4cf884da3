package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenM3U issues a GET for the playlist at url and returns the response body
// for streaming into a Parser. The caller must close it.
// timeout bounds the whole exchange, including reading the body.
func OpenM3U(ctx context.Context, url string, userAgent string, timeout time.Duration) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("NewRequest: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Do: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return resp.Body, nil
}
