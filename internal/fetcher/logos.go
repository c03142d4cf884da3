package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/voyagen/livevault/internal/models"
)

// DefaultLogosURL is the public iptv-org id→logo table.
const DefaultLogosURL = "https://iptv-org.github.io/api/logos.json"

// LogoClient downloads the broadcaster id → logo URL table.
type LogoClient struct {
	url        string
	userAgent  string
	httpClient *http.Client
}

// NewLogoClient creates a LogoClient for url (DefaultLogosURL when empty).
func NewLogoClient(url, userAgent string, timeout time.Duration) *LogoClient {
	if url == "" {
		url = DefaultLogosURL
	}
	return &LogoClient{
		url:        url,
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// logoEntry is one element of the remote JSON array. Field names are fixed by the service.
type logoEntry struct {
	Channel string `json:"channel"`
	URL     string `json:"url"`
}

// FetchLogos downloads and decodes the mapping. The array is decoded element
// by element so the full document is never held in memory. Entries without a
// channel id or with a blank URL are skipped.
func (c *LogoClient) FetchLogos(ctx context.Context) (models.LogoMapping, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("NewRequest: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("decode: expected array, got %v", tok)
	}
	mapping := make(models.LogoMapping)
	for dec.More() {
		var e logoEntry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		if e.Channel == "" {
			continue
		}
		mapping.Add(e.Channel, e.URL)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return mapping, nil
}
