package fetcher

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Probe defaults.
const (
	DefaultProbeTimeout   = 3 * time.Second
	DefaultProbeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"
)

// Prober performs header-only reachability checks against stream URLs.
type Prober struct {
	userAgent  string
	timeout    time.Duration
	httpClient *http.Client
}

// NewProber creates a Prober. Redirects are followed (net/http default policy).
func NewProber(userAgent string, timeout time.Duration) *Prober {
	if userAgent == "" {
		userAgent = DefaultProbeUserAgent
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{
		userAgent:  userAgent,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Alive sends a HEAD request to url and reports whether it answered 2xx within
// the timeout. Every failure (bad URL, DNS, TLS, refused, timeout, non-2xx) is
// reported as false; no retries are made.
func (p *Prober) Alive(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", p.userAgent)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
