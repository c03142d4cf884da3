package models

import "strings"

// LogoMapping associates broadcaster ids (tvg-id) with logo URLs.
// It is built once per enrichment run and never persisted.
type LogoMapping map[string]string

// Add records url for id. Blank URLs are ignored; a later entry for the same id wins.
func (m LogoMapping) Add(id, url string) {
	url = strings.TrimSpace(url)
	if url == "" {
		return
	}
	m[id] = url
}

// Lookup returns the logo URL for id. A blank id never matches.
func (m LogoMapping) Lookup(id string) (string, bool) {
	if strings.TrimSpace(id) == "" {
		return "", false
	}
	url, ok := m[id]
	return url, ok
}
