package models

// Channel is one catalogued live stream (name, url, logo, group, favorite/watch state).
type Channel struct {
	ID               int64   `json:"id,omitempty"`
	Name             string  `json:"name"`
	URL              string  `json:"url"`
	LogoURL          *string `json:"logo_url,omitempty"`
	Group            string  `json:"group"`
	TvgID            string  `json:"tvg_id,omitempty"`
	Favorite         bool    `json:"favorite"`
	LastUpdated      int64   `json:"last_updated"`      // epoch millis of the last interaction
	PlaybackPosition int64   `json:"playback_position"` // reserved for continue-watching
}

// HasLogo reports whether the channel carries a non-blank logo URL.
func (c *Channel) HasLogo() bool {
	return c.LogoURL != nil && *c.LogoURL != ""
}
