package models

// Labels used when a playlist entry omits a group or a display name.
const (
	DefaultGroup       = "Uncategorized"
	UnknownChannelName = "Unknown Channel"
)

// DefaultRecentLimit bounds the recently-watched list.
const DefaultRecentLimit = 50
