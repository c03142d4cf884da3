package models

// Group is a category label (group-title from the playlist) with its channel count.
type Group struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}
