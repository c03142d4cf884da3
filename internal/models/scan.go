package models

// ScanProgress is the state of an in-flight liveness scan.
type ScanProgress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Status  string `json:"status,omitempty"`
}
