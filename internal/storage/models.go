package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// RunSummary is one row of the run history listing.
type RunSummary struct {
	ID               string        `json:"id"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration_ns"`
	Candidates       int           `json:"candidates"`
	Enriched         int           `json:"enriched"`
	Results          int           `json:"results"`
	FailedCategories []string      `json:"failed_categories,omitempty"`
	Empty            bool          `json:"empty"`
	Reason           string        `json:"reason,omitempty"`
}
