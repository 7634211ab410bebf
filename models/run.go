package models

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ScrapeRun is the audit record of one harvest attempt.
type ScrapeRun struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	FinishedAt      *time.Time `json:"finished_at" db:"finished_at"`
	Status          RunStatus  `json:"status" db:"status"`
	VersionID       string     `json:"version_id" db:"version_id"`
	PagesFetched    int        `json:"pages_fetched" db:"pages_fetched"`
	ListingsSeen    int        `json:"listings_seen" db:"listings_seen"`
	RecordsSkipped  int        `json:"records_skipped" db:"records_skipped"`
	UpsertFailures  int        `json:"upsert_failures" db:"upsert_failures"`
	ListingsAdded   int        `json:"listings_added" db:"listings_added"`
	ListingsRemoved int        `json:"listings_removed" db:"listings_removed"`
	ErrorMessage    string     `json:"error_message" db:"error_message"`
}

// NewScrapeRun starts a run record in the running state.
func NewScrapeRun(now time.Time) *ScrapeRun {
	return &ScrapeRun{
		ID:        uuid.New(),
		StartedAt: now,
		Status:    RunStatusRunning,
	}
}

// Finish stamps the run with its outcome; a non-nil err marks it failed.
func (r *ScrapeRun) Finish(now time.Time, err error) {
	r.FinishedAt = &now
	if err != nil {
		r.Status = RunStatusFailed
		r.ErrorMessage = err.Error()
		return
	}
	r.Status = RunStatusCompleted
}
