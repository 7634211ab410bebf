package storage

import (
	"context"
	"time"

	"moto_harvest/models"
)

// ListingStore is the persisted listing snapshot plus the run history.
type ListingStore interface {
	Migrate(ctx context.Context) error

	// UpsertPage inserts new listings and bumps last_seen to runDate for
	// known ones, all in one transaction. Nothing else about an existing row
	// changes.
	UpsertPage(ctx context.Context, page *models.Page, runDate time.Time) error

	// DeactivateStale marks every active listing last seen before watermark
	// (YYYY-MM-DD) as inactive and returns how many rows changed. An empty
	// watermark deactivates nothing.
	DeactivateStale(ctx context.Context, watermark string) (int64, error)

	CountListings(ctx context.Context) (int, error)
	ActiveListings(ctx context.Context) ([]models.Listing, error)

	CreateRun(ctx context.Context, run *models.ScrapeRun) error
	FinishRun(ctx context.Context, run *models.ScrapeRun) error

	Close() error
}
