package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"moto_harvest/models"
)

// pgPool is the subset of *pgxpool.Pool the store uses.
type pgPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

type PostgresStore struct {
	pool pgPool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "parse config")
	}

	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, eris.Wrap(err, "create pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "ping")
	}

	store := &PostgresStore{pool: pool}
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func newPostgresStoreWithPool(pool pgPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		listing_id BIGINT PRIMARY KEY,
		creation_date DATE NOT NULL,
		location TEXT,
		brand TEXT,
		model_name TEXT NOT NULL,
		model_year INTEGER,
		engine_displacement_cc INTEGER NOT NULL,
		license_rank TEXT NOT NULL CHECK (license_rank IN ('A2', 'A1', 'A')),
		kilometrage INTEGER,
		owners_count INTEGER,
		color TEXT,
		listed_price INTEGER,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		last_seen DATE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_listings_active_last_seen ON listings(active, last_seen);

	CREATE TABLE IF NOT EXISTS scrape_runs (
		id UUID PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		status TEXT NOT NULL,
		version_id TEXT,
		pages_fetched INTEGER DEFAULT 0,
		listings_seen INTEGER DEFAULT 0,
		records_skipped INTEGER DEFAULT 0,
		upsert_failures INTEGER DEFAULT 0,
		listings_added INTEGER DEFAULT 0,
		listings_removed INTEGER DEFAULT 0,
		error_message TEXT
	);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return eris.Wrap(err, "migrate postgres")
	}
	return nil
}

// =============================================================================
// Listings
// =============================================================================

const pgUpsertListing = `
	INSERT INTO listings (
		listing_id, creation_date, location, brand, model_name, model_year,
		engine_displacement_cc, license_rank, kilometrage, owners_count, color,
		listed_price, active, last_seen
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, TRUE, $13)
	ON CONFLICT (listing_id) DO UPDATE SET last_seen = EXCLUDED.last_seen`

func (s *PostgresStore) UpsertPage(ctx context.Context, page *models.Page, runDate time.Time) error {
	if len(page.Listings) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "begin upsert")
	}

	seen := dateOnly(runDate)
	for _, l := range page.Listings {
		_, err := tx.Exec(ctx, pgUpsertListing,
			l.ListingID,
			dateOnly(l.CreationDate),
			l.Location,
			l.Brand,
			l.ModelName,
			l.ModelYear,
			l.EngineDisplacementCC,
			string(l.LicenseRank),
			l.Kilometrage,
			l.OwnersCount,
			l.Color,
			l.ListedPrice,
			seen,
		)
		if err != nil {
			_ = tx.Rollback(ctx)
			return eris.Wrapf(err, "upsert listing %d on page %d", l.ListingID, page.Number)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrapf(err, "commit page %d", page.Number)
	}
	return nil
}

func (s *PostgresStore) DeactivateStale(ctx context.Context, watermark string) (int64, error) {
	if watermark == "" {
		return 0, nil
	}
	mark, err := models.ParseDate(watermark)
	if err != nil {
		return 0, eris.Wrapf(err, "parse watermark %q", watermark)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "begin deactivate")
	}

	tag, err := tx.Exec(ctx,
		`UPDATE listings SET active = FALSE WHERE active AND last_seen < $1`, mark)
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, eris.Wrap(err, "deactivate stale listings")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "commit deactivate")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) CountListings(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM listings`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "count listings")
	}
	return n, nil
}

func (s *PostgresStore) ActiveListings(ctx context.Context) ([]models.Listing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT listing_id, creation_date, location, brand, model_name, model_year,
			engine_displacement_cc, license_rank, kilometrage, owners_count, color,
			listed_price, active, last_seen
		FROM listings
		WHERE active
		ORDER BY listing_id`)
	if err != nil {
		return nil, eris.Wrap(err, "query active listings")
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var (
			l                  models.Listing
			rank               string
			modelYear, km, own *int
		)
		err := rows.Scan(&l.ListingID, &l.CreationDate, &l.Location, &l.Brand, &l.ModelName, &modelYear,
			&l.EngineDisplacementCC, &rank, &km, &own, &l.Color, &l.ListedPrice, &l.Active, &l.LastSeen)
		if err != nil {
			return nil, eris.Wrap(err, "scan listing")
		}
		l.LicenseRank = models.LicenseRank(rank)
		l.ModelYear = derefInt(modelYear)
		l.Kilometrage = derefInt(km)
		l.OwnersCount = derefInt(own)
		listings = append(listings, l)
	}
	return listings, eris.Wrap(rows.Err(), "iterate listings")
}

// =============================================================================
// Scrape runs
// =============================================================================

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.ScrapeRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scrape_runs (id, started_at, status)
		VALUES ($1, $2, $3)`,
		run.ID, run.StartedAt, string(run.Status))
	return eris.Wrap(err, "create scrape run")
}

func (s *PostgresStore) FinishRun(ctx context.Context, run *models.ScrapeRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scrape_runs SET
			finished_at = $1, status = $2, version_id = $3, pages_fetched = $4,
			listings_seen = $5, records_skipped = $6, upsert_failures = $7,
			listings_added = $8, listings_removed = $9, error_message = $10
		WHERE id = $11`,
		run.FinishedAt, string(run.Status), run.VersionID, run.PagesFetched,
		run.ListingsSeen, run.RecordsSkipped, run.UpsertFailures,
		run.ListingsAdded, run.ListingsRemoved, run.ErrorMessage,
		run.ID)
	return eris.Wrap(err, "finish scrape run")
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

var _ ListingStore = (*PostgresStore)(nil)
