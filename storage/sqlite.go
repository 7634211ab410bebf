package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"

	"moto_harvest/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, eris.Wrapf(err, "open sqlite %s", dbPath)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		listing_id INTEGER PRIMARY KEY,
		creation_date TEXT NOT NULL,
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
		last_seen TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_listings_active_last_seen ON listings(active, last_seen);

	CREATE TABLE IF NOT EXISTS scrape_runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
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
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return eris.Wrap(err, "migrate sqlite")
	}
	return nil
}

// =============================================================================
// Listings
// =============================================================================

const sqliteUpsertListing = `
	INSERT INTO listings (
		listing_id, creation_date, location, brand, model_name, model_year,
		engine_displacement_cc, license_rank, kilometrage, owners_count, color,
		listed_price, active, last_seen
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, TRUE, ?)
	ON CONFLICT(listing_id) DO UPDATE SET last_seen = excluded.last_seen`

func (s *SQLiteStore) UpsertPage(ctx context.Context, page *models.Page, runDate time.Time) error {
	if len(page.Listings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin upsert")
	}

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertListing)
	if err != nil {
		tx.Rollback()
		return eris.Wrap(err, "prepare upsert")
	}
	defer stmt.Close()

	seen := models.FormatDate(runDate)
	for _, l := range page.Listings {
		_, err := stmt.ExecContext(ctx,
			l.ListingID,
			models.FormatDate(l.CreationDate),
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
			tx.Rollback()
			return eris.Wrapf(err, "upsert listing %d on page %d", l.ListingID, page.Number)
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrapf(err, "commit page %d", page.Number)
	}
	return nil
}

func (s *SQLiteStore) DeactivateStale(ctx context.Context, watermark string) (int64, error) {
	if watermark == "" {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "begin deactivate")
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE listings SET active = FALSE WHERE active = TRUE AND last_seen < ?`, watermark)
	if err != nil {
		tx.Rollback()
		return 0, eris.Wrap(err, "deactivate stale listings")
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return 0, eris.Wrap(err, "rows affected")
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "commit deactivate")
	}
	return n, nil
}

func (s *SQLiteStore) CountListings(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "count listings")
	}
	return n, nil
}

func (s *SQLiteStore) ActiveListings(ctx context.Context) ([]models.Listing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT listing_id, creation_date, location, brand, model_name, model_year,
			engine_displacement_cc, license_rank, kilometrage, owners_count, color,
			listed_price, active, last_seen
		FROM listings
		WHERE active = TRUE
		ORDER BY listing_id`)
	if err != nil {
		return nil, eris.Wrap(err, "query active listings")
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var (
			l                  models.Listing
			created, lastSeen  string
			location, brand    sql.NullString
			color              sql.NullString
			rank               string
			price              sql.NullInt64
			modelYear, km, own sql.NullInt64
		)
		err := rows.Scan(&l.ListingID, &created, &location, &brand, &l.ModelName, &modelYear,
			&l.EngineDisplacementCC, &rank, &km, &own, &color, &price, &l.Active, &lastSeen)
		if err != nil {
			return nil, eris.Wrap(err, "scan listing")
		}

		if l.CreationDate, err = models.ParseDate(created); err != nil {
			return nil, eris.Wrapf(err, "listing %d creation_date", l.ListingID)
		}
		if l.LastSeen, err = models.ParseDate(lastSeen); err != nil {
			return nil, eris.Wrapf(err, "listing %d last_seen", l.ListingID)
		}
		l.Location = nullString(location)
		l.Brand = nullString(brand)
		l.Color = nullString(color)
		l.LicenseRank = models.LicenseRank(rank)
		l.ModelYear = int(modelYear.Int64)
		l.Kilometrage = int(km.Int64)
		l.OwnersCount = int(own.Int64)
		if price.Valid {
			p := int(price.Int64)
			l.ListedPrice = &p
		}
		listings = append(listings, l)
	}
	return listings, eris.Wrap(rows.Err(), "iterate listings")
}

// =============================================================================
// Scrape runs
// =============================================================================

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.ScrapeRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_runs (id, started_at, status)
		VALUES (?, ?, ?)`,
		run.ID.String(), run.StartedAt.UTC(), string(run.Status))
	return eris.Wrap(err, "create scrape run")
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *models.ScrapeRun) error {
	var finished any
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE scrape_runs SET
			finished_at = ?, status = ?, version_id = ?, pages_fetched = ?,
			listings_seen = ?, records_skipped = ?, upsert_failures = ?,
			listings_added = ?, listings_removed = ?, error_message = ?
		WHERE id = ?`,
		finished, string(run.Status), run.VersionID, run.PagesFetched,
		run.ListingsSeen, run.RecordsSkipped, run.UpsertFailures,
		run.ListingsAdded, run.ListingsRemoved, run.ErrorMessage,
		run.ID.String())
	return eris.Wrap(err, "finish scrape run")
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

var _ ListingStore = (*SQLiteStore)(nil)
