package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moto_harvest/models"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newPostgresStoreWithPool(mock), mock
}

// listingArgs matches one upsert: the listing id followed by the twelve
// remaining columns.
func listingArgs(id int64) []any {
	args := []any{id}
	for i := 0; i < 12; i++ {
		args = append(args, pgxmock.AnyArg())
	}
	return args
}

func TestPostgres_UpsertPageCommits(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO listings").WithArgs(listingArgs(1)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO listings").WithArgs(listingArgs(2)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	page := &models.Page{Number: 1, Listings: []models.Listing{testListing(1), testListing(2)}}
	err := store.UpsertPage(context.Background(), page, date("2024-05-01"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertPageRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO listings").WithArgs(listingArgs(1)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO listings").WithArgs(listingArgs(2)...).WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	page := &models.Page{Number: 2, Listings: []models.Listing{testListing(1), testListing(2)}}
	err := store.UpsertPage(context.Background(), page, date("2024-05-01"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page 2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeactivateStale(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE listings SET active = FALSE").
		WithArgs(time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectCommit()

	n, err := store.DeactivateStale(context.Background(), "2024-05-03")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeactivateStaleWithoutWatermark(t *testing.T) {
	store, mock := newMockStore(t)

	n, err := store.DeactivateStale(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeactivateStaleRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE listings").
		WithArgs(time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)).
		WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	_, err := store.DeactivateStale(context.Background(), "2024-05-03")
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CountListings(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(42))

	n, err := store.CountListings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Runs(t *testing.T) {
	store, mock := newMockStore(t)
	run := models.NewScrapeRun(time.Now())

	mock.ExpectExec("INSERT INTO scrape_runs").
		WithArgs(run.ID, run.StartedAt, "running").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE scrape_runs SET").
		WithArgs(pgxmock.AnyArg(), "failed", "", 0, 0, 0, 0, 0, 0, "fetch exhausted", run.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.CreateRun(context.Background(), run))
	run.Finish(time.Now(), errors.New("fetch exhausted"))
	require.NoError(t, store.FinishRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Migrate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS listings").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
