package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moto_harvest/models"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "listings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func date(s string) time.Time {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

func testListing(id int64) models.Listing {
	return models.Listing{
		ListingID:            id,
		CreationDate:         date("2024-04-20"),
		Location:             strp("Tel Aviv"),
		Brand:                strp("Yamaha"),
		ModelName:            "MT-07",
		ModelYear:            2021,
		EngineDisplacementCC: 689,
		LicenseRank:          models.LicenseRankA,
		Kilometrage:          12000,
		OwnersCount:          1,
		ListedPrice:          intp(38000),
		Active:               true,
	}
}

func TestSQLite_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	page := &models.Page{Number: 1, MaxPage: 1, Listings: []models.Listing{testListing(1), testListing(2)}}

	require.NoError(t, store.UpsertPage(ctx, page, date("2024-05-01")))
	require.NoError(t, store.UpsertPage(ctx, page, date("2024-05-01")))

	n, err := store.CountListings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	active, err := store.ActiveListings(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "2024-05-01", models.FormatDate(active[0].LastSeen))
	assert.Equal(t, "2024-04-20", models.FormatDate(active[0].CreationDate))
}

func TestSQLite_UpsertOnlyBumpsLastSeen(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	first := testListing(7)
	require.NoError(t, store.UpsertPage(ctx, &models.Page{Number: 1, Listings: []models.Listing{first}}, date("2024-05-01")))

	changed := first
	changed.ListedPrice = intp(1)
	changed.ModelName = "changed"
	require.NoError(t, store.UpsertPage(ctx, &models.Page{Number: 1, Listings: []models.Listing{changed}}, date("2024-05-03")))

	active, err := store.ActiveListings(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "MT-07", active[0].ModelName)
	require.NotNil(t, active[0].ListedPrice)
	assert.Equal(t, 38000, *active[0].ListedPrice)
	assert.Equal(t, "2024-05-03", models.FormatDate(active[0].LastSeen))
}

func TestSQLite_NullableColumns(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	l := testListing(3)
	l.Color = nil
	l.Location = nil
	l.ListedPrice = nil
	require.NoError(t, store.UpsertPage(ctx, &models.Page{Number: 1, Listings: []models.Listing{l}}, date("2024-05-01")))

	active, err := store.ActiveListings(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Nil(t, active[0].Color)
	assert.Nil(t, active[0].Location)
	assert.Nil(t, active[0].ListedPrice)
	require.NotNil(t, active[0].Brand)
	assert.Equal(t, "Yamaha", *active[0].Brand)
}

func TestSQLite_DeactivateStale(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name      string
		watermark string
		removed   int64
		active    int
	}{
		{"watermark after last seen", "2024-05-03", 1, 0},
		{"watermark equal to last seen", "2024-05-01", 0, 1},
		{"watermark before last seen", "2024-04-28", 0, 1},
		{"no previous success", "", 0, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newTestSQLite(t)
			require.NoError(t, store.UpsertPage(ctx, &models.Page{Number: 1, Listings: []models.Listing{testListing(1)}}, date("2024-05-01")))

			removed, err := store.DeactivateStale(ctx, tc.watermark)
			require.NoError(t, err)
			assert.Equal(t, tc.removed, removed)

			active, err := store.ActiveListings(ctx)
			require.NoError(t, err)
			assert.Len(t, active, tc.active)

			n, err := store.CountListings(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestSQLite_DeactivateOnlyCountsActiveRows(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)
	require.NoError(t, store.UpsertPage(ctx, &models.Page{Number: 1, Listings: []models.Listing{testListing(1), testListing(2)}}, date("2024-05-01")))

	removed, err := store.DeactivateStale(ctx, "2024-05-03")
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	removed, err = store.DeactivateStale(ctx, "2024-05-05")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestSQLite_Runs(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	run := models.NewScrapeRun(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, store.CreateRun(ctx, run))

	run.VersionID = "build-1"
	run.PagesFetched = 5
	run.ListingsAdded = 12
	run.Finish(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), nil)
	require.NoError(t, store.FinishRun(ctx, run))

	var status, version string
	var pages, added int
	err := store.db.QueryRowContext(ctx,
		`SELECT status, version_id, pages_fetched, listings_added FROM scrape_runs WHERE id = ?`,
		run.ID.String()).Scan(&status, &version, &pages, &added)
	require.NoError(t, err)
	assert.Equal(t, "completed", status)
	assert.Equal(t, "build-1", version)
	assert.Equal(t, 5, pages)
	assert.Equal(t, 12, added)
}

func TestSQLite_EmptyPageIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)
	require.NoError(t, store.UpsertPage(ctx, &models.Page{Number: 4}, date("2024-05-01")))

	n, err := store.CountListings(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
