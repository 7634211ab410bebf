package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moto_harvest/identity"
)

func TestParsePage_Fixture(t *testing.T) {
	page, err := ParsePage(NewNormalizer(nil), loadFixture(t, "page_data.json"), pageDataPath, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, page.Number)
	assert.Equal(t, 3, page.MaxPage)
	assert.Equal(t, 2, page.Skipped)
	require.Len(t, page.Listings, 3)

	// commercial first, then private
	assert.EqualValues(t, 80112233, page.Listings[0].ListingID)
	assert.EqualValues(t, 80112234, page.Listings[1].ListingID)
	assert.EqualValues(t, 80112235, page.Listings[2].ListingID)

	assert.Equal(t, "other", *page.Listings[1].Brand)
	assert.Nil(t, page.Listings[1].ListedPrice)
	assert.Equal(t, "2024-04-20", page.Listings[2].CreationDate.Format("2006-01-02"))
	assert.EqualValues(t, "A1", page.Listings[2].LicenseRank)
	assert.False(t, page.IsLast())
}

func TestParsePage_BadShape(t *testing.T) {
	n := NewNormalizer(nil)

	_, err := ParsePage(n, []byte(`not json`), pageDataPath, 1)
	assert.ErrorIs(t, err, ErrPageShape)

	_, err = ParsePage(n, []byte(`{"pageProps": {}}`), pageDataPath, 1)
	assert.ErrorIs(t, err, ErrPageShape)

	_, err = ParsePage(n, []byte(`{"pageProps":{"dehydratedState":{"queries":[{"state":{"data":{"private":[]}}}]}}}`), pageDataPath, 1)
	assert.ErrorIs(t, err, ErrPageShape)
}

func TestParsePage_EmptyGroups(t *testing.T) {
	body := []byte(`{"pageProps":{"dehydratedState":{"queries":[{"state":{"data":{"pagination":{"pages":4}}}}]}}}`)
	page, err := ParsePage(NewNormalizer(nil), body, pageDataPath, 4)
	require.NoError(t, err)
	assert.Empty(t, page.Listings)
	assert.True(t, page.IsLast())
}

func TestHTTPPageSource_FetchPage(t *testing.T) {
	fixture := loadFixture(t, "page_data.json")

	var gotPath, gotQuery, gotReferer, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotReferer = r.Header.Get("Referer")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write(fixture)
	}))
	defer srv.Close()

	endpoint := Endpoint{BaseURL: srv.URL + "/vehicles", Collection: "motorcycles"}
	fetcher := NewFetcher(srv.Client(), DefaultFetcherConfig(), nil)
	fetcher.sleep = noSleep

	profile := identity.Random()
	source := NewHTTPPageSource(endpoint, fetcher, NewNormalizer(nil), profile, nil)
	source.intn = func(int) int { return 0 }

	page, err := source.FetchPage(context.Background(), "build-77", 10, 27)
	require.NoError(t, err)

	assert.Equal(t, "/vehicles/_next/data/build-77/motorcycles.json", gotPath)
	assert.Equal(t, "page=10", gotQuery)
	assert.Equal(t, srv.URL+"/vehicles/motorcycles?page=7", gotReferer)
	assert.Equal(t, profile.UserAgent, gotUA)
	assert.Len(t, page.Listings, 3)
	assert.Equal(t, 10, page.Number)
}

func TestHTTPPageSource_NoRefererWhenNoCandidates(t *testing.T) {
	fixture := loadFixture(t, "page_data.json")
	sawReferer := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawReferer = r.Header["Referer"]
		w.Write(fixture)
	}))
	defer srv.Close()

	fetcher := NewFetcher(srv.Client(), DefaultFetcherConfig(), nil)
	source := NewHTTPPageSource(Endpoint{BaseURL: srv.URL, Collection: "motorcycles"}, fetcher, NewNormalizer(nil), identity.Random(), nil)

	_, err := source.FetchPage(context.Background(), "v", 5, 0)
	require.NoError(t, err)
	assert.False(t, sawReferer)
}

func TestBrowserPageSource_FetchPage(t *testing.T) {
	html := string(loadFixture(t, "bootstrap.html"))
	browser := &fakeBrowser{pages: map[string][]string{
		"https://www.yad2.co.il/vehicles/motorcycles?page=3": {string(loadFixture(t, "challenge.html")), html},
	}}
	gate := testGate(time.Minute, time.Second)

	source := NewBrowserPageSource(
		Endpoint{BaseURL: "https://www.yad2.co.il/vehicles", Collection: "motorcycles"},
		browser, gate, NewNormalizer(nil), "__NEXT_DATA__", nil,
	)

	page, err := source.FetchPage(context.Background(), "", 3, 27)
	require.NoError(t, err)
	assert.Equal(t, 27, page.MaxPage)
	require.Len(t, page.Listings, 1)
	assert.EqualValues(t, 70000001, page.Listings[0].ListingID)
	assert.Equal(t, 1, browser.closedTabs)
}

func TestBrowserPageSource_AnchorNeverAppears(t *testing.T) {
	challenge := string(loadFixture(t, "challenge.html"))
	browser := &fakeBrowser{pages: map[string][]string{
		"https://www.yad2.co.il/vehicles/motorcycles?page=1": {challenge},
	}}

	source := NewBrowserPageSource(
		Endpoint{BaseURL: "https://www.yad2.co.il/vehicles", Collection: "motorcycles"},
		browser, testGate(10*time.Second, time.Second), NewNormalizer(nil), "__NEXT_DATA__", nil,
	)

	_, err := source.FetchPage(context.Background(), "", 1, 27)
	require.ErrorIs(t, err, ErrAnchorMissing)
	assert.Equal(t, 1, browser.closedTabs)
}
