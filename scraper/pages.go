package scraper

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"moto_harvest/identity"
	"moto_harvest/models"
)

const (
	// pageDataPath locates the listing payload in a data-route response.
	pageDataPath = "pageProps.dehydratedState.queries.0.state.data"
	// anchorDataPath is the same payload inside a rendered document's anchor.
	anchorDataPath = "props." + pageDataPath
)

// ErrPageShape is returned when a page body lacks the listing payload.
var ErrPageShape = eris.New("page payload has unexpected shape")

// PageSource produces one parsed listing page.
type PageSource interface {
	FetchPage(ctx context.Context, version string, page, maxPage int) (*models.Page, error)
}

// ParsePage extracts the page number's listings and reported page count from
// a JSON document, where dataPath points at the payload object. Records that
// fail normalization are logged and counted, never fatal.
func ParsePage(n *Normalizer, body []byte, dataPath string, pageNum int) (*models.Page, error) {
	if !gjson.ValidBytes(body) {
		return nil, eris.Wrapf(ErrPageShape, "page %d: invalid json", pageNum)
	}

	data := gjson.GetBytes(body, dataPath)
	if !data.IsObject() {
		return nil, eris.Wrapf(ErrPageShape, "page %d: %s missing", pageNum, dataPath)
	}

	pages := data.Get("pagination.pages")
	if pages.Type != gjson.Number {
		return nil, eris.Wrapf(ErrPageShape, "page %d: pagination.pages missing", pageNum)
	}

	page := &models.Page{
		Number:  pageNum,
		MaxPage: int(pages.Int()),
	}

	for _, group := range []string{"commercial", "private"} {
		for i, raw := range data.Get(group).Array() {
			listing, err := n.Normalize(raw)
			if err != nil {
				page.Skipped++
				n.logger.Warn("skipping malformed record",
					zap.Int("page", pageNum),
					zap.String("group", group),
					zap.Int("index", i),
					zap.Error(err),
				)
				continue
			}
			page.Listings = append(page.Listings, listing)
		}
	}

	return page, nil
}

// HTTPPageSource reads pages from the JSON data route through the resilient
// fetcher.
type HTTPPageSource struct {
	endpoint   Endpoint
	fetcher    *Fetcher
	normalizer *Normalizer
	profile    identity.Profile
	logger     *zap.Logger

	intn func(int) int
}

func NewHTTPPageSource(endpoint Endpoint, fetcher *Fetcher, normalizer *Normalizer, profile identity.Profile, logger *zap.Logger) *HTTPPageSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPPageSource{
		endpoint:   endpoint,
		fetcher:    fetcher,
		normalizer: normalizer,
		profile:    profile,
		logger:     logger,
	}
}

func (s *HTTPPageSource) FetchPage(ctx context.Context, version string, page, maxPage int) (*models.Page, error) {
	url := s.endpoint.DataURL(version, page)

	header := s.profile.Headers()
	if ref := s.endpoint.Referer(page, maxPage, s.intn); ref != "" {
		header.Set("Referer", ref)
	} else {
		s.logger.Debug("no referer candidates", zap.Int("page", page), zap.Int("max_page", maxPage))
	}

	body, err := s.fetcher.Fetch(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return ParsePage(s.normalizer, body, pageDataPath, page)
}

// BrowserPageSource renders the human-facing listing page and reads the
// embedded data anchor. It waits at the challenge gate when the anchor is
// not there yet.
type BrowserPageSource struct {
	endpoint   Endpoint
	browser    Browser
	gate       *ChallengeGate
	normalizer *Normalizer
	anchorID   string
	logger     *zap.Logger
}

func NewBrowserPageSource(endpoint Endpoint, browser Browser, gate *ChallengeGate, normalizer *Normalizer, anchorID string, logger *zap.Logger) *BrowserPageSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BrowserPageSource{
		endpoint:   endpoint,
		browser:    browser,
		gate:       gate,
		normalizer: normalizer,
		anchorID:   anchorID,
		logger:     logger,
	}
}

func (s *BrowserPageSource) FetchPage(ctx context.Context, _ string, page, _ int) (*models.Page, error) {
	tab, err := s.browser.Open(ctx, s.endpoint.PageURL(page))
	if err != nil {
		return nil, eris.Wrapf(err, "open page %d", page)
	}
	defer tab.Close()

	anchor, err := waitForAnchor(ctx, s.gate, tab, s.anchorID, s.logger)
	if err != nil {
		return nil, eris.Wrapf(err, "page %d", page)
	}
	return ParsePage(s.normalizer, []byte(anchor), anchorDataPath, page)
}
