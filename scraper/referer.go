package scraper

import (
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
)

const (
	firstPageRefererLow  = 2
	firstPageRefererHigh = 27
	refererSpread        = 3
)

// Endpoint builds the source URLs for one listing collection.
type Endpoint struct {
	BaseURL    string // e.g. https://www.yad2.co.il/vehicles
	Collection string // e.g. motorcycles
}

// DataURL is the JSON data route for a page under a given build version.
func (e Endpoint) DataURL(version string, page int) string {
	return fmt.Sprintf("%s/_next/data/%s/%s.json?page=%d",
		strings.TrimRight(e.BaseURL, "/"), url.PathEscape(version), e.Collection, page)
}

// PageURL is the human-facing listing page.
func (e Endpoint) PageURL(page int) string {
	return fmt.Sprintf("%s/%s?page=%d", strings.TrimRight(e.BaseURL, "/"), e.Collection, page)
}

// RefererCandidates lists the pages a visitor could plausibly have come from
// before requesting page. The result never contains page itself.
func RefererCandidates(page, maxPage int) []int {
	if page == 1 {
		out := make([]int, 0, firstPageRefererHigh-firstPageRefererLow+1)
		for k := firstPageRefererLow; k <= firstPageRefererHigh; k++ {
			out = append(out, k)
		}
		return out
	}

	lower := max(1, page-refererSpread)
	upper := min(maxPage, page+refererSpread)
	var out []int
	for k := lower; k <= upper; k++ {
		if k != page {
			out = append(out, k)
		}
	}
	return out
}

// Referer picks a neighbouring listing page URL, or "" when there is nothing
// sensible to send. intn may be nil.
func (e Endpoint) Referer(page, maxPage int, intn func(int) int) string {
	candidates := RefererCandidates(page, maxPage)
	if len(candidates) == 0 || e.BaseURL == "" {
		return ""
	}
	if intn == nil {
		intn = rand.IntN
	}
	return e.PageURL(candidates[intn(len(candidates))])
}
