package models

import "time"

// LicenseRank is the riding license class a listing requires.
type LicenseRank string

const (
	LicenseRankA2 LicenseRank = "A2"
	LicenseRankA1 LicenseRank = "A1"
	LicenseRankA  LicenseRank = "A"
)

// DateLayout is the on-disk and in-database format for calendar dates.
const DateLayout = "2006-01-02"

// Listing is one motorcycle classified as persisted in the snapshot table.
type Listing struct {
	ListingID            int64       `json:"listing_id" db:"listing_id"`
	CreationDate         time.Time   `json:"creation_date" db:"creation_date"`
	Location             *string     `json:"location" db:"location"`
	Brand                *string     `json:"brand" db:"brand"`
	ModelName            string      `json:"model_name" db:"model_name"`
	ModelYear            int         `json:"model_year" db:"model_year"`
	EngineDisplacementCC int         `json:"engine_displacement_cc" db:"engine_displacement_cc"`
	LicenseRank          LicenseRank `json:"license_rank" db:"license_rank"`
	Kilometrage          int         `json:"kilometrage" db:"kilometrage"`
	OwnersCount          int         `json:"owners_count" db:"owners_count"`
	Color                *string     `json:"color" db:"color"`
	ListedPrice          *int        `json:"listed_price" db:"listed_price"`
	Active               bool        `json:"active" db:"active"`
	LastSeen             time.Time   `json:"last_seen" db:"last_seen"`
}

// Page is the transient result of fetching one page of the source listing.
// MaxPage is what that particular fetch reported and may differ between pages.
type Page struct {
	Number   int
	MaxPage  int
	Listings []Listing
	Skipped  int
}

// IsLast reports whether the fetch said this page is the final one.
func (p *Page) IsLast() bool {
	return p.MaxPage == p.Number
}

// FormatDate renders a date for storage; the zero time renders as "".
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// ParseDate is the inverse of FormatDate.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(DateLayout, s)
}
