// Package export dumps the active listing snapshot to a flat file.
package export

import (
	"strconv"

	"moto_harvest/models"
)

// row is one exported listing. Column names match the listings table.
type row struct {
	ListingID            int64   `csv:"listing_id"`
	CreationDate         string  `csv:"creation_date"`
	Location             *string `csv:"location"`
	Brand                *string `csv:"brand"`
	ModelName            string  `csv:"model_name"`
	ModelYear            int     `csv:"model_year"`
	EngineDisplacementCC int     `csv:"engine_displacement_cc"`
	LicenseRank          string  `csv:"license_rank"`
	Kilometrage          int     `csv:"kilometrage"`
	OwnersCount          int     `csv:"owners_count"`
	Color                *string `csv:"color"`
	ListedPrice          *int    `csv:"listed_price"`
	Active               bool    `csv:"active"`
	LastSeen             string  `csv:"last_seen"`
}

var columns = []string{
	"listing_id", "creation_date", "location", "brand", "model_name", "model_year",
	"engine_displacement_cc", "license_rank", "kilometrage", "owners_count", "color",
	"listed_price", "active", "last_seen",
}

func toRow(l models.Listing) row {
	return row{
		ListingID:            l.ListingID,
		CreationDate:         models.FormatDate(l.CreationDate),
		Location:             l.Location,
		Brand:                l.Brand,
		ModelName:            l.ModelName,
		ModelYear:            l.ModelYear,
		EngineDisplacementCC: l.EngineDisplacementCC,
		LicenseRank:          string(l.LicenseRank),
		Kilometrage:          l.Kilometrage,
		OwnersCount:          l.OwnersCount,
		Color:                l.Color,
		ListedPrice:          l.ListedPrice,
		Active:               l.Active,
		LastSeen:             models.FormatDate(l.LastSeen),
	}
}

// cells renders r in column order, nulls as empty strings.
func (r row) cells() []string {
	opt := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	price := ""
	if r.ListedPrice != nil {
		price = strconv.Itoa(*r.ListedPrice)
	}
	return []string{
		strconv.FormatInt(r.ListingID, 10),
		r.CreationDate,
		opt(r.Location),
		opt(r.Brand),
		r.ModelName,
		strconv.Itoa(r.ModelYear),
		strconv.Itoa(r.EngineDisplacementCC),
		r.LicenseRank,
		strconv.Itoa(r.Kilometrage),
		strconv.Itoa(r.OwnersCount),
		opt(r.Color),
		price,
		strconv.FormatBool(r.Active),
		r.LastSeen,
	}
}
