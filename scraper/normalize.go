package scraper

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"moto_harvest/models"
)

const (
	otherBrandToken = "אחר"
	missingModel    = "N/A"
)

// ErrMalformedRecord marks a single raw record that could not be normalized.
var ErrMalformedRecord = eris.New("malformed listing record")

var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer maps raw source records onto models.Listing.
type Normalizer struct {
	logger *zap.Logger
}

func NewNormalizer(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// ImpliedLicenseRank is the rank a bike's displacement alone requires.
func ImpliedLicenseRank(cc int) models.LicenseRank {
	switch {
	case cc <= 125:
		return models.LicenseRankA2
	case cc <= 500:
		return models.LicenseRankA1
	default:
		return models.LicenseRankA
	}
}

// ParseLicenseRank reduces the source's free-text license class to a rank.
func ParseLicenseRank(s string) models.LicenseRank {
	switch {
	case strings.Contains(s, "47"):
		return models.LicenseRankA1
	case strings.Contains(s, "A2"):
		return models.LicenseRankA2
	default:
		return models.LicenseRankA
	}
}

// ReconcileLicenseRank combines the explicit rank (nil if absent) with the
// displacement. A1 is kept even when it disagrees, since power-capped bikes
// are sold for that license. Any other disagreement falls back to the implied
// rank and returns a non-empty note.
func ReconcileLicenseRank(explicit *string, cc int) (models.LicenseRank, string) {
	implied := ImpliedLicenseRank(cc)
	if explicit == nil {
		return implied, ""
	}

	rank := ParseLicenseRank(*explicit)
	if rank != implied && rank != models.LicenseRankA1 {
		return implied, "license rank " + string(rank) + " disagrees with displacement, using " + string(implied)
	}
	return rank, ""
}

// Normalize converts one raw record.
func (n *Normalizer) Normalize(raw gjson.Result) (models.Listing, error) {
	var l models.Listing

	id := raw.Get("adNumber")
	if id.Type != gjson.Number {
		return l, eris.Wrap(ErrMalformedRecord, "adNumber missing or not a number")
	}
	l.ListingID = id.Int()

	cc := raw.Get("engineVolume")
	if cc.Type != gjson.Number {
		return l, eris.Wrapf(ErrMalformedRecord, "listing %d: engineVolume missing", l.ListingID)
	}
	l.EngineDisplacementCC = int(cc.Int())

	price := raw.Get("price")
	if !price.Exists() {
		return l, eris.Wrapf(ErrMalformedRecord, "listing %d: price missing", l.ListingID)
	}
	switch price.Type {
	case gjson.Null:
	case gjson.Number:
		p := int(price.Int())
		l.ListedPrice = &p
	default:
		return l, eris.Wrapf(ErrMalformedRecord, "listing %d: price is %s", l.ListingID, price.Type)
	}

	created, err := parseCreatedAt(raw.Get("dates.createdAt").String())
	if err != nil {
		return l, eris.Wrapf(ErrMalformedRecord, "listing %d: %v", l.ListingID, err)
	}
	l.CreationDate = created

	l.Location = localeText(raw.Get("address.area"))
	l.Brand = localeText(raw.Get("manufacturer"))
	if l.Brand != nil && *l.Brand == otherBrandToken {
		other := "other"
		l.Brand = &other
	}
	if model := localeText(raw.Get("model")); model != nil {
		l.ModelName = *model
	} else {
		l.ModelName = missingModel
	}
	l.Color = localeText(raw.Get("color"))

	l.ModelYear = int(raw.Get("vehicleDates.yearOfProduction").Int())
	l.Kilometrage = int(raw.Get("km").Int())
	l.OwnersCount = int(raw.Get("hand.id").Int())

	rank, note := ReconcileLicenseRank(licenseText(raw.Get("license")), l.EngineDisplacementCC)
	l.LicenseRank = rank
	if note != "" {
		n.logger.Debug("license rank reconciled",
			zap.Int64("listing_id", l.ListingID),
			zap.Stringp("brand", l.Brand),
			zap.String("model", l.ModelName),
			zap.Int("cc", l.EngineDisplacementCC),
			zap.String("note", note),
		)
	}

	l.Active = true
	return l, nil
}

// localeText prefers the English variant of a {text, textEng} object. A
// missing or null object yields nil.
func localeText(obj gjson.Result) *string {
	if !obj.Exists() || obj.Type == gjson.Null {
		return nil
	}
	if obj.Type == gjson.String {
		s := obj.String()
		return &s
	}
	if eng := obj.Get("textEng"); eng.Exists() && eng.Type != gjson.Null {
		s := eng.String()
		return &s
	}
	if def := obj.Get("text"); def.Exists() && def.Type != gjson.Null {
		s := def.String()
		return &s
	}
	return nil
}

// licenseText reads the default-locale text, which carries markers like "47"
// that the English variant may drop.
func licenseText(obj gjson.Result) *string {
	if !obj.Exists() || obj.Type == gjson.Null {
		return nil
	}
	for _, key := range []string{"text", "textEng"} {
		if v := obj.Get(key); v.Exists() && v.Type != gjson.Null {
			s := v.String()
			return &s
		}
	}
	return nil
}

func parseCreatedAt(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, eris.New("dates.createdAt missing")
	}
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, eris.Errorf("unparsable createdAt %q", s)
}
