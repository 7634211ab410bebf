package export

import (
	"encoding/csv"
	"io"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"moto_harvest/models"
)

// WriteCSV writes a header row followed by one row per listing.
func WriteCSV(w io.Writer, listings []models.Listing) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	if err := enc.EncodeHeader(row{}); err != nil {
		return eris.Wrap(err, "csv: header")
	}
	for _, l := range listings {
		if err := enc.Encode(toRow(l)); err != nil {
			return eris.Wrapf(err, "csv: listing %d", l.ListingID)
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "csv: flush")
}
