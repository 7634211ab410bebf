package export

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"moto_harvest/models"
)

const sheetName = "active_listings"

// WriteXLSX writes the listings as a single-sheet workbook.
func WriteXLSX(w io.Writer, listings []models.Listing) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range columns {
		header.AddCell().SetString(c)
	}

	for _, l := range listings {
		r := sheet.AddRow()
		for _, v := range toRow(l).cells() {
			r.AddCell().SetString(v)
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "xlsx: write")
	}
	return nil
}
