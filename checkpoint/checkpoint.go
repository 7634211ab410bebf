// Package checkpoint persists the small amount of state that carries over
// between harvest runs.
package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"moto_harvest/models"
)

// Checkpoint is the on-disk run metadata. Dates are YYYY-MM-DD strings; an
// empty LastSuccessfulScrapeDate means no run has ever completed.
type Checkpoint struct {
	LastScrapeDate           string `json:"last_scrape_date"`
	LastSuccessfulScrapeDate string `json:"last_successful_scrape_date"`
	VersionID                string `json:"version_id"`
	AmountListingsAdded      int    `json:"amount_listings_added"`
	AmountListingsRemoved    int    `json:"amount_listings_removed"`
}

// Load reads the checkpoint at path, stamps today as the attempt date and
// writes it back before returning. A missing file yields an empty checkpoint.
func Load(path string, today time.Time) (*Checkpoint, error) {
	cp := &Checkpoint{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Older files keep the version under last_exctracted_build_id.
		var raw struct {
			*Checkpoint
			LegacyBuildID string `json:"last_exctracted_build_id"`
		}
		raw.Checkpoint = cp
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, eris.Wrapf(err, "checkpoint: parse %s", path)
		}
		if cp.VersionID == "" {
			cp.VersionID = raw.LegacyBuildID
		}
	case os.IsNotExist(err):
	default:
		return nil, eris.Wrapf(err, "checkpoint: read %s", path)
	}

	cp.LastScrapeDate = models.FormatDate(today)
	if err := cp.Save(path); err != nil {
		return nil, err
	}
	return cp, nil
}

// Save writes the checkpoint atomically.
func (c *Checkpoint) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return eris.Wrap(err, "checkpoint: marshal")
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.json")
	if err != nil {
		return eris.Wrapf(err, "checkpoint: create temp in %s", dir)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrap(err, "checkpoint: write temp")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return eris.Wrap(err, "checkpoint: close temp")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return eris.Wrapf(err, "checkpoint: rename to %s", path)
	}
	return nil
}

// SetVersion records a new data version. It reports whether the value changed.
func (c *Checkpoint) SetVersion(version string) bool {
	if c.VersionID == version {
		return false
	}
	c.VersionID = version
	return true
}

// MarkSuccess promotes the attempt date to the success watermark and records
// the run's row deltas.
func (c *Checkpoint) MarkSuccess(added, removed int) {
	c.LastSuccessfulScrapeDate = c.LastScrapeDate
	c.AmountListingsAdded = added
	c.AmountListingsRemoved = removed
}

// Watermark is the date below which a listing's last_seen is stale.
func (c *Checkpoint) Watermark() string {
	return c.LastSuccessfulScrapeDate
}
