package export

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"moto_harvest/models"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// ActiveLister supplies the snapshot to export.
type ActiveLister interface {
	ActiveListings(ctx context.Context) ([]models.Listing, error)
}

// Uploader ships the exported file somewhere off the box.
type Uploader interface {
	Key(name string) string
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
	PublicURL(key string) string
}

type Exporter struct {
	lister   ActiveLister
	uploader Uploader
	path     string
	format   string
	logger   *zap.Logger
}

// NewExporter builds an exporter. uploader may be nil.
func NewExporter(lister ActiveLister, uploader Uploader, path, format string, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		lister:   lister,
		uploader: uploader,
		path:     path,
		format:   format,
		logger:   logger,
	}
}

// Export writes every active listing to the configured path and, if an
// uploader is set, uploads the same bytes. It returns the row count.
func (e *Exporter) Export(ctx context.Context) (int, error) {
	listings, err := e.lister.ActiveListings(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "export: load active listings")
	}

	var buf bytes.Buffer
	contentType := "text/csv"
	switch e.format {
	case FormatXLSX:
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		err = WriteXLSX(&buf, listings)
	case FormatCSV, "":
		err = WriteCSV(&buf, listings)
	default:
		return 0, eris.Errorf("export: unknown format %q", e.format)
	}
	if err != nil {
		return 0, err
	}

	if dir := filepath.Dir(e.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, eris.Wrapf(err, "export: create %s", dir)
		}
	}
	if err := os.WriteFile(e.path, buf.Bytes(), 0644); err != nil {
		return 0, eris.Wrapf(err, "export: write %s", e.path)
	}
	e.logger.Info("exported active listings", zap.String("path", e.path), zap.Int("rows", len(listings)))

	if e.uploader != nil {
		key := e.uploader.Key(filepath.Base(e.path))
		if err := e.uploader.Upload(ctx, key, bytes.NewReader(buf.Bytes()), contentType); err != nil {
			return len(listings), eris.Wrap(err, "export: upload")
		}
		e.logger.Info("uploaded export", zap.String("key", key), zap.String("url", e.uploader.PublicURL(key)))
	}

	return len(listings), nil
}
