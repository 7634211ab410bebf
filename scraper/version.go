package scraper

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"moto_harvest/checkpoint"
)

// ErrBootstrapShape is returned when the bootstrap document lacks the build
// id or page count.
var ErrBootstrapShape = eris.New("bootstrap document has unexpected shape")

// parseBootstrapAnchor reads the data version and total page count from the
// landing page's data anchor.
func parseBootstrapAnchor(anchor string) (string, int, error) {
	if !gjson.Valid(anchor) {
		return "", 0, eris.Wrap(ErrBootstrapShape, "anchor is not json")
	}
	build := gjson.Get(anchor, "buildId")
	if build.Type != gjson.String || build.String() == "" {
		return "", 0, eris.Wrap(ErrBootstrapShape, "buildId missing")
	}
	pages := gjson.Get(anchor, anchorDataPath+".pagination.pages")
	if pages.Type != gjson.Number {
		return "", 0, eris.Wrap(ErrBootstrapShape, "pagination.pages missing")
	}
	return build.String(), int(pages.Int()), nil
}

// VersionResolver finds the source's current data version by rendering the
// landing page once.
type VersionResolver struct {
	browser        Browser
	gate           *ChallengeGate
	bootstrapURL   string
	anchorID       string
	checkpointPath string
	logger         *zap.Logger
}

func NewVersionResolver(browser Browser, gate *ChallengeGate, bootstrapURL, anchorID, checkpointPath string, logger *zap.Logger) *VersionResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VersionResolver{
		browser:        browser,
		gate:           gate,
		bootstrapURL:   bootstrapURL,
		anchorID:       anchorID,
		checkpointPath: checkpointPath,
		logger:         logger,
	}
}

// Resolve returns the current version and page count. When the version
// differs from cp's, cp is updated and saved before returning.
func (r *VersionResolver) Resolve(ctx context.Context, cp *checkpoint.Checkpoint) (string, int, error) {
	tab, err := r.browser.Open(ctx, r.bootstrapURL)
	if err != nil {
		return "", 0, eris.Wrap(err, "open bootstrap page")
	}
	defer tab.Close()

	anchor, err := waitForAnchor(ctx, r.gate, tab, r.anchorID, r.logger)
	if err != nil {
		return "", 0, eris.Wrap(err, "bootstrap page")
	}

	version, maxPage, err := parseBootstrapAnchor(anchor)
	if err != nil {
		return "", 0, err
	}

	previous := cp.VersionID
	if cp.SetVersion(version) {
		r.logger.Warn("data version changed",
			zap.String("previous", previous),
			zap.String("current", version),
		)
		if err := cp.Save(r.checkpointPath); err != nil {
			return "", 0, eris.Wrap(err, "persist new version")
		}
	}

	r.logger.Info("version resolved", zap.String("version", version), zap.Int("max_page", maxPage))
	return version, maxPage, nil
}
