package scraper

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"moto_harvest/checkpoint"
	"moto_harvest/models"
	"moto_harvest/storage"
)

// Resolver finds the current data version and page count.
type Resolver interface {
	Resolve(ctx context.Context, cp *checkpoint.Checkpoint) (string, int, error)
}

// Traverser walks every page of one data version.
type Traverser interface {
	Run(ctx context.Context, version string, maxPage int, runDate time.Time) (PaginationStats, error)
}

// Exporter dumps the active snapshot after a successful run.
type Exporter interface {
	Export(ctx context.Context) (int, error)
}

// Orchestrator runs one harvest end to end.
type Orchestrator struct {
	store          storage.ListingStore
	resolver       Resolver
	paginator      Traverser
	exporter       Exporter
	checkpointPath string
	logger         *zap.Logger

	now func() time.Time
}

// NewOrchestrator wires a run. exporter may be nil.
func NewOrchestrator(store storage.ListingStore, resolver Resolver, paginator Traverser, exporter Exporter, checkpointPath string, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:          store,
		resolver:       resolver,
		paginator:      paginator,
		exporter:       exporter,
		checkpointPath: checkpointPath,
		logger:         logger,
		now:            time.Now,
	}
}

// Run performs one harvest. Success markers in the checkpoint are written
// only when every page was fetched; the returned run record describes the
// attempt either way.
func (o *Orchestrator) Run(ctx context.Context) (*models.ScrapeRun, error) {
	started := o.now()

	cp, err := checkpoint.Load(o.checkpointPath, started)
	if err != nil {
		return nil, eris.Wrap(err, "load checkpoint")
	}

	run := models.NewScrapeRun(started)
	if err := o.store.CreateRun(ctx, run); err != nil {
		o.logger.Warn("failed to record run start", zap.Error(err))
	}
	o.logger.Info("harvest started",
		zap.String("run_id", run.ID.String()),
		zap.String("watermark", cp.Watermark()),
	)

	before, err := o.store.CountListings(ctx)
	if err != nil {
		return run, o.fail(ctx, run, eris.Wrap(err, "count listings before run"))
	}

	version, maxPage, err := o.resolver.Resolve(ctx, cp)
	if err != nil {
		return run, o.fail(ctx, run, eris.Wrap(err, "resolve data version"))
	}
	run.VersionID = version

	stats, err := o.paginator.Run(ctx, version, maxPage, started)
	run.PagesFetched = stats.PagesFetched
	run.ListingsSeen = stats.ListingsSeen
	run.RecordsSkipped = stats.RecordsSkipped
	run.UpsertFailures = stats.UpsertFailures
	if err != nil {
		return run, o.fail(ctx, run, err)
	}

	// The watermark is still the previous success at this point.
	removed, err := o.store.DeactivateStale(ctx, cp.Watermark())
	if err != nil {
		o.logger.Error("failed to deactivate stale listings", zap.Error(err))
		removed = 0
	}

	added := 0
	if after, err := o.store.CountListings(ctx); err != nil {
		o.logger.Error("failed to count listings after run", zap.Error(err))
	} else {
		added = after - before
	}

	cp.MarkSuccess(added, int(removed))
	if err := cp.Save(o.checkpointPath); err != nil {
		return run, o.fail(ctx, run, eris.Wrap(err, "save checkpoint"))
	}

	run.ListingsAdded = added
	run.ListingsRemoved = int(removed)
	run.Finish(o.now(), nil)
	if err := o.store.FinishRun(ctx, run); err != nil {
		o.logger.Warn("failed to record run finish", zap.Error(err))
	}

	o.logger.Info("harvest completed",
		zap.String("version", version),
		zap.Int("pages", stats.PagesFetched),
		zap.Int("listings_seen", stats.ListingsSeen),
		zap.Int("skipped", stats.RecordsSkipped),
		zap.Int("upsert_failures", stats.UpsertFailures),
		zap.Int("added", added),
		zap.Int64("removed", removed),
		zap.Duration("took", run.FinishedAt.Sub(started)),
	)

	if o.exporter != nil {
		if _, err := o.exporter.Export(ctx); err != nil {
			o.logger.Error("export failed", zap.Error(err))
		}
	}

	return run, nil
}

func (o *Orchestrator) fail(ctx context.Context, run *models.ScrapeRun, err error) error {
	run.Finish(o.now(), err)
	if ferr := o.store.FinishRun(context.WithoutCancel(ctx), run); ferr != nil {
		o.logger.Warn("failed to record run failure", zap.Error(ferr))
	}

	fields := []zap.Field{zap.String("run_id", run.ID.String()), zap.Error(err)}
	var ex *ExhaustedError
	if eris.As(err, &ex) {
		fields = append(fields, zap.String("url", ex.URL), zap.Int("attempts", ex.Attempts))
	}
	o.logger.Error("harvest failed", fields...)
	return err
}
