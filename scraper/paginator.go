package scraper

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"moto_harvest/models"
)

// PageStore persists one page of listings.
type PageStore interface {
	UpsertPage(ctx context.Context, page *models.Page, runDate time.Time) error
}

type PaginatorConfig struct {
	DelayMin        time.Duration
	DelayMax        time.Duration
	NominalPageSize int
}

// PaginationStats summarizes one traversal.
type PaginationStats struct {
	PagesFetched   int
	ListingsSeen   int
	RecordsSkipped int
	UpsertFailures int
	LastPage       int
}

// Paginator walks the listing pages in order, one at a time.
type Paginator struct {
	source PageSource
	store  PageStore
	cfg    PaginatorConfig
	logger *zap.Logger

	sleep     func(ctx context.Context, d time.Duration) error
	randFloat func() float64
}

func NewPaginator(source PageSource, store PageStore, cfg PaginatorConfig, logger *zap.Logger) *Paginator {
	if cfg.NominalPageSize <= 0 {
		cfg.NominalPageSize = 40
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Paginator{
		source:    source,
		store:     store,
		cfg:       cfg,
		logger:    logger,
		sleep:     sleepCtx,
		randFloat: rand.Float64,
	}
}

// Run fetches pages starting at 1 until a page reports itself as the last.
// A fetch error ends the traversal and is returned; an upsert error is logged
// and the traversal continues.
func (p *Paginator) Run(ctx context.Context, version string, maxPage int, runDate time.Time) (PaginationStats, error) {
	var stats PaginationStats

	for current := 1; ; current++ {
		delay := p.delay()
		p.logger.Debug("sleeping before page", zap.Int("page", current), zap.Duration("delay", delay))
		if err := p.sleep(ctx, delay); err != nil {
			return stats, err
		}

		page, err := p.source.FetchPage(ctx, version, current, maxPage)
		if err != nil {
			return stats, eris.Wrapf(err, "fetch page %d", current)
		}

		stats.PagesFetched++
		stats.LastPage = current
		stats.ListingsSeen += len(page.Listings)
		stats.RecordsSkipped += page.Skipped

		if page.MaxPage != maxPage {
			p.logger.Info("page count changed", zap.Int("page", current), zap.Int("was", maxPage), zap.Int("now", page.MaxPage))
		}
		maxPage = page.MaxPage

		if err := p.store.UpsertPage(ctx, page, runDate); err != nil {
			stats.UpsertFailures++
			p.logger.Error("failed to store page", zap.Int("page", current), zap.Error(err))
		} else {
			p.logger.Info("page stored",
				zap.Int("page", current),
				zap.Int("max_page", maxPage),
				zap.Int("listings", len(page.Listings)),
				zap.Int("skipped", page.Skipped),
			)
		}

		last := page.IsLast()
		if !last && page.MaxPage < current {
			p.logger.Warn("source reports fewer pages than already fetched, stopping",
				zap.Int("page", current),
				zap.Int("max_page", page.MaxPage),
			)
			last = true
		}
		if last {
			return stats, nil
		}

		if len(page.Listings) < p.cfg.NominalPageSize {
			p.logger.Warn("short non-final page",
				zap.Int("page", current),
				zap.Int("listings", len(page.Listings)),
				zap.Int("expected", p.cfg.NominalPageSize),
			)
		}
	}
}

func (p *Paginator) delay() time.Duration {
	lo, hi := p.cfg.DelayMin, p.cfg.DelayMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(p.randFloat()*float64(hi-lo))
}
