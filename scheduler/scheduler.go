package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"moto_harvest/config"
)

// RunFunc performs one harvest.
type RunFunc func(ctx context.Context) error

// Scheduler triggers harvests on a cron expression or a fixed interval. A
// trigger that fires while a run is still going is dropped.
type Scheduler struct {
	cfg    config.SchedulerConfig
	run    RunFunc
	logger *zap.Logger

	cron    *cron.Cron
	ticker  *time.Ticker
	stopCh  chan struct{}
	stopped sync.Once

	running sync.Mutex
	wg      sync.WaitGroup
}

func New(cfg config.SchedulerConfig, run RunFunc, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:    cfg,
		run:    run,
		logger: logger,
		cron:   cron.New(),
		stopCh: make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	switch {
	case s.cfg.Cron != "":
		s.logger.Info("starting scheduler", zap.String("cron", s.cfg.Cron))
		_, err := s.cron.AddFunc(s.cfg.Cron, func() { s.TriggerNow(ctx) })
		if err != nil {
			return eris.Wrap(err, "invalid cron expression")
		}
		s.cron.Start()
	case s.cfg.Interval > 0:
		s.logger.Info("starting scheduler", zap.Duration("interval", s.cfg.Interval))
		s.ticker = time.NewTicker(s.cfg.Interval)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.TriggerNow(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	default:
		return eris.New("no schedule configured: set SCRAPE_CRON or SCRAPE_INTERVAL, or use -once")
	}
	return nil
}

// TriggerNow runs a harvest unless one is already in progress. It reports
// whether a run happened.
func (s *Scheduler) TriggerNow(ctx context.Context) bool {
	if !s.running.TryLock() {
		s.logger.Warn("previous run still in progress, skipping trigger")
		return false
	}
	defer s.running.Unlock()

	if err := s.run(ctx); err != nil {
		s.logger.Error("scheduled run failed", zap.Error(err))
	}
	return true
}

// Stop halts future triggers and waits for an in-flight run to return.
func (s *Scheduler) Stop() {
	s.stopped.Do(func() {
		stopCtx := s.cron.Stop()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		<-stopCtx.Done()
		s.wg.Wait()
		s.running.Lock()
		s.running.Unlock()
	})
}
