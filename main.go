package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"moto_harvest/config"
	"moto_harvest/export"
	"moto_harvest/httputil"
	"moto_harvest/identity"
	"moto_harvest/logging"
	"moto_harvest/scheduler"
	"moto_harvest/scraper"
	"moto_harvest/storage"
)

var (
	runOnce = flag.Bool("once", false, "Run a single harvest and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(2)
	}

	logger, logFile, err := logging.Setup(cfg.LogPath, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(2)
	}

	code := run(cfg, logger)
	_ = logger.Sync()
	logFile.Close()
	os.Exit(code)
}

func run(cfg *config.Config, logger *zap.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting moto_harvest",
		zap.String("source", cfg.Source.Name),
		zap.String("fetch_mode", cfg.Fetch.Mode),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("proxy", cfg.Proxy.URL != ""),
	)

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open store", zap.Error(err))
		return 1
	}
	defer store.Close()

	clients, err := httputil.NewClients(cfg.Proxy, cfg.Fetch.RequestTimeout)
	if err != nil {
		logger.Error("failed to build http clients", zap.Error(err))
		return 1
	}

	browser := scraper.NewPlaywrightBrowser(cfg.Browser.Headless, cfg.Browser.UserDataDir, logger.Named("browser"))
	defer browser.Close()

	gate := scraper.NewChallengeGate(cfg.Browser.ChallengeTimeout, cfg.Browser.ChallengePoll, logger.Named("gate"))
	endpoint := scraper.Endpoint{BaseURL: cfg.Source.BaseURL, Collection: cfg.Source.Collection}
	normalizer := scraper.NewNormalizer(logger.Named("normalizer"))

	var source scraper.PageSource
	switch cfg.Fetch.Mode {
	case "browser":
		source = scraper.NewBrowserPageSource(endpoint, browser, gate, normalizer, cfg.Source.DataAnchorID, logger.Named("pages"))
	default:
		fetcher := scraper.NewFetcher(clients.Scraping, scraper.FetcherConfig{
			MaxAttempts:       cfg.Fetch.MaxAttempts,
			AttemptTimeout:    cfg.Fetch.RequestTimeout,
			TransportDelay:    cfg.Fetch.TransportDelay,
			BlockedDelayMin:   cfg.Fetch.BlockedDelayMin,
			BlockedDelayMax:   cfg.Fetch.BlockedDelayMax,
			MalformedDelayMin: cfg.Fetch.MalformedDelayMin,
			MalformedDelayMax: cfg.Fetch.MalformedDelayMax,
		}, logger.Named("fetcher"))
		source = scraper.NewHTTPPageSource(endpoint, fetcher, normalizer, identity.Random(), logger.Named("pages"))
	}

	resolver := scraper.NewVersionResolver(browser, gate, cfg.Source.BootstrapURL, cfg.Source.DataAnchorID, cfg.CheckpointPath, logger.Named("version"))
	paginator := scraper.NewPaginator(source, store, scraper.PaginatorConfig{
		DelayMin:        cfg.Fetch.PageDelayMin,
		DelayMax:        cfg.Fetch.PageDelayMax,
		NominalPageSize: cfg.Source.NominalPageSize,
	}, logger.Named("paginator"))

	exporter, err := newExporter(ctx, cfg, store, clients, logger)
	if err != nil {
		logger.Error("failed to set up export", zap.Error(err))
		return 1
	}

	orchestrator := scraper.NewOrchestrator(store, resolver, paginator, exporter, cfg.CheckpointPath, logger.Named("orchestrator"))

	if *runOnce {
		if _, err := orchestrator.Run(ctx); err != nil {
			if scraper.IsExhausted(err) {
				logger.Error("harvest aborted: source kept failing", zap.Error(err))
			}
			return 1
		}
		return 0
	}

	sched := scheduler.New(cfg.Scheduler, func(ctx context.Context) error {
		_, err := orchestrator.Run(ctx)
		return err
	}, logger.Named("scheduler"))
	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", zap.Error(err))
		return 1
	}

	logger.Info("daemon running, press Ctrl+C to stop")
	<-ctx.Done()

	logger.Info("shutting down")
	sched.Stop()
	return 0
}

func openStore(ctx context.Context, cfg *config.Config) (storage.ListingStore, error) {
	switch cfg.Store.Driver {
	case "postgres":
		zap.L().Info("connecting to postgres", zap.String("url", maskConnectionString(cfg.Store.PostgresURL)))
		return storage.NewPostgresStore(ctx, cfg.Store.PostgresURL)
	case "sqlite":
		zap.L().Info("opening sqlite", zap.String("path", cfg.Store.SQLitePath))
		return storage.NewSQLiteStore(cfg.Store.SQLitePath)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func newExporter(ctx context.Context, cfg *config.Config, store storage.ListingStore, clients *httputil.Clients, logger *zap.Logger) (*export.Exporter, error) {
	var uploader export.Uploader
	if cfg.Export.S3.Bucket != "" {
		s3, err := storage.NewS3Uploader(ctx, storage.S3Config{
			Bucket:          cfg.Export.S3.Bucket,
			Region:          cfg.Export.S3.Region,
			Endpoint:        cfg.Export.S3.Endpoint,
			AccessKeyID:     cfg.Export.S3.AccessKeyID,
			SecretAccessKey: cfg.Export.S3.SecretAccessKey,
			KeyPrefix:       cfg.Export.S3.KeyPrefix,
			HTTPClient:      clients.API,
		})
		if err != nil {
			return nil, err
		}
		uploader = s3
	}
	return export.NewExporter(store, uploader, cfg.Export.Path, cfg.Export.Format, logger.Named("export")), nil
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	start := strings.Index(connStr, "://")
	if start < 0 {
		return connStr
	}
	start += 3

	at := strings.LastIndex(connStr, "@")
	if at < start {
		return connStr
	}
	colon := strings.Index(connStr[start:at], ":")
	if colon < 0 {
		return connStr
	}
	return connStr[:start+colon+1] + "****" + connStr[at:]
}
