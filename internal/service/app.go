package service

import (
	"context"
	"fmt"

	"github.com/wallet-tracker/internal/adapter"
	"github.com/wallet-tracker/internal/config"
	"github.com/wallet-tracker/internal/logging"
	"github.com/wallet-tracker/internal/storage"
)

// App holds one store, one collector pipeline and one scheduler.
// Processes build exactly one App and pass it to whatever serves requests.
type App struct {
	Config    *config.Config
	Store     storage.SnapshotStore
	Collector *Collector
	Pipeline  *Pipeline
	Analytics *AnalyticsService
	Scheduler *Scheduler
	Archive   *storage.ScanArchive

	closers []func()
}

// NewApp connects to Postgres and, when enabled, ClickHouse and Redis, and
// wires the collector against the configured ranking source.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.FromContext(ctx)
	app := &App{Config: cfg}

	db, err := storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	app.closers = append(app.closers, db.Close)
	store := storage.NewSnapshotRepository(db.Pool())

	var archive ScanArchiver
	if cfg.Database.ClickHouse.Enabled {
		ch, err := storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Warn("ClickHouse unavailable, scan archive disabled")
		} else {
			app.closers = append(app.closers, func() { _ = ch.Close() })
			app.Archive = storage.NewScanArchive(ch)
			archive = app.Archive
		}
	}

	var cache ViewCache
	if cfg.Database.Redis.Enabled {
		redis, err := storage.NewRedisCache(ctx, &cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, analytics cache disabled")
		} else {
			app.closers = append(app.closers, func() { _ = redis.Close() })
			cache = storage.NewAnalyticsCache(redis, cfg.Cache.TTL)
		}
	}

	client := adapter.NewRankingClient(cfg.Collector)
	parser := adapter.NewRankingParser(cfg.Collector.TableID, cfg.Collector.Columns)
	app.wire(store, client, parser, archive, cache)

	return app, nil
}

// NewAppWithStore wires an App around an existing store and page source.
// Used by tests and the collector's dry-run mode.
func NewAppWithStore(cfg *config.Config, store storage.SnapshotStore, fetcher PageFetcher) *App {
	app := &App{Config: cfg}
	parser := adapter.NewRankingParser(cfg.Collector.TableID, cfg.Collector.Columns)
	app.wire(store, fetcher, parser, nil, nil)
	return app
}

func (a *App) wire(store storage.SnapshotStore, fetcher PageFetcher, parser PageParser, archive ScanArchiver, cache ViewCache) {
	a.Store = store
	a.Collector = NewCollector(fetcher, parser, a.Config.Collector.RequestDelay)
	a.Pipeline = NewPipeline(a.Collector, store, archive, cache, a.Config.Collector.MaxPages)
	a.Analytics = NewAnalyticsService(store, cache)
	a.Scheduler = NewScheduler(PipelineRunFunc(a.Pipeline), a.Config.Scheduler)
}

// CollectAndStore runs the pipeline once on demand
func (a *App) CollectAndStore(ctx context.Context, pageCount int) (bool, string) {
	return a.Pipeline.CollectAndStore(ctx, pageCount)
}

// Close stops the scheduler and releases connections in reverse order
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
