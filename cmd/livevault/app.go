package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/voyagen/livevault/internal/cache"
	"github.com/voyagen/livevault/internal/config"
	"github.com/voyagen/livevault/internal/fetcher"
	"github.com/voyagen/livevault/internal/logging"
	"github.com/voyagen/livevault/internal/prefs"
	"github.com/voyagen/livevault/internal/service"
	"github.com/voyagen/livevault/internal/store"
)

// app holds the wired dependencies shared by every command.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	redis   *cache.Redis // nil when REDIS_URL is not set
	catalog *service.Catalog
	jobs    *service.Dispatcher

	closers []func()
}

// newApp opens the catalog store, preferences and optional Redis, and wires the services.
// bg bounds jobs that run in process.
func newApp(ctx, bg context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg: cfg,
		log: logging.New(os.Stderr, cfg.LogLevel, cfg.LogPretty),
	}

	base, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	var catalogStore store.Store = base

	var locker service.Locker
	if cfg.RedisURL != "" {
		rds, err := cache.New(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, func() { rds.Close() })
		if err := rds.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.redis = rds
		locker = rds
		catalogStore = store.NewCachedStore(base, rds, a.log)
		a.log.Info().Msg("redis connected (caching, job queue and scan lock enabled)")
	} else {
		a.log.Info().Msg("redis disabled (REDIS_URL not set)")
	}

	p, err := prefs.OpenBolt(cfg.PrefsPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() { p.Close() })

	state := service.NewState()
	enricher := service.NewEnricher(catalogStore,
		fetcher.NewLogoClient(cfg.LogosURL, cfg.UserAgent, cfg.Timeout), a.log)
	scanner := service.NewScanner(catalogStore,
		fetcher.NewProber(cfg.ProbeUserAgent, cfg.ProbeTimeout), state,
		service.ScannerOptions{
			Workers:       cfg.ProbeWorkers,
			ProgressEvery: cfg.ProgressEvery,
			Rate:          cfg.ProbeRate,
			Locker:        locker,
			Logger:        a.log,
		})
	a.catalog = service.NewCatalog(catalogStore, p, enricher, scanner, state, service.CatalogOptions{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.Timeout,
		Logger:    a.log,
	})
	a.jobs = service.NewDispatcher(bg, a.catalog, a.redis, a.log)
	return a, nil
}

// openStore selects the backend from DATABASE_URL, migrating it first.
func (a *app) openStore(ctx context.Context) (store.Store, error) {
	kind, dsn, err := a.cfg.Database()
	if err != nil {
		return nil, err
	}
	switch kind {
	case config.DatabasePostgres:
		// Ensure pg_trgm exists before running migrations.
		if err := store.EnsureTrigram(dsn); err != nil {
			return nil, fmt.Errorf("pg_trgm: %w", err)
		}
		if err := store.RunPostgresMigrations(dsn); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		pg, err := store.NewPostgres(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		a.log.Info().Str("backend", kind).Msg("catalog store ready")
		return pg, nil
	default:
		sq, err := store.NewSQLite(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		a.closers = append(a.closers, func() { sq.Close() })
		a.log.Info().Str("backend", kind).Str("path", dsn).Msg("catalog store ready")
		return sq, nil
	}
}

// Close waits for background work and releases resources in reverse order.
func (a *app) Close() {
	if a.jobs != nil {
		a.jobs.Wait()
	}
	if a.catalog != nil {
		a.catalog.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
