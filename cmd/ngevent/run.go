package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eugener/ngevent/internal/app"
	"github.com/eugener/ngevent/internal/auth"
	"github.com/eugener/ngevent/internal/cache"
	"github.com/eugener/ngevent/internal/config"
	"github.com/eugener/ngevent/internal/server"
	"github.com/eugener/ngevent/internal/telemetry"
	"github.com/eugener/ngevent/internal/worker"
)

// sweepLockName is shared by every instance sweeping the same Redis.
const sweepLockName = "ngevent:lock:cache_sweep"

func serve(ctx context.Context, cfg *config.Config, configPath string) error {
	logger, level := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	slog.Info("starting ngevent", "version", version, "addr", cfg.Server.Addr,
		"backend", cfg.Backend.Type, "cache", cfg.Cache.Storage)

	// Observability
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				slog.Warn("tracing shutdown", "error", err)
			}
		}()
	}

	// Backend and cache storage
	b, err := openBackend(cfg, metrics)
	if err != nil {
		return err
	}
	defer b.store.Close()

	if err := config.Bootstrap(ctx, cfg, b.store); err != nil {
		return err
	}

	cb, err := openCache(cfg, b)
	if err != nil {
		return err
	}
	defer cb.Close()

	var cacheOpts []cache.Option
	if metrics != nil {
		cacheOpts = append(cacheOpts, cache.WithObserver(metrics))
	}
	durable := cache.NewDurable(cb.storage, cacheOpts...)
	queryCache, err := cache.NewQuery(cfg.Cache.QueryMaxSize, cfg.Cache.QueryMaxTTL, cacheOpts...)
	if err != nil {
		return err
	}

	// Wire services
	headerAuth, err := auth.New(cfg.Auth.AdminKey, b.store)
	if err != nil {
		return err
	}
	if cfg.Auth.AdminKey == "" {
		slog.Warn("auth.admin_key is empty, admin endpoints are disabled (see ngevent keygen)")
	}

	catalog := app.NewCatalog(b.store, durable, cfg.Cache.TTL)
	queries := app.NewQueryService(b.store, queryCache)
	commands := app.NewCommandService(b.store, durable, queries)
	commands.OnProfileChange = headerAuth.Invalidate

	prefetcher := worker.NewPrefetcher(queries.Warm, metrics)
	queries.SetPrefetcher(prefetcher)

	var lock worker.Locker
	if cb.redis != nil {
		lock = worker.NewRedisLock(cb.redis, sweepLockName, cfg.Cache.SweepInterval)
	}
	sweeper := worker.NewSweeper(durable, cfg.Cache.SweepInterval, lock, metrics)

	workers := []worker.Worker{sweeper, prefetcher}
	if b.resolver != nil {
		workers = append(workers, worker.NewDNSRefresher(b.resolver, cfg.Backend.DNSRefresh))
	}
	if configPath != "" {
		workers = append(workers, config.NewWatcher(configPath, func(next *config.Config) {
			catalog.SetPolicy(next.Cache.TTL)
			level.Set(next.Log.SlogLevel())
			slog.Info("cache policy reloaded")
		}))
	}

	// Create HTTP server
	handler := server.New(server.Deps{
		Auth:     headerAuth,
		Catalog:  catalog,
		Queries:  queries,
		Commands: commands,
		Sweeper:  sweeper,
		ReadyCheck: func(ctx context.Context) error {
			if err := b.store.Ping(ctx); err != nil {
				return err
			}
			return cb.ping(ctx)
		},
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Background workers stop when workerCtx is cancelled; the sweeper
	// runs one final pass on the way out.
	workerCtx, stopWorkers := context.WithCancel(ctx)
	workerErr := make(chan error, 1)
	go func() {
		workerErr <- worker.NewRunner(workers...).Run(workerCtx)
	}()

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("ngevent ready", "addr", cfg.Server.Addr)

	// Wait for signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	var runErr error
	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case runErr = <-errCh:
	case runErr = <-workerErr:
		workerErr <- runErr
	}

	// Shutdown
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	stopWorkers()
	if err := <-workerErr; err != nil && runErr == nil {
		runErr = err
	}

	slog.Info("ngevent stopped")
	return runErr
}
