package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/dnscache"

	"github.com/eugener/ngevent/internal/backend/postgrest"
	"github.com/eugener/ngevent/internal/cache"
	"github.com/eugener/ngevent/internal/config"
	"github.com/eugener/ngevent/internal/fetch"
	"github.com/eugener/ngevent/internal/storage"
	"github.com/eugener/ngevent/internal/storage/sqlite"
	"github.com/eugener/ngevent/internal/telemetry"
)

// newLogger builds the process logger from the log config. The returned
// LevelVar lets a config reload change verbosity.
func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(cfg.SlogLevel())
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), level
	}
	return slog.New(slog.NewJSONHandler(w, opts)), level
}

// backend holds the opened data store and what it depends on.
type backend struct {
	store    storage.Store
	sqlite   *sqlite.Store      // nil for postgrest
	resolver *dnscache.Resolver // nil for sqlite
}

// openBackend opens the configured store. A PostgREST backend goes through
// the retrying transport on top of a DNS-caching dialer.
func openBackend(cfg *config.Config, metrics *telemetry.Metrics) (*backend, error) {
	switch cfg.Backend.Type {
	case config.BackendPostgREST:
		resolver := &dnscache.Resolver{}
		opts := []fetch.Option{
			fetch.WithAttemptTimeout(cfg.Backend.Timeout),
			fetch.WithRetries(cfg.Backend.Retries, cfg.Backend.RetryBaseDelay),
		}
		if metrics != nil {
			opts = append(opts, fetch.WithRetryHook(metrics.Retry))
		}
		rt := fetch.NewTransport(fetch.NewBaseTransport(resolver), opts...)
		return &backend{
			store:    postgrest.New(cfg.Backend.URL, cfg.Backend.APIKey, rt),
			resolver: resolver,
		}, nil
	default:
		s, err := sqlite.New(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		return &backend{store: s, sqlite: s}, nil
	}
}

// cacheBackend is the opened durable cache medium.
type cacheBackend struct {
	storage cache.Storage
	redis   redis.UniversalClient // nil unless storage is redis
}

func (c *cacheBackend) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

// ping checks the shared cache medium, if any.
func (c *cacheBackend) ping(ctx context.Context) error {
	if c.redis != nil {
		return c.redis.Ping(ctx).Err()
	}
	return nil
}

func openCache(cfg *config.Config, b *backend) (*cacheBackend, error) {
	switch cfg.Cache.Storage {
	case config.StorageRedis:
		client, err := cache.NewRedisClient(cfg.Cache.Redis.URL, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB)
		if err != nil {
			return nil, err
		}
		return &cacheBackend{
			storage: cache.NewRedisStorage(client, cfg.Cache.Redis.Namespace),
			redis:   client,
		}, nil
	case config.StorageSQLite:
		if b.sqlite == nil {
			return nil, errors.New("sqlite cache storage needs the sqlite backend")
		}
		return &cacheBackend{storage: b.sqlite.KV()}, nil
	default:
		return &cacheBackend{storage: cache.NewMemoryStorage()}, nil
	}
}

// openSharedCache opens the durable cache for the operator commands, which
// only make sense against storage shared with a running server.
func openSharedCache(cfg *config.Config) (*cache.Durable, func(), error) {
	if cfg.Cache.Storage == config.StorageMemory {
		return nil, nil, fmt.Errorf("cache commands need sqlite or redis storage, config has %q", cfg.Cache.Storage)
	}
	var b backend
	if cfg.Cache.Storage == config.StorageSQLite {
		s, err := sqlite.New(cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		b.sqlite = s
	}
	cb, err := openCache(cfg, &b)
	if err != nil {
		return nil, nil, err
	}
	closeAll := func() {
		if err := cb.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "close cache:", err)
		}
		if b.sqlite != nil {
			b.sqlite.Close()
		}
	}
	return cache.NewDurable(cb.storage), closeAll, nil
}
