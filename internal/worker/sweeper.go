package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/eugener/ngevent/internal/cache"
	"github.com/eugener/ngevent/internal/telemetry"
)

const (
	// DefaultSweepInterval is how often expired durable entries are removed.
	DefaultSweepInterval = 5 * time.Minute
	finalSweepTimeout    = 10 * time.Second
)

// Locker elects a single sweeper when several instances share a storage.
// TryLock returns a release func, or an error when the lock is held
// elsewhere.
type Locker interface {
	TryLock(ctx context.Context) (release func(), err error)
}

// Sweeper periodically removes expired entries from the durable cache and
// runs one last sweep on shutdown.
type Sweeper struct {
	cache    *cache.Durable
	interval time.Duration
	lock     Locker
	metrics  *telemetry.Metrics
}

// NewSweeper creates a Sweeper. lock and metrics may be nil.
func NewSweeper(d *cache.Durable, interval time.Duration, lock Locker, metrics *telemetry.Metrics) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{cache: d, interval: interval, lock: lock, metrics: metrics}
}

// Name returns the worker identifier.
func (s *Sweeper) Name() string { return "cache_sweeper" }

// Run sweeps every interval until ctx is cancelled, then sweeps once more.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalSweepTimeout)
			s.Sweep(final)
			cancel()
			return nil
		}
	}
}

// Sweep removes expired entries once and returns how many went. It is a
// no-op when another instance holds the lock.
func (s *Sweeper) Sweep(ctx context.Context) int {
	if s.lock != nil {
		release, err := s.lock.TryLock(ctx)
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelDebug, "cache sweep skipped",
				slog.String("reason", err.Error()),
			)
			return 0
		}
		defer release()
	}

	start := time.Now()
	n, err := s.cache.ClearExpired(ctx)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "cache sweep failed",
			slog.Int("removed", n),
			slog.String("error", err.Error()),
		)
	} else if n > 0 {
		slog.LogAttrs(ctx, slog.LevelInfo, "cache sweep",
			slog.Int("removed", n),
			slog.Duration("took", time.Since(start)),
		)
	}

	if s.metrics != nil {
		s.metrics.CacheSweeps.Inc()
		s.metrics.CacheSwept.Add(float64(n))
		st := s.cache.Stats(ctx)
		s.metrics.CacheEntries.WithLabelValues("valid").Set(float64(st.Valid))
		s.metrics.CacheEntries.WithLabelValues("expired").Set(float64(st.Expired))
		s.metrics.CacheEntries.WithLabelValues("invalid").Set(float64(st.Invalid))
	}
	return n
}
