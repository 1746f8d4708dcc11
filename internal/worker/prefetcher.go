package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eugener/ngevent/internal/telemetry"
)

const (
	prefetchQueueSize = 256
	prefetchWorkers   = 4
	prefetchTimeout   = 10 * time.Second
)

// WarmFunc loads an event into the caches.
type WarmFunc func(ctx context.Context, eventID string) error

// Prefetcher warms events in the background. Requests are dropped when
// the queue is full; failures are logged and otherwise ignored.
type Prefetcher struct {
	ch      chan string
	warm    WarmFunc
	workers int
	metrics *telemetry.Metrics
}

// NewPrefetcher creates a Prefetcher calling warm. metrics may be nil.
func NewPrefetcher(warm WarmFunc, metrics *telemetry.Metrics) *Prefetcher {
	return &Prefetcher{
		ch:      make(chan string, prefetchQueueSize),
		warm:    warm,
		workers: prefetchWorkers,
		metrics: metrics,
	}
}

// Name returns the worker identifier.
func (p *Prefetcher) Name() string { return "prefetcher" }

// Enqueue schedules eventID for warming. It never blocks and reports
// whether the request was queued.
func (p *Prefetcher) Enqueue(eventID string) bool {
	select {
	case p.ch <- eventID:
		return true
	default:
		if p.metrics != nil {
			p.metrics.PrefetchDropped.Inc()
		}
		slog.Warn("prefetch dropped, queue full", "event_id", eventID)
		return false
	}
}

// Run warms queued events until ctx is cancelled. Pending requests are
// abandoned on shutdown.
func (p *Prefetcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for range p.workers {
		g.Go(func() error {
			for {
				select {
				case id := <-p.ch:
					p.handle(ctx, id)
				case <-ctx.Done():
					return nil
				}
			}
		})
	}
	return g.Wait()
}

func (p *Prefetcher) handle(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(ctx, prefetchTimeout)
	defer cancel()

	start := time.Now()
	err := p.warm(ctx, id)
	if p.metrics != nil {
		p.metrics.PrefetchDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "prefetch failed",
			slog.String("event_id", id),
			slog.String("error", err.Error()),
		)
	}
}
