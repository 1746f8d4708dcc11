package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"
	"golang.org/x/sync/singleflight"
)

// queryEntry wraps a memoized value with the time it was fetched.
// Freshness is judged against the TTL the reader passes, not a stored expiry.
type queryEntry struct {
	value     any
	fetchedAt time.Time
}

// Query is an in-memory W-TinyLFU memoization cache backed by otter.
// Entries live for the process lifetime only. Concurrent misses on the same
// key share one fetch.
type Query struct {
	cache  *otter.Cache[string, queryEntry]
	group  singleflight.Group
	now    func() time.Time
	obs    Observer
	maxTTL time.Duration
}

// NewQuery creates a query cache holding up to maxSize entries. maxTTL
// bounds how long otter keeps an entry regardless of the reader's TTL.
func NewQuery(maxSize int, maxTTL time.Duration, opts ...Option) (*Query, error) {
	c, err := otter.New(&otter.Options[string, queryEntry]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, queryEntry](maxTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}
	o := buildOptions(opts)
	return &Query{cache: c, now: o.now, obs: o.obs, maxTTL: maxTTL}, nil
}

// lookup returns the value at key if it was fetched less than ttl ago.
func (q *Query) lookup(key string, ttl time.Duration) (any, bool) {
	e, ok := q.cache.GetIfPresent(key)
	if !ok {
		return nil, false
	}
	if q.now().Sub(e.fetchedAt) >= ttl {
		return nil, false
	}
	return e.value, true
}

func (q *Query) store(key string, v any) {
	q.cache.Set(key, queryEntry{value: v, fetchedAt: q.now()})
}

// Clear removes a single key.
func (q *Query) Clear(key string) {
	q.cache.Invalidate(key)
}

// ClearPrefix removes every key starting with prefix and returns how many
// it removed. Iteration is weakly consistent; entries added concurrently
// may survive.
func (q *Query) ClearPrefix(prefix string) int {
	var stale []string
	for k := range q.cache.All() {
		if strings.HasPrefix(k, prefix) {
			stale = append(stale, k)
		}
	}
	for _, k := range stale {
		q.cache.Invalidate(k)
	}
	return len(stale)
}

// Purge removes every entry.
func (q *Query) Purge() {
	q.cache.InvalidateAll()
}

// Len returns the approximate number of cached entries.
func (q *Query) Len() int {
	return q.cache.EstimatedSize()
}

func (q *Query) hit() {
	if q.obs != nil {
		q.obs.Hit(LayerQuery)
	}
}

func (q *Query) miss() {
	if q.obs != nil {
		q.obs.Miss(LayerQuery)
	}
}

// Cached returns the value memoized at key if it is younger than ttl, and
// otherwise runs fetch and memoizes the result. Errors are not memoized.
//
// Concurrent callers missing the same key wait for a single fetch. The fetch
// runs detached from any one caller's cancellation; a caller whose ctx ends
// stops waiting and gets ctx.Err().
func Cached[T any](ctx context.Context, q *Query, key string, ttl time.Duration,
	fetch func(context.Context) (T, error)) (T, error) {

	var zero T
	if v, ok := q.lookup(key, ttl); ok {
		if t, ok := v.(T); ok {
			q.hit()
			return t, nil
		}
	}
	q.miss()

	fetchCtx := context.WithoutCancel(ctx)
	ch := q.group.DoChan(key, func() (any, error) {
		v, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		q.store(key, v)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		t, ok := res.Val.(T)
		if !ok {
			return zero, fmt.Errorf("query cache %q: shared result has type %T", key, res.Val)
		}
		return t, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
