package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Durable is a TTL cache over a Storage. It never fails a read: absent,
// malformed and expired entries are all reported as a miss.
//
// Durable does no cross-process coordination. Two writers on the same key
// race last-write-wins, and a Set can land after a concurrent ClearPrefix
// under the same prefix, leaving a stale entry until it expires.
type Durable struct {
	store Storage
	now   func() time.Time
	obs   Observer
}

// Observer receives hit/miss notifications for metrics.
type Observer interface {
	Hit(layer string)
	Miss(layer string)
}

// Option configures a Durable or Query cache.
type Option func(*options)

type options struct {
	now func() time.Time
	obs Observer
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithObserver reports hits and misses to obs.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.obs = obs }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// NewDurable returns a Durable cache backed by store.
func NewDurable(store Storage, opts ...Option) *Durable {
	o := buildOptions(opts)
	return &Durable{store: store, now: o.now, obs: o.obs}
}

// Set stores data at key for ttl, overwriting any existing entry.
// The error is returned to the caller, which decides whether to log it;
// ReadThrough logs and continues.
func (d *Durable) Set(ctx context.Context, key string, data any, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	now := d.now().UnixMilli()
	entry, err := json.Marshal(Entry{
		Data:      raw,
		Timestamp: now,
		ExpiresAt: now + ttl.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("encode entry %q: %w", key, err)
	}
	if err := d.store.Set(ctx, key, entry); err != nil {
		return fmt.Errorf("%w: set %q: %v", ErrStorage, key, err)
	}
	return nil
}

// Get decodes the fresh entry at key into dst and reports whether it did.
// Expired or unparseable entries are removed as a side effect.
func (d *Durable) Get(ctx context.Context, key string, dst any) bool {
	raw, ok, err := d.store.Get(ctx, key)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "cache read failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		d.miss()
		return false
	}
	if !ok {
		d.miss()
		return false
	}

	e, ok := decodeEntry(raw)
	if !ok || !e.Valid(d.now()) {
		d.remove(ctx, key)
		d.miss()
		return false
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		d.remove(ctx, key)
		d.miss()
		return false
	}
	d.hit()
	return true
}

// Inspect returns the raw entry at key without checking or removing it.
func (d *Durable) Inspect(ctx context.Context, key string) (*Entry, bool, error) {
	raw, ok, err := d.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	e, ok := decodeEntry(raw)
	return e, ok, nil
}

// Clear removes a single key.
func (d *Durable) Clear(ctx context.Context, key string) error {
	if err := d.store.Remove(ctx, key); err != nil {
		return fmt.Errorf("%w: remove %q: %v", ErrStorage, key, err)
	}
	return nil
}

// ClearPrefix removes every key starting with prefix. The match is a
// literal string prefix: "event:" does not match "events:all", while
// "event" matches both.
func (d *Durable) ClearPrefix(ctx context.Context, prefix string) (int, error) {
	if pr, ok := d.store.(PrefixRemover); ok {
		n, err := pr.RemovePrefix(ctx, prefix)
		if err != nil {
			return n, fmt.Errorf("%w: remove prefix %q: %v", ErrStorage, prefix, err)
		}
		return n, nil
	}

	keys, err := d.store.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: list keys: %v", ErrStorage, err)
	}
	n := 0
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if err := d.store.Remove(ctx, k); err != nil {
			return n, fmt.Errorf("%w: remove %q: %v", ErrStorage, k, err)
		}
		n++
	}
	return n, nil
}

// ClearExpired sweeps the whole store and removes entries whose expiry has
// passed. Malformed entries are left alone. Returns the number removed.
func (d *Durable) ClearExpired(ctx context.Context) (int, error) {
	keys, err := d.store.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: list keys: %v", ErrStorage, err)
	}
	now := d.now()
	n := 0
	for _, k := range keys {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		raw, ok, err := d.store.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		e, ok := decodeEntry(raw)
		if !ok || e.Valid(now) {
			continue
		}
		if err := d.store.Remove(ctx, k); err != nil {
			return n, fmt.Errorf("%w: remove %q: %v", ErrStorage, k, err)
		}
		n++
	}
	return n, nil
}

// Stats classifies every stored entry as valid, expired or invalid.
// A listing failure yields zero stats.
func (d *Durable) Stats(ctx context.Context) Stats {
	keys, err := d.store.Keys(ctx)
	if err != nil {
		return Stats{}
	}
	now := d.now()
	s := Stats{Total: len(keys)}
	for _, k := range keys {
		raw, ok, err := d.store.Get(ctx, k)
		if err != nil || !ok {
			s.Invalid++
			continue
		}
		e, ok := decodeEntry(raw)
		switch {
		case !ok:
			s.Invalid++
		case e.Valid(now):
			s.Valid++
		default:
			s.Expired++
		}
	}
	return s
}

// Reset removes every application key (see AppPrefixes). Keys written by
// anything else sharing the storage are kept.
func (d *Durable) Reset(ctx context.Context) (int, error) {
	total := 0
	for _, p := range AppPrefixes {
		n, err := d.ClearPrefix(ctx, p)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ClearUser removes the per-user keys of userID, as on logout.
func (d *Durable) ClearUser(ctx context.Context, userID string) error {
	for _, k := range Keys.User(userID) {
		if err := d.Clear(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (d *Durable) remove(ctx context.Context, key string) {
	if err := d.store.Remove(ctx, key); err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "cache remove failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Durable) hit() {
	if d.obs != nil {
		d.obs.Hit(LayerDurable)
	}
}

func (d *Durable) miss() {
	if d.obs != nil {
		d.obs.Miss(LayerDurable)
	}
}

// Cache layer names reported to the Observer.
const (
	LayerDurable = "durable"
	LayerQuery   = "query"
)

// ReadThrough returns the fresh value at key, or calls fetch, stores its
// result for ttl and returns it. Store failures are logged and swallowed:
// a broken cache degrades to always-fetch.
func ReadThrough[T any](ctx context.Context, d *Durable, key string, ttl time.Duration,
	fetch func(context.Context) (T, error)) (T, error) {

	var v T
	if d.Get(ctx, key, &v) {
		return v, nil
	}
	v, err := fetch(ctx)
	if err != nil {
		return v, err
	}
	if err := d.Set(ctx, key, v, ttl); err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "cache set failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return v, nil
}

// Load is a typed convenience over Get.
func Load[T any](ctx context.Context, d *Durable, key string) (T, bool) {
	var v T
	ok := d.Get(ctx, key, &v)
	return v, ok
}
