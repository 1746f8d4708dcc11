// Package app implements the application services of the event service:
// cached reads, the relations fan-out and the mutations that keep both
// cache layers honest.
package app

import (
	"context"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	ngevent "github.com/eugener/ngevent/internal"
	"github.com/eugener/ngevent/internal/cache"
	"github.com/eugener/ngevent/internal/storage"
)

// notificationLimit caps how many notifications a user listing returns.
const notificationLimit = 50

// Catalog serves read views through the durable cache. Every method is a
// read-through over the store with the TTL of its category.
type Catalog struct {
	store  storage.Store
	cache  *cache.Durable
	policy atomic.Pointer[cache.Policy]
	now    func() time.Time
}

// NewCatalog returns a Catalog reading from store through d.
func NewCatalog(store storage.Store, d *cache.Durable, p cache.Policy) *Catalog {
	c := &Catalog{store: store, cache: d, now: time.Now}
	c.SetPolicy(p)
	return c
}

// SetPolicy swaps the TTL table. Entries already stored keep their expiry.
func (c *Catalog) SetPolicy(p cache.Policy) {
	p = p.WithDefaults()
	c.policy.Store(&p)
}

// Policy returns the TTL table in effect.
func (c *Catalog) Policy() cache.Policy { return *c.policy.Load() }

// Cache exposes the durable cache for diagnostics and invalidation.
func (c *Catalog) Cache() *cache.Durable { return c.cache }

// Events returns a page of events. The stock first page is stored under
// events:all.
func (c *Catalog) Events(ctx context.Context, f ngevent.EventFilter) (*ngevent.EventPage, error) {
	f = f.Normalize()
	return cache.ReadThrough(ctx, c.cache, cache.Keys.Events(filterKey(f)), c.Policy().Events,
		func(ctx context.Context) (*ngevent.EventPage, error) {
			return c.store.ListEvents(ctx, f)
		})
}

// filterKey encodes a normalized filter. The default listing encodes to "".
func filterKey(f ngevent.EventFilter) string {
	if f == (ngevent.EventFilter{}).Normalize() {
		return ""
	}
	v := url.Values{}
	v.Set("page", strconv.Itoa(f.Page))
	v.Set("size", strconv.Itoa(f.PageSize))
	v.Set("status", f.Status)
	if f.Category != "" {
		v.Set("category", f.Category)
	}
	if f.Search != "" {
		v.Set("q", f.Search)
	}
	return v.Encode()
}

// Event returns a single event.
func (c *Catalog) Event(ctx context.Context, id string) (*ngevent.Event, error) {
	return cache.ReadThrough(ctx, c.cache, cache.Keys.EventDetail(id), c.Policy().EventDetail,
		func(ctx context.Context) (*ngevent.Event, error) {
			return c.store.GetEvent(ctx, id)
		})
}

// Profile returns a user's profile.
func (c *Catalog) Profile(ctx context.Context, userID string) (*ngevent.Profile, error) {
	return cache.ReadThrough(ctx, c.cache, cache.Keys.Profile(userID), c.Policy().Profile,
		func(ctx context.Context) (*ngevent.Profile, error) {
			return c.store.GetProfile(ctx, userID)
		})
}

// UserRegistrations returns the registrations a user made.
func (c *Catalog) UserRegistrations(ctx context.Context, userID string) ([]*ngevent.Registration, error) {
	return cache.ReadThrough(ctx, c.cache, cache.Keys.UserRegistrations(userID), c.Policy().Registrations,
		func(ctx context.Context) ([]*ngevent.Registration, error) {
			return c.store.ListRegistrationsByUser(ctx, userID)
		})
}

// EventRegistrations returns the registrations an event received.
func (c *Catalog) EventRegistrations(ctx context.Context, eventID string) ([]*ngevent.Registration, error) {
	return cache.ReadThrough(ctx, c.cache, cache.Keys.EventRegistrations(eventID), c.Policy().Registrations,
		func(ctx context.Context) ([]*ngevent.Registration, error) {
			return c.store.ListRegistrationsByEvent(ctx, eventID)
		})
}

// Notifications returns a user's most recent notifications, newest first.
func (c *Catalog) Notifications(ctx context.Context, userID string) ([]*ngevent.Notification, error) {
	return cache.ReadThrough(ctx, c.cache, cache.Keys.Notifications(userID), c.Policy().Notifications,
		func(ctx context.Context) ([]*ngevent.Notification, error) {
			return c.store.ListNotifications(ctx, userID, notificationLimit)
		})
}

// UnreadCount counts the unread notifications among the cached listing.
func (c *Catalog) UnreadCount(ctx context.Context, userID string) (int, error) {
	ns, err := c.Notifications(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, x := range ns {
		if !x.Read {
			n++
		}
	}
	return n, nil
}

// UserEvents returns the events a user organizes.
func (c *Catalog) UserEvents(ctx context.Context, userID string) ([]*ngevent.Event, error) {
	return cache.ReadThrough(ctx, c.cache, cache.Keys.UserEvents(userID), c.Policy().Events,
		func(ctx context.Context) ([]*ngevent.Event, error) {
			return c.store.ListEventsByOrganizer(ctx, userID)
		})
}

// DashboardStats returns a user's dashboard summary.
func (c *Catalog) DashboardStats(ctx context.Context, userID string) (*ngevent.DashboardStats, error) {
	return cache.ReadThrough(ctx, c.cache, cache.Keys.DashboardStats(userID), c.Policy().Stats,
		func(ctx context.Context) (*ngevent.DashboardStats, error) {
			return c.computeStats(ctx, userID)
		})
}

// statsFanout bounds the per-event lookups of a dashboard computation.
const statsFanout = 8

func (c *Catalog) computeStats(ctx context.Context, userID string) (*ngevent.DashboardStats, error) {
	now := c.now()
	var (
		organized []*ngevent.Event
		made      []*ngevent.Registration
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		organized, err = c.store.ListEventsByOrganizer(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		made, err = c.store.ListRegistrationsByUser(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	st := &ngevent.DashboardStats{
		UserID:          userID,
		OrganizedEvents: len(organized),
		GeneratedAt:     now.UTC(),
	}
	for _, e := range organized {
		if e.StartDate.After(now) {
			st.UpcomingOrganized++
		}
	}

	received := make([]int, len(organized))
	var attending atomic.Int64
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(statsFanout)
	for i, e := range organized {
		g.Go(func() error {
			n, err := c.store.CountActiveRegistrations(gctx, e.ID)
			received[i] = n
			return err
		})
	}
	for _, r := range made {
		if r.Status == ngevent.RegistrationCancelled {
			continue
		}
		st.RegistrationsMade++
		g.Go(func() error {
			e, err := c.store.GetEvent(gctx, r.EventID)
			if err != nil {
				return err
			}
			if e.StartDate.After(now) {
				attending.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, n := range received {
		st.RegistrationsReceived += n
	}
	st.UpcomingAttending = int(attending.Load())
	return st, nil
}
