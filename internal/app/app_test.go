package app

import (
	"context"
	"testing"
	"time"

	ngevent "github.com/eugener/ngevent/internal"
	"github.com/eugener/ngevent/internal/cache"
	"github.com/eugener/ngevent/internal/testutil"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store   *testutil.FakeStore
	mem     *cache.MemoryStorage
	clock   *testutil.Clock
	catalog *Catalog
	queries *QueryService
	cmds    *CommandService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: testutil.NewFakeStore(),
		mem:   cache.NewMemoryStorage(),
		clock: testutil.NewClock(t0),
	}
	d := cache.NewDurable(f.mem, cache.WithClock(f.clock.Now))
	q, err := cache.NewQuery(1000, time.Hour, cache.WithClock(f.clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	f.catalog = NewCatalog(f.store, d, cache.DefaultPolicy())
	f.catalog.now = f.clock.Now
	f.queries = NewQueryService(f.store, q)
	f.cmds = NewCommandService(f.store, d, f.queries)
	f.cmds.now = f.clock.Now
	return f
}

func (f *fixture) has(t *testing.T, key string) bool {
	t.Helper()
	_, ok, err := f.mem.Get(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	return ok
}

func published(id, organizer string, start time.Time) *ngevent.Event {
	return &ngevent.Event{
		ID:          id,
		OrganizerID: organizer,
		Title:       "Event " + id,
		StartDate:   start,
		EndDate:     start.Add(2 * time.Hour),
		Category:    "Tech",
		Status:      ngevent.EventPublished,
		CreatedAt:   t0,
	}
}

func user(id string) *ngevent.Identity {
	return &ngevent.Identity{Subject: id, Role: ngevent.RoleParticipant}
}

func organizer(id string) *ngevent.Identity {
	return &ngevent.Identity{Subject: id, Role: ngevent.RoleOrganizer}
}

var admin = &ngevent.Identity{Subject: "admin", Role: ngevent.RoleAdmin}
