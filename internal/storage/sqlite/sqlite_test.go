package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	ngevent "github.com/eugener/ngevent/internal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	// Use a unique file-based temp DB for each test to avoid shared :memory: races
	path := t.TempDir() + "/test.db"
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var baseTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func testEvent(id, title string, start time.Time) *ngevent.Event {
	return &ngevent.Event{
		ID:              id,
		OrganizerID:     "org-1",
		Title:           title,
		StartDate:       start,
		EndDate:         start.Add(2 * time.Hour),
		Category:        "Tech",
		RegistrationFee: decimal.RequireFromString("12.50"),
		Status:          ngevent.EventPublished,
		CreatedAt:       baseTime,
	}
}

func TestEventRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	capacity := 50
	e := testEvent("ev-1", "Go Meetup", baseTime.Add(24*time.Hour))
	e.Capacity = &capacity
	e.Location = "Jakarta"

	if err := s.CreateEvent(ctx, e); err != nil {
		t.Fatal("create:", err)
	}
	if err := s.CreateEvent(ctx, e); !errors.Is(err, ngevent.ErrConflict) {
		t.Errorf("duplicate create err = %v, want ErrConflict", err)
	}

	got, err := s.GetEvent(ctx, "ev-1")
	if err != nil {
		t.Fatal("get:", err)
	}
	if got.Title != "Go Meetup" || got.Location != "Jakarta" {
		t.Errorf("got %+v", got)
	}
	if got.Capacity == nil || *got.Capacity != 50 {
		t.Errorf("capacity = %v, want 50", got.Capacity)
	}
	if !got.RegistrationFee.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("fee = %s, want 12.5", got.RegistrationFee)
	}
	if !got.StartDate.Equal(e.StartDate) {
		t.Errorf("start = %v, want %v", got.StartDate, e.StartDate)
	}

	// Update
	got.Title = "Go Meetup #2"
	got.Capacity = nil
	if err := s.UpdateEvent(ctx, got); err != nil {
		t.Fatal("update:", err)
	}
	got, _ = s.GetEvent(ctx, "ev-1")
	if got.Title != "Go Meetup #2" || got.Capacity != nil {
		t.Errorf("after update: %+v", got)
	}

	// Delete
	if err := s.DeleteEvent(ctx, "ev-1"); err != nil {
		t.Fatal("delete:", err)
	}
	if _, err := s.GetEvent(ctx, "ev-1"); !errors.Is(err, ngevent.ErrNotFound) {
		t.Errorf("get after delete err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteEvent(ctx, "ev-1"); !errors.Is(err, ngevent.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestListEvents(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	events := []*ngevent.Event{
		testEvent("a", "Intro to Go", baseTime.Add(3*time.Hour)),
		testEvent("b", "Advanced GO patterns", baseTime.Add(1*time.Hour)),
		testEvent("c", "Coffee cupping", baseTime.Add(2*time.Hour)),
		testEvent("d", "100% Rust", baseTime.Add(4*time.Hour)),
		testEvent("e", "Draft go event", baseTime),
	}
	events[2].Category = "Food & Drink"
	events[4].Status = ngevent.EventDraft
	for _, e := range events {
		if err := s.CreateEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		filter ngevent.EventFilter
		ids    []string
		count  int
	}{
		{"all published by start", ngevent.EventFilter{}, []string{"b", "c", "a", "d"}, 4},
		{"page size", ngevent.EventFilter{PageSize: 2}, []string{"b", "c"}, 4},
		{"second page", ngevent.EventFilter{Page: 1, PageSize: 2}, []string{"a", "d"}, 4},
		{"category", ngevent.EventFilter{Category: "Food & Drink"}, []string{"c"}, 1},
		{"search case-insensitive", ngevent.EventFilter{Search: "go"}, []string{"b", "a"}, 2},
		{"search literal percent", ngevent.EventFilter{Search: "0%"}, []string{"d"}, 1},
		{"drafts", ngevent.EventFilter{Status: ngevent.EventDraft}, []string{"e"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			page, err := s.ListEvents(ctx, tt.filter.Normalize())
			if err != nil {
				t.Fatal(err)
			}
			var ids []string
			for _, e := range page.Data {
				ids = append(ids, e.ID)
			}
			if !slices.Equal(ids, tt.ids) {
				t.Errorf("ids = %v, want %v", ids, tt.ids)
			}
			if page.Count != tt.count {
				t.Errorf("count = %d, want %d", page.Count, tt.count)
			}
		})
	}

	byOrg, err := s.ListEventsByOrganizer(ctx, "org-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(byOrg) != 5 {
		t.Errorf("by organizer = %d, want 5", len(byOrg))
	}
}

func TestRelations(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateEvent(ctx, testEvent("ev", "E", baseTime)); err != nil {
		t.Fatal(err)
	}
	fields := []*ngevent.FormField{
		{ID: "f2", FieldName: "shirt", FieldType: "select", Options: []string{"S", "M"}, OrderIndex: 2},
		{ID: "f1", FieldName: "phone", FieldType: "text", IsRequired: true, OrderIndex: 1},
	}
	if err := s.ReplaceFormFields(ctx, "ev", fields); err != nil {
		t.Fatal(err)
	}
	got, err := s.ListFormFields(ctx, "ev")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "f1" || !got[0].IsRequired {
		t.Fatalf("fields = %+v", got)
	}
	if !slices.Equal(got[1].Options, []string{"S", "M"}) {
		t.Errorf("options = %v", got[1].Options)
	}

	speakers := []*ngevent.Speaker{{ID: "s1", Name: "Ana", Company: "Acme"}}
	if err := s.ReplaceSpeakers(ctx, "ev", speakers); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceSpeakers(ctx, "ev", []*ngevent.Speaker{{ID: "s2", Name: "Budi"}}); err != nil {
		t.Fatal(err)
	}
	sp, err := s.ListSpeakers(ctx, "ev")
	if err != nil {
		t.Fatal(err)
	}
	if len(sp) != 1 || sp[0].Name != "Budi" || sp[0].EventID != "ev" {
		t.Errorf("speakers = %+v", sp)
	}

	// Deleting the event cascades.
	if err := s.DeleteEvent(ctx, "ev"); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.ListFormFields(ctx, "ev"); len(got) != 0 {
		t.Errorf("fields after delete = %d", len(got))
	}
}

func TestProfileUpsert(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	p := &ngevent.Profile{ID: "u1", FullName: "Ana", Email: "ana@example.com", UpdatedAt: baseTime}
	if err := s.UpsertProfile(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Role != ngevent.RoleParticipant {
		t.Errorf("role = %q, want participant", got.Role)
	}

	p.City = "Bandung"
	p.Role = ngevent.RoleOrganizer
	if err := s.UpsertProfile(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetProfile(ctx, "u1")
	if got.City != "Bandung" || got.Role != ngevent.RoleOrganizer {
		t.Errorf("after upsert: %+v", got)
	}

	if _, err := s.GetProfile(ctx, "nope"); !errors.Is(err, ngevent.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRegistrationLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateEvent(ctx, testEvent("ev", "E", baseTime)); err != nil {
		t.Fatal(err)
	}
	r := &ngevent.Registration{
		ID: "r1", EventID: "ev", UserID: "u1",
		FormData:     json.RawMessage(`{"phone":"123"}`),
		RegisteredAt: baseTime,
	}
	if err := s.CreateRegistration(ctx, r, nil); err != nil {
		t.Fatal(err)
	}
	dup := &ngevent.Registration{ID: "r2", EventID: "ev", UserID: "u1", RegisteredAt: baseTime}
	if err := s.CreateRegistration(ctx, dup, nil); !errors.Is(err, ngevent.ErrConflict) {
		t.Errorf("duplicate err = %v, want ErrConflict", err)
	}

	n, _ := s.CountActiveRegistrations(ctx, "ev")
	if n != 1 {
		t.Errorf("active = %d, want 1", n)
	}

	if err := s.CancelRegistration(ctx, "ev", "u1"); err != nil {
		t.Fatal(err)
	}
	if err := s.CancelRegistration(ctx, "ev", "u1"); !errors.Is(err, ngevent.ErrNotFound) {
		t.Errorf("second cancel err = %v, want ErrNotFound", err)
	}
	if n, _ := s.CountActiveRegistrations(ctx, "ev"); n != 0 {
		t.Errorf("active after cancel = %d, want 0", n)
	}

	// Re-registering reactivates the original row.
	again := &ngevent.Registration{ID: "r3", EventID: "ev", UserID: "u1", RegisteredAt: baseTime.Add(time.Hour)}
	if err := s.CreateRegistration(ctx, again, nil); err != nil {
		t.Fatal(err)
	}
	if again.ID != "r1" {
		t.Errorf("reactivated id = %q, want r1", again.ID)
	}

	byUser, err := s.ListRegistrationsByUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(byUser) != 1 || byUser[0].Status != ngevent.RegistrationRegistered {
		t.Errorf("by user = %+v", byUser)
	}
	byEvent, _ := s.ListRegistrationsByEvent(ctx, "ev")
	if len(byEvent) != 1 {
		t.Errorf("by event = %d, want 1", len(byEvent))
	}
}

func TestCreateRegistration_Capacity(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	capacity := 2
	e := testEvent("ev", "E", baseTime)
	e.Capacity = &capacity
	if err := s.CreateEvent(ctx, e); err != nil {
		t.Fatal(err)
	}
	for _, u := range []string{"u1", "u2"} {
		r := &ngevent.Registration{ID: "r-" + u, EventID: "ev", UserID: u, RegisteredAt: baseTime}
		if err := s.CreateRegistration(ctx, r, &capacity); err != nil {
			t.Fatal(err)
		}
	}

	late := &ngevent.Registration{ID: "r-u3", EventID: "ev", UserID: "u3", RegisteredAt: baseTime}
	if err := s.CreateRegistration(ctx, late, &capacity); !errors.Is(err, ngevent.ErrCapacityReached) {
		t.Errorf("full event err = %v, want ErrCapacityReached", err)
	}
	dup := &ngevent.Registration{ID: "r-dup", EventID: "ev", UserID: "u1", RegisteredAt: baseTime}
	if err := s.CreateRegistration(ctx, dup, &capacity); !errors.Is(err, ngevent.ErrConflict) {
		t.Errorf("active duplicate err = %v, want ErrConflict", err)
	}

	// A cancellation frees a seat; the cancelled user cannot reclaim it while full.
	if err := s.CancelRegistration(ctx, "ev", "u1"); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateRegistration(ctx, late, &capacity); err != nil {
		t.Fatalf("register after cancel: %v", err)
	}
	back := &ngevent.Registration{ID: "r-back", EventID: "ev", UserID: "u1", RegisteredAt: baseTime}
	if err := s.CreateRegistration(ctx, back, &capacity); !errors.Is(err, ngevent.ErrCapacityReached) {
		t.Errorf("reactivate into full event err = %v, want ErrCapacityReached", err)
	}
}

func TestCreateRegistration_ConcurrentCapacity(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	capacity := 1
	e := testEvent("ev", "E", baseTime)
	e.Capacity = &capacity
	if err := s.CreateEvent(ctx, e); err != nil {
		t.Fatal(err)
	}

	const callers = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		full int
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := &ngevent.Registration{
				ID:           fmt.Sprintf("r%d", i),
				EventID:      "ev",
				UserID:       fmt.Sprintf("u%d", i),
				RegisteredAt: baseTime,
			}
			err := s.CreateRegistration(ctx, r, &capacity)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ngevent.ErrCapacityReached):
				full++
			default:
				t.Errorf("caller %d: %v", i, err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || full != callers-1 {
		t.Errorf("successful = %d, full = %d, want 1 and %d", ok, full, callers-1)
	}
	if n, _ := s.CountActiveRegistrations(ctx, "ev"); n != capacity {
		t.Errorf("active = %d, want %d", n, capacity)
	}
}

func TestNotifications(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	ns := []*ngevent.Notification{
		{ID: "n1", UserID: "u1", Type: ngevent.NotifyGeneral, Title: "Hi", Message: "m1", CreatedAt: baseTime},
		{ID: "n2", UserID: "u1", Type: ngevent.NotifyReminder, Title: "Soon", Message: "m2", EventID: "ev", CreatedAt: baseTime.Add(time.Minute)},
		{ID: "n3", UserID: "u2", Type: ngevent.NotifyGeneral, Title: "Hi", Message: "m3", CreatedAt: baseTime},
	}
	if err := s.CreateNotifications(ctx, ns); err != nil {
		t.Fatal(err)
	}
	got, err := s.ListNotifications(ctx, "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "n2" || got[0].EventID != "ev" {
		t.Fatalf("notifications = %+v", got)
	}

	if err := s.MarkNotificationRead(ctx, "u1", "n1"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkNotificationRead(ctx, "u2", "n1"); !errors.Is(err, ngevent.ErrNotFound) {
		t.Errorf("foreign mark err = %v, want ErrNotFound", err)
	}
	got, _ = s.ListNotifications(ctx, "u1", 1)
	if len(got) != 1 {
		t.Errorf("limit ignored: %d", len(got))
	}
}

func TestKV(t *testing.T) {
	t.Parallel()
	kv := newTestStore(t).KV()
	ctx := context.Background()

	for _, k := range []string{"events:all", "event:42", "Events:x"} {
		if err := kv.Set(ctx, k, []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	if err := kv.Set(ctx, "event:42", []byte("v2")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := kv.Get(ctx, "event:42")
	if err != nil || !ok || string(v) != "v2" {
		t.Errorf("Get = %q, %v, %v", v, ok, err)
	}
	if _, ok, _ := kv.Get(ctx, "missing"); ok {
		t.Error("missing key reported present")
	}

	n, err := kv.RemovePrefix(ctx, "events:")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1 (match is case-sensitive)", n)
	}
	keys, _ := kv.Keys(ctx)
	slices.Sort(keys)
	if want := []string{"Events:x", "event:42"}; !slices.Equal(keys, want) {
		t.Errorf("keys = %v, want %v", keys, want)
	}

	if err := kv.Remove(ctx, "event:42"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := kv.Get(ctx, "event:42"); ok {
		t.Error("removed key still present")
	}
}
