package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ngevent "github.com/eugener/ngevent/internal"
	"github.com/eugener/ngevent/internal/app"
	"github.com/eugener/ngevent/internal/cache"
	"github.com/eugener/ngevent/internal/testutil"
)

type testEnv struct {
	store *testutil.FakeStore
	mem   *cache.MemoryStorage
	deps  Deps
}

func newTestEnv(t testing.TB, auth ngevent.Authenticator) *testEnv {
	t.Helper()
	store := testutil.NewFakeStore()
	mem := cache.NewMemoryStorage()
	d := cache.NewDurable(mem)
	q, err := cache.NewQuery(1000, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	queries := app.NewQueryService(store, q)

	start := time.Now().Add(24 * time.Hour).UTC()
	capacity := 1
	store.AddProfile(&ngevent.Profile{ID: "org-1", FullName: "Olga", Role: ngevent.RoleOrganizer})
	store.AddProfile(&ngevent.Profile{ID: "u-1", FullName: "Ana"})
	store.AddEvent(&ngevent.Event{
		ID: "ev-1", OrganizerID: "org-1", Title: "Go Night", Category: "Tech",
		StartDate: start, EndDate: start.Add(2 * time.Hour), Status: ngevent.EventPublished,
		Capacity: &capacity,
	})

	return &testEnv{
		store: store,
		mem:   mem,
		deps: Deps{
			Auth:     auth,
			Catalog:  app.NewCatalog(store, d, cache.DefaultPolicy()),
			Queries:  queries,
			Commands: app.NewCommandService(store, d, queries),
		},
	}
}

func (e *testEnv) handler() http.Handler { return New(e.deps) }

func newTestHandler(t testing.TB) http.Handler {
	return newTestEnv(t, testutil.UserAuth{}).handler()
}

// do sends a request as userID (empty = no user header).
func do(h http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apiError {
	t.Helper()
	var e apiError
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return e
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec := do(h, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec := do(h, http.MethodGet, "/readyz", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReadyzFailing(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testutil.UserAuth{})
	env.deps.ReadyCheck = func(context.Context) error { return errors.New("db down") }

	rec := do(env.handler(), http.MethodGet, "/readyz", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec := do(h, http.MethodGet, "/healthz", "", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header should be set")
	}
}

func TestNoAuth(t *testing.T) {
	t.Parallel()
	h := newTestEnv(t, testutil.RejectAuth{}).handler()

	rec := do(h, http.MethodGet, "/v1/events", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if typ := decodeError(t, rec).Error.Type; typ != "authentication_error" {
		t.Errorf("type = %q", typ)
	}
}

func TestGetEvent_ServedFromCache(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testutil.UserAuth{})
	h := env.handler()

	for range 3 {
		rec := do(h, http.MethodGet, "/v1/events/ev-1", "u-1", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
		}
		var e ngevent.Event
		if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
			t.Fatal(err)
		}
		if e.Title != "Go Night" {
			t.Errorf("title = %q", e.Title)
		}
	}
	if n := env.store.Calls("GetEvent"); n != 1 {
		t.Errorf("GetEvent calls = %d, want 1", n)
	}
	if _, ok, _ := env.mem.Get(context.Background(), cache.Keys.EventDetail("ev-1")); !ok {
		t.Error("event detail not stored in durable cache")
	}
}

func TestGetEvent_NotFound(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec := do(h, http.MethodGet, "/v1/events/missing", "u-1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if typ := decodeError(t, rec).Error.Type; typ != "not_found_error" {
		t.Errorf("type = %q", typ)
	}
}

func TestUpstreamErrorSanitized(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testutil.UserAuth{})
	env.store.FailOn("GetEvent", fmt.Errorf("%w: 503 from db.internal:5432", ngevent.ErrUpstream))

	rec := do(env.handler(), http.MethodGet, "/v1/events/ev-1", "u-1", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "db.internal") {
		t.Errorf("internal detail leaked: %s", rec.Body.String())
	}
}

func TestListEvents(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec := do(h, http.MethodGet, "/v1/events?category=Tech", "u-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}
	var page ngevent.EventPage
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Count != 1 || len(page.Data) != 1 || page.Data[0].ID != "ev-1" {
		t.Errorf("page = %+v", page)
	}

	rec = do(h, http.MethodGet, "/v1/events/page?page=0&size=5", "u-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("page status = %d; body = %s", rec.Code, rec.Body.String())
	}
}

func TestListEvents_DraftsNeedAdmin(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec := do(h, http.MethodGet, "/v1/events?status=draft", "u-1", "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestEventFull(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec := do(h, http.MethodGet, "/v1/events/ev-1/full", "u-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}
	var ewr ngevent.EventWithRelations
	if err := json.Unmarshal(rec.Body.Bytes(), &ewr); err != nil {
		t.Fatal(err)
	}
	if ewr.Event == nil || ewr.Organizer == nil || ewr.Organizer.FullName != "Olga" {
		t.Errorf("relations = %+v", ewr)
	}
}

func TestGetEvent_UnpublishedHidden(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testutil.UserAuth{})
	start := time.Now().Add(48 * time.Hour).UTC()
	env.store.AddEvent(&ngevent.Event{
		ID: "ev-draft", OrganizerID: "org-1", Title: "Soon", Category: "Tech",
		StartDate: start, EndDate: start.Add(time.Hour), Status: ngevent.EventDraft,
	})
	h := env.handler()

	for _, path := range []string{"/v1/events/ev-draft", "/v1/events/ev-draft/full"} {
		if rec := do(h, http.MethodGet, path, "u-1", ""); rec.Code != http.StatusNotFound {
			t.Errorf("stranger %s: status = %d, want 404", path, rec.Code)
		}
		if rec := do(h, http.MethodGet, path, "org-1", ""); rec.Code != http.StatusOK {
			t.Errorf("organizer %s: status = %d, want 200", path, rec.Code)
		}
	}

	env.deps.Auth = testutil.FakeAuth{}
	if rec := do(env.handler(), http.MethodGet, "/v1/events/ev-draft", "", ""); rec.Code != http.StatusOK {
		t.Errorf("admin: status = %d, want 200", rec.Code)
	}
}

func TestPrefetchAccepted(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec := do(h, http.MethodPost, "/v1/events/ev-1/prefetch", "u-1", "")
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
}

func TestCreateEvent(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)
	start := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
	end := time.Now().Add(50 * time.Hour).UTC().Format(time.RFC3339)
	body := fmt.Sprintf(`{"title":"Meetup","start_date":%q,"end_date":%q,"category":"AI",
		"form_fields":[{"field_name":"company","is_required":true}]}`, start, end)

	rec := do(h, http.MethodPost, "/v1/events", "u-1", body)
	if rec.Code != http.StatusForbidden {
		t.Errorf("participant create: status = %d, want 403", rec.Code)
	}

	org := newTestEnv(t, testutil.UserAuth{Role: ngevent.RoleOrganizer}).handler()
	rec = do(org, http.MethodPost, "/v1/events", "org-1", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("organizer create: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	var e ngevent.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatal(err)
	}
	if e.ID == "" || e.OrganizerID != "org-1" || e.Status != ngevent.EventDraft {
		t.Errorf("event = %+v", e)
	}
}

func TestCreateEvent_InvalidBody(t *testing.T) {
	t.Parallel()
	h := newTestEnv(t, testutil.UserAuth{Role: ngevent.RoleOrganizer}).handler()

	rec := do(h, http.MethodPost, "/v1/events", "org-1", `{"title":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	rec = do(h, http.MethodPost, "/v1/events", "org-1", `{"title":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("validation: status = %d, want 400", rec.Code)
	}
}

func TestUpdateAndDeleteEvent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testutil.UserAuth{Role: ngevent.RoleOrganizer})
	h := env.handler()

	// Prime the detail cache.
	do(h, http.MethodGet, "/v1/events/ev-1", "org-1", "")

	rec := do(h, http.MethodPatch, "/v1/events/ev-1", "org-2", `{"title":"Hijack"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign update: status = %d, want 403", rec.Code)
	}

	rec = do(h, http.MethodPatch, "/v1/events/ev-1", "org-1", `{"title":"Go Night II"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	rec = do(h, http.MethodGet, "/v1/events/ev-1", "org-1", "")
	if !strings.Contains(rec.Body.String(), "Go Night II") {
		t.Errorf("stale detail after update: %s", rec.Body.String())
	}

	rec = do(h, http.MethodDelete, "/v1/events/ev-1", "org-1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", rec.Code)
	}
	rec = do(h, http.MethodGet, "/v1/events/ev-1", "org-1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("after delete: status = %d, want 404", rec.Code)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec := do(h, http.MethodPost, "/v1/events/ev-1/registrations", "u-1", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}

	// Capacity is 1.
	rec = do(h, http.MethodPost, "/v1/events/ev-1/registrations", "u-2", `{"form_data":{}}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("full event: status = %d, want 409", rec.Code)
	}

	rec = do(h, http.MethodGet, "/v1/users/u-1/notifications", "u-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("notifications: status = %d", rec.Code)
	}
	var list notificationList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Data) != 1 || list.Unread != 1 || list.Data[0].Title != "Registration Confirmed" {
		t.Errorf("notifications = %+v", list)
	}

	rec = do(h, http.MethodPost, "/v1/users/u-1/notifications/"+list.Data[0].ID+"/read", "u-1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("mark read: status = %d", rec.Code)
	}
	rec = do(h, http.MethodGet, "/v1/users/u-1/notifications", "u-1", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if list.Unread != 0 {
		t.Errorf("unread after mark = %d", list.Unread)
	}

	rec = do(h, http.MethodDelete, "/v1/events/ev-1/registrations/u-1", "u-1", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("cancel: status = %d", rec.Code)
	}
}

func TestEventRegistrations_OrganizerOnly(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)
	do(h, http.MethodPost, "/v1/events/ev-1/registrations", "u-1", "")

	rec := do(h, http.MethodGet, "/v1/events/ev-1/registrations", "u-1", "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("participant: status = %d, want 403", rec.Code)
	}
	rec = do(h, http.MethodGet, "/v1/events/ev-1/registrations", "org-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("organizer: status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"user_id":"u-1"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestUserRoutes_SelfOnly(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	paths := []string{
		"/v1/users/u-1/registrations",
		"/v1/users/u-1/events",
		"/v1/users/u-1/notifications",
		"/v1/users/u-1/dashboard",
	}
	for _, p := range paths {
		if rec := do(h, http.MethodGet, p, "u-2", ""); rec.Code != http.StatusForbidden {
			t.Errorf("GET %s as u-2: status = %d, want 403", p, rec.Code)
		}
		if rec := do(h, http.MethodGet, p, "u-1", ""); rec.Code != http.StatusOK {
			t.Errorf("GET %s as u-1: status = %d, want 200", p, rec.Code)
		}
	}
}

func TestProfileAndLogout(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testutil.UserAuth{})
	h := env.handler()
	ctx := context.Background()

	rec := do(h, http.MethodGet, "/v1/profiles/u-1", "u-1", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Ana") {
		t.Fatalf("get profile: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(h, http.MethodPatch, "/v1/profiles/u-1", "u-2", `{"city":"Oslo"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign patch: status = %d, want 403", rec.Code)
	}
	rec = do(h, http.MethodPatch, "/v1/profiles/u-1", "u-1", `{"city":"Oslo"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	rec = do(h, http.MethodGet, "/v1/profiles/u-1", "u-1", "")
	if !strings.Contains(rec.Body.String(), "Oslo") {
		t.Errorf("stale profile: %s", rec.Body.String())
	}

	do(h, http.MethodGet, "/v1/users/u-1/dashboard", "u-1", "")
	if _, ok, _ := env.mem.Get(ctx, cache.Keys.DashboardStats("u-1")); !ok {
		t.Fatal("dashboard not cached")
	}
	rec = do(h, http.MethodPost, "/v1/users/u-1/logout", "u-1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout: status = %d", rec.Code)
	}
	for _, k := range cache.Keys.User("u-1") {
		if _, ok, _ := env.mem.Get(ctx, k); ok {
			t.Errorf("%s survived logout", k)
		}
	}
}
