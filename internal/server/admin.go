package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	ngevent "github.com/eugener/ngevent/internal"
	"github.com/eugener/ngevent/internal/app"
	"github.com/eugener/ngevent/internal/cache"
)

type cacheStats struct {
	Durable      cache.Stats       `json:"durable"`
	QueryEntries int               `json:"query_entries"`
	Policy       map[string]string `json:"policy"`
}

func policyView(p cache.Policy) map[string]string {
	return map[string]string{
		"profile":       p.Profile.String(),
		"events":        p.Events.String(),
		"event_detail":  p.EventDetail.String(),
		"registrations": p.Registrations.String(),
		"notifications": p.Notifications.String(),
		"stats":         p.Stats.String(),
	}
}

func (s *server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cacheStats{
		Durable:      s.deps.Catalog.Cache().Stats(r.Context()),
		QueryEntries: s.deps.Queries.Cache().Len(),
		Policy:       policyView(s.deps.Catalog.Policy()),
	})
}

type removedResponse struct {
	Removed      int `json:"removed"`
	QueryRemoved int `json:"query_removed,omitempty"`
}

func (s *server) handleCacheSweep(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sweeper != nil {
		writeJSON(w, http.StatusOK, removedResponse{Removed: s.deps.Sweeper.Sweep(r.Context())})
		return
	}
	n, err := s.deps.Catalog.Cache().ClearExpired(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, removedResponse{Removed: n})
}

func (s *server) handleCacheReset(w http.ResponseWriter, r *http.Request) {
	q := s.deps.Queries.Cache()
	before := q.Len()
	q.Purge()
	n, err := s.deps.Catalog.Cache().Reset(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, removedResponse{Removed: n, QueryRemoved: before})
}

// handleCacheClearPrefix clears a literal key prefix from both layers.
func (s *server) handleCacheClearPrefix(w http.ResponseWriter, r *http.Request) {
	prefix := chi.URLParam(r, "prefix")
	if prefix == "" {
		writeError(w, r, ngevent.ErrBadRequest)
		return
	}
	qn := s.deps.Queries.Cache().ClearPrefix(prefix)
	n, err := s.deps.Catalog.Cache().ClearPrefix(r.Context(), prefix)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, removedResponse{Removed: n, QueryRemoved: qn})
}

func (s *server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var b app.Broadcast
	if !decodeJSON(w, r, &b) {
		return
	}
	n, err := s.deps.Commands.Broadcast(r.Context(), ngevent.IdentityFromContext(r.Context()), &b)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": n})
}
