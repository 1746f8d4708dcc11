package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	ngevent "github.com/eugener/ngevent/internal"
	"github.com/eugener/ngevent/internal/app"
)

// parseFilter reads the listing filter from the query string. Listing
// anything but published events is reserved for admins.
func parseFilter(r *http.Request) (ngevent.EventFilter, error) {
	q := r.URL.Query()
	f := ngevent.EventFilter{
		Page:     queryInt(r, "page", 0),
		PageSize: queryInt(r, "size", 0),
		Category: q.Get("category"),
		Search:   q.Get("q"),
		Status:   q.Get("status"),
	}
	if f.Status != "" && f.Status != ngevent.EventPublished &&
		!ngevent.IdentityFromContext(r.Context()).IsAdmin() {
		return f, ngevent.ErrForbidden
	}
	return f.Normalize(), nil
}

func (s *server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := s.deps.Catalog.Events(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *server) handleEventPage(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := s.deps.Queries.Events(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// visible hides unpublished events from everyone but their organizer and
// admins, matching the listing rule in parseFilter.
func visible(r *http.Request, e *ngevent.Event) error {
	if e.Status == ngevent.EventPublished {
		return nil
	}
	if app.Authorize(ngevent.IdentityFromContext(r.Context()), e.OrganizerID) != nil {
		return fmt.Errorf("event: %w", ngevent.ErrNotFound)
	}
	return nil
}

func (s *server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := s.deps.Catalog.Event(r.Context(), chi.URLParam(r, "id"))
	if err == nil {
		err = visible(r, e)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *server) handleEventFull(w http.ResponseWriter, r *http.Request) {
	ewr, err := s.deps.Queries.EventWithRelations(r.Context(), chi.URLParam(r, "id"))
	if err == nil {
		err = visible(r, ewr.Event)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ewr)
}

func (s *server) handlePrefetchEvent(w http.ResponseWriter, r *http.Request) {
	queued := s.deps.Queries.PrefetchEvent(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
}

func (s *server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var in app.EventInput
	if !decodeJSON(w, r, &in) {
		return
	}
	e, err := s.deps.Commands.CreateEvent(r.Context(), ngevent.IdentityFromContext(r.Context()), &in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var up app.EventUpdate
	if !decodeJSON(w, r, &up) {
		return
	}
	e, err := s.deps.Commands.UpdateEvent(r.Context(), ngevent.IdentityFromContext(r.Context()),
		chi.URLParam(r, "id"), &up)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Commands.DeleteEvent(r.Context(), ngevent.IdentityFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Registrations ---

func (s *server) handleEventRegistrations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID := chi.URLParam(r, "id")
	e, err := s.deps.Catalog.Event(ctx, eventID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := app.Authorize(ngevent.IdentityFromContext(ctx), e.OrganizerID); err != nil {
		writeError(w, r, err)
		return
	}
	regs, err := s.deps.Catalog.EventRegistrations(ctx, eventID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": regs})
}

type registerRequest struct {
	FormData json.RawMessage `json:"form_data"`
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	// An event without a form may be joined with an empty body.
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	reg, err := s.deps.Commands.Register(r.Context(), ngevent.IdentityFromContext(r.Context()),
		chi.URLParam(r, "id"), req.FormData)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

func (s *server) handleCancelRegistration(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Commands.CancelRegistration(r.Context(), ngevent.IdentityFromContext(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type paymentRequest struct {
	Status string `json:"status"` // pending, verified or rejected
}

func (s *server) handlePaymentNotice(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := s.deps.Commands.PaymentNotice(r.Context(), ngevent.IdentityFromContext(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "userID"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
