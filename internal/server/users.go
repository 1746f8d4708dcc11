package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	ngevent "github.com/eugener/ngevent/internal"
)

func (s *server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Catalog.Profile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var patch ngevent.ProfilePatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	p, err := s.deps.Commands.UpdateProfile(r.Context(), ngevent.IdentityFromContext(r.Context()),
		chi.URLParam(r, "id"), &patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// The handlers below sit behind requireSelf.

func (s *server) handleUserRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := s.deps.Catalog.UserRegistrations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": regs})
}

func (s *server) handleUserEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Catalog.UserEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": events})
}

type notificationList struct {
	Data   []*ngevent.Notification `json:"data"`
	Unread int                     `json:"unread"`
}

func (s *server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "id")
	list, err := s.deps.Catalog.Notifications(ctx, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	unread, err := s.deps.Catalog.UnreadCount(ctx, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notificationList{Data: list, Unread: unread})
}

func (s *server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Commands.MarkNotificationRead(r.Context(), ngevent.IdentityFromContext(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "nid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Catalog.DashboardStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Commands.Logout(r.Context(), ngevent.IdentityFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
