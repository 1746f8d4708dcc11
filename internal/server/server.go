// Package server implements the HTTP transport layer for the ngevent service.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	ngevent "github.com/eugener/ngevent/internal"
	"github.com/eugener/ngevent/internal/app"
	"github.com/eugener/ngevent/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Sweeper removes expired durable cache entries on demand.
type Sweeper interface {
	Sweep(ctx context.Context) int
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth           ngevent.Authenticator
	Catalog        *app.Catalog
	Queries        *app.QueryService
	Commands       *app.CommandService
	Sweeper        Sweeper            // nil = sweep the durable cache inline
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
	Metrics        *telemetry.Metrics // nil = no request metrics
	MetricsHandler http.Handler       // nil = no /metrics endpoint
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Client-facing API (auth required)
	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/events", func(r chi.Router) {
			r.Get("/", s.handleListEvents)
			r.Post("/", s.handleCreateEvent)
			r.Get("/page", s.handleEventPage)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetEvent)
				r.Patch("/", s.handleUpdateEvent)
				r.Delete("/", s.handleDeleteEvent)
				r.Get("/full", s.handleEventFull)
				r.Post("/prefetch", s.handlePrefetchEvent)
				r.Get("/registrations", s.handleEventRegistrations)
				r.Post("/registrations", s.handleRegister)
				r.Delete("/registrations/{userID}", s.handleCancelRegistration)
				r.Post("/registrations/{userID}/payment", s.handlePaymentNotice)
			})
		})

		r.Get("/profiles/{id}", s.handleGetProfile)
		r.Patch("/profiles/{id}", s.handleUpdateProfile)

		r.Route("/users/{id}", func(r chi.Router) {
			r.Use(s.requireSelf)
			r.Get("/registrations", s.handleUserRegistrations)
			r.Get("/events", s.handleUserEvents)
			r.Get("/notifications", s.handleNotifications)
			r.Post("/notifications/{nid}/read", s.handleMarkRead)
			r.Get("/dashboard", s.handleDashboard)
			r.Post("/logout", s.handleLogout)
		})
	})

	// Operator API (admin key required)
	r.Route("/admin", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.requireAdmin)
		r.Get("/cache/stats", s.handleCacheStats)
		r.Post("/cache/sweep", s.handleCacheSweep)
		r.Delete("/cache", s.handleCacheReset)
		r.Delete("/cache/prefix/{prefix}", s.handleCacheClearPrefix)
		r.Post("/notifications", s.handleBroadcast)
	})

	return r
}

type server struct {
	deps Deps
}
