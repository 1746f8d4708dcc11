// Package storage defines persistence interfaces for the event service.
package storage

import (
	"context"

	ngevent "github.com/eugener/ngevent/internal"
)

// EventStore manages event persistence.
type EventStore interface {
	// ListEvents returns one page of events matching f (already normalized),
	// ordered by start date, plus the total match count.
	ListEvents(ctx context.Context, f ngevent.EventFilter) (*ngevent.EventPage, error)
	GetEvent(ctx context.Context, id string) (*ngevent.Event, error)
	// ListEventsByOrganizer returns every event of an organizer, newest first.
	ListEventsByOrganizer(ctx context.Context, organizerID string) ([]*ngevent.Event, error)
	CreateEvent(ctx context.Context, e *ngevent.Event) error
	UpdateEvent(ctx context.Context, e *ngevent.Event) error
	DeleteEvent(ctx context.Context, id string) error
}

// RelationStore manages the speakers and registration form of an event.
type RelationStore interface {
	ListFormFields(ctx context.Context, eventID string) ([]*ngevent.FormField, error)
	ListSpeakers(ctx context.Context, eventID string) ([]*ngevent.Speaker, error)
	// ReplaceFormFields swaps the whole form of an event.
	ReplaceFormFields(ctx context.Context, eventID string, fields []*ngevent.FormField) error
	// ReplaceSpeakers swaps the whole speaker list of an event.
	ReplaceSpeakers(ctx context.Context, eventID string, speakers []*ngevent.Speaker) error
}

// ProfileStore manages user profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*ngevent.Profile, error)
	// UpsertProfile creates the profile or overwrites every field.
	UpsertProfile(ctx context.Context, p *ngevent.Profile) error
}

// RegistrationStore manages event registrations.
type RegistrationStore interface {
	// CreateRegistration registers a user for an event. A cancelled
	// registration is reactivated; an active one yields ErrConflict. When
	// capacity is non-nil the seat check and the write are one atomic step:
	// a full event yields ErrCapacityReached.
	CreateRegistration(ctx context.Context, r *ngevent.Registration, capacity *int) error
	CancelRegistration(ctx context.Context, eventID, userID string) error
	ListRegistrationsByUser(ctx context.Context, userID string) ([]*ngevent.Registration, error)
	ListRegistrationsByEvent(ctx context.Context, eventID string) ([]*ngevent.Registration, error)
	// CountActiveRegistrations counts non-cancelled registrations of an event.
	CountActiveRegistrations(ctx context.Context, eventID string) (int, error)
}

// NotificationStore manages in-app notifications.
type NotificationStore interface {
	CreateNotifications(ctx context.Context, ns []*ngevent.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]*ngevent.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
}

// Store combines all storage interfaces.
type Store interface {
	EventStore
	RelationStore
	ProfileStore
	RegistrationStore
	NotificationStore
	Ping(ctx context.Context) error
	Close() error
}
