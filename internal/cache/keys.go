package cache

import "time"

// Key prefixes. Keys sharing a prefix form a group for bulk invalidation.
// Note that PrefixEventDetail is a literal prefix of nothing else, but
// "event" (without the colon) would match PrefixEvents too.
const (
	PrefixProfile            = "profile:"
	PrefixEvents             = "events:"
	PrefixEventDetail        = "event:"
	PrefixRegistrations      = "registrations:"
	PrefixEventRegistrations = "event-registrations:"
	PrefixNotifications      = "notifications:"
	PrefixDashboardStats     = "dashboard-stats:"
	PrefixUserEvents         = "user-events:"
)

// AppPrefixes lists every prefix the application writes. Reset clears
// exactly these.
var AppPrefixes = []string{
	PrefixProfile,
	PrefixEvents,
	PrefixEventDetail,
	PrefixRegistrations,
	PrefixEventRegistrations,
	PrefixNotifications,
	PrefixDashboardStats,
	PrefixUserEvents,
}

type keyBuilder struct{}

// Keys builds durable cache keys.
var Keys keyBuilder

// Profile is the key of a user's profile.
func (keyBuilder) Profile(userID string) string { return PrefixProfile + userID }

// Events is the key of an event listing; an empty filter means "all".
func (keyBuilder) Events(filter string) string {
	if filter == "" {
		filter = "all"
	}
	return PrefixEvents + filter
}

// EventDetail is the key of a single event.
func (keyBuilder) EventDetail(eventID string) string { return PrefixEventDetail + eventID }

// UserRegistrations is the key of the registrations a user made.
func (keyBuilder) UserRegistrations(userID string) string { return PrefixRegistrations + userID }

// EventRegistrations is the key of the registrations an event received.
func (keyBuilder) EventRegistrations(eventID string) string {
	return PrefixEventRegistrations + eventID
}

// Notifications is the key of a user's notifications.
func (keyBuilder) Notifications(userID string) string { return PrefixNotifications + userID }

// DashboardStats is the key of a user's dashboard summary.
func (keyBuilder) DashboardStats(userID string) string { return PrefixDashboardStats + userID }

// UserEvents is the key of the events a user organizes.
func (keyBuilder) UserEvents(userID string) string { return PrefixUserEvents + userID }

// User returns every per-user key of userID.
func (k keyBuilder) User(userID string) []string {
	return []string{
		k.Profile(userID),
		k.UserRegistrations(userID),
		k.Notifications(userID),
		k.DashboardStats(userID),
		k.UserEvents(userID),
	}
}

// Policy holds the TTL per data category.
type Policy struct {
	Profile       time.Duration `yaml:"profile"`
	Events        time.Duration `yaml:"events"`
	EventDetail   time.Duration `yaml:"event_detail"`
	Registrations time.Duration `yaml:"registrations"`
	Notifications time.Duration `yaml:"notifications"`
	Stats         time.Duration `yaml:"stats"`
}

// DefaultPolicy returns the stock TTL table.
func DefaultPolicy() Policy {
	return Policy{
		Profile:       5 * time.Minute,
		Events:        2 * time.Minute,
		EventDetail:   3 * time.Minute,
		Registrations: 1 * time.Minute,
		Notifications: 30 * time.Second,
		Stats:         5 * time.Minute,
	}
}

// WithDefaults fills zero durations from DefaultPolicy.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()
	if p.Profile <= 0 {
		p.Profile = d.Profile
	}
	if p.Events <= 0 {
		p.Events = d.Events
	}
	if p.EventDetail <= 0 {
		p.EventDetail = d.EventDetail
	}
	if p.Registrations <= 0 {
		p.Registrations = d.Registrations
	}
	if p.Notifications <= 0 {
		p.Notifications = d.Notifications
	}
	if p.Stats <= 0 {
		p.Stats = d.Stats
	}
	return p
}
