// Package ngevent defines domain types for the ngevent event service.
// This package has no project imports -- it is the dependency root.
package ngevent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// --- Events ---

// Event status values.
const (
	EventDraft     = "draft"
	EventPublished = "published"
	EventCancelled = "cancelled"
	EventCompleted = "completed"
)

// Event is a single event created by an organizer.
type Event struct {
	ID              string          `json:"id"`
	OrganizerID     string          `json:"organizer_id"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	StartDate       time.Time       `json:"start_date"`
	EndDate         time.Time       `json:"end_date"`
	Location        string          `json:"location,omitempty"`
	Category        string          `json:"category,omitempty"`
	Capacity        *int            `json:"capacity,omitempty"` // nil = unlimited
	RegistrationFee decimal.Decimal `json:"registration_fee"`
	Status          string          `json:"status"`
	ImageURL        string          `json:"image_url,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// EventPatch carries a partial event update. Nil fields are left unchanged.
type EventPatch struct {
	Title           *string          `json:"title,omitempty"`
	Description     *string          `json:"description,omitempty"`
	StartDate       *time.Time       `json:"start_date,omitempty"`
	EndDate         *time.Time       `json:"end_date,omitempty"`
	Location        *string          `json:"location,omitempty"`
	Category        *string          `json:"category,omitempty"`
	Capacity        *int             `json:"capacity,omitempty"`
	RegistrationFee *decimal.Decimal `json:"registration_fee,omitempty"`
	Status          *string          `json:"status,omitempty"`
	ImageURL        *string          `json:"image_url,omitempty"`
}

// Apply copies the non-nil patch fields onto e.
func (p *EventPatch) Apply(e *Event) {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.StartDate != nil {
		e.StartDate = *p.StartDate
	}
	if p.EndDate != nil {
		e.EndDate = *p.EndDate
	}
	if p.Location != nil {
		e.Location = *p.Location
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
	if p.Capacity != nil {
		e.Capacity = p.Capacity
	}
	if p.RegistrationFee != nil {
		e.RegistrationFee = *p.RegistrationFee
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.ImageURL != nil {
		e.ImageURL = *p.ImageURL
	}
}

// Speaker is a person presenting at an event.
type Speaker struct {
	ID          string `json:"id"`
	EventID     string `json:"event_id"`
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Company     string `json:"company,omitempty"`
	Bio         string `json:"bio,omitempty"`
	PhotoURL    string `json:"photo_url,omitempty"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
	TwitterURL  string `json:"twitter_url,omitempty"`
	WebsiteURL  string `json:"website_url,omitempty"`
	OrderIndex  int    `json:"order_index"`
}

// FormField is a custom registration form question attached to an event.
type FormField struct {
	ID         string   `json:"id"`
	EventID    string   `json:"event_id"`
	FieldName  string   `json:"field_name"`
	FieldType  string   `json:"field_type"` // "text", "email", "select", ...
	IsRequired bool     `json:"is_required"`
	Options    []string `json:"options,omitempty"`
	OrderIndex int      `json:"order_index"`
}

// EventFilter selects a page of events for listing.
type EventFilter struct {
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	Category string `json:"category,omitempty"`
	Search   string `json:"search,omitempty"` // case-insensitive title substring
	Status   string `json:"status,omitempty"` // "" = published
}

// Normalize clamps paging values and applies the published-status default.
func (f EventFilter) Normalize() EventFilter {
	if f.Page < 0 {
		f.Page = 0
	}
	if f.PageSize <= 0 || f.PageSize > 100 {
		f.PageSize = 10
	}
	if f.Status == "" {
		f.Status = EventPublished
	}
	return f
}

// Offset returns the row offset of the filter's page.
func (f EventFilter) Offset() int { return f.Page * f.PageSize }

// EventPage is one page of an event listing plus the total match count.
type EventPage struct {
	Data  []*Event `json:"data"`
	Count int      `json:"count"`
}

// EventWithRelations bundles an event with everything its detail page shows.
type EventWithRelations struct {
	Event      *Event       `json:"event"`
	FormFields []*FormField `json:"form_fields"`
	Speakers   []*Speaker   `json:"speakers"`
	Organizer  *Profile     `json:"organizer"`
}

// Categories lists the event categories accepted on create and update.
var Categories = []string{
	"Tech", "Food & Drink", "AI", "Arts & Culture", "Climate", "Fitness",
	"Wellness", "Crypto", "Business", "Education", "Music", "Gaming",
}

// ValidCategory reports whether c is empty or one of Categories.
func ValidCategory(c string) bool {
	return c == "" || slices.Contains(Categories, c)
}

// --- Profiles ---

// Profile roles.
const (
	RoleParticipant = "participant"
	RoleOrganizer   = "organizer"
	RoleAdmin       = "admin"
)

// Profile is a user's public profile.
type Profile struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	City      string    `json:"city,omitempty"`
	Role      string    `json:"role"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfilePatch carries a partial profile update.
type ProfilePatch struct {
	FullName  *string `json:"full_name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	City      *string `json:"city,omitempty"`
}

// Apply copies the non-nil patch fields onto p.
func (pp *ProfilePatch) Apply(p *Profile) {
	if pp.FullName != nil {
		p.FullName = *pp.FullName
	}
	if pp.AvatarURL != nil {
		p.AvatarURL = *pp.AvatarURL
	}
	if pp.City != nil {
		p.City = *pp.City
	}
}

// --- Registrations ---

// Registration status values.
const (
	RegistrationRegistered = "registered"
	RegistrationAttended   = "attended"
	RegistrationCancelled  = "cancelled"
)

// Registration links a user to an event they signed up for.
type Registration struct {
	ID           string          `json:"id"`
	EventID      string          `json:"event_id"`
	UserID       string          `json:"user_id"`
	Status       string          `json:"status"`
	FormData     json.RawMessage `json:"form_data,omitempty"` // answers keyed by field name
	RegisteredAt time.Time       `json:"registered_at"`
}

// --- Notifications ---

// Notification types.
const (
	NotifyRegistration = "registration"
	NotifyEventUpdate  = "event_update"
	NotifyReminder     = "reminder"
	NotifyGeneral      = "general"
	NotifyPayment      = "payment"
)

// Notification is an in-app message for a single user.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	EventID   string    `json:"event_id,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// --- Dashboard ---

// DashboardStats summarizes a user's activity for the dashboard header.
type DashboardStats struct {
	UserID                string    `json:"user_id"`
	OrganizedEvents       int       `json:"organized_events"`
	UpcomingOrganized     int       `json:"upcoming_organized"`
	RegistrationsReceived int       `json:"registrations_received"`
	RegistrationsMade     int       `json:"registrations_made"`
	UpcomingAttending     int       `json:"upcoming_attending"`
	GeneratedAt           time.Time `json:"generated_at"`
}

// --- Identity ---

// Identity is the authenticated caller attached to request context.
type Identity struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

// IsAdmin reports whether the identity carries the admin role.
func (id *Identity) IsAdmin() bool { return id != nil && id.Role == RoleAdmin }

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// Identity is filled in later by the authenticate middleware via mutation.
type requestMeta struct {
	RequestID string
	Identity  *Identity
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	if m := metaFromContext(ctx); m != nil {
		return m.Identity
	}
	return nil
}

// ContextWithIdentity stores the identity in the existing requestMeta if present.
// Falls back to creating new metadata if none exists (e.g., in tests).
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Identity = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Identity: id})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// HashKey returns the hex-encoded SHA-256 hash of a raw credential.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// --- Authenticator interface ---

// Authenticator validates request credentials and returns the caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}
