package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	ngevent "github.com/eugener/ngevent/internal"
	"github.com/eugener/ngevent/internal/cache"
	"github.com/eugener/ngevent/internal/storage"
)

// CommandService applies mutations and invalidates both cache layers
// afterwards. Invalidation failures are logged: the mutation already
// happened and stale entries expire on their own.
type CommandService struct {
	store   storage.Store
	durable *cache.Durable
	queries *QueryService
	now     func() time.Time

	// OnProfileChange, when set, is called after a profile is written.
	OnProfileChange func(userID string)
}

// NewCommandService returns a CommandService writing to store.
func NewCommandService(store storage.Store, d *cache.Durable, q *QueryService) *CommandService {
	return &CommandService{store: store, durable: d, queries: q, now: time.Now}
}

// Authorize succeeds when id is an admin or its subject is one of owners.
func Authorize(id *ngevent.Identity, owners ...string) error {
	if id == nil {
		return ngevent.ErrUnauthorized
	}
	if id.IsAdmin() || slices.Contains(owners, id.Subject) {
		return nil
	}
	return ngevent.ErrForbidden
}

func (s *CommandService) invalidate(ctx context.Context, r cache.Resource, id string) {
	if err := s.durable.Invalidate(ctx, r, id); err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "cache invalidation failed",
			slog.String("resource", r.String()),
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (s *CommandService) clearKey(ctx context.Context, key string) {
	if err := s.durable.Clear(ctx, key); err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "cache clear failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// --- Events ---

// EventInput is the body of an event creation.
type EventInput struct {
	ngevent.Event
	FormFields []*ngevent.FormField `json:"form_fields,omitempty"`
	Speakers   []*ngevent.Speaker   `json:"speakers,omitempty"`
}

// EventUpdate is the body of an event update. Nil relation lists are left
// unchanged; an empty list removes them all.
type EventUpdate struct {
	ngevent.EventPatch
	FormFields []*ngevent.FormField `json:"form_fields"`
	Speakers   []*ngevent.Speaker   `json:"speakers"`
}

var eventStatuses = []string{
	ngevent.EventDraft, ngevent.EventPublished, ngevent.EventCancelled, ngevent.EventCompleted,
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ngevent.ErrBadRequest, fmt.Sprintf(format, args...))
}

func validateEvent(e *ngevent.Event) error {
	switch {
	case strings.TrimSpace(e.Title) == "":
		return badRequest("title is required")
	case e.StartDate.IsZero():
		return badRequest("start_date is required")
	case e.EndDate.IsZero():
		return badRequest("end_date is required")
	case e.EndDate.Before(e.StartDate):
		return badRequest("end_date must not precede start_date")
	case !ngevent.ValidCategory(e.Category):
		return badRequest("unknown category %q", e.Category)
	case e.Capacity != nil && *e.Capacity < 1:
		return badRequest("capacity must be positive")
	case e.RegistrationFee.IsNegative():
		return badRequest("registration_fee must not be negative")
	case !slices.Contains(eventStatuses, e.Status):
		return badRequest("unknown status %q", e.Status)
	}
	return nil
}

func prepareRelations(eventID string, fields []*ngevent.FormField, speakers []*ngevent.Speaker) error {
	for i, f := range fields {
		if strings.TrimSpace(f.FieldName) == "" {
			return badRequest("form field %d has no name", i)
		}
		if f.FieldType == "" {
			f.FieldType = "text"
		}
		if f.ID == "" {
			f.ID = uuid.Must(uuid.NewV7()).String()
		}
		f.EventID = eventID
		f.OrderIndex = i
	}
	for i, sp := range speakers {
		if strings.TrimSpace(sp.Name) == "" {
			return badRequest("speaker %d has no name", i)
		}
		if sp.ID == "" {
			sp.ID = uuid.Must(uuid.NewV7()).String()
		}
		sp.EventID = eventID
		sp.OrderIndex = i
	}
	return nil
}

// CreateEvent stores a new event owned by the caller.
func (s *CommandService) CreateEvent(ctx context.Context, id *ngevent.Identity, in *EventInput) (*ngevent.Event, error) {
	if id == nil {
		return nil, ngevent.ErrUnauthorized
	}
	if id.Role != ngevent.RoleOrganizer && !id.IsAdmin() {
		return nil, fmt.Errorf("%w: only organizers can create events", ngevent.ErrForbidden)
	}

	e := in.Event
	e.ID = uuid.Must(uuid.NewV7()).String()
	e.OrganizerID = id.Subject
	e.CreatedAt = s.now().UTC()
	if e.Status == "" {
		e.Status = ngevent.EventDraft
	}
	if err := validateEvent(&e); err != nil {
		return nil, err
	}
	if err := prepareRelations(e.ID, in.FormFields, in.Speakers); err != nil {
		return nil, err
	}

	if err := s.store.CreateEvent(ctx, &e); err != nil {
		return nil, err
	}
	defer s.queries.ForgetEvent(e.ID)
	defer s.invalidate(ctx, cache.ResourceEvent, e.ID)

	// The store has no transaction spanning an event and its relations, so
	// a half-written event is removed again.
	if err := s.replaceRelations(ctx, e.ID, in.FormFields, in.Speakers); err != nil {
		if derr := s.store.DeleteEvent(ctx, e.ID); derr != nil {
			slog.LogAttrs(ctx, slog.LevelError, "event rollback failed",
				slog.String("event_id", e.ID),
				slog.String("error", derr.Error()),
			)
		}
		return nil, err
	}
	return &e, nil
}

func (s *CommandService) replaceRelations(ctx context.Context, eventID string, fields []*ngevent.FormField, speakers []*ngevent.Speaker) error {
	if fields != nil {
		if err := s.store.ReplaceFormFields(ctx, eventID, fields); err != nil {
			return fmt.Errorf("replace form fields: %w", err)
		}
	}
	if speakers != nil {
		if err := s.store.ReplaceSpeakers(ctx, eventID, speakers); err != nil {
			return fmt.Errorf("replace speakers: %w", err)
		}
	}
	return nil
}

// UpdateEvent applies a partial update. Registrants are notified when the
// event is cancelled.
func (s *CommandService) UpdateEvent(ctx context.Context, id *ngevent.Identity, eventID string, up *EventUpdate) (*ngevent.Event, error) {
	e, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(id, e.OrganizerID); err != nil {
		return nil, err
	}
	wasCancelled := e.Status == ngevent.EventCancelled

	up.Apply(e)
	if err := validateEvent(e); err != nil {
		return nil, err
	}
	if err := prepareRelations(eventID, up.FormFields, up.Speakers); err != nil {
		return nil, err
	}
	if err := s.store.UpdateEvent(ctx, e); err != nil {
		return nil, err
	}
	// The event row changed even if the relations below fail.
	s.invalidate(ctx, cache.ResourceEvent, eventID)
	s.queries.ForgetEvent(eventID)
	if err := s.replaceRelations(ctx, eventID, up.FormFields, up.Speakers); err != nil {
		return nil, err
	}

	if !wasCancelled && e.Status == ngevent.EventCancelled {
		if _, err := s.notifyRegistrants(ctx, e, ngevent.NotifyEventUpdate, "Event Cancelled",
			fmt.Sprintf("%q has been cancelled.", e.Title)); err != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "cancellation notice failed",
				slog.String("event_id", eventID),
				slog.String("error", err.Error()),
			)
		}
	}
	return e, nil
}

// DeleteEvent removes an event with its relations and registrations.
func (s *CommandService) DeleteEvent(ctx context.Context, id *ngevent.Identity, eventID string) error {
	e, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if err := Authorize(id, e.OrganizerID); err != nil {
		return err
	}
	if err := s.store.DeleteEvent(ctx, eventID); err != nil {
		return err
	}
	s.invalidate(ctx, cache.ResourceEvent, eventID)
	s.invalidate(ctx, cache.ResourceRegistration, eventID)
	s.queries.ForgetEvent(eventID)
	return nil
}

// --- Registrations ---

// Register signs the caller up for an event. The event must be published,
// below capacity, and formData must answer every required field.
func (s *CommandService) Register(ctx context.Context, id *ngevent.Identity, eventID string, formData json.RawMessage) (*ngevent.Registration, error) {
	if id == nil {
		return nil, ngevent.ErrUnauthorized
	}
	e, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if e.Status != ngevent.EventPublished {
		return nil, badRequest("event is not open for registration")
	}
	fields, err := s.store.ListFormFields(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := checkAnswers(fields, formData); err != nil {
		return nil, err
	}

	r := &ngevent.Registration{
		ID:           uuid.Must(uuid.NewV7()).String(),
		EventID:      eventID,
		UserID:       id.Subject,
		Status:       ngevent.RegistrationRegistered,
		FormData:     formData,
		RegisteredAt: s.now().UTC(),
	}
	if err := s.store.CreateRegistration(ctx, r, e.Capacity); err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.ResourceRegistration, eventID)

	n := s.notification(id.Subject, ngevent.NotifyRegistration, "Registration Confirmed",
		fmt.Sprintf("You are registered for %q.", e.Title), eventID)
	if err := s.store.CreateNotifications(ctx, []*ngevent.Notification{n}); err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "registration notice failed",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
	} else {
		s.clearKey(ctx, cache.Keys.Notifications(id.Subject))
	}
	return r, nil
}

// checkAnswers verifies that every required field has a non-empty answer.
func checkAnswers(fields []*ngevent.FormField, raw json.RawMessage) error {
	answers := map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &answers); err != nil {
			return badRequest("form_data must be an object")
		}
	}
	for _, f := range fields {
		if !f.IsRequired {
			continue
		}
		v, ok := answers[f.FieldName]
		if !ok || v == nil {
			return badRequest("%s is required", f.FieldName)
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			return badRequest("%s is required", f.FieldName)
		}
	}
	return nil
}

// CancelRegistration cancels userID's registration. The user, the event
// organizer and admins may cancel.
func (s *CommandService) CancelRegistration(ctx context.Context, id *ngevent.Identity, eventID, userID string) error {
	e, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if err := Authorize(id, userID, e.OrganizerID); err != nil {
		return err
	}
	if err := s.store.CancelRegistration(ctx, eventID, userID); err != nil {
		return err
	}
	s.invalidate(ctx, cache.ResourceRegistration, eventID)
	return nil
}

// --- Profiles ---

// UpdateProfile applies a partial profile update, creating the profile
// when it does not exist yet.
func (s *CommandService) UpdateProfile(ctx context.Context, id *ngevent.Identity, userID string, patch *ngevent.ProfilePatch) (*ngevent.Profile, error) {
	if err := Authorize(id, userID); err != nil {
		return nil, err
	}
	p, err := s.store.GetProfile(ctx, userID)
	if errors.Is(err, ngevent.ErrNotFound) {
		p = &ngevent.Profile{ID: userID, Role: ngevent.RoleParticipant}
	} else if err != nil {
		return nil, err
	}
	patch.Apply(p)
	if patch.FullName != nil && strings.TrimSpace(p.FullName) == "" {
		return nil, badRequest("full_name must not be empty")
	}
	p.UpdatedAt = s.now().UTC()
	if err := s.store.UpsertProfile(ctx, p); err != nil {
		return nil, err
	}

	s.invalidate(ctx, cache.ResourceProfile, userID)
	s.queries.ForgetOrganizer(userID)
	if s.OnProfileChange != nil {
		s.OnProfileChange(userID)
	}
	return p, nil
}

// Logout drops every durable entry of userID.
func (s *CommandService) Logout(ctx context.Context, id *ngevent.Identity, userID string) error {
	if err := Authorize(id, userID); err != nil {
		return err
	}
	return s.durable.ClearUser(ctx, userID)
}

// --- Notifications ---

func (s *CommandService) notification(userID, typ, title, msg, eventID string) *ngevent.Notification {
	return &ngevent.Notification{
		ID:        uuid.Must(uuid.NewV7()).String(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   msg,
		EventID:   eventID,
		CreatedAt: s.now().UTC(),
	}
}

// MarkNotificationRead flags one of userID's notifications as read.
func (s *CommandService) MarkNotificationRead(ctx context.Context, id *ngevent.Identity, userID, notificationID string) error {
	if err := Authorize(id, userID); err != nil {
		return err
	}
	if err := s.store.MarkNotificationRead(ctx, userID, notificationID); err != nil {
		return err
	}
	s.clearKey(ctx, cache.Keys.Notifications(userID))
	return nil
}

// Broadcast is an admin bulk notification. Without UserIDs it targets
// every active registrant of EventID.
type Broadcast struct {
	UserIDs []string `json:"user_ids,omitempty"`
	EventID string   `json:"event_id,omitempty"`
	Type    string   `json:"type,omitempty"`
	Title   string   `json:"title,omitempty"`
	Message string   `json:"message,omitempty"`
}

var notificationTypes = []string{
	ngevent.NotifyRegistration, ngevent.NotifyEventUpdate, ngevent.NotifyReminder,
	ngevent.NotifyGeneral, ngevent.NotifyPayment,
}

// Broadcast sends b and returns how many users it reached. A reminder with
// no title or message gets the stock "starting soon" text.
func (s *CommandService) Broadcast(ctx context.Context, id *ngevent.Identity, b *Broadcast) (int, error) {
	if err := Authorize(id); err != nil {
		return 0, err
	}
	if b.Type == "" {
		b.Type = ngevent.NotifyGeneral
	}
	if !slices.Contains(notificationTypes, b.Type) {
		return 0, badRequest("unknown notification type %q", b.Type)
	}
	if len(b.UserIDs) == 0 && b.EventID == "" {
		return 0, badRequest("user_ids or event_id is required")
	}
	if b.Type == ngevent.NotifyReminder && b.EventID == "" {
		return 0, badRequest("a reminder needs an event_id")
	}

	recipients := b.UserIDs
	if len(recipients) == 0 || b.Type == ngevent.NotifyReminder {
		e, err := s.store.GetEvent(ctx, b.EventID)
		if err != nil {
			return 0, err
		}
		if b.Type == ngevent.NotifyReminder {
			if b.Title == "" {
				b.Title = "Event Starting Soon"
			}
			if b.Message == "" {
				b.Message = fmt.Sprintf("%q will start soon. Don't forget to join!", e.Title)
			}
		}
		if len(recipients) == 0 {
			if recipients, err = s.activeRegistrants(ctx, b.EventID); err != nil {
				return 0, err
			}
		}
	}
	if strings.TrimSpace(b.Title) == "" || strings.TrimSpace(b.Message) == "" {
		return 0, badRequest("title and message are required")
	}
	return s.notifyUsers(ctx, recipients, b.Type, b.Title, b.Message, b.EventID)
}

func (s *CommandService) activeRegistrants(ctx context.Context, eventID string) ([]string, error) {
	regs, err := s.store.ListRegistrationsByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	var users []string
	for _, r := range regs {
		if r.Status != ngevent.RegistrationCancelled && !slices.Contains(users, r.UserID) {
			users = append(users, r.UserID)
		}
	}
	return users, nil
}

func (s *CommandService) notifyRegistrants(ctx context.Context, e *ngevent.Event, typ, title, msg string) (int, error) {
	users, err := s.activeRegistrants(ctx, e.ID)
	if err != nil {
		return 0, err
	}
	return s.notifyUsers(ctx, users, typ, title, msg, e.ID)
}

func (s *CommandService) notifyUsers(ctx context.Context, users []string, typ, title, msg, eventID string) (int, error) {
	if len(users) == 0 {
		return 0, nil
	}
	ns := make([]*ngevent.Notification, 0, len(users))
	for _, u := range users {
		ns = append(ns, s.notification(u, typ, title, msg, eventID))
	}
	if err := s.store.CreateNotifications(ctx, ns); err != nil {
		return 0, err
	}
	for _, u := range users {
		s.clearKey(ctx, cache.Keys.Notifications(u))
	}
	return len(users), nil
}

// PaymentNotice notifies a registrant about a payment status change.
// status is one of "pending", "verified" or "rejected".
func (s *CommandService) PaymentNotice(ctx context.Context, id *ngevent.Identity, eventID, userID, status string) error {
	e, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if err := Authorize(id, e.OrganizerID); err != nil {
		return err
	}
	fee := e.RegistrationFee.StringFixed(2)
	var msg string
	switch status {
	case "pending":
		msg = fmt.Sprintf("Your payment of %s for %q is being verified.", fee, e.Title)
	case "verified":
		msg = fmt.Sprintf("Your payment of %s for %q has been verified. You're all set!", fee, e.Title)
	case "rejected":
		msg = fmt.Sprintf("Your payment of %s for %q was rejected. Please upload a valid proof of payment.", fee, e.Title)
	default:
		return badRequest("unknown payment status %q", status)
	}
	title := "Payment " + strings.ToUpper(status[:1]) + status[1:]
	_, err = s.notifyUsers(ctx, []string{userID}, ngevent.NotifyPayment, title, msg, eventID)
	return err
}
