package testutil

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	ngevent "github.com/eugener/ngevent/internal"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
// It counts calls per method so tests can assert cache hits.
type FakeStore struct {
	mu            sync.RWMutex
	events        map[string]*ngevent.Event
	fields        map[string][]*ngevent.FormField
	speakers      map[string][]*ngevent.Speaker
	profiles      map[string]*ngevent.Profile
	registrations []*ngevent.Registration
	notifications []*ngevent.Notification
	calls         map[string]int
	fail          map[string]error
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		events:   make(map[string]*ngevent.Event),
		fields:   make(map[string][]*ngevent.FormField),
		speakers: make(map[string][]*ngevent.Speaker),
		profiles: make(map[string]*ngevent.Profile),
		calls:    make(map[string]int),
		fail:     make(map[string]error),
	}
}

// Calls returns how many times method was invoked.
func (s *FakeStore) Calls(method string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[method]
}

// FailOn makes method return err until cleared with a nil err.
func (s *FakeStore) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, method)
		return
	}
	s.fail[method] = err
}

// enter records a call and returns the injected failure, if any.
// Callers must hold s.mu for writing.
func (s *FakeStore) enter(method string) error {
	s.calls[method]++
	return s.fail[method]
}

// AddEvent inserts an event directly.
func (s *FakeStore) AddEvent(e *ngevent.Event) {
	s.mu.Lock()
	cp := *e
	s.events[e.ID] = &cp
	s.mu.Unlock()
}

// AddProfile inserts a profile directly.
func (s *FakeStore) AddProfile(p *ngevent.Profile) {
	s.mu.Lock()
	cp := *p
	s.profiles[p.ID] = &cp
	s.mu.Unlock()
}

// --- EventStore ---

// ListEvents filters, orders by start date and pages the stored events.
func (s *FakeStore) ListEvents(_ context.Context, f ngevent.EventFilter) (*ngevent.EventPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListEvents"); err != nil {
		return nil, err
	}
	var match []*ngevent.Event
	for _, e := range s.events {
		if e.Status != f.Status {
			continue
		}
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(e.Title), strings.ToLower(f.Search)) {
			continue
		}
		cp := *e
		match = append(match, &cp)
	}
	slices.SortFunc(match, func(a, b *ngevent.Event) int {
		if c := a.StartDate.Compare(b.StartDate); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	page := &ngevent.EventPage{Data: []*ngevent.Event{}, Count: len(match)}
	start := min(f.Offset(), len(match))
	end := min(start+f.PageSize, len(match))
	page.Data = append(page.Data, match[start:end]...)
	return page, nil
}

// GetEvent returns a copy of the stored event.
func (s *FakeStore) GetEvent(_ context.Context, id string) (*ngevent.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetEvent"); err != nil {
		return nil, err
	}
	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event: %w", ngevent.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

// ListEventsByOrganizer returns the organizer's events, newest first.
func (s *FakeStore) ListEventsByOrganizer(_ context.Context, organizerID string) ([]*ngevent.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListEventsByOrganizer"); err != nil {
		return nil, err
	}
	var out []*ngevent.Event
	for _, e := range s.events {
		if e.OrganizerID == organizerID {
			cp := *e
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *ngevent.Event) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// CreateEvent stores a new event.
func (s *FakeStore) CreateEvent(_ context.Context, e *ngevent.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateEvent"); err != nil {
		return err
	}
	if _, ok := s.events[e.ID]; ok {
		return ngevent.ErrConflict
	}
	cp := *e
	s.events[e.ID] = &cp
	return nil
}

// UpdateEvent replaces a stored event.
func (s *FakeStore) UpdateEvent(_ context.Context, e *ngevent.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateEvent"); err != nil {
		return err
	}
	if _, ok := s.events[e.ID]; !ok {
		return fmt.Errorf("event: %w", ngevent.ErrNotFound)
	}
	cp := *e
	s.events[e.ID] = &cp
	return nil
}

// DeleteEvent removes an event and everything attached to it.
func (s *FakeStore) DeleteEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteEvent"); err != nil {
		return err
	}
	if _, ok := s.events[id]; !ok {
		return fmt.Errorf("event: %w", ngevent.ErrNotFound)
	}
	delete(s.events, id)
	delete(s.fields, id)
	delete(s.speakers, id)
	s.registrations = slices.DeleteFunc(s.registrations, func(r *ngevent.Registration) bool {
		return r.EventID == id
	})
	return nil
}

// --- RelationStore ---

// ListFormFields returns the stored form of an event.
func (s *FakeStore) ListFormFields(_ context.Context, eventID string) ([]*ngevent.FormField, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListFormFields"); err != nil {
		return nil, err
	}
	return slices.Clone(s.fields[eventID]), nil
}

// ListSpeakers returns the stored speakers of an event.
func (s *FakeStore) ListSpeakers(_ context.Context, eventID string) ([]*ngevent.Speaker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListSpeakers"); err != nil {
		return nil, err
	}
	return slices.Clone(s.speakers[eventID]), nil
}

// ReplaceFormFields swaps the form of an event.
func (s *FakeStore) ReplaceFormFields(_ context.Context, eventID string, fields []*ngevent.FormField) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ReplaceFormFields"); err != nil {
		return err
	}
	for _, f := range fields {
		f.EventID = eventID
	}
	s.fields[eventID] = slices.Clone(fields)
	return nil
}

// ReplaceSpeakers swaps the speakers of an event.
func (s *FakeStore) ReplaceSpeakers(_ context.Context, eventID string, speakers []*ngevent.Speaker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ReplaceSpeakers"); err != nil {
		return err
	}
	for _, sp := range speakers {
		sp.EventID = eventID
	}
	s.speakers[eventID] = slices.Clone(speakers)
	return nil
}

// --- ProfileStore ---

// GetProfile returns a copy of a stored profile.
func (s *FakeStore) GetProfile(_ context.Context, id string) (*ngevent.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetProfile"); err != nil {
		return nil, err
	}
	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile: %w", ngevent.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// UpsertProfile stores a profile.
func (s *FakeStore) UpsertProfile(_ context.Context, p *ngevent.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpsertProfile"); err != nil {
		return err
	}
	cp := *p
	if cp.Role == "" {
		cp.Role = ngevent.RoleParticipant
	}
	s.profiles[p.ID] = &cp
	return nil
}

// --- RegistrationStore ---

// CreateRegistration stores or reactivates a registration, enforcing
// capacity under the store lock.
func (s *FakeStore) CreateRegistration(_ context.Context, r *ngevent.Registration, capacity *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateRegistration"); err != nil {
		return err
	}
	if r.Status == "" {
		r.Status = ngevent.RegistrationRegistered
	}
	var (
		existing *ngevent.Registration
		active   int
	)
	for _, reg := range s.registrations {
		if reg.EventID != r.EventID {
			continue
		}
		if reg.UserID == r.UserID {
			existing = reg
		}
		if reg.Status != ngevent.RegistrationCancelled {
			active++
		}
	}
	if existing != nil && existing.Status != ngevent.RegistrationCancelled {
		return ngevent.ErrConflict
	}
	if capacity != nil && active >= *capacity {
		return ngevent.ErrCapacityReached
	}
	if existing != nil {
		existing.Status = r.Status
		existing.FormData = r.FormData
		existing.RegisteredAt = r.RegisteredAt
		r.ID = existing.ID
		return nil
	}
	cp := *r
	s.registrations = append(s.registrations, &cp)
	return nil
}

// CancelRegistration cancels an active registration.
func (s *FakeStore) CancelRegistration(_ context.Context, eventID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CancelRegistration"); err != nil {
		return err
	}
	for _, r := range s.registrations {
		if r.EventID == eventID && r.UserID == userID && r.Status != ngevent.RegistrationCancelled {
			r.Status = ngevent.RegistrationCancelled
			return nil
		}
	}
	return fmt.Errorf("registration: %w", ngevent.ErrNotFound)
}

// ListRegistrationsByUser returns a user's registrations.
func (s *FakeStore) ListRegistrationsByUser(_ context.Context, userID string) ([]*ngevent.Registration, error) {
	return s.filterRegistrations("ListRegistrationsByUser", func(r *ngevent.Registration) bool {
		return r.UserID == userID
	})
}

// ListRegistrationsByEvent returns an event's registrations.
func (s *FakeStore) ListRegistrationsByEvent(_ context.Context, eventID string) ([]*ngevent.Registration, error) {
	return s.filterRegistrations("ListRegistrationsByEvent", func(r *ngevent.Registration) bool {
		return r.EventID == eventID
	})
}

// CountActiveRegistrations counts non-cancelled registrations of an event.
func (s *FakeStore) CountActiveRegistrations(_ context.Context, eventID string) (int, error) {
	regs, err := s.filterRegistrations("CountActiveRegistrations", func(r *ngevent.Registration) bool {
		return r.EventID == eventID && r.Status != ngevent.RegistrationCancelled
	})
	return len(regs), err
}

func (s *FakeStore) filterRegistrations(method string, keep func(*ngevent.Registration) bool) ([]*ngevent.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(method); err != nil {
		return nil, err
	}
	var out []*ngevent.Registration
	for _, r := range s.registrations {
		if keep(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- NotificationStore ---

// CreateNotifications stores ns.
func (s *FakeStore) CreateNotifications(_ context.Context, ns []*ngevent.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateNotifications"); err != nil {
		return err
	}
	for _, n := range ns {
		cp := *n
		s.notifications = append(s.notifications, &cp)
	}
	return nil
}

// ListNotifications returns up to limit notifications of a user, newest first.
func (s *FakeStore) ListNotifications(_ context.Context, userID string, limit int) ([]*ngevent.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListNotifications"); err != nil {
		return nil, err
	}
	var out []*ngevent.Notification
	for i := len(s.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if n := s.notifications[i]; n.UserID == userID {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MarkNotificationRead flags a notification as read.
func (s *FakeStore) MarkNotificationRead(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("MarkNotificationRead"); err != nil {
		return err
	}
	for _, n := range s.notifications {
		if n.ID == id && n.UserID == userID {
			n.Read = true
			return nil
		}
	}
	return fmt.Errorf("notification: %w", ngevent.ErrNotFound)
}

// Ping always succeeds unless a failure is injected.
func (s *FakeStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enter("Ping")
}

// Close is a no-op.
func (s *FakeStore) Close() error { return nil }
