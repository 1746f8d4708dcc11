package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	ngevent "github.com/eugener/ngevent/internal"
	"github.com/eugener/ngevent/internal/cache"
	"github.com/eugener/ngevent/internal/storage"
)

// Query cache TTLs.
const (
	EventTTL      = 5 * time.Minute
	EventsTTL     = 2 * time.Minute
	FormFieldsTTL = 5 * time.Minute
	SpeakersTTL   = 5 * time.Minute
	OrganizerTTL  = 10 * time.Minute
	RelationsTTL  = 3 * time.Minute
)

// Query cache key prefixes.
const (
	qkEvent      = "event_"
	qkEvents     = "events_"
	qkFormFields = "form_fields_"
	qkSpeakers   = "speakers_"
	qkOrganizer  = "organizer_"
	qkRelations  = "event_full_"
)

// Enqueuer accepts event ids to warm in the background. Enqueue must not
// block; it reports false when the id was dropped.
type Enqueuer interface {
	Enqueue(eventID string) bool
}

// QueryService memoizes backend reads in the ephemeral query cache.
type QueryService struct {
	store    storage.Store
	cache    *cache.Query
	prefetch Enqueuer
}

// NewQueryService returns a QueryService reading from store through q.
func NewQueryService(store storage.Store, q *cache.Query) *QueryService {
	return &QueryService{store: store, cache: q}
}

// SetPrefetcher routes PrefetchEvent through e.
func (s *QueryService) SetPrefetcher(e Enqueuer) { s.prefetch = e }

// Cache exposes the query cache for diagnostics.
func (s *QueryService) Cache() *cache.Query { return s.cache }

// Event returns a single event.
func (s *QueryService) Event(ctx context.Context, id string) (*ngevent.Event, error) {
	return cache.Cached(ctx, s.cache, qkEvent+id, EventTTL,
		func(ctx context.Context) (*ngevent.Event, error) {
			return s.store.GetEvent(ctx, id)
		})
}

// Events returns a page of events.
func (s *QueryService) Events(ctx context.Context, f ngevent.EventFilter) (*ngevent.EventPage, error) {
	f = f.Normalize()
	key := qkEvents + strconv.Itoa(f.Page) + "_" + strconv.Itoa(f.PageSize) + "_" + f.Category + "_" + f.Search
	if f.Status != ngevent.EventPublished {
		key += "_" + f.Status
	}
	return cache.Cached(ctx, s.cache, key, EventsTTL,
		func(ctx context.Context) (*ngevent.EventPage, error) {
			return s.store.ListEvents(ctx, f)
		})
}

// FormFields returns the registration form of an event.
func (s *QueryService) FormFields(ctx context.Context, eventID string) ([]*ngevent.FormField, error) {
	return cache.Cached(ctx, s.cache, qkFormFields+eventID, FormFieldsTTL,
		func(ctx context.Context) ([]*ngevent.FormField, error) {
			return s.store.ListFormFields(ctx, eventID)
		})
}

// Speakers returns the speakers of an event.
func (s *QueryService) Speakers(ctx context.Context, eventID string) ([]*ngevent.Speaker, error) {
	return cache.Cached(ctx, s.cache, qkSpeakers+eventID, SpeakersTTL,
		func(ctx context.Context) ([]*ngevent.Speaker, error) {
			return s.store.ListSpeakers(ctx, eventID)
		})
}

// Organizer returns the profile of an event organizer.
func (s *QueryService) Organizer(ctx context.Context, userID string) (*ngevent.Profile, error) {
	return cache.Cached(ctx, s.cache, qkOrganizer+userID, OrganizerTTL,
		func(ctx context.Context) (*ngevent.Profile, error) {
			return s.store.GetProfile(ctx, userID)
		})
}

// EventWithRelations loads an event with its form, speakers and organizer.
// The first three load in parallel; the organizer needs the event. Any
// failure aborts the whole call with no partial result.
func (s *QueryService) EventWithRelations(ctx context.Context, id string) (*ngevent.EventWithRelations, error) {
	return cache.Cached(ctx, s.cache, qkRelations+id, RelationsTTL, func(ctx context.Context) (*ngevent.EventWithRelations, error) {
		ctx, span := otel.Tracer("ngevent/app").Start(ctx, "EventWithRelations")
		defer span.End()
		span.SetAttributes(attribute.String("event.id", id))

		out, err := s.loadRelations(ctx, id)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		return out, nil
	})
}

func (s *QueryService) loadRelations(ctx context.Context, id string) (*ngevent.EventWithRelations, error) {
	out := &ngevent.EventWithRelations{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Event, err = s.Event(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		out.FormFields, err = s.FormFields(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		out.Speakers, err = s.Speakers(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load event %s: %w", id, err)
	}
	org, err := s.Organizer(ctx, out.Event.OrganizerID)
	if err != nil {
		return nil, fmt.Errorf("load organizer of %s: %w", id, err)
	}
	out.Organizer = org
	return out, nil
}

// Warm loads an event with its relations into the cache.
func (s *QueryService) Warm(ctx context.Context, id string) error {
	_, err := s.EventWithRelations(ctx, id)
	return err
}

// PrefetchEvent warms an event in the background and returns at once.
// Failures are logged, never reported. It reports whether the request was
// accepted.
func (s *QueryService) PrefetchEvent(id string) bool {
	if s.prefetch != nil {
		return s.prefetch.Enqueue(id)
	}
	go func() {
		if err := s.Warm(context.Background(), id); err != nil {
			slog.LogAttrs(context.Background(), slog.LevelWarn, "prefetch failed",
				slog.String("event_id", id),
				slog.String("error", err.Error()),
			)
		}
	}()
	return true
}

// ForgetEvent drops every memoized view of an event, plus all listings.
func (s *QueryService) ForgetEvent(id string) {
	for _, k := range []string{qkEvent, qkFormFields, qkSpeakers, qkRelations} {
		s.cache.Clear(k + id)
	}
	s.cache.ClearPrefix(qkEvents)
}

// ForgetOrganizer drops the memoized profile of userID and every relations
// view, since any of them may embed it.
func (s *QueryService) ForgetOrganizer(userID string) {
	s.cache.Clear(qkOrganizer + userID)
	s.cache.ClearPrefix(qkRelations)
}
