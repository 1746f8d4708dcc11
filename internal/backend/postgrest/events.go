package postgrest

import (
	"context"
	"strconv"

	ngevent "github.com/eugener/ngevent/internal"
)

const preferRepresentation = "return=representation"

// eventRow is the write shape of an event. Unlike ngevent.Event it sends
// explicit nulls so an update can clear optional columns.
func eventRow(e *ngevent.Event) map[string]any {
	return map[string]any{
		"id":               e.ID,
		"organizer_id":     e.OrganizerID,
		"title":            e.Title,
		"description":      nullable(e.Description),
		"start_date":       e.StartDate.UTC(),
		"end_date":         e.EndDate.UTC(),
		"location":         nullable(e.Location),
		"category":         nullable(e.Category),
		"capacity":         e.Capacity,
		"registration_fee": e.RegistrationFee,
		"status":           e.Status,
		"image_url":        nullable(e.ImageURL),
		"created_at":       e.CreatedAt.UTC(),
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ListEvents returns one page of events with the exact total count.
func (c *Client) ListEvents(ctx context.Context, f ngevent.EventFilter) (*ngevent.EventPage, error) {
	var rows []*ngevent.Event
	r := c.req(ctx).
		SetHeader("Prefer", "count=exact").
		SetQueryParam("select", "*").
		SetQueryParam("status", eq(f.Status)).
		SetQueryParam("order", "start_date.asc,id.asc").
		SetQueryParam("limit", strconv.Itoa(f.PageSize)).
		SetQueryParam("offset", strconv.Itoa(f.Offset())).
		SetResult(&rows)
	if f.Category != "" {
		r.SetQueryParam("category", eq(f.Category))
	}
	if f.Search != "" {
		r.SetQueryParam("title", ilikePattern(f.Search))
	}
	resp, err := r.Get("/events")
	if err := check("list events", resp, err); err != nil {
		return nil, err
	}
	count := totalCount(resp.Header().Get("Content-Range"))
	if count < 0 {
		count = f.Offset() + len(rows)
	}
	if rows == nil {
		rows = []*ngevent.Event{}
	}
	return &ngevent.EventPage{Data: rows, Count: count}, nil
}

// GetEvent retrieves an event by ID.
func (c *Client) GetEvent(ctx context.Context, id string) (*ngevent.Event, error) {
	var rows []*ngevent.Event
	resp, err := c.req(ctx).
		SetQueryParam("id", eq(id)).
		SetQueryParam("limit", "1").
		SetResult(&rows).
		Get("/events")
	if err := check("get event", resp, err); err != nil {
		return nil, err
	}
	return first(rows, "event")
}

// ListEventsByOrganizer returns an organizer's events, newest first.
func (c *Client) ListEventsByOrganizer(ctx context.Context, organizerID string) ([]*ngevent.Event, error) {
	var rows []*ngevent.Event
	resp, err := c.req(ctx).
		SetQueryParam("organizer_id", eq(organizerID)).
		SetQueryParam("order", "created_at.desc,id.desc").
		SetResult(&rows).
		Get("/events")
	if err := check("list organizer events", resp, err); err != nil {
		return nil, err
	}
	return rows, nil
}

// CreateEvent inserts a new event.
func (c *Client) CreateEvent(ctx context.Context, e *ngevent.Event) error {
	resp, err := c.req(ctx).
		SetHeader("Prefer", "return=minimal").
		SetBody(eventRow(e)).
		Post("/events")
	return check("create event", resp, err)
}

// UpdateEvent overwrites every mutable column of an existing event.
func (c *Client) UpdateEvent(ctx context.Context, e *ngevent.Event) error {
	row := eventRow(e)
	delete(row, "id")
	delete(row, "organizer_id")
	delete(row, "created_at")
	var rows []map[string]any
	resp, err := c.req(ctx).
		SetHeader("Prefer", preferRepresentation).
		SetQueryParam("id", eq(e.ID)).
		SetQueryParam("select", "id").
		SetBody(row).
		SetResult(&rows).
		Patch("/events")
	if err := check("update event", resp, err); err != nil {
		return err
	}
	return affected(len(rows), "event")
}

// DeleteEvent removes an event.
func (c *Client) DeleteEvent(ctx context.Context, id string) error {
	var rows []map[string]any
	resp, err := c.req(ctx).
		SetHeader("Prefer", preferRepresentation).
		SetQueryParam("id", eq(id)).
		SetQueryParam("select", "id").
		SetResult(&rows).
		Delete("/events")
	if err := check("delete event", resp, err); err != nil {
		return err
	}
	return affected(len(rows), "event")
}
