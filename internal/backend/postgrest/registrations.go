package postgrest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	ngevent "github.com/eugener/ngevent/internal"
)

// CreateRegistration registers a user for an event, reactivating a
// cancelled registration. The lookup and the write are two requests; the
// unique (event_id, user_id) constraint resolves a concurrent insert as
// ErrConflict. With a capacity the written row must rank within the first
// capacity active registrations (registered_at, then id), otherwise it is
// cancelled again and ErrCapacityReached is returned. Every racing writer
// sees the same order, so exactly capacity rows survive.
func (c *Client) CreateRegistration(ctx context.Context, r *ngevent.Registration, capacity *int) error {
	if err := c.writeRegistration(ctx, r); err != nil {
		return err
	}
	if capacity == nil {
		return nil
	}
	held, err := c.holdsSeat(ctx, r.EventID, r.ID, *capacity)
	if err != nil {
		return err
	}
	if held {
		return nil
	}
	if err := c.withdrawRegistration(ctx, r.ID); err != nil {
		return err
	}
	return ngevent.ErrCapacityReached
}

func (c *Client) writeRegistration(ctx context.Context, r *ngevent.Registration) error {
	existing, err := c.findRegistration(ctx, r.EventID, r.UserID)
	if err != nil && !errors.Is(err, ngevent.ErrNotFound) {
		return err
	}
	if r.Status == "" {
		r.Status = ngevent.RegistrationRegistered
	}
	if existing != nil {
		if existing.Status != ngevent.RegistrationCancelled {
			return ngevent.ErrConflict
		}
		var rows []map[string]any
		resp, err := c.req(ctx).
			SetHeader("Prefer", preferRepresentation).
			SetQueryParam("id", eq(existing.ID)).
			SetQueryParam("status", eq(ngevent.RegistrationCancelled)).
			SetQueryParam("select", "id").
			SetBody(map[string]any{
				"status":        r.Status,
				"form_data":     r.FormData,
				"registered_at": r.RegisteredAt.UTC(),
			}).
			SetResult(&rows).
			Patch("/registrations")
		if err := check("reactivate registration", resp, err); err != nil {
			return err
		}
		if len(rows) == 0 {
			return ngevent.ErrConflict
		}
		r.ID = existing.ID
		return nil
	}

	resp, err := c.req(ctx).
		SetHeader("Prefer", "return=minimal").
		SetBody(r).
		Post("/registrations")
	return check("create registration", resp, err)
}

// holdsSeat reports whether registration id is among the first capacity
// active registrations of the event.
func (c *Client) holdsSeat(ctx context.Context, eventID, id string, capacity int) (bool, error) {
	if capacity <= 0 {
		return false, nil
	}
	var rows []idRow
	resp, err := c.req(ctx).
		SetQueryParam("event_id", eq(eventID)).
		SetQueryParam("status", "neq."+ngevent.RegistrationCancelled).
		SetQueryParam("order", "registered_at.asc,id.asc").
		SetQueryParam("select", "id").
		SetQueryParam("limit", strconv.Itoa(capacity)).
		SetResult(&rows).
		Get("/registrations")
	if err := check("rank registration", resp, err); err != nil {
		return false, err
	}
	return slices.ContainsFunc(rows, func(row idRow) bool { return row.ID == id }), nil
}

type idRow struct {
	ID string `json:"id"`
}

// withdrawRegistration cancels a registration that lost the race for a seat.
func (c *Client) withdrawRegistration(ctx context.Context, id string) error {
	resp, err := c.req(ctx).
		SetHeader("Prefer", "return=minimal").
		SetQueryParam("id", eq(id)).
		SetBody(map[string]string{"status": ngevent.RegistrationCancelled}).
		Patch("/registrations")
	return check("withdraw registration", resp, err)
}

func (c *Client) findRegistration(ctx context.Context, eventID, userID string) (*ngevent.Registration, error) {
	var rows []*ngevent.Registration
	resp, err := c.req(ctx).
		SetQueryParam("event_id", eq(eventID)).
		SetQueryParam("user_id", eq(userID)).
		SetQueryParam("limit", "1").
		SetResult(&rows).
		Get("/registrations")
	if err := check("find registration", resp, err); err != nil {
		return nil, err
	}
	return first(rows, "registration")
}

// CancelRegistration marks an active registration cancelled.
func (c *Client) CancelRegistration(ctx context.Context, eventID, userID string) error {
	var rows []map[string]any
	resp, err := c.req(ctx).
		SetHeader("Prefer", preferRepresentation).
		SetQueryParam("event_id", eq(eventID)).
		SetQueryParam("user_id", eq(userID)).
		SetQueryParam("status", "neq."+ngevent.RegistrationCancelled).
		SetQueryParam("select", "id").
		SetBody(map[string]string{"status": ngevent.RegistrationCancelled}).
		SetResult(&rows).
		Patch("/registrations")
	if err := check("cancel registration", resp, err); err != nil {
		return err
	}
	return affected(len(rows), "registration")
}

// ListRegistrationsByUser returns a user's registrations, newest first.
func (c *Client) ListRegistrationsByUser(ctx context.Context, userID string) ([]*ngevent.Registration, error) {
	return c.listRegistrations(ctx, "user_id", userID, "registered_at.desc,id.desc")
}

// ListRegistrationsByEvent returns an event's registrations, oldest first.
func (c *Client) ListRegistrationsByEvent(ctx context.Context, eventID string) ([]*ngevent.Registration, error) {
	return c.listRegistrations(ctx, "event_id", eventID, "registered_at.asc,id.asc")
}

func (c *Client) listRegistrations(ctx context.Context, col, val, order string) ([]*ngevent.Registration, error) {
	var rows []*ngevent.Registration
	resp, err := c.req(ctx).
		SetQueryParam(col, eq(val)).
		SetQueryParam("order", order).
		SetResult(&rows).
		Get("/registrations")
	if err := check("list registrations", resp, err); err != nil {
		return nil, err
	}
	return rows, nil
}

// CountActiveRegistrations counts non-cancelled registrations using an
// exact count and an empty range.
func (c *Client) CountActiveRegistrations(ctx context.Context, eventID string) (int, error) {
	resp, err := c.req(ctx).
		SetHeader("Prefer", "count=exact").
		SetQueryParam("event_id", eq(eventID)).
		SetQueryParam("status", "neq."+ngevent.RegistrationCancelled).
		SetQueryParam("select", "id").
		SetQueryParam("limit", "0").
		Get("/registrations")
	if err := check("count registrations", resp, err); err != nil {
		return 0, err
	}
	n := totalCount(resp.Header().Get("Content-Range"))
	if n < 0 {
		return 0, fmt.Errorf("count registrations: %w: missing Content-Range", ngevent.ErrUpstream)
	}
	return n, nil
}
