package postgrest

import (
	"context"

	ngevent "github.com/eugener/ngevent/internal"
)

// ListFormFields returns the registration form of an event in display order.
func (c *Client) ListFormFields(ctx context.Context, eventID string) ([]*ngevent.FormField, error) {
	var rows []*ngevent.FormField
	resp, err := c.req(ctx).
		SetQueryParam("event_id", eq(eventID)).
		SetQueryParam("order", "order_index.asc").
		SetResult(&rows).
		Get("/form_fields")
	if err := check("list form fields", resp, err); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListSpeakers returns the speakers of an event in display order.
func (c *Client) ListSpeakers(ctx context.Context, eventID string) ([]*ngevent.Speaker, error) {
	var rows []*ngevent.Speaker
	resp, err := c.req(ctx).
		SetQueryParam("event_id", eq(eventID)).
		SetQueryParam("order", "order_index.asc").
		SetResult(&rows).
		Get("/speakers")
	if err := check("list speakers", resp, err); err != nil {
		return nil, err
	}
	return rows, nil
}

// ReplaceFormFields deletes the form of an event and inserts fields.
// PostgREST has no multi-statement transaction, so a failed insert leaves
// the event without a form.
func (c *Client) ReplaceFormFields(ctx context.Context, eventID string, fields []*ngevent.FormField) error {
	for _, f := range fields {
		f.EventID = eventID
	}
	return c.replace(ctx, "/form_fields", eventID, fields, len(fields))
}

// ReplaceSpeakers deletes the speakers of an event and inserts speakers.
func (c *Client) ReplaceSpeakers(ctx context.Context, eventID string, speakers []*ngevent.Speaker) error {
	for _, s := range speakers {
		s.EventID = eventID
	}
	return c.replace(ctx, "/speakers", eventID, speakers, len(speakers))
}

func (c *Client) replace(ctx context.Context, table, eventID string, rows any, n int) error {
	resp, err := c.req(ctx).
		SetQueryParam("event_id", eq(eventID)).
		Delete(table)
	if err := check("clear "+table, resp, err); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	resp, err = c.req(ctx).
		SetHeader("Prefer", "return=minimal").
		SetBody(rows).
		Post(table)
	return check("insert "+table, resp, err)
}
