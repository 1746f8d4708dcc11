package postgrest

import (
	"context"
	"strconv"

	ngevent "github.com/eugener/ngevent/internal"
)

// CreateNotifications bulk-inserts ns in one request.
func (c *Client) CreateNotifications(ctx context.Context, ns []*ngevent.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	resp, err := c.req(ctx).
		SetHeader("Prefer", "return=minimal").
		SetBody(ns).
		Post("/notifications")
	return check("create notifications", resp, err)
}

// ListNotifications returns up to limit notifications of a user, newest first.
func (c *Client) ListNotifications(ctx context.Context, userID string, limit int) ([]*ngevent.Notification, error) {
	var rows []*ngevent.Notification
	resp, err := c.req(ctx).
		SetQueryParam("user_id", eq(userID)).
		SetQueryParam("order", "created_at.desc,id.desc").
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&rows).
		Get("/notifications")
	if err := check("list notifications", resp, err); err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkNotificationRead flags a notification of userID as read.
func (c *Client) MarkNotificationRead(ctx context.Context, userID, id string) error {
	var rows []map[string]any
	resp, err := c.req(ctx).
		SetHeader("Prefer", preferRepresentation).
		SetQueryParam("id", eq(id)).
		SetQueryParam("user_id", eq(userID)).
		SetQueryParam("select", "id").
		SetBody(map[string]bool{"read": true}).
		SetResult(&rows).
		Patch("/notifications")
	if err := check("mark notification read", resp, err); err != nil {
		return err
	}
	return affected(len(rows), "notification")
}
