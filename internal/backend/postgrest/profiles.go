package postgrest

import (
	"context"
	"fmt"

	ngevent "github.com/eugener/ngevent/internal"
)

// GetProfile retrieves a profile by user ID.
func (c *Client) GetProfile(ctx context.Context, id string) (*ngevent.Profile, error) {
	var rows []*ngevent.Profile
	resp, err := c.req(ctx).
		SetQueryParam("id", eq(id)).
		SetQueryParam("limit", "1").
		SetResult(&rows).
		Get("/profiles")
	if err := check("get profile", resp, err); err != nil {
		return nil, err
	}
	return first(rows, "profile")
}

// UpsertProfile inserts the profile or merges it into the existing row.
func (c *Client) UpsertProfile(ctx context.Context, p *ngevent.Profile) error {
	if p.Role == "" {
		p.Role = ngevent.RoleParticipant
	}
	resp, err := c.req(ctx).
		SetHeader("Prefer", "resolution=merge-duplicates,return=minimal").
		SetQueryParam("on_conflict", "id").
		SetBody(p).
		Post("/profiles")
	return check("upsert profile", resp, err)
}

func first[T any](rows []*T, entity string) (*T, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", entity, ngevent.ErrNotFound)
	}
	return rows[0], nil
}

func affected(n int, entity string) error {
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, ngevent.ErrNotFound)
	}
	return nil
}
