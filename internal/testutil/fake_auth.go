package testutil

import (
	"context"
	"net/http"

	ngevent "github.com/eugener/ngevent/internal"
)

// FakeAuth always authenticates successfully with admin permissions.
type FakeAuth struct{}

// Authenticate returns a test identity with admin permissions.
func (FakeAuth) Authenticate(_ context.Context, _ *http.Request) (*ngevent.Identity, error) {
	return &ngevent.Identity{Subject: "test", Role: ngevent.RoleAdmin}, nil
}

// UserAuth authenticates every request as the user in the X-User-ID header
// with the given role.
type UserAuth struct{ Role string }

// Authenticate returns the header user, or ErrUnauthorized when absent.
func (a UserAuth) Authenticate(_ context.Context, r *http.Request) (*ngevent.Identity, error) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		return nil, ngevent.ErrUnauthorized
	}
	role := a.Role
	if role == "" {
		role = ngevent.RoleParticipant
	}
	return &ngevent.Identity{Subject: id, Role: role}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns ErrUnauthorized.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*ngevent.Identity, error) {
	return nil, ngevent.ErrUnauthorized
}
