// Package auth resolves the caller of a request. An operator presents the
// admin key as a bearer token; end users arrive through an upstream auth
// proxy that has already verified the session and sets the user ID header.
// Resolved profiles are cached in a W-TinyLFU cache.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"

	ngevent "github.com/eugener/ngevent/internal"
	"github.com/eugener/ngevent/internal/storage"
)

// UserHeader carries the verified user ID set by the upstream auth proxy.
const UserHeader = "X-User-ID"

const (
	cacheTTL    = 30 * time.Second // short enough to pick up role changes promptly
	cacheMaxLen = 10_000
)

// HeaderAuth authenticates admin bearer tokens and proxied user IDs.
type HeaderAuth struct {
	adminHash string // empty disables admin access
	profiles  storage.ProfileStore
	cache     *otter.Cache[string, *ngevent.Profile]
}

// New returns a HeaderAuth. adminKey is compared by hash in constant time.
func New(adminKey string, profiles storage.ProfileStore) (*HeaderAuth, error) {
	c, err := otter.New(&otter.Options[string, *ngevent.Profile]{
		MaximumSize:      cacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *ngevent.Profile](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create auth cache: %w", err)
	}
	a := &HeaderAuth{profiles: profiles, cache: c}
	if adminKey != "" {
		a.adminHash = ngevent.HashKey(adminKey)
	}
	return a, nil
}

// Authenticate returns the caller's Identity. A bearer token must match the
// admin key; otherwise the user header must name an existing profile.
func (a *HeaderAuth) Authenticate(ctx context.Context, r *http.Request) (*ngevent.Identity, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		raw, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || raw == "" || a.adminHash == "" {
			return nil, ngevent.ErrUnauthorized
		}
		if subtle.ConstantTimeCompare([]byte(ngevent.HashKey(raw)), []byte(a.adminHash)) != 1 {
			return nil, ngevent.ErrUnauthorized
		}
		return &ngevent.Identity{Subject: "admin", Role: ngevent.RoleAdmin}, nil
	}

	userID := strings.TrimSpace(r.Header.Get(UserHeader))
	if userID == "" {
		return nil, ngevent.ErrUnauthorized
	}
	if p, ok := a.cache.GetIfPresent(userID); ok {
		return &ngevent.Identity{Subject: p.ID, Role: p.Role}, nil
	}

	p, err := a.profiles.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, ngevent.ErrNotFound) {
			return nil, ngevent.ErrUnauthorized
		}
		return nil, err
	}
	a.cache.Set(userID, p)
	return &ngevent.Identity{Subject: p.ID, Role: p.Role}, nil
}

// Invalidate drops a cached profile so a role change applies immediately.
func (a *HeaderAuth) Invalidate(userID string) {
	a.cache.Invalidate(userID)
}
