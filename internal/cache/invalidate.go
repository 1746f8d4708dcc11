package cache

import (
	"context"
	"errors"
	"fmt"
)

// Resource is a kind of mutated entity.
type Resource int

const (
	ResourceEvent Resource = iota
	ResourceRegistration
	ResourceProfile
)

func (r Resource) String() string {
	switch r {
	case ResourceEvent:
		return "event"
	case ResourceRegistration:
		return "registration"
	case ResourceProfile:
		return "profile"
	default:
		return fmt.Sprintf("resource(%d)", int(r))
	}
}

// rule lists what a mutation of one resource kind makes stale.
type rule struct {
	prefixes []string
	exact    func(id string) string
}

// invalidation maps mutation kinds to the cached views they affect. It is
// maintained by hand: a new cached view must be added here or mutations
// will keep serving it stale until its TTL runs out.
// Notifications are not invalidated by anything and rely on their short TTL.
var invalidation = map[Resource]rule{
	ResourceEvent: {
		prefixes: []string{PrefixEvents, PrefixUserEvents},
		exact:    Keys.EventDetail,
	},
	ResourceRegistration: {
		// Registration counts feed capacity display on the event detail.
		prefixes: []string{PrefixRegistrations, PrefixEventRegistrations, PrefixDashboardStats},
		exact:    Keys.EventDetail,
	},
	ResourceProfile: {
		prefixes: []string{PrefixDashboardStats},
		exact:    Keys.Profile,
	},
}

// Invalidate clears every key a mutation of r (identified by id) makes
// stale. An empty id skips the exact-key part. All removals are attempted;
// the errors are joined.
func (d *Durable) Invalidate(ctx context.Context, r Resource, id string) error {
	ru, ok := invalidation[r]
	if !ok {
		return fmt.Errorf("invalidate: unknown resource %s", r)
	}
	var errs []error
	for _, p := range ru.prefixes {
		if _, err := d.ClearPrefix(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	if id != "" && ru.exact != nil {
		if err := d.Clear(ctx, ru.exact(id)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InvalidatedPrefixes returns the prefixes cleared for r, for diagnostics.
func InvalidatedPrefixes(r Resource) []string {
	return append([]string(nil), invalidation[r].prefixes...)
}
