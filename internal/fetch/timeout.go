package fetch

import (
	"context"
	"fmt"
	"time"
)

// DefaultOperationTimeout is used by WithTimeout when d is not positive.
const DefaultOperationTimeout = 10 * time.Second

// WithTimeout runs fn and returns its result, or an error wrapping
// ErrTimeout if fn has not returned within d. fn receives a context that
// is cancelled on timeout; fn may keep running briefly after WithTimeout
// returns if it ignores that context.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		d = DefaultOperationTimeout
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case r := <-ch:
		return r.v, r.err
	case <-timer.C:
		return zero, fmt.Errorf("%w after %dms", ErrTimeout, d.Milliseconds())
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
