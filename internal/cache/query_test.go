package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eugener/ngevent/internal/testutil"
)

func newTestQuery(t *testing.T) (*Query, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	q, err := NewQuery(1000, time.Hour, WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	return q, clock
}

func TestCached_Memoizes(t *testing.T) {
	t.Parallel()
	q, clock := newTestQuery(t)
	ctx := context.Background()

	var calls int
	fetch := func(context.Context) (string, error) {
		calls++
		return "v", nil
	}

	for range 3 {
		got, err := Cached(ctx, q, "event_1", 5*time.Minute, fetch)
		if err != nil || got != "v" {
			t.Fatalf("Cached = %q, %v", got, err)
		}
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	// Freshness is strict: an entry exactly ttl old is stale.
	clock.Advance(5 * time.Minute)
	if _, err := Cached(ctx, q, "event_1", 5*time.Minute, fetch); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("calls after ttl = %d, want 2", calls)
	}
}

func TestCached_TTLIsPerRead(t *testing.T) {
	t.Parallel()
	q, clock := newTestQuery(t)
	ctx := context.Background()

	var calls int
	fetch := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}
	_, _ = Cached(ctx, q, "k", time.Minute, fetch)
	clock.Advance(90 * time.Second)

	if v, _ := Cached(ctx, q, "k", 2*time.Minute, fetch); v != 1 {
		t.Errorf("longer ttl read = %d, want memoized 1", v)
	}
	if v, _ := Cached(ctx, q, "k", time.Minute, fetch); v != 2 {
		t.Errorf("shorter ttl read = %d, want refetched 2", v)
	}
}

func TestCached_ErrorNotMemoized(t *testing.T) {
	t.Parallel()
	q, _ := newTestQuery(t)
	ctx := context.Background()

	boom := errors.New("boom")
	fail := true
	fetch := func(context.Context) (string, error) {
		if fail {
			return "", boom
		}
		return "ok", nil
	}

	if _, err := Cached(ctx, q, "k", time.Minute, fetch); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	fail = false
	got, err := Cached(ctx, q, "k", time.Minute, fetch)
	if err != nil || got != "ok" {
		t.Errorf("Cached = %q, %v; want ok, nil", got, err)
	}
}

func TestCached_SingleFlight(t *testing.T) {
	t.Parallel()
	q, _ := newTestQuery(t)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]int, n)
	started := make(chan struct{}, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			v, err := Cached(ctx, q, "hot", time.Minute, fetch)
			if err != nil {
				t.Error(err)
			}
			results[i] = v
		}()
	}
	for range n {
		<-started
	}
	// Give every goroutine time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
	for i, v := range results {
		if v != 7 {
			t.Errorf("results[%d] = %d, want 7", i, v)
		}
	}
}

func TestCached_CallerCancelDoesNotAbortFetch(t *testing.T) {
	t.Parallel()
	q, _ := newTestQuery(t)

	release := make(chan struct{})
	done := make(chan struct{})
	fetch := func(ctx context.Context) (string, error) {
		<-release
		defer close(done)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "late", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := Cached(ctx, q, "k", time.Minute, fetch)
		errc <- err
	}()
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	close(release)
	<-done
	// The detached fetch completed and memoized its result.
	got, err := Cached(context.Background(), q, "k", time.Minute, func(context.Context) (string, error) {
		return "refetched", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "late" && got != "refetched" {
		t.Errorf("got %q", got)
	}
}

func TestQuery_ClearAndPurge(t *testing.T) {
	t.Parallel()
	q, _ := newTestQuery(t)
	ctx := context.Background()

	var calls int
	fetch := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}
	_, _ = Cached(ctx, q, "a", time.Minute, fetch)
	_, _ = Cached(ctx, q, "b", time.Minute, fetch)

	q.Clear("a")
	if v, _ := Cached(ctx, q, "a", time.Minute, fetch); v != 3 {
		t.Errorf("a after Clear = %d, want 3", v)
	}
	if v, _ := Cached(ctx, q, "b", time.Minute, fetch); v != 2 {
		t.Errorf("b = %d, want memoized 2", v)
	}

	q.Purge()
	if v, _ := Cached(ctx, q, "b", time.Minute, fetch); v != 4 {
		t.Errorf("b after Purge = %d, want 4", v)
	}
}

func TestCached_TypeMismatchRefetches(t *testing.T) {
	t.Parallel()
	q, _ := newTestQuery(t)
	ctx := context.Background()

	_, _ = Cached(ctx, q, "k", time.Minute, func(context.Context) (int, error) { return 1, nil })
	got, err := Cached(ctx, q, "k", time.Minute, func(context.Context) (string, error) { return "s", nil })
	if err != nil || got != "s" {
		t.Errorf("Cached = %q, %v; want s, nil", got, err)
	}
}

func TestQuery_ClearPrefix(t *testing.T) {
	t.Parallel()
	q, _ := newTestQuery(t)
	ctx := context.Background()

	one := func(context.Context) (int, error) { return 1, nil }
	for _, k := range []string{"events_0_10__", "events_1_10_Tech_", "event_1", "event_full_1"} {
		_, _ = Cached(ctx, q, k, time.Minute, one)
	}
	if n := q.ClearPrefix("events_"); n != 2 {
		t.Errorf("cleared = %d, want 2", n)
	}
	if _, ok := q.lookup("event_1", time.Minute); !ok {
		t.Error("event_1 should survive")
	}
	if _, ok := q.lookup("events_0_10__", time.Minute); ok {
		t.Error("events_0_10__ should be cleared")
	}
}
