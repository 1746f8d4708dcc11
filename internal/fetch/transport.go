// Package fetch provides the resilient HTTP transport used for every backend
// call: a per-attempt timeout, bounded retries with exponential backoff on
// transient statuses and network errors, and a generic timeout race.
package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// Defaults for the backend client.
const (
	DefaultTimeout    = 20 * time.Second
	DefaultMaxRetries = 2
	DefaultBaseDelay  = 500 * time.Millisecond
)

// Transport is an http.RoundTripper that retries transient failures.
//
// A response with a retryable status is retried; once retries are exhausted
// the response body is consumed and a *StatusError is returned instead.
// Any other status is returned to the caller untouched. Network errors,
// including the per-attempt timeout, are retried too. Cancellation of the
// request's own context stops immediately.
//
// Requests with a body are only retried when GetBody is set.
type Transport struct {
	base       http.RoundTripper
	timeout    time.Duration
	maxRetries uint64
	baseDelay  time.Duration
	onRetry    func(attempt int, delay time.Duration, err error)
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures a Transport.
type Option func(*Transport)

// WithAttemptTimeout bounds each individual attempt. Zero disables it.
func WithAttemptTimeout(d time.Duration) Option {
	return func(t *Transport) { t.timeout = d }
}

// WithRetries sets the retry budget and the first backoff delay. Delay n
// (1-based) is base * 2^(n-1).
func WithRetries(n int, base time.Duration) Option {
	return func(t *Transport) {
		if n < 0 {
			n = 0
		}
		t.maxRetries = uint64(n)
		t.baseDelay = base
	}
}

// WithRetryHook is called before each backoff sleep.
func WithRetryHook(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(t *Transport) { t.onRetry = fn }
}

// WithSleep replaces the backoff sleep (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Transport) { t.sleep = fn }
}

// NewTransport wraps base. A nil base uses http.DefaultTransport.
func NewTransport(base http.RoundTripper, opts ...Option) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &Transport{
		base:       base,
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		sleep:      sleepCtx,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	parent := req.Context()
	backoff := retry.WithMaxRetries(t.maxRetries, retry.NewExponential(t.baseDelay))
	rewindable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

	for attempt := 0; ; attempt++ {
		resp, err := t.attempt(req, attempt)
		if parent.Err() != nil {
			if resp != nil {
				_ = resp.Body.Close()
			}
			if err == nil {
				err = parent.Err()
			}
			return nil, err
		}
		if err == nil && !Retryable(resp.StatusCode) {
			return resp, nil
		}

		delay, stop := backoff.Next()
		if stop || !rewindable {
			if err != nil {
				return nil, err
			}
			return nil, newStatusError(req, resp)
		}
		if err == nil {
			err = newStatusError(req, resp)
		}
		if t.onRetry != nil {
			t.onRetry(attempt+1, delay, err)
		}
		if serr := t.sleep(parent, delay); serr != nil {
			return nil, serr
		}
	}
}

func (t *Transport) attempt(req *http.Request, n int) (*http.Response, error) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if t.timeout > 0 {
		ctx, cancel = context.WithTimeout(req.Context(), t.timeout)
	} else {
		ctx, cancel = context.WithCancel(req.Context())
	}
	out := req.Clone(ctx)
	if n > 0 && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			cancel()
			return nil, err
		}
		out.Body = body
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody releases the attempt context when the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsTimeout reports whether err came from an attempt or operation timing out.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
