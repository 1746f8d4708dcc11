// Package postgrest implements storage.Store against a PostgREST endpoint
// (the REST layer of a managed Postgres such as Supabase). Every request
// goes through the resilient fetch transport.
package postgrest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"resty.dev/v3"

	ngevent "github.com/eugener/ngevent/internal"
	"github.com/eugener/ngevent/internal/storage"
)

var _ storage.Store = (*Client)(nil)

// Client is a PostgREST-backed storage.Store.
type Client struct {
	rc *resty.Client
}

// New returns a Client for the PostgREST API rooted at baseURL. apiKey is
// sent both as the apikey header and as a bearer token. rt is normally a
// *fetch.Transport; nil uses http.DefaultTransport.
func New(baseURL, apiKey string, rt http.RoundTripper) *Client {
	if rt == nil {
		rt = http.DefaultTransport
	}
	rc := resty.NewWithClient(&http.Client{Transport: rt}).
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetResponseBodyUnlimitedReads(true)
	if apiKey != "" {
		rc.SetHeader("apikey", apiKey).SetAuthToken(apiKey)
	}
	return &Client{rc: rc}
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.rc.Close()
}

// Ping checks that the API root answers.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.rc.R().SetContext(ctx).Head("/")
	if err != nil {
		return upstreamErr("ping", err)
	}
	if resp.StatusCode() >= 500 {
		return fmt.Errorf("ping: %w: status %d", ngevent.ErrUpstream, resp.StatusCode())
	}
	return nil
}

func (c *Client) req(ctx context.Context) *resty.Request {
	return c.rc.R().SetContext(ctx)
}

// check maps a transport error or an error response to a domain error.
func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return upstreamErr(op, err)
	}
	if !resp.IsError() {
		return nil
	}
	return responseErr(op, resp.StatusCode(), resp.Bytes())
}

func upstreamErr(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ngevent.ErrUpstream, err)
}

// responseErr translates a PostgREST error body. The body is JSON of the
// form {"code","message","details","hint"}; the code is a Postgres SQLSTATE
// or a PGRST code.
func responseErr(op string, status int, body []byte) error {
	msg := gjson.GetBytes(body, "message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	code := gjson.GetBytes(body, "code").String()

	var sentinel error
	switch {
	case code == "23505": // unique_violation
		sentinel = ngevent.ErrConflict
	case code == "23503", code == "23502", code == "22P02": // fk, not null, bad text repr
		sentinel = ngevent.ErrBadRequest
	case code == "PGRST116", status == http.StatusNotFound:
		sentinel = ngevent.ErrNotFound
	case status == http.StatusConflict:
		sentinel = ngevent.ErrConflict
	case status == http.StatusUnauthorized:
		sentinel = ngevent.ErrUnauthorized
	case status == http.StatusForbidden:
		sentinel = ngevent.ErrForbidden
	case status >= 400 && status < 500:
		sentinel = ngevent.ErrBadRequest
	default:
		sentinel = ngevent.ErrUpstream
	}
	return fmt.Errorf("%s: %w: HTTP %d: %s", op, sentinel, status, msg)
}

// totalCount parses the total from a Content-Range header such as
// "0-9/42" or "*/0". It returns -1 when the total is unknown.
func totalCount(contentRange string) int {
	_, total, ok := strings.Cut(contentRange, "/")
	if !ok || total == "*" {
		return -1
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return -1
	}
	return n
}

// ilikePattern builds a PostgREST ilike operand matching s anywhere.
// PostgREST uses * as the wildcard in URLs; literal % and _ are escaped.
func ilikePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `*`, `\*`)
	return "ilike.*" + r.Replace(s) + "*"
}

func eq(v string) string { return "eq." + v }
