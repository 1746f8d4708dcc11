package fetch

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrTimeout is wrapped by errors returned from WithTimeout.
var ErrTimeout = errors.New("request timeout")

// StatusError is returned when retries are exhausted on a retryable status.
type StatusError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// HTTPStatus returns the upstream status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// Retryable reports whether a response with this status is worth retrying:
// 408, 429, 500, 502, 503 and 504.
func Retryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// newStatusError reads up to 4KB of the body and closes it.
func newStatusError(req *http.Request, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	return &StatusError{
		StatusCode: resp.StatusCode,
		Method:     req.Method,
		URL:        req.URL.Redacted(),
		Body:       strings.TrimSpace(string(body)),
	}
}
