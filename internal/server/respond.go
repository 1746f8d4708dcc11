package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	ngevent "github.com/eugener/ngevent/internal"
)

// maxBody is the maximum allowed request body size (1 MB).
const maxBody = 1 << 20

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	return e
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ngevent.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ngevent.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ngevent.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ngevent.ErrConflict), errors.Is(err, ngevent.ErrCapacityReached):
		return http.StatusConflict
	case errors.Is(err, ngevent.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ngevent.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorType labels an error status for API clients.
func errorType(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusForbidden:
		return "permission_error"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusConflict:
		return "conflict_error"
	case http.StatusBadGateway:
		return "upstream_error"
	case http.StatusInternalServerError:
		return "server_error"
	default:
		return "invalid_request_error"
	}
}

// writeError maps err to a status. Client errors carry their message;
// server errors are logged in full and the client gets a sanitized message
// to avoid leaking internal details (e.g. SQLite errors).
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		slog.LogAttrs(r.Context(), slog.LevelError, "request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()),
			slog.String("request_id", ngevent.RequestIDFromContext(r.Context())),
		)
		msg = "internal error"
		if status == http.StatusBadGateway {
			msg = "backend unavailable"
		}
	}
	resp := errorResponse(msg)
	resp.Error.Type = errorType(status)
	writeJSON(w, status, resp)
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call. Saves 1 alloc/req.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
// Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	return true
}

// queryInt parses an integer query parameter, returning def when absent or
// malformed.
func queryInt(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return v
}
