package ngevent

import "errors"

// Sentinel errors for the ngevent domain.
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrBadRequest      = errors.New("bad request")
	ErrCapacityReached = errors.New("event capacity reached")
	ErrUpstream        = errors.New("upstream error")
)
