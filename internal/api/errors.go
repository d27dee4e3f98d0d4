package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Error categories surfaced to callers. Engine operations wrap one of these;
// callers branch with errors.Is and never see raw server bodies.
var (
	ErrNetwork                 = errors.New("network error")
	ErrAuthenticationFailed    = errors.New("authentication failed")
	ErrAuthenticationRequired  = errors.New("authentication required")
	ErrRequestFailed           = errors.New("request failed")
	ErrInconsistentServerState = errors.New("inconsistent server state")
)

// StatusError is a non-2xx server response.
type StatusError struct {
	StatusCode int
	Method     string
	Path       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: server returned %d", e.Method, e.Path, e.StatusCode)
}

// Unwrap maps the status code onto the error taxonomy.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthenticationFailed
	default:
		return ErrRequestFailed
	}
}

// IsNotFound reports whether err is a 404 server response.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}
