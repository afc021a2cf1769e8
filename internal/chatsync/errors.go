package chatsync

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthenticated is returned for any 401. It is fatal to the shell
	// that observed it: the shell redirects to login and stops polling.
	ErrUnauthenticated = errors.New("chatsync: unauthenticated")

	// ErrUnavailable covers every other failure: non-2xx responses,
	// transport errors and unparseable bodies. It is never fatal.
	ErrUnavailable = errors.New("chatsync: unavailable")

	// ErrEmptyBody is returned by the composer for a blank message. No
	// request is made.
	ErrEmptyBody = errors.New("chatsync: message body is empty")

	// ErrClosed is returned by an engine after teardown.
	ErrClosed = errors.New("chatsync: engine closed")
)

// APIError is a non-2xx response from the marketplace API. Callers can
// use errors.Is against ErrUnauthenticated or ErrUnavailable, or errors.As
// to read the status:
//
//	var apiErr *APIError
//	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden { ... }
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"-"`
	// Message is the server's "error" field, or the raw body when the
	// server did not send JSON.
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatsync: api error (%d): %s", e.StatusCode, e.Message)
}

// Unwrap maps the status onto the two-category taxonomy.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthenticated
	}
	return ErrUnavailable
}

// IsUnauthenticated reports whether err means the session is gone.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}
