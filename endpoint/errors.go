package endpoint

import (
	"errors"
	"strconv"
)

// Errors returned by FetchCombined. Match them with errors.Is.
var (
	// ErrPrecondition means the caller asked for something the service cannot
	// answer (no dimensions, no metrics, limit < 1). No request is issued.
	ErrPrecondition = errors.New("endpoint: precondition failed")

	// ErrNetwork covers transport failures and unexpected status codes.
	ErrNetwork = errors.New("endpoint: network failure")

	// ErrUnauthorized means the service rejected the access token.
	ErrUnauthorized = errors.New("endpoint: unauthorized")

	// ErrTokenExpired means the service rejected the token and the token
	// strategy reported it as expired.
	ErrTokenExpired = errors.New("endpoint: token expired")

	// ErrInvalidResponse means the body could not be decoded into a
	// combined-data response.
	ErrInvalidResponse = errors.New("endpoint: invalid response shape")
)

// StatusError carries the HTTP status of a rejected call. It unwraps to one
// of the sentinels above.
type StatusError struct {
	Kind       error
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := e.Kind.Error() + ": status " + strconv.Itoa(e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *StatusError) Unwrap() error { return e.Kind }
