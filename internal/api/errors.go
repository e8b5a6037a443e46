package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoCredential is returned for authenticated calls made while no bearer
// token is stored. It classifies as an auth failure.
var ErrNoCredential = errors.New("no bearer token stored")

// Error describes a failed backend call.
//
// Status is the HTTP status (or the envelope's code) when the server answered,
// and zero for transport failures, in which case Err holds the cause.
type Error struct {
	// Op names the endpoint, for example "POST auth/refresh".
	Op string

	// Status is the HTTP status code, zero when no response was received.
	Status int

	// Message is the server-provided message from the response envelope.
	Message string

	// Err is the underlying transport or decoding error, if any.
	Err error
}

// Error implements the error interface for Error.
func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": request failed"
	}
}

// Unwrap returns the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsAuthFailure reports whether the server explicitly rejected the
// credential (401), or no credential was available to send.
//
// Args:
//   - err: The error to check, possibly wrapped
//
// Returns:
//   - bool: true for auth failures, false for nil and every other error
//
// Example:
//
//	if _, err := client.Profile(ctx); api.IsAuthFailure(err) {
//	    // sign the user out
//	}
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoCredential) {
		return true
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusUnauthorized
	}
	return false
}

// IsTransient reports whether err is a failure that should not change the
// authentication state: network errors, timeouts, 5xx and anything else
// that is not an auth failure.
func IsTransient(err error) bool {
	return err != nil && !IsAuthFailure(err)
}

// StatusCode extracts the HTTP status from err, or zero.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
