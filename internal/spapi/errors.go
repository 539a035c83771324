package spapi

import (
	"fmt"
	"time"
)

// ThrottleError is the 429 path, carrying the server's retry hint so the
// caller can surface "try again in Xs" instead of a generic failure.
type ThrottleError struct {
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("rate limited by pricing api, retry after %s", e.RetryAfter)
}

// AuthError wraps a credential refresh failure. It propagates to the
// caller; the credential cache never retries on its own.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return "credential refresh failed: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// APIError covers non-throttle HTTP failures. Fatal marks 4xx bad-input
// responses that must not be retried; Transient marks 5xx and network
// errors that may.
type APIError struct {
	StatusCode int
	Message    string
	Fatal      bool
	Transient  bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pricing api error (status %d): %s", e.StatusCode, e.Message)
}
