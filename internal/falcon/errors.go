package falcon

import (
	"errors"
	"fmt"
)

// ErrAlertNotFound is returned when a point lookup matches no record.
var ErrAlertNotFound = errors.New("alert not found")

// ErrMissingCredentials indicates the client was configured without a
// client id or secret.
var ErrMissingCredentials = errors.New("client id and client secret are required")

// ErrMissingBaseURL indicates the client was configured without an API
// base URL.
var ErrMissingBaseURL = errors.New("base url is required")

// AuthError reports a failed token exchange: bad credentials, a
// non-success status from the token endpoint, or a malformed token
// response. It is fatal to the current connect attempt and is never
// retried automatically.
type AuthError struct {
	// StatusCode is the HTTP status from the token endpoint, 0 when the
	// request never completed.
	StatusCode int

	// Reason is a short human-readable cause when no wrapped error
	// carries one.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

func (e *AuthError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("authentication failed: %v", e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("authentication failed: token endpoint returned status %d", e.StatusCode)
	case e.Reason != "":
		return fmt.Sprintf("authentication failed: %s", e.Reason)
	default:
		return "authentication failed"
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError reports a network or HTTP failure on an alert API call,
// including a rate limit that persisted past its retry budget. The
// poller treats it as retryable and backs off.
type TransportError struct {
	// Op names the failed operation ("query alerts", "fetch alerts").
	Op string

	// StatusCode is the HTTP status, 0 when the request never completed.
	StatusCode int

	// Err is the underlying cause, if any.
	Err error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }
