// Package fault defines the error taxonomy shared across triagemail:
// credential problems, mail backend failures, drafting failures, and the
// special unknown-outcome case for interrupted sends.
package fault

import (
	"errors"
	"fmt"

	"google.golang.org/api/googleapi"
)

// AuthError means no usable credential exists: missing, expired without a
// refresh token, or rejected by the backend. Recoverable only through the
// authorization flow.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: authorization required", e.Op)
	}
	return fmt.Sprintf("%s: authorization required: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RefreshError means a refresh round trip failed (expired refresh token,
// revoked grant, network). The caller must fall back to the authorization
// flow rather than retry the refresh.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string { return fmt.Sprintf("refresh credential: %v", e.Err) }

func (e *RefreshError) Unwrap() error { return e.Err }

// ExchangeError means a submitted authorization code could not be exchanged
// for a credential. Codes are single-use; the flow must be restarted.
type ExchangeError struct {
	Err error
}

func (e *ExchangeError) Error() string { return fmt.Sprintf("exchange authorization code: %v", e.Err) }

func (e *ExchangeError) Unwrap() error { return e.Err }

// IsAuth reports whether err routes to the authorization flow.
func IsAuth(err error) bool {
	var ae *AuthError
	var re *RefreshError
	return errors.As(err, &ae) || errors.As(err, &re)
}

// BackendError is a confirmed mail backend RPC failure. Transient failures
// (rate limit, server error) are safe for the caller to retry; permanent
// ones are not.
type BackendError struct {
	Op        string
	Code      int
	Transient bool
	Err       error
}

func (e *BackendError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s backend error: %v", e.Op, kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a backend failure worth retrying.
func IsTransient(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Transient
}

// DraftingError is a language model provider failure. Always non-fatal to
// lifecycle progress; the drafting service converts it to a sentinel text.
type DraftingError struct {
	Op  string
	Err error
}

func (e *DraftingError) Error() string { return fmt.Sprintf("%s: drafting failed: %v", e.Op, e.Err) }

func (e *DraftingError) Unwrap() error { return e.Err }

// PersistenceError means the credential slot could not be written or read.
// The session degrades to in-memory-only operation.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("credential store %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SendOutcomeUnknown means a send was interrupted before the backend
// acknowledged it. The email may or may not have been delivered, so the
// send must never be retried automatically.
type SendOutcomeUnknown struct {
	ThreadID string
	Err      error
}

func (e *SendOutcomeUnknown) Error() string {
	return fmt.Sprintf("send on thread %s: outcome unknown: %v", e.ThreadID, e.Err)
}

func (e *SendOutcomeUnknown) Unwrap() error { return e.Err }

// FromGoogleAPI classifies a Gmail RPC error into the taxonomy. Rate limits
// and server errors are transient; 401/403 route to the authorization flow;
// everything else with an HTTP status is permanent.
func FromGoogleAPI(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return &BackendError{Op: op, Transient: true, Err: err}
	}
	switch {
	case apiErr.Code == 401 || apiErr.Code == 403:
		return &AuthError{Op: op, Err: err}
	case apiErr.Code == 429 || apiErr.Code >= 500:
		return &BackendError{Op: op, Code: apiErr.Code, Transient: true, Err: err}
	default:
		return &BackendError{Op: op, Code: apiErr.Code, Transient: false, Err: err}
	}
}
