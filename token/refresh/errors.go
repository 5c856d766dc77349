package refresh

import (
	"context"
	"errors"
	"fmt"
)

// Reason classifies why a refresh exchange failed. Every reason invalidates
// the session.
type Reason string

const (
	NoRefreshToken   Reason = "no_refresh_token"
	Rejected         Reason = "rejected"
	Unreachable      Reason = "unreachable"
	Timeout          Reason = "timeout"
	StoreUnavailable Reason = "store_unavailable"
)

type RefreshError struct {
	Reason Reason
	Status int // HTTP status from the refresh endpoint, 0 when none was received
	Err    error
}

func (e *RefreshError) Error() string {
	msg := "refresh failed: " + string(e.Reason)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RefreshError) Unwrap() error { return e.Err }

// IsRefreshError reports whether err carries a *RefreshError.
func IsRefreshError(err error) bool {
	var re *RefreshError
	return errors.As(err, &re)
}

// classify turns an exchanger error into a *RefreshError.
func classify(err error) *RefreshError {
	var re *RefreshError
	if errors.As(err, &re) {
		return re
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &RefreshError{Reason: Timeout, Err: err}
	}
	return &RefreshError{Reason: Unreachable, Err: err}
}

func statusReason(status int) Reason {
	if status >= 500 {
		return Unreachable
	}
	return Rejected
}
