package sessions

import (
	"github.com/jrsteele09/go-admin-session/users"
)

type Status string

const (
	StatusUnauthenticated Status = "unauthenticated"
	StatusRestoring       Status = "restoring"
	StatusActive          Status = "active"
	StatusFailed          Status = "failed"
)

// Session is the published authentication state of the dashboard.
type Session struct {
	Status    Status           `json:"status"`
	Principal *users.Principal `json:"principal,omitempty"`
	// Err is the reason for StatusFailed.
	Err error `json:"-"`
}

// NeedsSignIn reports whether the caller should be routed to sign-in.
func (s Session) NeedsSignIn() bool {
	return s.Status == StatusUnauthenticated || s.Status == StatusFailed
}

func (s Session) IsActive() bool {
	return s.Status == StatusActive && s.Principal != nil
}
