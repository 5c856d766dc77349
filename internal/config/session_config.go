package config

import "time"

// RefreshMode selects the wire format of the refresh exchange.
type RefreshMode string

const (
	RefreshModeJSON   RefreshMode = "json"   // POST {"refresh_token": ...} to /auth/refresh
	RefreshModeOAuth2 RefreshMode = "oauth2" // RFC 6749 refresh_token grant against /oauth2/token
	RefreshModeOIDC   RefreshMode = "oidc"   // refresh_token grant against the discovered token_endpoint
)

type SessionConfig interface {
	GetRefreshMode() RefreshMode
	GetOAuthClientID() string
	GetRefreshTimeout() time.Duration
	GetBootTimeout() time.Duration
	GetHTTPTimeout() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetRefreshMode() RefreshMode {
	switch mode := RefreshMode(GetEnv("REFRESH_MODE", string(RefreshModeJSON))); mode {
	case RefreshModeOAuth2, RefreshModeOIDC:
		return mode
	default:
		return RefreshModeJSON
	}
}

func (Session) GetOAuthClientID() string {
	return GetEnv("OAUTH_CLIENT_ID", "admin-dashboard")
}

func (Session) GetRefreshTimeout() time.Duration {
	return GetDuration("REFRESH_TIMEOUT", 10*time.Second)
}

func (Session) GetBootTimeout() time.Duration {
	return GetDuration("BOOT_TIMEOUT", 15*time.Second)
}

func (Session) GetHTTPTimeout() time.Duration {
	return GetDuration("HTTP_TIMEOUT", 30*time.Second)
}
