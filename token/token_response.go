package token

// TokenResponse is the JSON body returned by the login and refresh endpoints.
// It follows the RFC 6749 token endpoint response format.
type TokenResponse struct {
	// AccessToken is carried as "Authorization: Bearer <access_token>" on every
	// authenticated call. Short-lived.
	AccessToken *string `json:"access_token,omitempty"`

	// TokenType is always "bearer".
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the lifetime in seconds of the access token. It is a hint;
	// the JWT "exp" claim is authoritative.
	ExpiresIn int `json:"expires_in,omitempty"`

	// RefreshToken is an opaque token used only to obtain a new pair. It may be
	// absent when the backend does not rotate refresh tokens.
	RefreshToken *string `json:"refresh_token,omitempty"`
}
