package sessionctx

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-admin-session/credentials"
	"github.com/jrsteele09/go-admin-session/dispatch"
	"github.com/jrsteele09/go-admin-session/internal/utils"
	"github.com/jrsteele09/go-admin-session/token"
	"github.com/jrsteele09/go-admin-session/users"
	"github.com/pkg/errors"
)

const (
	LoginPath  = "/auth/login"
	LogoutPath = "/auth/logout"
)

// Provider authenticates (or registers) a principal by email and password.
type Provider interface {
	Authenticate(ctx context.Context, email, password string) (credentials.Pair, *users.Principal, error)
}

// HTTPProvider logs in against the backend's login endpoint.
type HTTPProvider struct {
	requester dispatch.Requester
}

var _ Provider = (*HTTPProvider)(nil)

func NewHTTPProvider(requester dispatch.Requester) *HTTPProvider {
	return &HTTPProvider{requester: requester}
}

type loginResponse struct {
	token.TokenResponse
	Principal *users.Principal `json:"principal,omitempty"`
}

func (p *HTTPProvider) Authenticate(ctx context.Context, email, password string) (credentials.Pair, *users.Principal, error) {
	// Never send whatever stale token is stored with a login.
	resp, err := dispatch.DoJSON[loginResponse](ctx, p.requester, LoginPath, dispatch.Options{
		Method:             http.MethodPost,
		Body:               map[string]string{"email": email, "password": password},
		CredentialOverride: dispatch.NoCredential(),
	})
	if err != nil {
		return credentials.Pair{}, nil, err
	}

	access := utils.Value(resp.AccessToken)
	if access == "" {
		return credentials.Pair{}, nil, errors.New("login response has no access_token")
	}
	return credentials.Pair{AccessToken: access, RefreshToken: utils.Value(resp.RefreshToken)}, resp.Principal, nil
}
