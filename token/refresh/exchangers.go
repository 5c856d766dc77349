package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-admin-session/credentials"
	"github.com/jrsteele09/go-admin-session/internal/utils"
	"github.com/jrsteele09/go-admin-session/token"
	"golang.org/x/oauth2"
)

const (
	JSONRefreshPath   = "/auth/refresh"
	OAuth2RefreshPath = "/oauth2/token"
)

// Endpoint resolves the absolute URL of the refresh endpoint for each call, so
// a base address changed in the store takes effect without rebuilding.
type Endpoint func(ctx context.Context) string

// StoreEndpoint resolves path against the store's base address.
func StoreEndpoint(store *credentials.Store, fallbackBaseURL, path string) Endpoint {
	return func(ctx context.Context) string {
		return strings.TrimRight(store.ResolveBaseURL(ctx, fallbackBaseURL), "/") + path
	}
}

// OAuth2Exchanger uses the RFC 6749 refresh_token grant.
type OAuth2Exchanger struct {
	endpoint Endpoint
	clientID string
	client   *http.Client
}

var _ Exchanger = (*OAuth2Exchanger)(nil)

func NewOAuth2Exchanger(endpoint Endpoint, clientID string, client *http.Client) *OAuth2Exchanger {
	return &OAuth2Exchanger{endpoint: endpoint, clientID: clientID, client: client}
}

func (e *OAuth2Exchanger) Exchange(ctx context.Context, refreshToken string) (credentials.Pair, error) {
	cfg := &oauth2.Config{
		ClientID: e.clientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  e.endpoint(ctx),
			AuthStyle: oauth2.AuthStyleInParams, // public client, no secret probing
		},
	}
	if e.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)
	}

	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return credentials.Pair{}, &RefreshError{Reason: statusReason(re.Response.StatusCode), Status: re.Response.StatusCode, Err: err}
		}
		return credentials.Pair{}, err
	}
	return credentials.Pair{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}, nil
}

// JSONExchanger posts {"refresh_token": ...} and reads a token.TokenResponse.
type JSONExchanger struct {
	endpoint Endpoint
	client   *http.Client
}

var _ Exchanger = (*JSONExchanger)(nil)

func NewJSONExchanger(endpoint Endpoint, client *http.Client) *JSONExchanger {
	if client == nil {
		client = http.DefaultClient
	}
	return &JSONExchanger{endpoint: endpoint, client: client}
}

func (e *JSONExchanger) Exchange(ctx context.Context, refreshToken string) (credentials.Pair, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return credentials.Pair{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint(ctx), bytes.NewReader(body))
	if err != nil {
		return credentials.Pair{}, &RefreshError{Reason: Unreachable, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return credentials.Pair{}, fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return credentials.Pair{}, fmt.Errorf("read refresh response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return credentials.Pair{}, &RefreshError{
			Reason: statusReason(resp.StatusCode),
			Status: resp.StatusCode,
			Err:    fmt.Errorf("refresh endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))),
		}
	}

	var tr token.TokenResponse
	if err := json.Unmarshal(payload, &tr); err != nil {
		return credentials.Pair{}, &RefreshError{Reason: Rejected, Status: resp.StatusCode, Err: fmt.Errorf("decode refresh response: %w", err)}
	}
	access := utils.Value(tr.AccessToken)
	if access == "" {
		return credentials.Pair{}, &RefreshError{Reason: Rejected, Status: resp.StatusCode, Err: errors.New("refresh response has no access_token")}
	}
	return credentials.Pair{AccessToken: access, RefreshToken: utils.Value(tr.RefreshToken)}, nil
}
