package mockbackend_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jrsteele09/go-admin-session/internal/mockbackend"
	"github.com/jrsteele09/go-admin-session/tenants"
	"github.com/jrsteele09/go-admin-session/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T) (*mockbackend.Server, *httptest.Server, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	dir, err := mockbackend.NewDirectory("test-secret", time.Minute, time.Hour, clock)
	require.NoError(t, err)

	backend, err := mockbackend.New(dir, mockbackend.WithClientID("dashboard"))
	require.NoError(t, err)
	require.NoError(t, backend.Seed())

	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)
	return backend, srv, clock
}

func login(t *testing.T, srv *httptest.Server, email string) mockbackend.LoginResponse {
	t.Helper()
	body, _ := json.Marshal(mockbackend.LoginRequest{Email: email, Password: mockbackend.DemoPassword})
	resp, err := http.Post(srv.URL+mockbackend.RouteAuthLogin, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out mockbackend.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func get(t *testing.T, srv *httptest.Server, path, access string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestLogin_ReturnsPairAndPrincipal(t *testing.T) {
	_, srv, _ := newBackend(t)

	out := login(t, srv, mockbackend.DemoTenantAdmin)
	require.NotNil(t, out.AccessToken)
	require.NotNil(t, out.RefreshToken)
	assert.Equal(t, "bearer", out.TokenType)
	assert.Equal(t, 60, out.ExpiresIn)
	assert.True(t, out.Principal.IsPrivileged)
	assert.Equal(t, "acme", out.Principal.Tenant.ID)
}

func TestLogin_WrongPassword(t *testing.T) {
	_, srv, _ := newBackend(t)

	body := `{"email":"admin@acme.io","password":"Wr0ngPassword"}`
	resp, err := http.Post(srv.URL+mockbackend.RouteAuthLogin, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMe_RequiresValidToken(t *testing.T) {
	_, srv, clock := newBackend(t)
	out := login(t, srv, mockbackend.DemoViewer)

	assert.Equal(t, http.StatusUnauthorized, get(t, srv, mockbackend.RouteAuthMe, "").StatusCode)

	resp := get(t, srv, mockbackend.RouteAuthMe, *out.AccessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p users.Principal
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	assert.Equal(t, mockbackend.DemoViewer, p.Email)
	assert.False(t, p.IsPrivileged)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, http.StatusUnauthorized, get(t, srv, mockbackend.RouteAuthMe, *out.AccessToken).StatusCode)
}

func TestTenantsAndResources(t *testing.T) {
	_, srv, _ := newBackend(t)
	out := login(t, srv, mockbackend.DemoViewer)

	resp := get(t, srv, mockbackend.RouteTenants, *out.AccessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []*tenants.Tenant
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "acme", list[0].ID)

	assert.Equal(t, http.StatusOK, get(t, srv, "/orgs/acme/users", *out.AccessToken).StatusCode)
	assert.Equal(t, http.StatusForbidden, get(t, srv, "/orgs/globex/users", *out.AccessToken).StatusCode)
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/orgs/acme/unknown", *out.AccessToken).StatusCode)
}

func TestRefreshEndpoints(t *testing.T) {
	backend, srv, _ := newBackend(t)
	out := login(t, srv, mockbackend.DemoTenantAdmin)

	body, _ := json.Marshal(map[string]string{"refresh_token": *out.RefreshToken})
	resp, err := http.Post(srv.URL+mockbackend.RouteAuthRefresh, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rotated map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rotated))
	next := rotated["refresh_token"].(string)
	assert.NotEqual(t, *out.RefreshToken, next)

	// The consumed token is rejected on the OAuth2 endpoint too.
	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {*out.RefreshToken}, "client_id": {"dashboard"}}
	resp2, err := http.PostForm(srv.URL+mockbackend.RouteOAuth2Token, form)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	form.Set("refresh_token", next)
	form.Set("client_id", "other")
	resp3, err := http.PostForm(srv.URL+mockbackend.RouteOAuth2Token, form)
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp3.StatusCode)

	form.Set("client_id", "dashboard")
	resp4, err := http.PostForm(srv.URL+mockbackend.RouteOAuth2Token, form)
	require.NoError(t, err)
	defer resp4.Body.Close()
	assert.Equal(t, http.StatusOK, resp4.StatusCode)

	assert.Equal(t, int64(1), backend.Calls("POST "+mockbackend.RouteAuthRefresh))
	assert.Equal(t, int64(3), backend.Calls("POST "+mockbackend.RouteOAuth2Token))
}

func TestLogout_RevokesTokens(t *testing.T) {
	_, srv, _ := newBackend(t)
	out := login(t, srv, mockbackend.DemoTenantAdmin)

	body, _ := json.Marshal(map[string]string{"refresh_token": *out.RefreshToken})
	req, err := http.NewRequest(http.MethodPost, srv.URL+mockbackend.RouteAuthLogout, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+*out.AccessToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Equal(t, http.StatusUnauthorized, get(t, srv, mockbackend.RouteAuthMe, *out.AccessToken).StatusCode)
}

func TestHold(t *testing.T) {
	backend, srv, _ := newBackend(t)
	out := login(t, srv, mockbackend.DemoTenantAdmin)
	release := backend.Hold("/orgs/acme/")

	done := make(chan int, 1)
	go func() {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/orgs/acme/users", nil)
		req.Header.Set("Authorization", "Bearer "+*out.AccessToken)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()

	select {
	case <-done:
		t.Fatal("held request completed early")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	release()
	assert.Equal(t, http.StatusOK, <-done)
}

func TestWellKnownOpenIDConfig(t *testing.T) {
	_, srv, _ := newBackend(t)

	resp := get(t, srv, mockbackend.RouteWellKnownOpenIDConfig, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, srv.URL, doc["issuer"])
	assert.Equal(t, srv.URL+mockbackend.RouteOAuth2Token, doc["token_endpoint"])
}
