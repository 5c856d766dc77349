package mockbackend

import (
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/go-admin-session/credentials"
	apperrors "github.com/jrsteele09/go-admin-session/internal/errors"
	"github.com/jrsteele09/go-admin-session/internal/utils"
	"github.com/jrsteele09/go-admin-session/token"
	"github.com/jrsteele09/go-admin-session/users"
)

const contentTypeJSON = "application/json; charset=utf-8"

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is a token response that also describes the principal.
type LoginResponse struct {
	token.TokenResponse
	Principal *users.Principal `json:"principal,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "invalid_request", "Failed to parse login request", http.StatusBadRequest)
			return
		}

		pair, principal, err := s.dir.Authenticate(r.Context(), req.Email, req.Password)
		switch {
		case apperrors.Is(err, apperrors.ErrWeakPassword):
			writeJSONError(w, "weak_password", err.Error(), http.StatusBadRequest)
			return
		case apperrors.Is(err, apperrors.ErrUserBlocked):
			writeJSONError(w, "forbidden", err.Error(), http.StatusForbidden)
			return
		case err != nil:
			writeJSONError(w, "invalid_credentials", "Invalid email or password", http.StatusUnauthorized)
			return
		}

		writeNoStoreJSON(w, LoginResponse{
			TokenResponse: s.tokenResponse(pair),
			Principal:     principal,
		})
	}
}

func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		access, _ := bearerToken(r)

		if err := s.dir.Logout(r.Context(), access, req.RefreshToken); err != nil {
			writeJSONError(w, "server_error", err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// RefreshHandler exchanges a refresh token posted as JSON.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
			writeJSONError(w, "invalid_request", "refresh_token is required", http.StatusBadRequest)
			return
		}
		s.refresh(w, r, req.RefreshToken)
	}
}

// TokenHandler implements the RFC 6749 refresh_token grant.
func (s *Server) TokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, "invalid_request", "Failed to parse form data", http.StatusBadRequest)
			return
		}
		if grant := r.FormValue("grant_type"); grant != "refresh_token" {
			writeJSONError(w, "unsupported_grant_type", "grant_type "+grant+" is not supported", http.StatusBadRequest)
			return
		}
		if s.clientID != "" && r.FormValue("client_id") != s.clientID {
			writeJSONError(w, "invalid_client", "unknown client", http.StatusUnauthorized)
			return
		}
		refreshToken := r.FormValue("refresh_token")
		if refreshToken == "" {
			writeJSONError(w, "invalid_request", "refresh_token is required", http.StatusBadRequest)
			return
		}
		s.refresh(w, r, refreshToken)
	}
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request, refreshToken string) {
	pair, err := s.dir.Refresh(r.Context(), refreshToken)
	if err != nil {
		writeJSONError(w, "invalid_grant", err.Error(), http.StatusBadRequest)
		return
	}
	writeNoStoreJSON(w, s.tokenResponse(pair))
}

func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, principalFrom(r.Context()))
	}
}

func (s *Server) TenantsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.dir.Tenants(r.Context(), principalFrom(r.Context()))
		if err != nil {
			writeJSONError(w, "server_error", err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func (s *Server) OrgResourceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.PathValue("id")
		resource := r.PathValue("resource")

		if !s.dir.CanAccessTenant(r.Context(), principalFrom(r.Context()), tenantID) {
			writeJSONError(w, "forbidden", apperrors.ErrUnauthorizedTenant.Error(), http.StatusForbidden)
			return
		}

		payload, ok := s.resource(tenantID, resource)
		if !ok {
			writeJSONError(w, "not_found", "unknown resource "+resource, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	}
}

// WellKnownOpenIDConfig serves a discovery document naming the token endpoint.
// The issuer is the address the request reached, so it matches whatever URL
// the client discovered from.
func (s *Server) WellKnownOpenIDConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		issuer := scheme + "://" + r.Host

		writeJSON(w, http.StatusOK, map[string]any{
			"issuer":                   issuer,
			"token_endpoint":           issuer + RouteOAuth2Token,
			"userinfo_endpoint":        issuer + RouteAuthMe,
			"grant_types_supported":    []string{"refresh_token"},
			"response_types_supported": []string{"token"},

			"id_token_signing_alg_values_supported": []string{"HS256"},
		})
	}
}

func (s *Server) tokenResponse(pair credentials.Pair) token.TokenResponse {
	tr := token.TokenResponse{
		AccessToken: utils.Ptr(pair.AccessToken),
		TokenType:   "bearer",
		ExpiresIn:   int(s.dir.AccessTokenTTL().Seconds()),
	}
	if pair.RefreshToken != "" {
		tr.RefreshToken = utils.Ptr(pair.RefreshToken)
	}
	return tr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeNoStoreJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, v)
}

// writeJSONError writes an OAuth2 style error response
func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}
