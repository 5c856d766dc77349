package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

// AccessClaims are the claims carried by dashboard access tokens.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email      string   `json:"email,omitempty"`
	Tenant     string   `json:"tenant,omitempty"`
	Roles      []string `json:"roles,omitempty"`
	Privileged bool     `json:"privileged,omitempty"`
}

// Minter issues and verifies access tokens against one signer.
type Minter struct {
	signer Signer
	issuer string
	ttl    time.Duration
	clock  clockwork.Clock
}

func NewMinter(signer Signer, issuer string, ttl time.Duration, clock clockwork.Clock) *Minter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Minter{signer: signer, issuer: issuer, ttl: ttl, clock: clock}
}

// Mint fills the registered claims (iss, iat, exp, jti) and signs.
func (m *Minter) Mint(claims AccessClaims) (string, error) {
	now := m.clock.Now()
	claims.Issuer = m.issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(m.ttl))
	claims.ID = uuid.New().String()
	return m.signer.Sign(claims)
}

// Verify checks signature, issuer and expiry using the minter's clock.
func (m *Minter) Verify(raw string) (*AccessClaims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("empty token")
	}
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, m.signer.GetVerificationKey,
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.clock.Now),
		jwt.WithValidMethods([]string{m.signer.GetSigningMethod().Alg()}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "Minter.Verify")
	}
	if !parsed.Valid {
		return nil, errors.New("Minter.Verify: token not valid")
	}
	return claims, nil
}

func (m *Minter) TTL() time.Duration {
	return m.ttl
}

// ExpiresAt reads the exp claim without verifying the signature. ok is false
// for opaque (non-JWT) tokens or tokens without exp.
func ExpiresAt(raw string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
