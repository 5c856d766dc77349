package directory

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	apperrors "github.com/jrsteele09/go-admin-session/internal/errors"
)

const refreshTokenLength = 32

// RefreshTokens issues single-use refresh tokens. Consuming a token deletes
// it, so presenting the same token twice fails the second time.
type RefreshTokens struct {
	repo  RefreshRepo
	ttl   time.Duration
	clock clockwork.Clock
	lock  sync.Mutex
}

func NewRefreshTokens(repo RefreshRepo, ttl time.Duration, clock clockwork.Clock) *RefreshTokens {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RefreshTokens{
		repo:  repo,
		ttl:   ttl,
		clock: clock,
	}
}

// Create generates a new refresh token for the user, replacing any previous one.
func (m *RefreshTokens) Create(userID, tenantID string) (string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if existing, err := m.repo.GetByUserID(userID); err == nil && existing != nil {
		if err := m.repo.Delete(existing.Token); err != nil {
			return "", fmt.Errorf("failed to delete existing refresh token: %w", err)
		}
	}

	tokenBytes := make([]byte, refreshTokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	tokenStr := hex.EncodeToString(tokenBytes)
	if err := m.repo.Upsert(&StoredRefreshToken{
		Token:    tokenStr,
		UserID:   userID,
		TenantID: tenantID,
		Iat:      m.clock.Now(),
	}); err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	return tokenStr, nil
}

// Consume validates and deletes the token, returning its record.
func (m *RefreshTokens) Consume(token string) (*StoredRefreshToken, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	rt, err := m.repo.Get(token)
	if err != nil {
		return nil, apperrors.ErrInvalidRefreshToken
	}
	if err := m.repo.Delete(token); err != nil {
		return nil, fmt.Errorf("failed to delete refresh token: %w", err)
	}
	if m.IsExpired(rt) {
		return nil, apperrors.ErrRefreshTokenExpired
	}
	return rt, nil
}

// Revoke deletes the token. Unknown tokens are ignored.
func (m *RefreshTokens) Revoke(token string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, err := m.repo.Get(token); err != nil {
		return nil
	}
	return m.repo.Delete(token)
}

func (m *RefreshTokens) IsExpired(rt *StoredRefreshToken) bool {
	return m.clock.Since(rt.Iat) > m.ttl
}
