package credentials

import (
	"context"
	"errors"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Durable keys. Absence of KeyAccessToken is the unauthenticated signal at startup.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyBaseURL      = "base_url"
)

var (
	ErrUnattributedWrite  = errors.New("credential write without a permitted origin")
	ErrEmptyAccessToken   = errors.New("credential pair has no access token")
	ErrCredentialsChanged = errors.New("stored credentials changed")
)

// Pair is the access/refresh credential pair. An empty RefreshToken means the
// backend issued none.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (p Pair) HasRefreshToken() bool {
	return p.RefreshToken != ""
}

// Origin attributes a write to one of the three components allowed to mutate
// credentials.
type Origin string

const (
	OriginLogin   Origin = "login"
	OriginRefresh Origin = "refresh"
	OriginLogout  Origin = "logout"
)

// KV is a durable string key/value store.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Store owns the credential pair and the chosen backend base address.
type Store struct {
	kv     KV
	mu     sync.RWMutex
	logger zerolog.Logger
}

type StoreOption func(*Store)

func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

func NewStore(kv KV, options ...StoreOption) *Store {
	s := &Store{
		kv:     kv,
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Load returns the stored pair; ok is false when no access token is stored.
func (s *Store) Load(ctx context.Context) (pair Pair, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(ctx)
}

func (s *Store) load(ctx context.Context) (Pair, bool, error) {
	access, ok, err := s.kv.Get(ctx, KeyAccessToken)
	if err != nil {
		return Pair{}, false, pkgerrors.Wrap(err, "Store.Load access token")
	}
	if !ok || access == "" {
		return Pair{}, false, nil
	}
	refresh, _, err := s.kv.Get(ctx, KeyRefreshToken)
	if err != nil {
		return Pair{}, false, pkgerrors.Wrap(err, "Store.Load refresh token")
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, true, nil
}

// AccessToken returns the stored access token or "" when there is none.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	pair, _, err := s.Load(ctx)
	return pair.AccessToken, err
}

// Save replaces the pair. Only login and refresh may create credentials.
func (s *Store) Save(ctx context.Context, origin Origin, pair Pair) error {
	if err := checkSave(origin, pair); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, origin, pair)
}

// Rotate saves next on behalf of a refresh only while the stored access token
// is still expectedAccess. A logout or a new login since the refresh read the
// pair makes it return ErrCredentialsChanged and leave the store untouched.
func (s *Store) Rotate(ctx context.Context, expectedAccess string, next Pair) error {
	if err := checkSave(OriginRefresh, next); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok, err := s.load(ctx)
	if err != nil {
		return err
	}
	if !ok || current.AccessToken != expectedAccess {
		s.logger.Debug().Bool("stored", ok).Msg("credentials changed during refresh, rotation dropped")
		return ErrCredentialsChanged
	}
	return s.save(ctx, OriginRefresh, next)
}

func checkSave(origin Origin, pair Pair) error {
	if origin != OriginLogin && origin != OriginRefresh {
		return pkgerrors.Wrapf(ErrUnattributedWrite, "Store.Save origin %q", origin)
	}
	if pair.AccessToken == "" {
		return ErrEmptyAccessToken
	}
	return nil
}

func (s *Store) save(ctx context.Context, origin Origin, pair Pair) error {
	if err := s.kv.Set(ctx, KeyAccessToken, pair.AccessToken); err != nil {
		return pkgerrors.Wrap(err, "Store.Save access token")
	}
	if pair.HasRefreshToken() {
		if err := s.kv.Set(ctx, KeyRefreshToken, pair.RefreshToken); err != nil {
			return pkgerrors.Wrap(err, "Store.Save refresh token")
		}
	} else if err := s.kv.Delete(ctx, KeyRefreshToken); err != nil {
		return pkgerrors.Wrap(err, "Store.Save delete refresh token")
	}

	s.logger.Debug().Str("origin", string(origin)).Bool("has_refresh", pair.HasRefreshToken()).Msg("credentials saved")
	return nil
}

// Clear destroys the pair. The base address survives so a later login reuses it.
func (s *Store) Clear(ctx context.Context, origin Origin) error {
	if origin != OriginLogout {
		return pkgerrors.Wrapf(ErrUnattributedWrite, "Store.Clear origin %q", origin)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(ctx, KeyAccessToken, KeyRefreshToken); err != nil {
		return pkgerrors.Wrap(err, "Store.Clear")
	}
	s.logger.Debug().Str("origin", string(origin)).Msg("credentials cleared")
	return nil
}

func (s *Store) BaseURL(ctx context.Context) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok, err := s.kv.Get(ctx, KeyBaseURL)
	if err != nil {
		return "", false, pkgerrors.Wrap(err, "Store.BaseURL")
	}
	return v, ok && v != "", nil
}

func (s *Store) SetBaseURL(ctx context.Context, baseURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if baseURL == "" {
		return s.kv.Delete(ctx, KeyBaseURL)
	}
	return s.kv.Set(ctx, KeyBaseURL, baseURL)
}

// ResolveBaseURL returns the persisted base address, or fallback when none is
// stored or the store cannot be read.
func (s *Store) ResolveBaseURL(ctx context.Context, fallback string) string {
	if v, ok, err := s.BaseURL(ctx); err == nil && ok {
		return v
	}
	return fallback
}
