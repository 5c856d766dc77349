package directory

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/jrsteele09/go-admin-session/credentials"
	apperrors "github.com/jrsteele09/go-admin-session/internal/errors"
	"github.com/jrsteele09/go-admin-session/tenants"
	"github.com/jrsteele09/go-admin-session/token"
	"github.com/jrsteele09/go-admin-session/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultRefreshTTL = 7 * 24 * time.Hour

// Repos holds all repository dependencies for the directory
type Repos struct {
	Users         users.UserRepo
	Tenants       tenants.Repo
	RefreshTokens RefreshRepo
}

// Local is an in-process multi-tenant directory. It authenticates principals
// by email and password and issues access/refresh token pairs for them.
type Local struct {
	repos        Repos
	minter       *token.Minter
	refresh      *RefreshTokens
	refreshTTL   time.Duration
	revoked      token.RevokedTokenCache
	clock        clockwork.Clock
	autoRegister bool
	logger       zerolog.Logger
}

type Option func(*Local)

func WithClock(clock clockwork.Clock) Option {
	return func(l *Local) {
		l.clock = clock
	}
}

func WithRefreshTTL(ttl time.Duration) Option {
	return func(l *Local) {
		l.refreshTTL = ttl
	}
}

// WithAutoRegister makes an unknown email at login create a new account (and
// a tenant it administers) instead of failing.
func WithAutoRegister(enabled bool) Option {
	return func(l *Local) {
		l.autoRegister = enabled
	}
}

func WithRevokedTokenCache(cache token.RevokedTokenCache) Option {
	return func(l *Local) {
		l.revoked = cache
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(l *Local) {
		l.logger = logger
	}
}

func NewLocal(repos Repos, minter *token.Minter, options ...Option) (*Local, error) {
	if repos.Users == nil {
		return nil, errors.New("[NewLocal] Users repo is required")
	}
	if repos.Tenants == nil {
		return nil, errors.New("[NewLocal] Tenants repo is required")
	}
	if repos.RefreshTokens == nil {
		return nil, errors.New("[NewLocal] RefreshTokens repo is required")
	}
	if minter == nil {
		return nil, errors.New("[NewLocal] minter is required")
	}

	l := &Local{
		repos:        repos,
		minter:       minter,
		refreshTTL:   defaultRefreshTTL,
		clock:        clockwork.NewRealClock(),
		autoRegister: true,
		logger:       log.Logger,
	}
	for _, opt := range options {
		opt(l)
	}
	if l.revoked == nil {
		l.revoked = token.NewInMemoryRevokedTokenCache(l.clock)
	}
	l.refresh = NewRefreshTokens(repos.RefreshTokens, l.refreshTTL, l.clock)
	return l, nil
}

func (l *Local) AccessTokenTTL() time.Duration {
	return l.minter.TTL()
}

// Authenticate checks the password and issues a credential pair. Unknown
// emails are registered when auto registration is on.
func (l *Local) Authenticate(_ context.Context, email, password string) (credentials.Pair, *users.Principal, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return credentials.Pair{}, nil, apperrors.ErrInvalidCredentials
	}

	user, err := l.repos.Users.GetByEmail(email)
	switch {
	case apperrors.Is(err, apperrors.ErrUserNotFound) && l.autoRegister:
		if user, err = l.register(email, password); err != nil {
			return credentials.Pair{}, nil, err
		}
	case err != nil:
		return credentials.Pair{}, nil, apperrors.ErrInvalidCredentials
	case !users.CheckPasswordHash(password, user.PasswordHash):
		return credentials.Pair{}, nil, apperrors.ErrInvalidCredentials
	}

	if user.Blocked {
		return credentials.Pair{}, nil, apperrors.ErrUserBlocked
	}

	tenant := l.defaultTenant(user)
	pair, err := l.issue(user, tenant)
	if err != nil {
		return credentials.Pair{}, nil, err
	}

	user.LastLogin = l.clock.Now()
	if err := l.repos.Users.Upsert(user); err != nil {
		return credentials.Pair{}, nil, errors.Wrap(err, "[Local.Authenticate] Users.Upsert")
	}

	l.logger.Info().Str("user_id", user.ID).Msg("principal authenticated")
	return pair, user.Principal(tenant), nil
}

// Refresh consumes refreshToken and issues a new pair.
func (l *Local) Refresh(_ context.Context, refreshToken string) (credentials.Pair, error) {
	stored, err := l.refresh.Consume(refreshToken)
	if err != nil {
		return credentials.Pair{}, err
	}

	user, err := l.repos.Users.GetByID(stored.UserID)
	if err != nil {
		return credentials.Pair{}, apperrors.ErrInvalidRefreshToken
	}
	if user.Blocked {
		return credentials.Pair{}, apperrors.ErrUserBlocked
	}

	var tenant *tenants.Tenant
	if stored.TenantID != "" {
		tenant, _ = l.repos.Tenants.Get(stored.TenantID)
	}
	return l.issue(user, tenant)
}

// Verify resolves an access token to the principal it was issued for.
func (l *Local) Verify(_ context.Context, accessToken string) (*users.Principal, error) {
	claims, err := l.minter.Verify(accessToken)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.ErrTokenExpired
		}
		return nil, apperrors.Wrapf(apperrors.ErrInvalidToken, "%v", err)
	}
	if l.revoked.IsRevoked(claims.ID) {
		return nil, apperrors.ErrInvalidToken
	}

	user, err := l.repos.Users.GetByID(claims.Subject)
	if err != nil {
		return nil, apperrors.ErrInvalidToken
	}
	if user.Blocked {
		return nil, apperrors.ErrUserBlocked
	}

	var tenant *tenants.Tenant
	if claims.Tenant != "" {
		tenant, _ = l.repos.Tenants.Get(claims.Tenant)
	}
	return user.Principal(tenant), nil
}

// Logout revokes the access token (if still valid) and the refresh token.
func (l *Local) Logout(_ context.Context, accessToken, refreshToken string) error {
	if claims, err := l.minter.Verify(accessToken); err == nil && claims.ExpiresAt != nil {
		l.revoked.Add(claims.ID, claims.ExpiresAt.Time)
	}
	if refreshToken != "" {
		if err := l.refresh.Revoke(refreshToken); err != nil {
			return errors.Wrap(err, "[Local.Logout] refresh.Revoke")
		}
	}
	l.revoked.Cleanup()
	return nil
}

// Tenants lists the tenants the principal can select.
func (l *Local) Tenants(_ context.Context, principal *users.Principal) ([]*tenants.Tenant, error) {
	if principal == nil {
		return nil, apperrors.ErrUnauthorizedTenant
	}
	user, err := l.repos.Users.GetByID(principal.ID)
	if err != nil {
		return nil, err
	}

	all, err := l.repos.Tenants.List()
	if err != nil {
		return nil, errors.Wrap(err, "[Local.Tenants] Tenants.List")
	}
	if user.IsSuperAdmin() {
		return all, nil
	}

	out := make([]*tenants.Tenant, 0, len(user.Tenants))
	for _, t := range all {
		if user.GetTenantMembership(t.ID) != nil {
			out = append(out, t)
		}
	}
	return out, nil
}

// CanAccessTenant reports whether the principal may read tenantID's resources.
func (l *Local) CanAccessTenant(_ context.Context, principal *users.Principal, tenantID string) bool {
	if principal == nil {
		return false
	}
	user, err := l.repos.Users.GetByID(principal.ID)
	if err != nil {
		return false
	}
	return user.HasTenant(tenantID)
}

// AddTenant seeds a tenant.
func (l *Local) AddTenant(t *tenants.Tenant) error {
	return l.repos.Tenants.Upsert(t)
}

// AddUser seeds a user with the given plain text password.
func (l *Local) AddUser(user *users.User, password string) error {
	hash, err := users.HashPassword(password)
	if err != nil {
		return errors.Wrap(err, "[Local.AddUser] HashPassword")
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.PasswordHash = hash
	if user.DateJoined.IsZero() {
		user.DateJoined = l.clock.Now()
	}
	return l.repos.Users.Upsert(user)
}

func (l *Local) register(email, password string) (*users.User, error) {
	if err := users.ValidatePasswordStrength(password); err != nil {
		return nil, errors.Wrap(apperrors.ErrWeakPassword, err.Error())
	}

	domain := email
	if at := strings.LastIndex(email, "@"); at >= 0 {
		domain = email[at+1:]
	}
	tenant := &tenants.Tenant{Name: domain, Domain: domain}
	if err := l.repos.Tenants.Upsert(tenant); err != nil {
		return nil, errors.Wrap(err, "[Local.register] Tenants.Upsert")
	}

	now := l.clock.Now()
	user := &users.User{
		Email:           email,
		DateJoined:      now,
		DefaultTenantID: tenant.ID,
		Tenants: []users.TenantMembership{
			{TenantID: tenant.ID, Roles: []users.RoleType{users.RoleTenantAdmin}, JoinedAt: now},
		},
	}
	if err := l.AddUser(user, password); err != nil {
		return nil, err
	}

	l.logger.Info().Str("user_id", user.ID).Str("tenant_id", tenant.ID).Msg("principal registered")
	return user, nil
}

func (l *Local) defaultTenant(user *users.User) *tenants.Tenant {
	ids := make([]string, 0, len(user.Tenants)+1)
	if user.DefaultTenantID != "" {
		ids = append(ids, user.DefaultTenantID)
	}
	for _, m := range user.Tenants {
		ids = append(ids, m.TenantID)
	}
	for _, id := range ids {
		if t, err := l.repos.Tenants.Get(id); err == nil {
			return t
		}
	}
	return nil
}

func (l *Local) issue(user *users.User, tenant *tenants.Tenant) (credentials.Pair, error) {
	principal := user.Principal(tenant)

	roles := make([]string, 0, len(principal.Roles))
	for _, r := range principal.Roles {
		roles = append(roles, string(r))
	}

	claims := token.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: user.ID},
		Email:            user.Email,
		Roles:            roles,
		Privileged:       principal.IsPrivileged,
	}
	tenantID := ""
	if tenant != nil {
		tenantID = tenant.ID
		claims.Tenant = tenant.ID
	}

	access, err := l.minter.Mint(claims)
	if err != nil {
		return credentials.Pair{}, errors.Wrap(err, "[Local.issue] Mint")
	}
	refresh, err := l.refresh.Create(user.ID, tenantID)
	if err != nil {
		return credentials.Pair{}, errors.Wrap(err, "[Local.issue] refresh.Create")
	}
	return credentials.Pair{AccessToken: access, RefreshToken: refresh}, nil
}
