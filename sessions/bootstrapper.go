package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jrsteele09/go-admin-session/credentials"
	"github.com/jrsteele09/go-admin-session/dispatch"
	"github.com/jrsteele09/go-admin-session/internal/metrics"
	"github.com/jrsteele09/go-admin-session/tenants"
	"github.com/jrsteele09/go-admin-session/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	WhoAmIPath  = "/auth/me"
	TenantsPath = "/tenants"

	defaultBootTimeout = 15 * time.Second
)

var (
	ErrNotPrivileged  = errors.New("principal is not privileged")
	ErrBootTimeout    = errors.New("session validation timed out")
	// ErrBootSuperseded is returned by an attempt whose epoch was reset (by
	// logout or invalidation) before it could commit.
	ErrBootSuperseded = errors.New("session bootstrap superseded")
)

// HydrateFunc loads state that depends on the validated principal. The
// returned apply is run only by the attempt that commits.
type HydrateFunc func(ctx context.Context, principal *users.Principal) (apply func(), err error)

// Bootstrapper restores a session from stored credentials. Run may be called
// any number of times, concurrently; the session is committed once per epoch.
type Bootstrapper struct {
	store      *credentials.Store
	requester  dispatch.Requester
	guard      *BootGuard
	holder     *Holder
	hydrate    HydrateFunc
	privileged func(*users.Principal) bool
	timeout    time.Duration
	clock      clockwork.Clock
	logger     zerolog.Logger

	tenantsLock sync.RWMutex
	tenants     []*tenants.Tenant
}

type BootstrapperOption func(*Bootstrapper)

func WithBootTimeout(timeout time.Duration) BootstrapperOption {
	return func(b *Bootstrapper) {
		b.timeout = timeout
	}
}

func WithClock(clock clockwork.Clock) BootstrapperOption {
	return func(b *Bootstrapper) {
		b.clock = clock
	}
}

func WithLogger(logger zerolog.Logger) BootstrapperOption {
	return func(b *Bootstrapper) {
		b.logger = logger
	}
}

// WithHydrator replaces the default tenant list hydration.
func WithHydrator(fn HydrateFunc) BootstrapperOption {
	return func(b *Bootstrapper) {
		b.hydrate = fn
	}
}

// WithPrivilegePredicate replaces Principal.IsPrivileged as the admission check.
func WithPrivilegePredicate(fn func(*users.Principal) bool) BootstrapperOption {
	return func(b *Bootstrapper) {
		b.privileged = fn
	}
}

func NewBootstrapper(store *credentials.Store, requester dispatch.Requester, options ...BootstrapperOption) *Bootstrapper {
	b := &Bootstrapper{
		store:     store,
		requester: requester,
		guard:     &BootGuard{},
		holder:    NewHolder(),
		privileged: func(p *users.Principal) bool {
			return p != nil && p.IsPrivileged
		},
		timeout: defaultBootTimeout,
		clock:   clockwork.NewRealClock(),
		logger:  log.Logger,
	}
	b.hydrate = b.hydrateTenants
	for _, opt := range options {
		opt(b)
	}
	return b
}

func (b *Bootstrapper) Guard() *BootGuard {
	return b.guard
}

func (b *Bootstrapper) Session() Session {
	return b.holder.Current()
}

func (b *Bootstrapper) OnChange(fn func(Session)) func() {
	return b.holder.OnChange(fn)
}

// Tenants returns the tenant list hydrated by the committed session.
func (b *Bootstrapper) Tenants() []*tenants.Tenant {
	b.tenantsLock.RLock()
	defer b.tenantsLock.RUnlock()
	return append([]*tenants.Tenant(nil), b.tenants...)
}

// Run validates stored credentials and commits an Active session. When the
// guard has already committed it returns the current session without any
// network call. Concurrent attempts run to completion independently; a failed
// attempt returns its own error while a sibling may still commit, and the
// session only moves to Failed when the last live attempt fails.
func (b *Bootstrapper) Run(ctx context.Context) (Session, error) {
	epoch, proceed := b.guard.Begin()
	if !proceed {
		metrics.BootstrapAttemptsTotal.WithLabelValues("noop").Inc()
		return b.holder.Current(), nil
	}

	access, err := b.store.AccessToken(ctx)
	if err != nil {
		return b.fail(ctx, epoch, errors.Wrap(err, "Bootstrapper.Run load credentials"))
	}
	if access == "" {
		unauthenticated := Session{Status: StatusUnauthenticated}
		if b.guard.Abandon(epoch, func() { b.holder.store(unauthenticated) }) {
			b.holder.notify()
		}
		metrics.BootstrapAttemptsTotal.WithLabelValues("unauthenticated").Inc()
		return b.holder.Current(), nil
	}

	if b.guard.whileCurrent(epoch, func() { b.holder.store(Session{Status: StatusRestoring}) }) {
		b.holder.notify()
	}

	vctx, cancel := clockwork.WithTimeout(ctx, b.clock, b.timeout)
	defer cancel()

	principal, apply, err := b.validate(vctx)
	if err != nil {
		if errors.Is(vctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = errors.Wrap(ErrBootTimeout, err.Error())
		}
		return b.fail(ctx, epoch, err)
	}

	active := Session{Status: StatusActive, Principal: principal}
	committed := b.guard.Commit(epoch, func() {
		if apply != nil {
			apply()
		}
		b.holder.store(active)
	})
	if !committed {
		metrics.BootstrapAttemptsTotal.WithLabelValues("noop").Inc()
		if b.guard.State() == BootCommitted {
			return b.holder.Current(), nil
		}
		b.logger.Debug().Uint64("epoch", epoch).Msg("bootstrap attempt superseded")
		return b.holder.Current(), ErrBootSuperseded
	}

	b.holder.notify()
	metrics.BootstrapAttemptsTotal.WithLabelValues("committed").Inc()
	b.logger.Info().Str("user_id", principal.ID).Uint64("epoch", epoch).Msg("session committed")
	return active, nil
}

// Invalidate clears credentials, starts a new boot epoch and publishes
// Unauthenticated. If a restore was in progress and cause is set, the
// published session is Failed instead.
func (b *Bootstrapper) Invalidate(ctx context.Context, reason string, cause error) {
	b.guard.Reset(func(previous BootState) {
		b.setTenants(nil)
		if previous == BootRestoring && cause != nil {
			b.holder.store(Session{Status: StatusFailed, Err: cause})
			return
		}
		b.holder.store(Session{Status: StatusUnauthenticated})
	})
	b.holder.notify()

	if err := b.store.Clear(ctx, credentials.OriginLogout); err != nil {
		log.Err(err).Msg("Bootstrapper.Invalidate clear credentials")
	}
	metrics.SessionInvalidationsTotal.WithLabelValues(reason).Inc()
	b.logger.Info().Str("reason", reason).Msg("session invalidated")
}

func (b *Bootstrapper) validate(ctx context.Context) (*users.Principal, func(), error) {
	principal, err := dispatch.GetJSON[*users.Principal](ctx, b.requester, WhoAmIPath)
	if err != nil {
		return nil, nil, err
	}
	if !b.privileged(principal) {
		return nil, nil, ErrNotPrivileged
	}

	apply, err := b.hydrate(ctx, principal)
	if err != nil {
		return nil, nil, errors.Wrap(err, "hydrate")
	}
	return principal, apply, nil
}

func (b *Bootstrapper) fail(ctx context.Context, epoch uint64, cause error) (Session, error) {
	failed := Session{Status: StatusFailed, Err: cause}
	if !b.guard.Fail(epoch, func() { b.holder.store(failed) }) {
		if b.guard.State() == BootCommitted {
			// A sibling attempt already committed; this failure changes nothing.
			metrics.BootstrapAttemptsTotal.WithLabelValues("noop").Inc()
			return b.holder.Current(), nil
		}
		// A sibling is still running and may commit, or the epoch was reset.
		metrics.BootstrapAttemptsTotal.WithLabelValues("deferred").Inc()
		b.logger.Debug().Err(cause).Uint64("epoch", epoch).Msg("bootstrap attempt failed, siblings pending")
		return b.holder.Current(), cause
	}
	b.holder.notify()

	if err := b.store.Clear(ctx, credentials.OriginLogout); err != nil {
		log.Err(err).Msg("Bootstrapper.fail clear credentials")
	}
	metrics.BootstrapAttemptsTotal.WithLabelValues("failed").Inc()
	metrics.SessionInvalidationsTotal.WithLabelValues("bootstrap").Inc()
	b.logger.Warn().Err(cause).Uint64("epoch", epoch).Msg("bootstrap failed")
	return failed, cause
}

func (b *Bootstrapper) hydrateTenants(ctx context.Context, _ *users.Principal) (func(), error) {
	list, err := dispatch.GetJSON[[]*tenants.Tenant](ctx, b.requester, TenantsPath)
	if err != nil {
		return nil, err
	}
	return func() { b.setTenants(list) }, nil
}

func (b *Bootstrapper) setTenants(list []*tenants.Tenant) {
	b.tenantsLock.Lock()
	defer b.tenantsLock.Unlock()
	b.tenants = list
}
