package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jrsteele09/go-admin-session/credentials"
	"github.com/jrsteele09/go-admin-session/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	exchangeKey    = "refresh"
	defaultTimeout = 10 * time.Second
)

// Exchanger performs one call to the refresh endpoint.
type Exchanger interface {
	Exchange(ctx context.Context, refreshToken string) (credentials.Pair, error)
}

// Coordinator exchanges the stored refresh token for a new pair, with at most
// one exchange in flight. It is the only writer of refreshed credentials.
type Coordinator struct {
	store     *credentials.Store
	exchanger Exchanger
	group     singleflight.Group
	timeout   time.Duration
	clock     clockwork.Clock
	logger    zerolog.Logger
}

type CoordinatorOption func(*Coordinator)

func WithTimeout(timeout time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.timeout = timeout
	}
}

func WithClock(clock clockwork.Clock) CoordinatorOption {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

func WithLogger(logger zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func NewCoordinator(store *credentials.Store, exchanger Exchanger, options ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:     store,
		exchanger: exchanger,
		timeout:   defaultTimeout,
		clock:     clockwork.NewRealClock(),
		logger:    log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Exchange returns a fresh pair. staleAccess is the access token the caller's
// rejected request carried; if the store already holds a different one, a
// refresh happened since and that pair is returned without a new exchange.
//
// Cancelling ctx abandons the wait only. The shared exchange keeps running for
// the other callers, bounded by the coordinator timeout.
func (c *Coordinator) Exchange(ctx context.Context, staleAccess string) (credentials.Pair, error) {
	if pair, done, err := c.alreadyRotated(ctx, staleAccess); done {
		return pair, err
	}

	ch := c.group.DoChan(exchangeKey, func() (any, error) {
		flightCtx, cancel := clockwork.WithTimeout(context.WithoutCancel(ctx), c.clock, c.timeout)
		defer cancel()
		return c.exchange(flightCtx, staleAccess)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return credentials.Pair{}, res.Err
		}
		return res.Val.(credentials.Pair), nil
	case <-ctx.Done():
		return credentials.Pair{}, ctx.Err()
	}
}

// alreadyRotated short-circuits callers that need no exchange.
func (c *Coordinator) alreadyRotated(ctx context.Context, staleAccess string) (credentials.Pair, bool, error) {
	current, ok, err := c.store.Load(ctx)
	if err != nil {
		return credentials.Pair{}, true, &RefreshError{Reason: StoreUnavailable, Err: err}
	}
	if !ok {
		metrics.RefreshExchangesTotal.WithLabelValues(string(NoRefreshToken)).Inc()
		return credentials.Pair{}, true, &RefreshError{Reason: NoRefreshToken}
	}
	if staleAccess != "" && current.AccessToken != staleAccess {
		metrics.RefreshSharedTotal.Inc()
		return current, true, nil
	}
	return credentials.Pair{}, false, nil
}

func (c *Coordinator) exchange(ctx context.Context, staleAccess string) (credentials.Pair, error) {
	// Re-read inside the flight: a flight that finished between the caller's
	// check and this one may already have rotated the pair.
	current, ok, err := c.store.Load(ctx)
	if err != nil {
		return credentials.Pair{}, &RefreshError{Reason: StoreUnavailable, Err: err}
	}
	if ok && staleAccess != "" && current.AccessToken != staleAccess {
		metrics.RefreshSharedTotal.Inc()
		return current, nil
	}
	if !ok || !current.HasRefreshToken() {
		metrics.RefreshExchangesTotal.WithLabelValues(string(NoRefreshToken)).Inc()
		return credentials.Pair{}, &RefreshError{Reason: NoRefreshToken}
	}

	start := c.clock.Now()
	next, err := c.exchanger.Exchange(ctx, current.RefreshToken)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		re := classify(err)
		metrics.RefreshExchangesTotal.WithLabelValues(string(re.Reason)).Inc()
		c.logger.Warn().Err(re).Str("reason", string(re.Reason)).Msg("refresh exchange failed")
		return credentials.Pair{}, re
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}

	if err := c.store.Rotate(ctx, current.AccessToken, next); err != nil {
		if errors.Is(err, credentials.ErrCredentialsChanged) {
			return c.changedDuringExchange(ctx)
		}
		metrics.RefreshExchangesTotal.WithLabelValues(string(StoreUnavailable)).Inc()
		return credentials.Pair{}, &RefreshError{Reason: StoreUnavailable, Err: err}
	}

	metrics.RefreshExchangesTotal.WithLabelValues("ok").Inc()
	c.logger.Debug().Dur("took", c.clock.Since(start)).Msg("credentials refreshed")
	return next, nil
}

// changedDuringExchange handles a logout or login that landed while the
// exchange was in flight. The exchanged pair is dropped: after a logout the
// caller gets NoRefreshToken, after a new login it gets the new pair.
func (c *Coordinator) changedDuringExchange(ctx context.Context) (credentials.Pair, error) {
	current, ok, err := c.store.Load(ctx)
	if err != nil {
		return credentials.Pair{}, &RefreshError{Reason: StoreUnavailable, Err: err}
	}
	if !ok {
		metrics.RefreshExchangesTotal.WithLabelValues(string(NoRefreshToken)).Inc()
		c.logger.Info().Msg("credentials cleared during refresh, exchanged pair dropped")
		return credentials.Pair{}, &RefreshError{Reason: NoRefreshToken, Err: credentials.ErrCredentialsChanged}
	}
	metrics.RefreshSharedTotal.Inc()
	c.logger.Info().Msg("credentials replaced during refresh, exchanged pair dropped")
	return current, nil
}
