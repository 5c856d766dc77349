package sessions_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jrsteele09/go-admin-session/credentials"
	"github.com/jrsteele09/go-admin-session/dispatch"
	"github.com/jrsteele09/go-admin-session/sessions"
	"github.com/jrsteele09/go-admin-session/tenants"
	"github.com/jrsteele09/go-admin-session/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	principal   *users.Principal
	gate        chan struct{}
	meCalls     atomic.Int32
	tenantCalls atomic.Int32
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer a1" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	switch r.URL.Path {
	case sessions.WhoAmIPath:
		f.meCalls.Add(1)
		if f.gate != nil {
			select {
			case <-f.gate:
			case <-r.Context().Done():
				return
			}
		}
		_ = json.NewEncoder(w).Encode(f.principal)
	case sessions.TenantsPath:
		f.tenantCalls.Add(1)
		_ = json.NewEncoder(w).Encode([]*tenants.Tenant{{ID: "acme", Name: "Acme"}})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func admin() *users.Principal {
	return &users.Principal{ID: "u1", Email: "admin@acme.io", IsPrivileged: true}
}

func newBootstrapper(t *testing.T, api *fakeAPI, withToken bool, options ...sessions.BootstrapperOption) (*sessions.Bootstrapper, *credentials.Store) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	store := credentials.NewStore(credentials.NewMemoryKV())
	if withToken {
		require.NoError(t, store.Save(context.Background(), credentials.OriginLogin, credentials.Pair{AccessToken: "a1", RefreshToken: "r1"}))
	}
	d := dispatch.New(store, nil, srv.URL)
	return sessions.NewBootstrapper(store, d, options...), store
}

func TestRun_ValidCredentialsCommitOnce(t *testing.T) {
	api := &fakeAPI{principal: admin()}
	b, _ := newBootstrapper(t, api, true)

	var seen []sessions.Status
	var mu sync.Mutex
	b.OnChange(func(s sessions.Session) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.Status)
	})

	s, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusActive, s.Status)
	assert.Equal(t, "u1", s.Principal.ID)
	assert.Equal(t, sessions.BootCommitted, b.Guard().State())
	require.Len(t, b.Tenants(), 1)

	again, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, s.Principal, again.Principal)
	assert.Equal(t, int32(1), api.meCalls.Load(), "a committed guard makes no further calls")
	assert.Equal(t, int32(1), api.tenantCalls.Load())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []sessions.Status{sessions.StatusRestoring, sessions.StatusActive}, seen)
}

func TestRun_ConcurrentAttemptsHydrateOnce(t *testing.T) {
	api := &fakeAPI{principal: admin(), gate: make(chan struct{})}

	var applied atomic.Int32
	b, _ := newBootstrapper(t, api, true, sessions.WithHydrator(
		func(context.Context, *users.Principal) (func(), error) {
			return func() { applied.Add(1) }, nil
		},
	))

	var wg sync.WaitGroup
	results := make([]sessions.Session, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = b.Run(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool { return api.meCalls.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(api.gate)
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, sessions.StatusActive, results[i].Status)
	}
	assert.Equal(t, int32(1), applied.Load())
	assert.Equal(t, sessions.BootCommitted, b.Guard().State())
}

func TestRun_SiblingCommitsAfterAnotherAttemptFails(t *testing.T) {
	errTransient := errors.New("transient")
	var arrivals atomic.Int32
	bothArrived := make(chan struct{})
	failedReturned := make(chan struct{})

	b, store := newBootstrapper(t, &fakeAPI{principal: admin()}, true, sessions.WithHydrator(
		func(context.Context, *users.Principal) (func(), error) {
			if arrivals.Add(1) == 1 {
				<-bothArrived
				return nil, errTransient
			}
			close(bothArrived)
			<-failedReturned
			return func() {}, nil
		},
	))

	type result struct {
		session sessions.Session
		err     error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			s, err := b.Run(context.Background())
			results <- result{s, err}
		}()
	}

	failed := <-results
	require.ErrorIs(t, failed.err, errTransient)
	assert.Equal(t, sessions.StatusRestoring, failed.session.Status)
	assert.Equal(t, 1, b.Guard().Live())
	_, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "credentials stay while a sibling is still validating")

	close(failedReturned)
	committed := <-results
	require.NoError(t, committed.err)
	assert.Equal(t, sessions.StatusActive, committed.session.Status)
	assert.Equal(t, sessions.StatusActive, b.Session().Status)
	assert.Equal(t, sessions.BootCommitted, b.Guard().State())
	_, ok, err = store.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRun_AllAttemptsFailPublishesFailedOnce(t *testing.T) {
	errTransient := errors.New("transient")
	var arrivals atomic.Int32
	bothArrived := make(chan struct{})
	firstReturned := make(chan struct{})

	b, store := newBootstrapper(t, &fakeAPI{principal: admin()}, true, sessions.WithHydrator(
		func(context.Context, *users.Principal) (func(), error) {
			if arrivals.Add(1) == 1 {
				<-bothArrived
				return nil, errTransient
			}
			close(bothArrived)
			<-firstReturned
			return nil, errTransient
		},
	))

	var failures atomic.Int32
	b.OnChange(func(s sessions.Session) {
		if s.Status == sessions.StatusFailed {
			failures.Add(1)
		}
	})

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := b.Run(context.Background())
			errs <- err
		}()
	}

	require.ErrorIs(t, <-errs, errTransient)
	assert.Equal(t, sessions.StatusRestoring, b.Session().Status)
	close(firstReturned)
	require.ErrorIs(t, <-errs, errTransient)

	assert.Equal(t, sessions.StatusFailed, b.Session().Status)
	assert.Equal(t, int32(1), failures.Load())
	assert.Equal(t, sessions.BootIdle, b.Guard().State())
	_, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRun_InvalidatedAttemptIsSuperseded(t *testing.T) {
	api := &fakeAPI{principal: admin(), gate: make(chan struct{})}
	b, _ := newBootstrapper(t, api, true)

	done := make(chan error, 1)
	go func() {
		_, err := b.Run(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return api.meCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	b.Invalidate(context.Background(), "logout", nil)
	close(api.gate)

	require.ErrorIs(t, <-done, sessions.ErrBootSuperseded)
	assert.Equal(t, sessions.StatusUnauthenticated, b.Session().Status)
	assert.Equal(t, sessions.BootIdle, b.Guard().State())
}

func TestRun_NoCredentialsIsUnauthenticated(t *testing.T) {
	api := &fakeAPI{principal: admin()}
	b, _ := newBootstrapper(t, api, false)

	s, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusUnauthenticated, s.Status)
	assert.True(t, s.NeedsSignIn())
	assert.Zero(t, api.meCalls.Load())
	assert.Equal(t, sessions.BootIdle, b.Guard().State())
}

func TestRun_NonPrivilegedFails(t *testing.T) {
	api := &fakeAPI{principal: &users.Principal{ID: "u2", Email: "viewer@acme.io"}}
	b, store := newBootstrapper(t, api, true)

	s, err := b.Run(context.Background())
	require.ErrorIs(t, err, sessions.ErrNotPrivileged)
	assert.Equal(t, sessions.StatusFailed, s.Status)
	assert.True(t, s.NeedsSignIn())
	assert.Zero(t, api.tenantCalls.Load())

	_, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "credentials are cleared")
	assert.Equal(t, sessions.BootIdle, b.Guard().State())
}

func TestRun_CustomPrivilegePredicate(t *testing.T) {
	api := &fakeAPI{principal: &users.Principal{ID: "u3", Roles: []users.RoleType{users.RoleSystemAuditor}}}
	b, _ := newBootstrapper(t, api, true, sessions.WithPrivilegePredicate(func(p *users.Principal) bool {
		return p.HasRole(users.RoleSystemAuditor)
	}))

	s, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, s.IsActive())
}

func TestRun_ValidationTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	api := &fakeAPI{principal: admin(), gate: make(chan struct{})}
	t.Cleanup(func() { close(api.gate) })
	b, store := newBootstrapper(t, api, true, sessions.WithClock(clock), sessions.WithBootTimeout(time.Second))

	done := make(chan error, 1)
	go func() {
		_, err := b.Run(context.Background())
		done <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	require.Eventually(t, func() bool { return api.meCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	clock.Advance(time.Second)

	select {
	case err := <-done:
		require.ErrorIs(t, err, sessions.ErrBootTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("bootstrap did not time out")
	}
	assert.Equal(t, sessions.StatusFailed, b.Session().Status)

	_, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidate_AllowsFreshBoot(t *testing.T) {
	api := &fakeAPI{principal: admin()}
	b, store := newBootstrapper(t, api, true)

	_, err := b.Run(context.Background())
	require.NoError(t, err)
	epoch := b.Guard().Epoch()

	b.Invalidate(context.Background(), "logout", nil)
	assert.Equal(t, sessions.StatusUnauthenticated, b.Session().Status)
	assert.Equal(t, sessions.BootIdle, b.Guard().State())
	assert.Equal(t, epoch+1, b.Guard().Epoch())
	assert.Empty(t, b.Tenants())

	_, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(context.Background(), credentials.OriginLogin, credentials.Pair{AccessToken: "a1"}))
	s, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, s.IsActive())
	assert.Equal(t, int32(2), api.meCalls.Load())
}
