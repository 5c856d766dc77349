package redisstore

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"

	"github.com/jrsteele09/go-admin-session/credentials"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
)

var (
	testRedisURL   string
	redisContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	flag.Parse()

	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	var err error
	redisContainer, err = redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis endpoint: %v\n", err)
		os.Exit(1)
	}
	testRedisURL = "redis://" + endpoint

	code := m.Run()
	if err := redisContainer.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate redis container: %v\n", err)
	}
	os.Exit(code)
}

func setupStore(t *testing.T, prefix string) *credentials.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	rdb, err := NewClient(ctx, testRedisURL)
	require.NoError(t, err)
	require.NoError(t, rdb.FlushAll(ctx).Err())
	t.Cleanup(func() { _ = rdb.Close() })

	return credentials.NewStore(New(rdb, prefix))
}

func TestRedisStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t, "test:")

	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Save(ctx, credentials.OriginLogin, credentials.Pair{AccessToken: "a1", RefreshToken: "r1"}))
	pair, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "r1", pair.RefreshToken)

	require.NoError(t, store.Clear(ctx, credentials.OriginLogout))
	_, ok, err = store.Load(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStore_PrefixesIsolate(t *testing.T) {
	ctx := context.Background()
	a := setupStore(t, "a:")

	require.NoError(t, a.Save(ctx, credentials.OriginLogin, credentials.Pair{AccessToken: "a1"}))

	rdb, err := NewClient(ctx, testRedisURL)
	require.NoError(t, err)
	defer rdb.Close()

	b := credentials.NewStore(New(rdb, "b:"))
	_, ok, err := b.Load(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}
