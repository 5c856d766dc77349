package credentials_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jrsteele09/go-admin-session/credentials"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]func() credentials.KV {
	t.Helper()
	path := filepath.Join(t.TempDir(), "creds.json")
	return map[string]func() credentials.KV{
		"memory": func() credentials.KV { return credentials.NewMemoryKV() },
		"file":   func() credentials.KV { return credentials.NewFileKV(path) },
	}
}

func TestStore_SaveLoadClear(t *testing.T) {
	ctx := context.Background()

	for name, newKV := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store := credentials.NewStore(newKV())

			_, ok, err := store.Load(ctx)
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, store.SetBaseURL(ctx, "https://api.example.com"))
			require.NoError(t, store.Save(ctx, credentials.OriginLogin, credentials.Pair{AccessToken: "a1", RefreshToken: "r1"}))

			pair, ok, err := store.Load(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, credentials.Pair{AccessToken: "a1", RefreshToken: "r1"}, pair)

			require.NoError(t, store.Clear(ctx, credentials.OriginLogout))
			_, ok, err = store.Load(ctx)
			require.NoError(t, err)
			require.False(t, ok)

			baseURL, ok, err := store.BaseURL(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "https://api.example.com", baseURL)
		})
	}
}

func TestStore_SaveWithoutRefreshDropsOldRefresh(t *testing.T) {
	ctx := context.Background()
	store := credentials.NewStore(credentials.NewMemoryKV())

	require.NoError(t, store.Save(ctx, credentials.OriginLogin, credentials.Pair{AccessToken: "a1", RefreshToken: "r1"}))
	require.NoError(t, store.Save(ctx, credentials.OriginRefresh, credentials.Pair{AccessToken: "a2"}))

	pair, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a2", pair.AccessToken)
	require.False(t, pair.HasRefreshToken())
}

func TestStore_RejectsUnattributedWrites(t *testing.T) {
	ctx := context.Background()
	store := credentials.NewStore(credentials.NewMemoryKV())
	pair := credentials.Pair{AccessToken: "a1"}

	require.ErrorIs(t, store.Save(ctx, credentials.OriginLogout, pair), credentials.ErrUnattributedWrite)
	require.ErrorIs(t, store.Save(ctx, credentials.Origin("bootstrap"), pair), credentials.ErrUnattributedWrite)
	require.ErrorIs(t, store.Clear(ctx, credentials.OriginRefresh), credentials.ErrUnattributedWrite)
	require.ErrorIs(t, store.Save(ctx, credentials.OriginLogin, credentials.Pair{}), credentials.ErrEmptyAccessToken)

	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_Rotate(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		prepare func(store *credentials.Store)
		wantErr error
		want    credentials.Pair
		wantOK  bool
	}{
		{
			name:    "stored access still expected",
			prepare: func(*credentials.Store) {},
			want:    credentials.Pair{AccessToken: "a2", RefreshToken: "r2"},
			wantOK:  true,
		},
		{
			name: "cleared by logout",
			prepare: func(store *credentials.Store) {
				require.NoError(t, store.Clear(ctx, credentials.OriginLogout))
			},
			wantErr: credentials.ErrCredentialsChanged,
		},
		{
			name: "replaced by a new login",
			prepare: func(store *credentials.Store) {
				require.NoError(t, store.Save(ctx, credentials.OriginLogin, credentials.Pair{AccessToken: "b1", RefreshToken: "s1"}))
			},
			wantErr: credentials.ErrCredentialsChanged,
			want:    credentials.Pair{AccessToken: "b1", RefreshToken: "s1"},
			wantOK:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := credentials.NewStore(credentials.NewMemoryKV())
			require.NoError(t, store.Save(ctx, credentials.OriginLogin, credentials.Pair{AccessToken: "a1", RefreshToken: "r1"}))
			tt.prepare(store)

			err := store.Rotate(ctx, "a1", credentials.Pair{AccessToken: "a2", RefreshToken: "r2"})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			pair, ok, err := store.Load(ctx)
			require.NoError(t, err)
			require.Equal(t, tt.wantOK, ok)
			require.Equal(t, tt.want, pair)
		})
	}
}

func TestFileKV_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "creds.json")

	first := credentials.NewStore(credentials.NewFileKV(path))
	require.NoError(t, first.Save(ctx, credentials.OriginLogin, credentials.Pair{AccessToken: "a1", RefreshToken: "r1"}))

	second := credentials.NewStore(credentials.NewFileKV(path))
	pair, ok, err := second.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "r1", pair.RefreshToken)
}
