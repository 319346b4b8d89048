package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/de101/dataportal/internal/errdefs"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, ttl), mr
}

func TestCreateAndGet(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	id, err := store.Create(ctx, Credentials{Email: "admin@example.com", APIToken: "secret-token"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	creds, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "admin@example.com", creds.Email)
	require.Equal(t, "secret-token", creds.APIToken)
}

func TestGetUnknownSession(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	_, err := store.Get(context.Background(), "no-such-session")
	require.ErrorIs(t, err, errdefs.ErrUnauthenticated)
}

func TestGetEmptyID(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	_, err := store.Get(context.Background(), "")
	require.ErrorIs(t, err, errdefs.ErrUnauthenticated)
}

func TestSessionExpires(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)
	ctx := context.Background()

	id, err := store.Create(ctx, Credentials{Email: "admin@example.com", APIToken: "secret-token"})
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	_, err = store.Get(ctx, id)
	require.ErrorIs(t, err, errdefs.ErrUnauthenticated)
}

func TestDelete(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	id, err := store.Create(ctx, Credentials{Email: "admin@example.com", APIToken: "secret-token"})
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, id))

	_, err = store.Get(ctx, id)
	require.ErrorIs(t, err, errdefs.ErrUnauthenticated)

	// Deleting again is a no-op.
	require.NoError(t, store.Delete(ctx, id))
	require.NoError(t, store.Delete(ctx, ""))
}

func TestSessionIDsAreUnique(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := store.Create(ctx, Credentials{Email: "admin@example.com", APIToken: "t"})
		require.NoError(t, err)
		require.False(t, seen[id])
		seen[id] = true
	}
}
