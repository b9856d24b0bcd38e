package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) Store {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skip("miniredis unavailable in sandbox")
		}
		require.NoError(t, err)
	}
	t.Cleanup(server.Close)

	store, err := NewRedis(RedisConfig{Address: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })
	return store
}

func TestRedisStoreValidate(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	sess := Session{ID: "tok-1", UserID: "u-1", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.Put(ctx, sess, User{ID: "u-1", Role: "admin"}))

	user, got, err := store.Validate(ctx, "tok-1")
	require.NoError(t, err)
	require.Equal(t, "u-1", user.ID)
	require.Equal(t, "admin", user.Role)
	require.Equal(t, "u-1", got.UserID)
}

func TestRedisStoreUnknownToken(t *testing.T) {
	store := newTestRedisStore(t)

	_, _, err := store.Validate(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreExpiredSession(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	// A session already past its expiry can't be stored with a TTL, so
	// exercise expiry through a short-lived record whose clock has passed
	// by the time it is validated.
	sess := Session{ID: "tok-2", UserID: "u-2", ExpiresAt: time.Now().Add(50 * time.Millisecond)}
	require.NoError(t, store.Put(ctx, sess, User{ID: "u-2", Role: "user"}))

	time.Sleep(80 * time.Millisecond)

	_, _, err := store.Validate(ctx, "tok-2")
	if err == nil {
		t.Fatal("expected expired session to be rejected")
	}
	require.True(t, err == ErrNotFound || err == ErrExpired, "got %v", err)
}

func TestRedisStoreInvalidate(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	sess := Session{ID: "tok-3", UserID: "u-3", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.Put(ctx, sess, User{ID: "u-3", Role: "editor"}))
	require.NoError(t, store.Invalidate(ctx, "tok-3"))

	_, _, err := store.Validate(ctx, "tok-3")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNewRedisRequiresAddress(t *testing.T) {
	_, err := NewRedis(RedisConfig{})
	require.Error(t, err)
}
