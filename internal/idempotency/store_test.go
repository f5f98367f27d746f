package idempotency

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, time.Minute, time.Hour), mr
}

func TestStore_BeginCompleteReplay(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	claim, err := store.Begin(ctx, "user-1", "k1")
	require.NoError(t, err)
	assert.False(t, claim.Replayed())

	got, err := mr.Get("checkout:idem:user-1:k1")
	require.NoError(t, err)
	assert.Equal(t, "pending", got)
	assert.Equal(t, time.Minute, mr.TTL("checkout:idem:user-1:k1"))

	_, err = store.Begin(ctx, "user-1", "k1")
	require.ErrorIs(t, err, ErrInProgress)

	require.NoError(t, store.Complete(ctx, "user-1", "k1", "order-9"))

	assert.Equal(t, time.Hour, mr.TTL("checkout:idem:user-1:k1"))

	claim, err = store.Begin(ctx, "user-1", "k1")
	require.NoError(t, err)
	assert.True(t, claim.Replayed())
	assert.Equal(t, "order-9", claim.OrderID)
}

func TestStore_KeysAreScoped(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	_, err := store.Begin(ctx, "user-1", "same")
	require.NoError(t, err)
	claim, err := store.Begin(ctx, "user-2", "same")
	require.NoError(t, err)
	assert.False(t, claim.Replayed())

	_, err = store.Begin(ctx, "", "same")
	require.NoError(t, err)
	assert.True(t, mr.Exists("checkout:idem:guest:same"))
}

func TestStore_ReleaseOnlyDropsPendingKeys(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	_, err := store.Begin(ctx, "user-1", "failed")
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "user-1", "failed"))
	assert.False(t, mr.Exists("checkout:idem:user-1:failed"))

	_, err = store.Begin(ctx, "user-1", "done")
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, "user-1", "done", "order-1"))
	require.NoError(t, store.Release(ctx, "user-1", "done"))
	got, err := mr.Get("checkout:idem:user-1:done")
	require.NoError(t, err)
	assert.Equal(t, "order-1", got)
}

func TestStore_ExpiredKeyCanBeReused(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	_, err := store.Begin(ctx, "user-1", "k")
	require.NoError(t, err)
	mr.FastForward(2 * time.Hour)

	claim, err := store.Begin(ctx, "user-1", "k")
	require.NoError(t, err)
	assert.False(t, claim.Replayed())
}

func TestStore_UncompletedKeyFreesAfterPendingTTL(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	_, err := store.Begin(ctx, "user-1", "stuck")
	require.NoError(t, err)

	mr.FastForward(30 * time.Second)
	_, err = store.Begin(ctx, "user-1", "stuck")
	require.ErrorIs(t, err, ErrInProgress)

	mr.FastForward(31 * time.Second)
	claim, err := store.Begin(ctx, "user-1", "stuck")
	require.NoError(t, err)
	assert.False(t, claim.Replayed())
}

func TestNewStore_PendingTTLNeverOutlivesTTL(t *testing.T) {
	store := NewStore(nil, time.Hour, time.Minute)
	assert.Equal(t, time.Minute, store.pendingTTL)

	store = NewStore(nil, 0, 0)
	assert.Equal(t, 2*time.Minute, store.pendingTTL)
	assert.Equal(t, 24*time.Hour, store.ttl)
}

func TestStore_RejectsBadKeys(t *testing.T) {
	store, _ := setupStore(t)

	_, err := store.Begin(context.Background(), "user-1", "")
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = store.Begin(context.Background(), "user-1", strings.Repeat("x", 256))
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestStore_RedisDown(t *testing.T) {
	store, mr := setupStore(t)
	mr.Close()

	_, err := store.Begin(context.Background(), "user-1", "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInProgress)
}
