package grants_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/grantforge/go-grant-server/grants"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*grants.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return grants.NewRedisStoreWithClient(client, "test:grants:"), mr
}

func TestRedisStorePutGetConsume(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	grant := testGrant(t)
	require.NoError(t, store.Put(ctx, "key-1", grant, time.Minute))

	got, err := store.Get(ctx, "key-1")
	require.NoError(t, err)
	require.Equal(t, grant.ID, got.ID)
	require.Equal(t, grant.Client.ClientID, got.Client.ClientID)

	consumed, err := store.Consume(ctx, "key-1")
	require.NoError(t, err)
	require.Equal(t, grant.ID, consumed.ID)

	_, err = store.Consume(ctx, "key-1")
	require.ErrorIs(t, err, grants.ErrAlreadyConsumed)

	_, err = store.Get(ctx, "key-1")
	require.ErrorIs(t, err, grants.ErrNotFound)
}

func TestRedisStoreUnknownKey(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, grants.ErrNotFound)

	_, err = store.Consume(ctx, "missing")
	require.ErrorIs(t, err, grants.ErrNotFound)

	require.NoError(t, store.Remove(ctx, "missing"))
}

func TestRedisStoreTTL(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "key-1", testGrant(t), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "key-1")
	require.ErrorIs(t, err, grants.ErrNotFound)

	_, err = store.Consume(ctx, "key-1")
	require.ErrorIs(t, err, grants.ErrNotFound)
}

func TestRedisStoreTouchPoll(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "key-1", testGrant(t), time.Minute))

	first := time.Now()
	prev, err := store.TouchPoll(ctx, "key-1", first, time.Minute)
	require.NoError(t, err)
	require.True(t, prev.IsZero(), "first poll has no predecessor")

	prev, err = store.TouchPoll(ctx, "key-1", first.Add(2*time.Second), time.Minute)
	require.NoError(t, err)
	require.True(t, prev.Equal(first))

	// Consuming the grant clears the poll record.
	_, err = store.Consume(ctx, "key-1")
	require.NoError(t, err)
	prev, err = store.TouchPoll(ctx, "key-1", first.Add(4*time.Second), time.Minute)
	require.NoError(t, err)
	require.True(t, prev.IsZero())

	// The poll record expires with its TTL.
	mr.FastForward(2 * time.Minute)
	prev, err = store.TouchPoll(ctx, "key-1", first.Add(3*time.Minute), time.Minute)
	require.NoError(t, err)
	require.True(t, prev.IsZero())
}

func TestRedisStorePutRevivesConsumedKey(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "key-1", testGrant(t), time.Minute))
	_, err := store.Consume(ctx, "key-1")
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "key-1", testGrant(t), time.Minute))
	_, err = store.Consume(ctx, "key-1")
	require.NoError(t, err)
}
