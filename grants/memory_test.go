package grants_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/grantforge/go-grant-server/clients"
	"github.com/grantforge/go-grant-server/grants"
	"github.com/stretchr/testify/require"
)

func testGrant(t *testing.T) *grants.Grant {
	t.Helper()
	now := time.Now()
	return &grants.Grant{
		ID:        grants.NewID(),
		Type:      grants.TypeCIBA,
		Client:    clients.Snapshot{ClientID: "client-1", ClientSecret: "secret-1"},
		Scopes:    []string{"openid"},
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}
}

func TestMemoryStorePutGetRemove(t *testing.T) {
	store := grants.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	grant := testGrant(t)
	require.NoError(t, store.Put(ctx, "key-1", grant, time.Minute))

	got, err := store.Get(ctx, "key-1")
	require.NoError(t, err)
	require.Equal(t, grant.ID, got.ID)

	require.NoError(t, store.Remove(ctx, "key-1"))
	_, err = store.Get(ctx, "key-1")
	require.ErrorIs(t, err, grants.ErrNotFound)
}

func TestMemoryStoreTTLEviction(t *testing.T) {
	now := time.Now()
	clock := now
	store := grants.NewMemoryStore(grants.WithNowFunc(func() time.Time { return clock }))
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "key-1", testGrant(t), time.Minute))

	clock = now.Add(30 * time.Second)
	_, err := store.Get(ctx, "key-1")
	require.NoError(t, err)

	clock = now.Add(2 * time.Minute)
	_, err = store.Get(ctx, "key-1")
	require.ErrorIs(t, err, grants.ErrNotFound)

	// Consuming an evicted key is indistinguishable from an unknown key.
	_, err = store.Consume(ctx, "key-1")
	require.ErrorIs(t, err, grants.ErrNotFound)
}

func TestMemoryStoreConsumeOnce(t *testing.T) {
	store := grants.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "key-1", testGrant(t), time.Minute))

	_, err := store.Consume(ctx, "key-1")
	require.NoError(t, err)

	_, err = store.Consume(ctx, "key-1")
	require.ErrorIs(t, err, grants.ErrAlreadyConsumed)

	_, err = store.Consume(ctx, "never-existed")
	require.ErrorIs(t, err, grants.ErrNotFound)
}

func TestMemoryStoreConcurrentConsume(t *testing.T) {
	const callers = 64

	store := grants.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "key-1", testGrant(t), time.Minute))

	var (
		wg              sync.WaitGroup
		mu              sync.Mutex
		won             int
		alreadyConsumed int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.Consume(ctx, "key-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			default:
				require.ErrorIs(t, err, grants.ErrAlreadyConsumed)
				alreadyConsumed++
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, won, "exactly one caller must receive the grant")
	require.Equal(t, callers-1, alreadyConsumed)
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	store := grants.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	grant := testGrant(t)
	grant.Backchannel = &grants.BackchannelSession{
		AuthReqID: "req-1",
		State:     grants.StateRequestSent,
	}
	require.NoError(t, store.Put(ctx, "key-1", grant, time.Minute))

	// Mutating a read result, or the grant that was put, must not leak into
	// the stored record.
	first, err := store.Get(ctx, "key-1")
	require.NoError(t, err)
	first.Subject = "mutated"
	first.Backchannel.State = grants.StateDenied
	grant.Backchannel.State = grants.StateDenied

	second, err := store.Get(ctx, "key-1")
	require.NoError(t, err)
	require.Empty(t, second.Subject)
	require.Equal(t, grants.StateRequestSent, second.Backchannel.State)
}

func TestMemoryStoreTouchPoll(t *testing.T) {
	now := time.Now()
	clock := now
	store := grants.NewMemoryStore(grants.WithNowFunc(func() time.Time { return clock }))
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "key-1", testGrant(t), time.Minute))

	prev, err := store.TouchPoll(ctx, "key-1", clock, time.Minute)
	require.NoError(t, err)
	require.True(t, prev.IsZero(), "first poll has no predecessor")

	clock = now.Add(2 * time.Second)
	prev, err = store.TouchPoll(ctx, "key-1", clock, time.Minute)
	require.NoError(t, err)
	require.Equal(t, now, prev)

	// Consuming the grant clears the poll record.
	_, err = store.Consume(ctx, "key-1")
	require.NoError(t, err)
	prev, err = store.TouchPoll(ctx, "key-1", clock, time.Minute)
	require.NoError(t, err)
	require.True(t, prev.IsZero())

	// The poll record expires with its TTL.
	clock = now.Add(2 * time.Minute)
	prev, err = store.TouchPoll(ctx, "key-1", clock, time.Minute)
	require.NoError(t, err)
	require.True(t, prev.IsZero())
}

func TestMemoryStorePutRevivesConsumedKey(t *testing.T) {
	store := grants.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "key-1", testGrant(t), time.Minute))
	_, err := store.Consume(ctx, "key-1")
	require.NoError(t, err)

	// Key reuse never happens in practice (keys are 256-bit random), but a
	// fresh Put must not inherit the old tombstone.
	require.NoError(t, store.Put(ctx, "key-1", testGrant(t), time.Minute))
	_, err = store.Consume(ctx, "key-1")
	require.NoError(t, err)
}
