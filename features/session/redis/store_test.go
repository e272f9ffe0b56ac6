package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/tripgraph/tripgraph/features/internal/redistest"
	"github.com/tripgraph/tripgraph/runtime/session"
)

func TestNewRequiresClient(t *testing.T) {
	_, err := New(nil, Options{})
	require.EqualError(t, err, "redis client is required")
}

func TestSaveLoad(t *testing.T) {
	rdb := redistest.Client(t)
	store, err := New(rdb, Options{TTL: time.Hour})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Load(ctx, "thread-1")
	require.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, store.Save(ctx, session.State{ThreadID: "thread-1", Query: "Oslo", Next: "plan"}))
	got, err := store.Load(ctx, "thread-1")
	require.NoError(t, err)
	require.Equal(t, "Oslo", got.Query)
	require.Equal(t, "plan", got.Next)
	require.EqualValues(t, 1, got.Version)

	ttl, err := rdb.TTL(ctx, "tripgraph:checkpoint:thread-1").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, 59*time.Minute)
}

func TestSaveRejectsStaleVersion(t *testing.T) {
	rdb := redistest.Client(t)
	store, err := New(rdb, Options{})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, session.State{ThreadID: "thread-1", Next: "plan"}))
	require.ErrorIs(t, store.Save(ctx, session.State{ThreadID: "thread-1", Next: "plan"}), session.ErrConflict)

	first, err := store.Load(ctx, "thread-1")
	require.NoError(t, err)
	stale := first
	first.Next = "router"
	require.NoError(t, store.Save(ctx, first))
	stale.Next = "repair"
	require.ErrorIs(t, store.Save(ctx, stale), session.ErrConflict)

	got, err := store.Load(ctx, "thread-1")
	require.NoError(t, err)
	require.Equal(t, "router", got.Next)
	require.EqualValues(t, 2, got.Version)

	ttl, err := rdb.TTL(ctx, "tripgraph:checkpoint:thread-1").Result()
	require.NoError(t, err)
	require.Equal(t, time.Duration(-1), ttl)
}

func TestLockSerializesThread(t *testing.T) {
	rdb := redistest.Client(t)
	store, err := New(rdb, Options{RetryWait: 5 * time.Millisecond})
	require.NoError(t, err)
	ctx := context.Background()

	unlock, err := store.Lock(ctx, "thread-1")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = store.Lock(waitCtx, "thread-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := store.Lock(ctx, "thread-2")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	again, err := store.Lock(ctx, "thread-1")
	require.NoError(t, err)
	again()
}

func TestLeaseRenewedWhileHeld(t *testing.T) {
	rdb := redistest.Client(t)
	store, err := New(rdb, Options{LockTTL: 60 * time.Millisecond, RetryWait: 5 * time.Millisecond})
	require.NoError(t, err)
	ctx := context.Background()

	unlock, err := store.Lock(ctx, "thread-1")
	require.NoError(t, err)
	time.Sleep(300 * time.Millisecond)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = store.Lock(waitCtx, "thread-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	exists, err := rdb.Exists(ctx, "tripgraph:lock:thread-1").Result()
	require.NoError(t, err)
	require.Zero(t, exists)
}

func TestUnlockKeepsForeignLease(t *testing.T) {
	rdb := redistest.Client(t)
	store, err := New(rdb, Options{LockTTL: time.Minute})
	require.NoError(t, err)
	ctx := context.Background()

	unlock, err := store.Lock(ctx, "thread-1")
	require.NoError(t, err)
	// The first holder's lease expires without it noticing.
	require.NoError(t, rdb.Del(ctx, "tripgraph:lock:thread-1").Err())

	second, err := store.Lock(ctx, "thread-1")
	require.NoError(t, err)
	unlock()

	exists, err := rdb.Exists(ctx, "tripgraph:lock:thread-1").Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, exists)
	second()
}

func TestThreadIDRequired(t *testing.T) {
	store, err := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), Options{})
	require.NoError(t, err)
	_, err = store.Load(context.Background(), "")
	require.ErrorIs(t, err, session.ErrThreadIDRequired)
	_, err = store.Lock(context.Background(), "")
	require.ErrorIs(t, err, session.ErrThreadIDRequired)
}
