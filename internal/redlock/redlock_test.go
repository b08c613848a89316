package redlock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardroomlabs/cardroom/internal/events"
)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	require.NoError(t, rdb.FlushDB(context.Background()).Err())
	t.Cleanup(func() { _ = rdb.Close() })
	return NewManager(rdb, zerolog.Nop(), opts...)
}

func TestAcquireAndRelease(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	lock, err := m.Acquire(ctx, TournamentKey("t1"))
	require.NoError(t, err)
	require.NotEmpty(t, lock.Token)

	// NX semantics: second acquisition by anyone is blocked.
	_, ok, err := m.TryAcquire(ctx, TournamentKey("t1"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx))

	_, ok, err = m.TryAcquire(ctx, TournamentKey("t1"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseByNonOwnerIsNoOp(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	lock, err := m.Acquire(ctx, TournamentKey("t1"))
	require.NoError(t, err)

	impostor := &Lock{m: m, Key: lock.Key, Token: "someone-else"}
	err = impostor.Release(ctx)
	require.Error(t, err)
	assert.Equal(t, events.CodeLockNotHeld, events.CodeOf(err))

	// The real owner's lock survived.
	_, ok, err := m.TryAcquire(ctx, lock.Key)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, lock.Release(ctx))
}

func TestAcquireTimesOut(t *testing.T) {
	m := newTestManager(t,
		WithAcquireTimeout(200*time.Millisecond),
		WithRetryInterval(20*time.Millisecond))
	ctx := context.Background()

	lock, err := m.Acquire(ctx, BlindKey("t1"))
	require.NoError(t, err)
	defer func() { _ = lock.Release(ctx) }()

	start := time.Now()
	_, err = m.Acquire(ctx, BlindKey("t1"))
	require.Error(t, err)
	assert.Equal(t, events.CodeLockTimeout, events.CodeOf(err))
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestRenewExtendsTTL(t *testing.T) {
	m := newTestManager(t, WithTTL(300*time.Millisecond))
	ctx := context.Background()

	lock, err := m.Acquire(ctx, RankingKey("t1"))
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, lock.Renew(ctx))
	time.Sleep(200 * time.Millisecond)

	// Still held thanks to the renew.
	_, ok, err := m.TryAcquire(ctx, lock.Key)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, lock.Release(ctx))

	// Renew after release reports the lock is gone.
	err = lock.Renew(ctx)
	assert.Equal(t, events.CodeLockNotHeld, events.CodeOf(err))
}

func TestMultiLockSortedAcquisition(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	ml, err := m.AcquireMulti(ctx,
		TableKey("t1", "b"),
		TableKey("t1", "a"),
		TablesKey("t1"))
	require.NoError(t, err)
	require.Len(t, ml.locks, 3)

	// Keys are held in ascending order regardless of argument order.
	assert.Equal(t, TableKey("t1", "a"), ml.locks[0].Key)
	assert.Equal(t, TableKey("t1", "b"), ml.locks[1].Key)
	assert.Equal(t, TablesKey("t1"), ml.locks[2].Key)

	ml.Release(ctx)
	_, ok, err := m.TryAcquire(ctx, TableKey("t1", "a"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMultiLockReleasesOnFailure(t *testing.T) {
	m := newTestManager(t,
		WithAcquireTimeout(150*time.Millisecond),
		WithRetryInterval(20*time.Millisecond))
	ctx := context.Background()

	blocker, err := m.Acquire(ctx, TableKey("t1", "b"))
	require.NoError(t, err)
	defer func() { _ = blocker.Release(ctx) }()

	_, err = m.AcquireMulti(ctx, TableKey("t1", "a"), TableKey("t1", "b"))
	require.Error(t, err)

	// The first lock was rolled back.
	_, ok, err := m.TryAcquire(ctx, TableKey("t1", "a"))
	require.NoError(t, err)
	assert.True(t, ok)
}
