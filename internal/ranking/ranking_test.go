package ranking

import (
	"context"
	"testing"

	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *quartz.Mock) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	require.NoError(t, rdb.FlushDB(context.Background()).Err())
	t.Cleanup(func() { _ = rdb.Close() })
	mock := quartz.NewMock(t)
	return NewEngine(rdb, mock, zerolog.Nop()), mock
}

func seed(t *testing.T, e *Engine, tid string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.UpdateChips(ctx, tid, "alice", 5000, PlayerInfo{Nickname: "Alice", TableID: "tbl1", Active: true}))
	require.NoError(t, e.UpdateChips(ctx, tid, "bob", 3000, PlayerInfo{Nickname: "Bob", TableID: "tbl1", Active: true}))
	require.NoError(t, e.UpdateChips(ctx, tid, "carol", 8000, PlayerInfo{Nickname: "Carol", TableID: "tbl2", Active: true}))
	require.NoError(t, e.UpdateChips(ctx, tid, "dave", 0, PlayerInfo{Nickname: "Dave", Active: false}))
}

func TestRankOrdering(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	seed(t, e, "t1")

	rank, err := e.GetRank(ctx, "t1", "carol")
	require.NoError(t, err)
	assert.Equal(t, 1, rank)

	rank, err = e.GetRank(ctx, "t1", "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, rank)

	rank, err = e.GetRank(ctx, "t1", "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, rank)
}

func TestTopAndNearbyPlayers(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	seed(t, e, "t1")

	top, err := e.GetTopPlayers(ctx, "t1", 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "carol", top[0].UserID)
	assert.Equal(t, int64(8000), top[0].Chips)
	assert.Equal(t, "Carol", top[0].Nickname)
	assert.Equal(t, "alice", top[1].UserID)
	assert.Equal(t, 2, top[1].Rank)

	near, err := e.GetNearbyPlayers(ctx, "t1", "alice", 1, 1)
	require.NoError(t, err)
	require.Len(t, near, 3)
	assert.Equal(t, []string{"carol", "alice", "bob"},
		[]string{near[0].UserID, near[1].UserID, near[2].UserID})
}

func TestUpdateChipsOverwritesScore(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	seed(t, e, "t1")

	require.NoError(t, e.UpdateChips(ctx, "t1", "bob", 10000, PlayerInfo{Nickname: "Bob", Active: true}))
	rank, err := e.GetRank(ctx, "t1", "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, rank)
}

func TestSyncFromStateRebuilds(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	seed(t, e, "t1")

	err := e.SyncFromState(ctx, "t1", map[string]PlayerState{
		"erin":  {Chips: 4000, Info: PlayerInfo{Nickname: "Erin", Active: true}},
		"frank": {Chips: 2000, Info: PlayerInfo{Nickname: "Frank", Active: true}},
	})
	require.NoError(t, err)

	top, err := e.GetTopPlayers(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "erin", top[0].UserID)

	// Previous members are gone.
	rank, err := e.GetRank(ctx, "t1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, rank)
}

func TestSnapshotAggregates(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	seed(t, e, "t1")
	e.Register("t1")

	assert.Nil(t, e.GetSnapshot("t1"))
	e.refreshSnapshots(ctx)

	snap := e.GetSnapshot("t1")
	require.NotNil(t, snap)
	assert.Equal(t, 4, snap.TotalPlayers)
	assert.Equal(t, 3, snap.ActiveCount)
	assert.Equal(t, int64(16000), snap.TotalChips)
	assert.Equal(t, int64(5333), snap.AverageStack)
	assert.Equal(t, 1, snap.Entries[0].Rank)
}

func TestCleanupRemovesState(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	seed(t, e, "t1")
	e.Register("t1")
	e.refreshSnapshots(ctx)

	require.NoError(t, e.Cleanup(ctx, "t1"))
	assert.Nil(t, e.GetSnapshot("t1"))

	top, err := e.GetTopPlayers(ctx, "t1", 10)
	require.NoError(t, err)
	assert.Empty(t, top)
}
