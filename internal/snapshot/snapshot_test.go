package snapshot

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, secret string) *Manager {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	require.NoError(t, rdb.FlushDB(context.Background()).Err())
	t.Cleanup(func() { _ = rdb.Close() })
	return NewManager(rdb, []byte(secret), zerolog.Nop())
}

func TestFullSnapshotRoundTrip(t *testing.T) {
	m := newTestManager(t, "secret")
	ctx := context.Background()
	state := []byte(`{"tournament_id":"t1","status":"RUNNING","players":{"alice":{"chips":5000}}}`)

	require.NoError(t, m.SaveFull(ctx, "t1", state, "RUNNING"))

	got, meta, err := m.LoadFull(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, state, got)
	assert.Equal(t, "RUNNING", meta.Status)
	assert.NotEmpty(t, meta.Checksum)
	assert.False(t, meta.TakenAt.IsZero())
}

func TestLoadMissingSnapshot(t *testing.T) {
	m := newTestManager(t, "secret")
	_, _, err := m.LoadFull(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTamperedBlobRejected(t *testing.T) {
	m := newTestManager(t, "secret")
	ctx := context.Background()
	require.NoError(t, m.SaveFull(ctx, "t1", []byte("state"), "RUNNING"))

	// Corrupt the stored blob; the seal check must fail before any decode.
	require.NoError(t, m.rdb.Append(ctx, "tournament:snapshot:t1:latest", "x").Err())

	_, _, err := m.LoadFull(ctx, "t1")
	assert.ErrorIs(t, err, ErrSealMismatch)
}

func TestWrongSecretRejected(t *testing.T) {
	m := newTestManager(t, "secret-a")
	ctx := context.Background()
	require.NoError(t, m.SaveFull(ctx, "t1", []byte("state"), "RUNNING"))

	other := NewManager(m.rdb, []byte("secret-b"), zerolog.Nop())
	_, _, err := other.LoadFull(ctx, "t1")
	assert.ErrorIs(t, err, ErrSealMismatch)
}

func TestHandSnapshotRoundTrip(t *testing.T) {
	m := newTestManager(t, "secret")
	ctx := context.Background()
	blob := []byte(`{"street":"flop","deck":["As","Kd"]}`)

	require.NoError(t, m.SaveHand(ctx, "t1", "tbl1", blob))

	got, err := m.LoadHand(ctx, "t1", "tbl1")
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	require.NoError(t, m.DeleteHand(ctx, "t1", "tbl1"))
	_, err = m.LoadHand(ctx, "t1", "tbl1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTournamentIDs(t *testing.T) {
	m := newTestManager(t, "secret")
	ctx := context.Background()
	require.NoError(t, m.SaveFull(ctx, "t1", []byte("a"), "RUNNING"))
	require.NoError(t, m.SaveFull(ctx, "t2", []byte("b"), "COMPLETED"))
	require.NoError(t, m.SaveHand(ctx, "t3", "tbl", []byte("c")))

	ids, err := m.ListTournamentIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1", "t2"}, ids)

	require.NoError(t, m.Delete(ctx, "t2"))
	ids, err = m.ListTournamentIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1"}, ids)
}
