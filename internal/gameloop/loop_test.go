package gameloop

import (
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardroomlabs/cardroom/internal/events"
	"github.com/cardroomlabs/cardroom/internal/table"
)

// fastConfig removes every pacing delay so tests run instantly.
func fastConfig() Config {
	return Config{
		MaxIterations: 50,
		ActorRetries:  1,
		HistoryLimit:  10,
	}
}

type recorder struct {
	mu      sync.Mutex
	channel []events.Event
	direct  map[string][]events.Event
}

func newRecorder() *recorder {
	return &recorder{direct: make(map[string][]events.Event)}
}

func (r *recorder) BroadcastToChannel(_ string, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channel = append(r.channel, ev)
}

func (r *recorder) SendToUser(userID string, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.direct[userID] = append(r.direct[userID], ev)
}

func (r *recorder) channelTypes() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.channel))
	for _, ev := range r.channel {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) directTypes(userID string) []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0)
	for _, ev := range r.direct[userID] {
		out = append(out, ev.Type)
	}
	return out
}

func tableConfig() table.Config {
	return table.Config{
		ID:         "t1",
		SmallBlind: 5,
		BigBlind:   10,
		MinBuyIn:   200,
		MaxBuyIn:   2000,
		MaxSeats:   6,
	}
}

func newLoopTable(t *testing.T) (*Loop, *table.Table, *recorder, *quartz.Mock) {
	t.Helper()
	mock := quartz.NewMock(t)
	rec := newRecorder()
	loop := NewLoop(fastConfig(), mock, rec, nil, zerolog.Nop())
	mgr := NewManager(DefaultManagerConfig(), loop, mock, nil, zerolog.Nop())
	tbl, err := mgr.CreateTable(tableConfig())
	require.NoError(t, err)
	return loop, tbl, rec, mock
}

func seat(t *testing.T, tbl *table.Table, seatNo int, userID string, isBot bool) {
	t.Helper()
	require.NoError(t, tbl.SeatPlayer(seatNo, userID, userID, 1000, isBot))
	require.NoError(t, tbl.SitIn(seatNo))
}

func TestBotsPlayHandToCompletion(t *testing.T) {
	loop, tbl, rec, _ := newLoopTable(t)
	seat(t, tbl, 0, "bot-a", true)
	seat(t, tbl, 1, "bot-b", true)

	require.True(t, loop.TryStartGame(tbl))

	assert.Equal(t, table.Waiting, tbl.Phase())
	require.Len(t, tbl.History(), 1)

	// Chips are conserved whatever line the bots took.
	total := 0
	for _, stack := range tbl.History()[0].FinalStacks {
		total += stack
	}
	assert.Equal(t, 2000, total)

	types := rec.channelTypes()
	assert.Contains(t, types, events.TypeHandStarted)
	assert.Contains(t, types, events.TypePlayerAction)
	assert.Contains(t, types, events.TypeHandResult)
}

func TestHumanActorGetsPromptAndLoopYields(t *testing.T) {
	loop, tbl, rec, _ := newLoopTable(t)
	seat(t, tbl, 0, "human-a", false)
	seat(t, tbl, 1, "human-b", false)

	require.True(t, loop.TryStartGame(tbl))

	// The hand is live and waiting on the first human.
	assert.NotEqual(t, table.Waiting, tbl.Phase())
	actor := tbl.CurrentTurnSeat()
	require.GreaterOrEqual(t, actor, 0)
	p := tbl.PlayerBySeat(actor)
	require.NotNil(t, p)

	prompts := rec.directTypes(p.UserID)
	assert.Contains(t, prompts, events.TypeTurnPrompt)
	assert.Contains(t, rec.channelTypes(), events.TypeTurnChanged)
}

func TestHumanActionHandsTurnToBots(t *testing.T) {
	loop, tbl, _, _ := newLoopTable(t)
	seat(t, tbl, 0, "human-a", false)
	seat(t, tbl, 1, "bot-b", true)

	require.True(t, loop.TryStartGame(tbl))
	actor := tbl.CurrentTurnSeat()
	p := tbl.PlayerBySeat(actor)
	require.NotNil(t, p)

	if p.IsBot {
		// The bot moved first and play stopped on the human.
		human := tbl.PlayerBySeat(tbl.CurrentTurnSeat())
		require.NotNil(t, human)
		assert.False(t, human.IsBot)
		return
	}

	// Human folds; the engine resolves the rest of the hand.
	_, err := tbl.ProcessAction(p.UserID, "fold", 0)
	require.NoError(t, err)
	loop.ProcessBotTurns(tbl)
	assert.Equal(t, table.Waiting, tbl.Phase())
}

func TestTryStartGameRequiresTwoActives(t *testing.T) {
	loop, tbl, _, _ := newLoopTable(t)
	seat(t, tbl, 0, "solo", false)
	assert.False(t, loop.TryStartGame(tbl))
	assert.Equal(t, table.Waiting, tbl.Phase())
}

func TestTurnTimeoutFoldsHuman(t *testing.T) {
	mock := quartz.NewMock(t)
	rec := newRecorder()
	cfg := fastConfig()
	cfg.TurnTimeout = 30 * time.Second
	loop := NewLoop(cfg, mock, rec, nil, zerolog.Nop())
	mgr := NewManager(DefaultManagerConfig(), loop, mock, nil, zerolog.Nop())
	tbl, err := mgr.CreateTable(tableConfig())
	require.NoError(t, err)
	seat(t, tbl, 0, "human-a", false)
	seat(t, tbl, 1, "human-b", false)
	require.True(t, loop.TryStartGame(tbl))

	// Not yet expired: nothing happens.
	mock.Advance(10 * time.Second)
	mgr.timeoutPass()
	assert.NotEqual(t, table.Waiting, tbl.Phase())

	mock.Advance(25 * time.Second)
	mgr.timeoutPass()

	// Heads-up, the small blind faced a call and timed out into a fold,
	// ending the hand.
	assert.Equal(t, table.Waiting, tbl.Phase())
	assert.Contains(t, rec.channelTypes(), events.TypeTimeoutFold)
	require.Len(t, tbl.History(), 1)
}

func TestSnapshotsArePersonalized(t *testing.T) {
	loop, tbl, rec, _ := newLoopTable(t)
	seat(t, tbl, 0, "human-a", false)
	seat(t, tbl, 1, "human-b", false)
	require.True(t, loop.TryStartGame(tbl))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, ev := range rec.direct["human-a"] {
		if ev.Type != events.TypeTableSnapshot {
			continue
		}
		view := ev.Payload["view"].(table.View)
		for _, sv := range view.Seats {
			if sv.UserID == "human-a" {
				assert.Len(t, sv.Hole, 2)
			} else {
				assert.Empty(t, sv.Hole)
			}
		}
	}
}
