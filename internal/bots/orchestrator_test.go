package bots

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSeater struct {
	mu       sync.Mutex
	seated   map[string]string // user -> table
	waiting  map[string]bool
	starts   int
	seatErr  error
	nextSeat int
}

func newFakeSeater() *fakeSeater {
	return &fakeSeater{
		seated:  make(map[string]string),
		waiting: make(map[string]bool),
	}
}

func (f *fakeSeater) SeatBot(userID, _ string) (string, int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seatErr != nil {
		return "", 0, 0, f.seatErr
	}
	table := fmt.Sprintf("tbl-%d", len(f.seated)/6+1)
	f.seated[userID] = table
	f.waiting[table] = true
	seat := f.nextSeat
	f.nextSeat = (f.nextSeat + 1) % 6
	return table, seat, 2000, nil
}

func (f *fakeSeater) RemoveBot(userID, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seated, userID)
	return 2000, nil
}

func (f *fakeSeater) TableWaiting(tableID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waiting[tableID]
}

func (f *fakeSeater) TryStartGame(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
}

func newTestOrchestrator(t *testing.T, cfg Config) (*Orchestrator, *fakeSeater, *quartz.Mock) {
	t.Helper()
	mock := quartz.NewMock(t)
	seater := newFakeSeater()
	return New(cfg, seater, mock, zerolog.Nop(), nil), seater, mock
}

func TestSpawnRespectsPerMinuteRate(t *testing.T) {
	o, seater, mock := newTestOrchestrator(t, Config{
		TargetCount:     10,
		SpawnPerMinute:  4,
		RetirePerMinute: 4,
	})

	o.tick()
	assert.Equal(t, 4, o.ActiveCount())

	// Same minute window: the budget is spent.
	o.tick()
	assert.Equal(t, 4, o.ActiveCount())

	// A fresh window allows another batch.
	mock.Advance(time.Minute)
	o.tick()
	assert.Equal(t, 8, o.ActiveCount())
	assert.NotZero(t, seater.starts)
}

func TestRetireWhenOverTarget(t *testing.T) {
	o, _, mock := newTestOrchestrator(t, Config{
		TargetCount:     6,
		SpawnPerMinute:  10,
		RetirePerMinute: 2,
	})
	o.tick()
	require.Equal(t, 6, o.ActiveCount())

	o.SetTarget(2)
	mock.Advance(time.Minute)
	o.tick()
	assert.Equal(t, 4, o.ActiveCount())

	// Rate-limited: a second pass in the same window removes nothing.
	o.tick()
	assert.Equal(t, 4, o.ActiveCount())

	mock.Advance(time.Minute)
	o.tick()
	assert.Equal(t, 2, o.ActiveCount())
}

func TestMidHandRetireDefersUntilTableIdle(t *testing.T) {
	o, seater, mock := newTestOrchestrator(t, Config{
		TargetCount:     2,
		SpawnPerMinute:  5,
		RetirePerMinute: 5,
	})
	o.tick()
	require.Equal(t, 2, o.ActiveCount())

	// A hand is running on every table; retiring must wait.
	seater.mu.Lock()
	for table := range seater.waiting {
		seater.waiting[table] = false
	}
	seater.mu.Unlock()

	o.SetTarget(0)
	mock.Advance(time.Minute)
	o.tick()
	assert.Equal(t, 2, o.ActiveCount())
	for _, s := range o.Sessions() {
		assert.True(t, s.RetireRequested)
	}

	// The hand ends; cleanup removes the flagged bots.
	seater.mu.Lock()
	for table := range seater.waiting {
		seater.waiting[table] = true
	}
	seater.mu.Unlock()
	mock.Advance(time.Minute)
	o.tick()
	assert.Zero(t, o.ActiveCount())
}

func TestNotifyHandCompleteTracksStatsAndFelts(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, Config{
		TargetCount:    1,
		SpawnPerMinute: 1,
	})
	s, err := o.SpawnBot()
	require.NoError(t, err)
	require.Equal(t, 2000, s.Stack)

	o.NotifyHandComplete(s.UserID, s.TableID, 2600, 600)
	sessions := o.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, 1, sessions[0].HandsPlayed)
	assert.Equal(t, 600, sessions[0].Net)
	assert.Equal(t, 2600, sessions[0].Stack)

	// Busting out retires the session.
	o.NotifyHandComplete(s.UserID, s.TableID, 0, 0)
	assert.Zero(t, o.ActiveCount())
	assert.False(t, o.IsBot(s.UserID))
}

func TestRestingBotWakes(t *testing.T) {
	o, _, mock := newTestOrchestrator(t, Config{
		TargetCount:    1,
		SpawnPerMinute: 1,
		RestChance:     1,
		RestMin:        30 * time.Second,
		RestMax:        30 * time.Second,
	})
	s, err := o.SpawnBot()
	require.NoError(t, err)

	o.NotifyHandComplete(s.UserID, s.TableID, 2000, 0)
	require.Equal(t, StateResting, o.Sessions()[0].State)

	// Before the deadline nothing changes.
	mock.Advance(10 * time.Second)
	o.tick()
	assert.Equal(t, StateResting, o.Sessions()[0].State)

	mock.Advance(25 * time.Second)
	o.tick()
	assert.Equal(t, StatePlaying, o.Sessions()[0].State)
}

func TestStrategyForSeatedBot(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, Config{TargetCount: 1, SpawnPerMinute: 1})
	s, err := o.SpawnBot()
	require.NoError(t, err)

	strat, ok := o.StrategyFor(s.UserID)
	require.True(t, ok)
	assert.Equal(t, s.Strategy, strat.Name())

	_, ok = o.StrategyFor("human-1")
	assert.False(t, ok)
}

func TestForceRemoveAllBots(t *testing.T) {
	o, seater, _ := newTestOrchestrator(t, Config{TargetCount: 3, SpawnPerMinute: 10})
	o.tick()
	require.Equal(t, 3, o.ActiveCount())

	o.ForceRemoveAllBots()
	assert.Zero(t, o.ActiveCount())
	seater.mu.Lock()
	assert.Empty(t, seater.seated)
	seater.mu.Unlock()

	// Target dropped to zero, so the loop does not respawn.
	o.tick()
	assert.Zero(t, o.ActiveCount())
}
