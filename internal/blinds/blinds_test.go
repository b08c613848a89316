package blinds

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	nextAt time.Time
}

func (r *recorder) handler() Handler {
	return Handler{
		OnWarning: func(_ string, _ int, seconds int) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, warnLabel(seconds))
		},
		OnLevelChange: func(_ string, level Level, nextAt time.Time) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, levelLabel(level.Index))
			r.nextAt = nextAt
		},
	}
}

func warnLabel(s int) string { return "warn:" + strconv.Itoa(s) }

func levelLabel(i int) string { return "level:" + strconv.Itoa(i) }

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

// advanceToNextEvent moves the mock clock to the next scheduled timer,
// waiting briefly for the scheduler goroutine to arm one.
func advanceToNextEvent(t *testing.T, mock *quartz.Mock) bool {
	t.Helper()
	for i := 0; i < 500; i++ {
		if d, ok := mock.Peek(); ok {
			w := mock.Advance(d)
			w.MustWait(context.Background())
			time.Sleep(time.Millisecond)
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func advanceUntil(t *testing.T, mock *quartz.Mock, r *recorder, want int) {
	t.Helper()
	for i := 0; i < 500; i++ {
		if len(r.snapshot()) >= want {
			return
		}
		if !advanceToNextEvent(t, mock) {
			break
		}
	}
	require.GreaterOrEqual(t, len(r.snapshot()), want, "scheduler did not emit enough events")
}

func twoLevels() []Level {
	return []Level{
		{Index: 0, SmallBlind: 10, BigBlind: 20, DurationMinutes: 1},
		{Index: 1, SmallBlind: 20, BigBlind: 40, DurationMinutes: 1},
	}
}

func TestWarningsAndLevelChangeSequence(t *testing.T) {
	mock := quartz.NewMock(t)
	s := NewScheduler(mock, nil, zerolog.Nop(), nil)
	rec := &recorder{}
	s.AddHandler(rec.handler())
	defer s.Shutdown()

	start := mock.Now()
	s.Register(context.Background(), "t1", twoLevels(), 0, 0)

	advanceUntil(t, mock, rec, 4)
	assert.Equal(t, []string{
		warnLabel(30), warnLabel(10), warnLabel(5), levelLabel(1),
	}, rec.snapshot()[:4])

	// The change landed exactly at the level boundary; the next one is a
	// full level duration later.
	assert.Equal(t, start.Add(2*time.Minute), rec.nextAt)

	level, ok := s.CurrentLevel("t1")
	require.True(t, ok)
	assert.Equal(t, 1, level.Index)
	assert.Equal(t, 40, level.BigBlind)
}

func TestRecoveryElapsedSkipsPastWarnings(t *testing.T) {
	mock := quartz.NewMock(t)
	s := NewScheduler(mock, nil, zerolog.Nop(), nil)
	rec := &recorder{}
	s.AddHandler(rec.handler())
	defer s.Shutdown()

	// 40 of 60 seconds already elapsed: the 30s warning is in the past
	// and must not fire.
	s.Register(context.Background(), "t1", twoLevels(), 0, 40*time.Second)

	advanceUntil(t, mock, rec, 3)
	assert.Equal(t, []string{warnLabel(10), warnLabel(5), levelLabel(1)}, rec.snapshot()[:3])
}

func TestPauseFreezesProgression(t *testing.T) {
	mock := quartz.NewMock(t)
	s := NewScheduler(mock, nil, zerolog.Nop(), nil)
	rec := &recorder{}
	s.AddHandler(rec.handler())
	defer s.Shutdown()

	s.Register(context.Background(), "t1", twoLevels(), 0, 0)
	time.Sleep(5 * time.Millisecond)
	s.Pause("t1")

	// Deep into pause no warnings or changes fire.
	mock.Advance(5 * time.Minute).MustWait(context.Background())
	time.Sleep(5 * time.Millisecond)
	assert.Empty(t, rec.snapshot())

	s.Resume("t1")
	advanceUntil(t, mock, rec, 4)
	assert.Equal(t, levelLabel(1), rec.snapshot()[3])

	level, ok := s.CurrentLevel("t1")
	require.True(t, ok)
	assert.Equal(t, 1, level.Index)
}

func TestSchedulerStopsAfterLastLevel(t *testing.T) {
	mock := quartz.NewMock(t)
	s := NewScheduler(mock, nil, zerolog.Nop(), nil)
	rec := &recorder{}
	s.AddHandler(rec.handler())
	defer s.Shutdown()

	s.Register(context.Background(), "t1",
		[]Level{{Index: 0, SmallBlind: 10, BigBlind: 20, DurationMinutes: 1}}, 0, 0)

	// The final level expires without a change notification; the loop
	// just exits.
	for i := 0; i < 200 && advanceToNextEvent(t, mock); i++ {
	}
	for _, ev := range rec.snapshot() {
		assert.NotEqual(t, levelLabel(1), ev)
	}
	_, ok := s.CurrentLevel("t1")
	assert.False(t, ok)
}

func TestSleepUntilPrecisionRealClock(t *testing.T) {
	s := NewScheduler(quartz.NewReal(), nil, zerolog.Nop(), nil)

	target := time.Now().Add(80 * time.Millisecond)
	require.True(t, s.sleepUntil(context.Background(), target))
	drift := time.Since(target)

	assert.GreaterOrEqual(t, drift, time.Duration(0))
	assert.Less(t, drift, 25*time.Millisecond)
}

func TestSleepUntilCancelled(t *testing.T) {
	s := NewScheduler(quartz.NewReal(), nil, zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, s.sleepUntil(ctx, time.Now().Add(time.Hour)))
}
