// Package blinds drives tournament blind level changes on a drift-corrected
// timer, with pre-warnings at fixed thresholds and pause/resume support.
package blinds

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Level is one step of a blind structure.
type Level struct {
	Index           int `json:"index"`
	SmallBlind      int `json:"small_blind"`
	BigBlind        int `json:"big_blind"`
	Ante            int `json:"ante"`
	DurationMinutes int `json:"duration_minutes"`
}

func (l Level) duration() time.Duration {
	return time.Duration(l.DurationMinutes) * time.Minute
}

// Warning thresholds in seconds before a level change.
var warningThresholds = []int{30, 10, 5}

// Handler receives scheduler notifications. Both callbacks are fanned out
// concurrently; they must be safe to call from the scheduler goroutine.
type Handler struct {
	OnWarning     func(tournamentID string, levelIndex, secondsRemaining int)
	OnLevelChange func(tournamentID string, level Level, nextLevelAt time.Time)
}

const stateRetention = 7 * 24 * time.Hour

func stateKey(tid string) string { return "tournament:scheduler:" + tid }

// persistedState is what survives a restart.
type persistedState struct {
	Levels         []Level `json:"levels"`
	CurrentLevel   int     `json:"current_level"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Paused         bool    `json:"paused"`
	SavedAt        string  `json:"saved_at"`
}

type schedule struct {
	tid            string
	levels         []Level
	current        int
	levelStartedAt time.Time
	pauseStartedAt time.Time
	accumPause     time.Duration
	paused         bool
	warned         map[int]bool
	cancel         context.CancelFunc
	resume         chan struct{}
}

// Scheduler runs one timing loop per registered tournament.
type Scheduler struct {
	clock    quartz.Clock
	rdb      redis.UniversalClient
	log      zerolog.Logger
	handlers []Handler
	driftObs prometheus.Observer

	mu        sync.Mutex
	schedules map[string]*schedule
	wg        sync.WaitGroup
}

// NewScheduler creates a scheduler. rdb and driftObs may be nil.
func NewScheduler(clock quartz.Clock, rdb redis.UniversalClient, log zerolog.Logger, driftObs prometheus.Observer) *Scheduler {
	return &Scheduler{
		clock:     clock,
		rdb:       rdb,
		log:       log.With().Str("component", "blind_scheduler").Logger(),
		driftObs:  driftObs,
		schedules: make(map[string]*schedule),
	}
}

// AddHandler registers a notification handler for all tournaments.
func (s *Scheduler) AddHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Register starts the timing loop for a tournament. elapsed shifts the
// current level's start into the past, used when recovering.
func (s *Scheduler) Register(ctx context.Context, tid string, levels []Level, startLevel int, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[tid]; ok {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	sc := &schedule{
		tid:            tid,
		levels:         levels,
		current:        startLevel,
		levelStartedAt: s.clock.Now().Add(-elapsed),
		warned:         make(map[int]bool),
		cancel:         cancel,
		resume:         make(chan struct{}, 1),
	}
	s.schedules[tid] = sc
	s.wg.Add(1)
	go s.run(loopCtx, sc)
}

// Unregister stops a tournament's loop and removes its persisted state.
func (s *Scheduler) Unregister(ctx context.Context, tid string) {
	s.mu.Lock()
	sc, ok := s.schedules[tid]
	if ok {
		sc.cancel()
		delete(s.schedules, tid)
	}
	s.mu.Unlock()
	if ok && s.rdb != nil {
		_ = s.rdb.Del(ctx, stateKey(tid)).Err()
	}
}

// Pause freezes level progression for a tournament.
func (s *Scheduler) Pause(tid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[tid]
	if !ok || sc.paused {
		return
	}
	sc.paused = true
	sc.pauseStartedAt = s.clock.Now()
}

// Resume unfreezes a paused tournament, accumulating the paused span.
func (s *Scheduler) Resume(tid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[tid]
	if !ok || !sc.paused {
		return
	}
	sc.accumPause += s.clock.Since(sc.pauseStartedAt)
	sc.paused = false
	select {
	case sc.resume <- struct{}{}:
	default:
	}
}

// CurrentLevel returns the active level for a tournament, false when it is
// not registered.
func (s *Scheduler) CurrentLevel(tid string) (Level, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[tid]
	if !ok || sc.current >= len(sc.levels) {
		return Level{}, false
	}
	return sc.levels[sc.current], true
}

// Shutdown cancels every loop and waits for them to exit.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	for _, sc := range s.schedules {
		sc.cancel()
	}
	s.schedules = make(map[string]*schedule)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, sc *schedule) {
	defer s.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		if sc.paused {
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-sc.resume:
				continue
			}
		}
		if sc.current >= len(sc.levels) {
			s.mu.Unlock()
			return
		}
		level := sc.levels[sc.current]
		elapsed := s.clock.Since(sc.levelStartedAt) - sc.accumPause
		remaining := level.duration() - elapsed

		// Next wake-up: the earliest unsent warning, else the level end.
		target := s.clock.Now().Add(remaining)
		warnAt := -1
		for _, th := range warningThresholds {
			if !sc.warned[th] && remaining > time.Duration(th)*time.Second {
				warnAt = th
				target = s.clock.Now().Add(remaining - time.Duration(th)*time.Second)
				break
			}
		}
		s.mu.Unlock()

		if !s.sleepUntil(ctx, target) {
			return
		}

		s.mu.Lock()
		if sc.paused {
			s.mu.Unlock()
			continue
		}
		elapsed = s.clock.Since(sc.levelStartedAt) - sc.accumPause
		remaining = level.duration() - elapsed
		if warnAt >= 0 && remaining > 0 {
			sc.warned[warnAt] = true
			s.mu.Unlock()
			s.fanOut(func(h Handler) {
				if h.OnWarning != nil {
					h.OnWarning(sc.tid, level.Index, warnAt)
				}
			})
			continue
		}
		if remaining > 0 {
			// Woke early (resume raced a pause); loop recomputes.
			s.mu.Unlock()
			continue
		}

		// Level change.
		drift := -remaining
		if s.driftObs != nil {
			s.driftObs.Observe(float64(drift.Milliseconds()))
		}
		if drift > 50*time.Millisecond {
			s.log.Warn().Str("tournament_id", sc.tid).Dur("drift", drift).Msg("blind level change drifted")
		}
		sc.current++
		sc.levelStartedAt = s.clock.Now()
		sc.accumPause = 0
		sc.warned = make(map[int]bool)
		done := sc.current >= len(sc.levels)
		var next Level
		var nextAt time.Time
		if !done {
			next = sc.levels[sc.current]
			nextAt = sc.levelStartedAt.Add(next.duration())
		}
		s.mu.Unlock()

		s.persist(sc)
		if done {
			return
		}
		s.fanOut(func(h Handler) {
			if h.OnLevelChange != nil {
				h.OnLevelChange(sc.tid, next, nextAt)
			}
		})
	}
}

// sleepUntil is the precision primitive: sleep 90% of the remainder while
// far out, 50% inside 100ms, then the exact remainder, bounded by a
// correction-iteration cap. Returns false when the context is cancelled.
func (s *Scheduler) sleepUntil(ctx context.Context, target time.Time) bool {
	const maxIterations = 25
	for i := 0; i < maxIterations; i++ {
		remaining := s.clock.Until(target)
		if remaining <= 0 {
			return true
		}
		var step time.Duration
		switch {
		case remaining > 100*time.Millisecond:
			step = remaining * 9 / 10
		case remaining > 10*time.Millisecond:
			step = remaining / 2
		default:
			step = remaining
		}
		timer := s.clock.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
	return true
}

// fanOut delivers one notification to every handler in parallel.
func (s *Scheduler) fanOut(deliver func(Handler)) {
	s.mu.Lock()
	handlers := make([]Handler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	var g errgroup.Group
	for _, h := range handlers {
		h := h
		g.Go(func() error {
			deliver(h)
			return nil
		})
	}
	_ = g.Wait()
}

// persist saves recoverable state with a 7-day TTL.
func (s *Scheduler) persist(sc *schedule) {
	if s.rdb == nil {
		return
	}
	s.mu.Lock()
	elapsed := s.clock.Since(sc.levelStartedAt) - sc.accumPause
	st := persistedState{
		Levels:         sc.levels,
		CurrentLevel:   sc.current,
		ElapsedSeconds: elapsed.Seconds(),
		Paused:         sc.paused,
		SavedAt:        time.Now().UTC().Format(time.RFC3339),
	}
	s.mu.Unlock()

	raw, err := json.Marshal(st)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.rdb.Set(ctx, stateKey(sc.tid), raw, stateRetention).Err(); err != nil {
		s.log.Warn().Err(err).Str("tournament_id", sc.tid).Msg("scheduler state save failed")
	}
}

// LoadState fetches persisted scheduler state for recovery, false when none.
func (s *Scheduler) LoadState(ctx context.Context, tid string) ([]Level, int, time.Duration, bool, error) {
	if s.rdb == nil {
		return nil, 0, 0, false, nil
	}
	raw, err := s.rdb.Get(ctx, stateKey(tid)).Bytes()
	if err == redis.Nil {
		return nil, 0, 0, false, nil
	}
	if err != nil {
		return nil, 0, 0, false, err
	}
	var st persistedState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, 0, 0, false, err
	}
	return st.Levels, st.CurrentLevel, time.Duration(st.ElapsedSeconds * float64(time.Second)), true, nil
}
