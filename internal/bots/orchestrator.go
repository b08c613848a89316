package bots

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// SessionState is the bot lifecycle FSM.
type SessionState string

const (
	StateIdle    SessionState = "IDLE"
	StateJoining SessionState = "JOINING"
	StatePlaying SessionState = "PLAYING"
	StateResting SessionState = "RESTING"
	StateLeaving SessionState = "LEAVING"
)

// controlInterval is the orchestrator's housekeeping cadence.
const controlInterval = 3 * time.Second

// Session is one bot's live state.
type Session struct {
	BotID           string
	UserID          string
	Nickname        string
	Strategy        string
	TableID         string
	Seat            int
	Stack           int
	State           SessionState
	RetireRequested bool
	RestEndsAt      time.Time
	HandsPlayed     int
	Net             int
}

// Seater is the table-side surface the orchestrator drives. The game
// loop's table manager implements it.
type Seater interface {
	// SeatBot finds a table with room, seats the user and sits them in.
	SeatBot(userID, nickname string) (tableID string, seat int, stack int, err error)
	// RemoveBot vacates the seat and returns the cashed-out stack.
	RemoveBot(userID, tableID string) (stack int, err error)
	// TableWaiting reports whether the table has no hand in flight.
	TableWaiting(tableID string) bool
	// TryStartGame nudges the game loop after a seat change.
	TryStartGame(tableID string)
}

// Config tunes the orchestrator.
type Config struct {
	TargetCount     int
	SpawnPerMinute  int
	RetirePerMinute int
	RestChance      float64       // probability of resting after a hand
	RestMin         time.Duration // rest duration bounds
	RestMax         time.Duration
}

// Orchestrator keeps the bot population at its target.
type Orchestrator struct {
	cfg    Config
	seater Seater
	clock  quartz.Clock
	log    zerolog.Logger
	gauge  prometheus.Gauge

	mu          sync.Mutex
	rng         *rand.Rand
	sessions    map[string]*Session // by bot ID
	byUser      map[string]string   // user ID -> bot ID
	windowStart time.Time
	spawned     int
	retired     int
	target      int
	seq         int
}

// New creates an orchestrator. gauge may be nil.
func New(cfg Config, seater Seater, clock quartz.Clock, log zerolog.Logger, gauge prometheus.Gauge) *Orchestrator {
	if cfg.RestMin == 0 {
		cfg.RestMin = 30 * time.Second
	}
	if cfg.RestMax < cfg.RestMin {
		cfg.RestMax = cfg.RestMin + 90*time.Second
	}
	return &Orchestrator{
		cfg:         cfg,
		seater:      seater,
		clock:       clock,
		log:         log.With().Str("component", "bots").Logger(),
		gauge:       gauge,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		sessions:    make(map[string]*Session),
		byUser:      make(map[string]string),
		windowStart: clock.Now(),
		target:      cfg.TargetCount,
	}
}

// Run drives the control loop until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	waiter := o.clock.TickerFunc(ctx, controlInterval, func() error {
		o.tick()
		return nil
	}, "bot_control")
	err := waiter.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// SetTarget adjusts the desired bot population.
func (o *Orchestrator) SetTarget(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.target = n
}

// ActiveCount counts sessions not in IDLE.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeLocked()
}

func (o *Orchestrator) activeLocked() int {
	n := 0
	for _, s := range o.sessions {
		if s.State != StateIdle {
			n++
		}
	}
	return n
}

// tick is one control-loop pass: window reset, wake-ups, population
// adjustment, retire cleanup.
func (o *Orchestrator) tick() {
	o.mu.Lock()
	if o.clock.Since(o.windowStart) >= time.Minute {
		o.windowStart = o.clock.Now()
		o.spawned = 0
		o.retired = 0
	}
	o.wakeRestedLocked()

	active := o.activeLocked()
	var toSpawn int
	var toRetire []*Session
	if active < o.target {
		toSpawn = o.target - active
		if budget := o.cfg.SpawnPerMinute - o.spawned; toSpawn > budget {
			toSpawn = budget
		}
		o.spawned += maxInt(toSpawn, 0)
	} else if active > o.target {
		excess := active - o.target
		if budget := o.cfg.RetirePerMinute - o.retired; excess > budget {
			excess = budget
		}
		toRetire = o.pickRetireesLocked(excess)
		o.retired += len(toRetire)
	}
	cleanup := o.retireCleanupLocked()
	o.mu.Unlock()

	for i := 0; i < toSpawn; i++ {
		if _, err := o.SpawnBot(); err != nil {
			o.log.Warn().Err(err).Msg("bot spawn failed")
		}
	}
	for _, s := range toRetire {
		o.retire(s)
	}
	for _, s := range cleanup {
		o.retire(s)
	}
	o.updateGauge()
}

// wakeRestedLocked moves RESTING sessions past their deadline back toward
// play. Caller holds o.mu.
func (o *Orchestrator) wakeRestedLocked() {
	for _, s := range o.sessions {
		if s.State == StateResting && !o.clock.Now().Before(s.RestEndsAt) {
			if o.activeLocked() <= o.target {
				s.State = StatePlaying
				s.RestEndsAt = time.Time{}
			} else {
				s.RetireRequested = true
			}
		}
	}
}

// pickRetireesLocked chooses up to n sessions to retire: RESTING first,
// then IDLE-adjacent JOINING, then PLAYING (flagged for after-hand
// removal). Caller holds o.mu.
func (o *Orchestrator) pickRetireesLocked(n int) []*Session {
	if n <= 0 {
		return nil
	}
	order := []SessionState{StateResting, StateJoining, StatePlaying}
	var picked []*Session
	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, state := range order {
		for _, id := range ids {
			s := o.sessions[id]
			if len(picked) == n {
				return picked
			}
			if s.State != state || s.RetireRequested {
				continue
			}
			if state == StatePlaying && !o.seater.TableWaiting(s.TableID) {
				// Mid-hand: flag and let cleanup take it later.
				s.RetireRequested = true
				continue
			}
			picked = append(picked, s)
		}
	}
	return picked
}

// retireCleanupLocked collects flagged PLAYING sessions whose tables have
// gone idle. Caller holds o.mu.
func (o *Orchestrator) retireCleanupLocked() []*Session {
	var out []*Session
	for _, s := range o.sessions {
		if s.RetireRequested && s.State == StatePlaying && o.seater.TableWaiting(s.TableID) {
			out = append(out, s)
		}
	}
	return out
}

// SpawnBot creates a session with a random strategy and seats it.
func (o *Orchestrator) SpawnBot() (*Session, error) {
	o.mu.Lock()
	o.seq++
	s := &Session{
		BotID:    uuid.NewString(),
		UserID:   fmt.Sprintf("bot-%06d", o.seq),
		Nickname: fmt.Sprintf("Bot%04d", o.seq),
		Strategy: RandomStrategy(o.rng).Name(),
		State:    StateJoining,
	}
	o.sessions[s.BotID] = s
	o.byUser[s.UserID] = s.BotID
	o.mu.Unlock()

	tableID, seat, stack, err := o.seater.SeatBot(s.UserID, s.Nickname)
	if err != nil {
		o.mu.Lock()
		delete(o.sessions, s.BotID)
		delete(o.byUser, s.UserID)
		o.mu.Unlock()
		return nil, err
	}

	o.mu.Lock()
	s.TableID = tableID
	s.Seat = seat
	s.Stack = stack
	s.State = StatePlaying
	o.mu.Unlock()

	o.seater.TryStartGame(tableID)
	o.updateGauge()
	o.log.Debug().Str("user_id", s.UserID).Str("table_id", tableID).
		Str("strategy", s.Strategy).Msg("bot spawned")
	return s, nil
}

// RetireBot removes a bot from its table immediately.
func (o *Orchestrator) RetireBot(botID string) error {
	o.mu.Lock()
	s, ok := o.sessions[botID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("bot %s not found", botID)
	}
	o.retire(s)
	return nil
}

func (o *Orchestrator) retire(s *Session) {
	o.mu.Lock()
	tableID := s.TableID
	s.State = StateLeaving
	o.mu.Unlock()

	if tableID != "" {
		if _, err := o.seater.RemoveBot(s.UserID, tableID); err != nil {
			o.log.Warn().Err(err).Str("user_id", s.UserID).Msg("bot removal failed")
		}
	}

	o.mu.Lock()
	s.State = StateIdle
	s.TableID = ""
	s.RetireRequested = false
	delete(o.sessions, s.BotID)
	delete(o.byUser, s.UserID)
	o.mu.Unlock()
	o.updateGauge()
	o.log.Debug().Str("user_id", s.UserID).Msg("bot retired")
}

// StrategyFor returns the decision strategy for a seated bot user, false
// when the user is not one of ours.
func (o *Orchestrator) StrategyFor(userID string) (Strategy, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	botID, ok := o.byUser[userID]
	if !ok {
		return nil, false
	}
	return StrategyByName(o.sessions[botID].Strategy), true
}

// IsBot reports whether a user ID belongs to a managed session.
func (o *Orchestrator) IsBot(userID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.byUser[userID]
	return ok
}

// NotifyHandComplete updates a session after a hand: statistics, the
// occasional rest break, and retirement when flagged or felted.
func (o *Orchestrator) NotifyHandComplete(userID, tableID string, newStack, wonAmount int) {
	o.mu.Lock()
	botID, ok := o.byUser[userID]
	if !ok {
		o.mu.Unlock()
		return
	}
	s := o.sessions[botID]
	s.HandsPlayed++
	s.Net += newStack - s.Stack
	s.Stack = newStack

	retireNow := s.RetireRequested || newStack == 0
	if !retireNow && s.State == StatePlaying && o.rng.Float64() < o.cfg.RestChance {
		span := o.cfg.RestMax - o.cfg.RestMin
		s.State = StateResting
		s.RestEndsAt = o.clock.Now().Add(o.cfg.RestMin + time.Duration(o.rng.Int63n(int64(span)+1)))
	}
	o.mu.Unlock()

	if retireNow {
		o.retire(s)
	}
}

// ForceRemoveAllBots is the admin kill switch: every session is evicted
// and the target drops to zero.
func (o *Orchestrator) ForceRemoveAllBots() {
	o.mu.Lock()
	o.target = 0
	all := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		all = append(all, s)
	}
	o.mu.Unlock()

	for _, s := range all {
		o.retire(s)
	}
	o.log.Info().Int("removed", len(all)).Msg("all bots force-removed")
}

// Sessions snapshots the live sessions for inspection.
func (o *Orchestrator) Sessions() []Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (o *Orchestrator) updateGauge() {
	if o.gauge != nil {
		o.gauge.Set(float64(o.ActiveCount()))
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
