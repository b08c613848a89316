package tournament

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/cardroomlabs/cardroom/internal/blinds"
	"github.com/cardroomlabs/cardroom/internal/events"
	"github.com/cardroomlabs/cardroom/internal/ranking"
	"github.com/cardroomlabs/cardroom/internal/redlock"
	"github.com/cardroomlabs/cardroom/internal/settlement"
	"github.com/cardroomlabs/cardroom/internal/snapshot"
)

// balanceInterval is how often the balancing loop scans running
// tournaments for population drift.
const balanceInterval = 2 * time.Second

// restartDelay spaces out table-hand restarts after a recovery so every
// table is rehydrated before cards fly.
const restartDelay = 2 * time.Second

// HandStarter deals the next hand on a tournament table. The game loop
// implements it; calls must not block.
type HandStarter interface {
	StartTableHand(tournamentID, tableID string)
}

// Engine owns every tournament on this instance.
type Engine struct {
	clock   quartz.Clock
	locks   *redlock.Manager
	rank    *ranking.Engine
	sched   *blinds.Scheduler
	snaps   *snapshot.Manager
	settle  *settlement.Service
	bus     *events.Bus
	log     zerolog.Logger
	rng     *rand.Rand
	starter HandStarter

	mu      sync.Mutex
	states  map[string]*State
	pending map[string][]Move
}

// NewEngine wires the tournament engine. sched, snaps, locks and settle
// may be nil in reduced deployments; the engine degrades to in-memory
// coordination.
func NewEngine(clock quartz.Clock, locks *redlock.Manager, rank *ranking.Engine, sched *blinds.Scheduler, snaps *snapshot.Manager, settle *settlement.Service, bus *events.Bus, log zerolog.Logger) *Engine {
	e := &Engine{
		clock:   clock,
		locks:   locks,
		rank:    rank,
		sched:   sched,
		snaps:   snaps,
		settle:  settle,
		bus:     bus,
		log:     log.With().Str("component", "tournament").Logger(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		states:  make(map[string]*State),
		pending: make(map[string][]Move),
	}
	if sched != nil {
		sched.AddHandler(blinds.Handler{
			OnWarning:     e.onBlindWarning,
			OnLevelChange: e.onBlindLevelChange,
		})
	}
	return e
}

// SetHandStarter connects the game loop. Must be called before any
// tournament starts.
func (e *Engine) SetHandStarter(s HandStarter) { e.starter = s }

// State returns a copy of a tournament's current value.
func (e *Engine) State(tid string) (*State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[tid]
	if !ok {
		return nil, false
	}
	return st.clone(), true
}

// CreateTournament registers a new tournament in REGISTERING state.
func (e *Engine) CreateTournament(ctx context.Context, cfg Config) (*State, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, events.Errorf(events.CodeInvalidAmount, "invalid tournament config: %v", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.states[cfg.ID]; ok {
		return nil, events.Errorf(events.CodeDuplicateRegistration, "tournament %s already exists", cfg.ID)
	}
	st := &State{
		Config:    cfg,
		Status:    StatusRegistering,
		CreatedAt: e.clock.Now().UTC(),
		Players:   make(map[string]*Player),
		Tables:    make(map[string]*Table),
	}
	e.states[cfg.ID] = st
	if e.rank != nil {
		e.rank.Register(cfg.ID)
	}
	e.log.Info().Str("tournament_id", cfg.ID).Int64("buy_in", cfg.BuyIn).Msg("tournament created")
	return st.clone(), nil
}

// RegisterPlayer adds an entrant under the tournament lock.
func (e *Engine) RegisterPlayer(ctx context.Context, tid, userID, nickname string) (*State, error) {
	unlock, err := e.lock(ctx, redlock.TournamentKey(tid))
	if err != nil {
		return nil, err
	}
	defer unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[tid]
	if !ok {
		return nil, events.Errorf(events.CodeNotFound, "tournament %s not found", tid)
	}
	if st.Status != StatusRegistering {
		return nil, events.Errorf(events.CodeRegistrationClosed, "tournament %s is %s", tid, st.Status)
	}
	if len(st.Players) >= st.Config.MaxPlayers {
		return nil, events.Errorf(events.CodeTournamentFull, "tournament %s is full", tid)
	}
	if _, dup := st.Players[userID]; dup {
		return nil, events.Errorf(events.CodeDuplicateRegistration, "%s is already registered", userID)
	}

	next := st.clone()
	next.Players[userID] = &Player{
		UserID:   userID,
		Nickname: nickname,
		Chips:    st.Config.StartingChips,
		Active:   true,
	}
	next.PrizePool += st.Config.BuyIn
	next.refreshRanking()
	e.states[tid] = next

	e.updateRanking(ctx, next, userID)
	e.publish(events.TypePlayerRegistered, tid, map[string]any{
		"user_id":      userID,
		"nickname":     nickname,
		"player_count": len(next.Players),
		"prize_pool":   next.PrizePool,
	})
	return next.clone(), nil
}

// StartTournament seats the field and schedules the shotgun start after
// the countdown.
func (e *Engine) StartTournament(ctx context.Context, tid string) (*State, error) {
	unlock, err := e.lock(ctx, redlock.TournamentKey(tid))
	if err != nil {
		return nil, err
	}
	defer unlock()

	e.mu.Lock()
	st, ok := e.states[tid]
	if !ok {
		e.mu.Unlock()
		return nil, events.Errorf(events.CodeNotFound, "tournament %s not found", tid)
	}
	if st.Status != StatusRegistering {
		e.mu.Unlock()
		return nil, events.Errorf(events.CodeInvalidStatus, "tournament %s is %s, not REGISTERING", tid, st.Status)
	}
	if len(st.Players) < st.Config.MinPlayers {
		e.mu.Unlock()
		return nil, events.Errorf(events.CodeMinPlayersNotMet, "need %d players, have %d", st.Config.MinPlayers, len(st.Players))
	}

	next := st.clone()
	e.seatField(next)
	next.Status = StatusStarting
	next.TargetStartTime = e.clock.Now().UTC().Add(time.Duration(next.Config.CountdownSeconds) * time.Second)
	next.ITMThreshold = settlement.ITMCount(len(next.Players), next.Config.ITMPercent, next.Config.PayoutStructure)
	e.states[tid] = next
	snap := next.clone()
	e.mu.Unlock()

	e.saveSnapshot(ctx, snap)
	e.clock.AfterFunc(time.Duration(snap.Config.CountdownSeconds)*time.Second, func() {
		if err := e.ExecuteShotgunStart(context.Background(), tid); err != nil {
			e.log.Error().Err(err).Str("tournament_id", tid).Msg("shotgun start failed")
		}
	})

	e.publish(events.TypeTournamentStarted, tid, map[string]any{
		"target_start_time": snap.TargetStartTime,
		"player_count":      len(snap.Players),
		"table_count":       len(snap.Tables),
	})
	e.publish(events.TypeShotgunCountdown, tid, map[string]any{
		"seconds": snap.Config.CountdownSeconds,
	})
	return snap, nil
}

// seatField creates tables, distributes a shuffled field round-robin for
// a ±1 balance, and assigns random seats within each table.
func (e *Engine) seatField(st *State) {
	users := make([]string, 0, len(st.Players))
	for uid := range st.Players {
		users = append(users, uid)
	}
	sort.Strings(users)
	e.rng.Shuffle(len(users), func(i, j int) { users[i], users[j] = users[j], users[i] })

	numTables := (len(users) + st.Config.PlayersPerTable - 1) / st.Config.PlayersPerTable
	tables := make([]*Table, numTables)
	for i := range tables {
		tables[i] = &Table{
			ID:       fmt.Sprintf("%s-tbl-%d", st.Config.ID, i+1),
			Seats:    make([]string, st.Config.PlayersPerTable),
			MaxSeats: st.Config.PlayersPerTable,
		}
		st.Tables[tables[i].ID] = tables[i]
	}

	byTable := make([][]string, numTables)
	for i, uid := range users {
		byTable[i%numTables] = append(byTable[i%numTables], uid)
	}
	for ti, group := range byTable {
		seats := e.rng.Perm(st.Config.PlayersPerTable)
		for pi, uid := range group {
			seat := seats[pi]
			tables[ti].Seats[seat] = uid
			p := st.Players[uid]
			p.TableID = tables[ti].ID
			p.Seat = seat
		}
	}
}

// ExecuteShotgunStart flips the tournament to RUNNING and deals the first
// hand on every table at once.
func (e *Engine) ExecuteShotgunStart(ctx context.Context, tid string) error {
	e.mu.Lock()
	st, ok := e.states[tid]
	if !ok || st.Status != StatusStarting {
		e.mu.Unlock()
		if !ok {
			return events.Errorf(events.CodeNotFound, "tournament %s not found", tid)
		}
		return events.Errorf(events.CodeInvalidStatus, "tournament %s is %s, not STARTING", tid, st.Status)
	}
	next := st.clone()
	next.Status = StatusRunning
	next.StartedAt = e.clock.Now().UTC()
	next.CurrentLevel = 0
	next.LevelStartedAt = next.StartedAt
	if len(next.Config.BlindLevels) > 0 {
		next.NextLevelAt = next.StartedAt.Add(time.Duration(next.Config.BlindLevels[0].DurationMinutes) * time.Minute)
	}
	e.states[tid] = next
	snap := next.clone()
	e.mu.Unlock()

	if e.sched != nil {
		e.sched.Register(ctx, tid, snap.Config.BlindLevels, 0, 0)
	}
	if e.starter != nil {
		for id := range snap.Tables {
			go e.starter.StartTableHand(tid, id)
		}
	}
	e.saveSnapshot(ctx, snap)
	e.publish(events.TypeTournamentEvent, tid, map[string]any{
		"event":      "shotgun_start",
		"started_at": snap.StartedAt,
	})
	e.log.Info().Str("tournament_id", tid).Int("tables", len(snap.Tables)).Msg("shotgun start executed")
	return nil
}

// HandOutcome is what the game loop reports when a tournament hand ends.
// Eliminated lists busted players worst finish first; simultaneous
// bust-outs rank by starting stack, shortest stack worst.
type HandOutcome struct {
	Button     int
	FinalChips map[string]int64
	Winners    []string
	Eliminated []string
}

// CompleteHand applies a hand result: chip movements, eliminations,
// pending balancing moves and status transitions.
func (e *Engine) CompleteHand(ctx context.Context, tid, tableID string, out HandOutcome) (*State, error) {
	unlock, err := e.lock(ctx, redlock.TournamentKey(tid))
	if err != nil {
		return nil, err
	}
	defer unlock()

	e.mu.Lock()
	st, ok := e.states[tid]
	if !ok {
		e.mu.Unlock()
		return nil, events.Errorf(events.CodeNotFound, "tournament %s not found", tid)
	}
	next := st.clone()
	tbl, ok := next.Tables[tableID]
	if !ok {
		e.mu.Unlock()
		return nil, events.Errorf(events.CodeNotFound, "table %s not found in %s", tableID, tid)
	}

	activeBefore := next.ActiveCount()
	for uid, chips := range out.FinalChips {
		if p, ok := next.Players[uid]; ok {
			p.Chips = chips
		}
	}
	var eliminatedNow []*Player
	for i, uid := range out.Eliminated {
		p, ok := next.Players[uid]
		if !ok || !p.Active {
			continue
		}
		p.Active = false
		p.Chips = 0
		p.EliminationRank = activeBefore - i
		p.EliminatedAt = e.clock.Now().UTC()
		tbl.removeUser(uid)
		p.TableID = ""
		eliminatedNow = append(eliminatedNow, p)
	}
	tbl.Button = out.Button
	tbl.HandInProgress = false
	next.refreshRanking()

	// Queued balancing moves for this table run now that it is idle.
	applied := e.applyPendingLocked(next, tid, tableID)
	e.closeEmptyTables(next)

	active := next.ActiveCount()
	prevStatus := next.Status
	switch {
	case active <= 1:
		next.Status = StatusCompleted
	case active <= 2:
		next.Status = StatusHeadsUp
	case active <= next.Config.PlayersPerTable:
		next.Status = StatusFinalTable
	}
	e.states[tid] = next
	snap := next.clone()
	e.mu.Unlock()

	for uid := range out.FinalChips {
		e.updateRanking(ctx, snap, uid)
	}
	for _, p := range eliminatedNow {
		e.publish(events.TypePlayerEliminated, tid, map[string]any{
			"user_id": p.UserID,
			"rank":    p.EliminationRank,
		})
	}
	for _, m := range applied {
		e.publishMove(tid, m)
	}
	if e.snaps != nil {
		if err := e.snaps.DeleteHand(ctx, tid, tableID); err != nil {
			e.log.Warn().Err(err).Str("table_id", tableID).Msg("hand snapshot delete failed")
		}
	}
	e.publish(events.TypeTableHandCompleted, tid, map[string]any{
		"table_id":     tableID,
		"winners":      out.Winners,
		"active_count": active,
	})
	if snap.Status != prevStatus {
		e.publish(events.TypeTournamentEvent, tid, map[string]any{
			"event":  "status_changed",
			"status": snap.Status,
		})
	}

	if snap.Status == StatusCompleted {
		e.finish(ctx, snap)
	} else {
		e.saveSnapshot(ctx, snap)
	}
	return snap, nil
}

// finish settles prizes and tears down per-tournament resources.
func (e *Engine) finish(ctx context.Context, st *State) {
	tid := st.Config.ID
	if e.sched != nil {
		e.sched.Unregister(ctx, tid)
	}
	if e.settle != nil {
		standings := make([]settlement.Standing, 0, len(st.Players))
		for _, p := range st.Players {
			standings = append(standings, settlement.Standing{
				UserID:          p.UserID,
				Chips:           p.Chips,
				Active:          p.Active && p.Chips > 0,
				EliminationRank: p.EliminationRank,
			})
		}
		e.settle.Settle(ctx, tid, st.PrizePool, st.Config.ITMPercent, st.Config.PayoutStructure, standings)
	}
	e.saveSnapshot(ctx, st)
	if e.rank != nil {
		if err := e.rank.Cleanup(ctx, tid); err != nil {
			e.log.Warn().Err(err).Str("tournament_id", tid).Msg("ranking cleanup failed")
		}
	}
	e.log.Info().Str("tournament_id", tid).Int64("prize_pool", st.PrizePool).Msg("tournament completed")
}

// Pause freezes blind progression and play.
func (e *Engine) Pause(ctx context.Context, tid, reason string) error {
	e.mu.Lock()
	st, ok := e.states[tid]
	if !ok || !st.Status.running() {
		e.mu.Unlock()
		if !ok {
			return events.Errorf(events.CodeNotFound, "tournament %s not found", tid)
		}
		return events.Errorf(events.CodeInvalidStatus, "tournament %s is %s", tid, st.Status)
	}
	next := st.clone()
	next.PauseReason = reason
	next.Status = StatusPaused
	e.states[tid] = next
	e.mu.Unlock()

	if e.sched != nil {
		e.sched.Pause(tid)
	}
	e.publish(events.TypeTournamentPaused, tid, map[string]any{"reason": reason})
	return nil
}

// Resume restores play after a pause, recomputing the running status from
// the surviving field size.
func (e *Engine) Resume(ctx context.Context, tid string) error {
	e.mu.Lock()
	st, ok := e.states[tid]
	if !ok || st.Status != StatusPaused {
		e.mu.Unlock()
		if !ok {
			return events.Errorf(events.CodeNotFound, "tournament %s not found", tid)
		}
		return events.Errorf(events.CodeInvalidStatus, "tournament %s is %s, not PAUSED", tid, st.Status)
	}
	next := st.clone()
	next.PauseReason = ""
	switch active := next.ActiveCount(); {
	case active <= 2:
		next.Status = StatusHeadsUp
	case active <= next.Config.PlayersPerTable:
		next.Status = StatusFinalTable
	default:
		next.Status = StatusRunning
	}
	e.states[tid] = next
	e.mu.Unlock()

	if e.sched != nil {
		e.sched.Resume(tid)
	}
	e.publish(events.TypeTournamentResumed, tid, nil)
	return nil
}

// Cancel terminates a tournament before completion.
func (e *Engine) Cancel(ctx context.Context, tid, reason string) error {
	e.mu.Lock()
	st, ok := e.states[tid]
	if !ok || st.Status.Terminal() {
		e.mu.Unlock()
		if !ok {
			return events.Errorf(events.CodeNotFound, "tournament %s not found", tid)
		}
		return events.Errorf(events.CodeInvalidStatus, "tournament %s is already %s", tid, st.Status)
	}
	next := st.clone()
	next.Status = StatusCancelled
	next.PauseReason = reason
	e.states[tid] = next
	snap := next.clone()
	e.mu.Unlock()

	if e.sched != nil {
		e.sched.Unregister(ctx, tid)
	}
	e.saveSnapshot(ctx, snap)
	if e.rank != nil {
		_ = e.rank.Cleanup(ctx, tid)
	}
	e.publish(events.TypeTournamentCancelled, tid, map[string]any{"reason": reason})
	return nil
}

// MarkHandStarted flags a table as mid-hand so the balancer defers moves.
func (e *Engine) MarkHandStarted(tid, tableID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[tid]
	if !ok {
		return
	}
	if tbl, ok := st.Tables[tableID]; ok && !tbl.HandInProgress {
		next := st.clone()
		next.Tables[tableID].HandInProgress = true
		e.states[tid] = next
	}
}

// RunBalancing drives the balancing loop until ctx is cancelled.
func (e *Engine) RunBalancing(ctx context.Context) error {
	waiter := e.clock.TickerFunc(ctx, balanceInterval, func() error {
		e.balanceAll(ctx)
		return nil
	}, "balancer")
	err := waiter.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (e *Engine) balanceAll(ctx context.Context) {
	e.mu.Lock()
	var running []string
	for tid, st := range e.states {
		if st.Status.running() && len(st.Tables) > 1 {
			running = append(running, tid)
		}
	}
	e.mu.Unlock()

	for _, tid := range running {
		e.balanceTournament(ctx, tid)
	}
}

func (e *Engine) balanceTournament(ctx context.Context, tid string) {
	if e.locks != nil {
		lock, ok, err := e.locks.TryAcquire(ctx, redlock.TablesKey(tid))
		if err != nil || !ok {
			return
		}
		defer func() { _ = lock.Release(ctx) }()
	}

	e.mu.Lock()
	st, ok := e.states[tid]
	if !ok || len(e.pending[tid]) > 0 {
		e.mu.Unlock()
		return
	}
	plan := ComputePlan(st)
	if plan.Empty() {
		e.mu.Unlock()
		return
	}

	next := st.clone()
	var applied []Move
	for _, m := range plan.Moves {
		if m.ExecuteAfterHand {
			e.pending[tid] = append(e.pending[tid], m)
			continue
		}
		if e.applyMoveLocked(next, m) {
			applied = append(applied, m)
		}
	}
	e.closeEmptyTables(next)
	e.states[tid] = next
	snap := next.clone()
	e.mu.Unlock()

	for _, m := range applied {
		e.publishMove(tid, m)
	}
	if len(applied) > 0 {
		e.saveSnapshot(ctx, snap)
		e.log.Info().Str("tournament_id", tid).Int("moves", len(applied)).
			Int("deferred", len(plan.Moves)-len(applied)).Msg("balancing plan executed")
	}
}

// applyPendingLocked executes queued moves whose source table just went
// idle. Caller holds e.mu.
func (e *Engine) applyPendingLocked(st *State, tid, tableID string) []Move {
	queue := e.pending[tid]
	if len(queue) == 0 {
		return nil
	}
	var applied []Move
	var still []Move
	for _, m := range queue {
		if m.FromTable != tableID {
			still = append(still, m)
			continue
		}
		if e.applyMoveLocked(st, m) {
			applied = append(applied, m)
		}
	}
	e.pending[tid] = still
	return applied
}

// applyMoveLocked relocates one player. Caller holds e.mu.
func (e *Engine) applyMoveLocked(st *State, m Move) bool {
	src, okSrc := st.Tables[m.FromTable]
	dst, okDst := st.Tables[m.ToTable]
	p, okP := st.Players[m.UserID]
	if !okSrc || !okDst || !okP || !p.Active {
		return false
	}
	seat := m.Seat
	if seat < 0 || seat >= len(dst.Seats) || dst.Seats[seat] != "" {
		seat = dst.firstEmptySeat()
		if seat < 0 {
			return false
		}
	}
	src.removeUser(m.UserID)
	dst.Seats[seat] = m.UserID
	p.TableID = m.ToTable
	p.Seat = seat
	return true
}

// closeEmptyTables removes tables nobody sits at. Caller holds e.mu.
func (e *Engine) closeEmptyTables(st *State) {
	for id, t := range st.Tables {
		if t.PlayerCount() == 0 && !t.HandInProgress && len(st.Tables) > 1 {
			delete(st.Tables, id)
		}
	}
}

// Recover rehydrates non-terminal tournaments from snapshots and
// schedules delayed hand restarts on idle tables.
func (e *Engine) Recover(ctx context.Context) error {
	if e.snaps == nil {
		return nil
	}
	ids, err := e.snaps.ListTournamentIDs(ctx)
	if err != nil {
		return err
	}
	for _, tid := range ids {
		blob, meta, err := e.snaps.LoadFull(ctx, tid)
		if err != nil {
			e.log.Error().Err(err).Str("tournament_id", tid).Msg("snapshot load failed, skipping")
			continue
		}
		if Status(meta.Status).Terminal() {
			_ = e.snaps.Delete(ctx, tid)
			continue
		}
		st, err := UnmarshalState(blob)
		if err != nil {
			e.log.Error().Err(err).Str("tournament_id", tid).Msg("snapshot decode failed, skipping")
			continue
		}
		if st.Status.Terminal() {
			_ = e.snaps.Delete(ctx, tid)
			continue
		}

		// In-flight hands did not survive the crash; restart them fresh.
		for _, t := range st.Tables {
			t.HandInProgress = false
		}
		e.mu.Lock()
		e.states[tid] = st
		e.mu.Unlock()

		e.resyncRanking(ctx, st)
		e.recoverSchedule(ctx, st)

		if e.starter != nil && st.Status.running() {
			for id, t := range st.Tables {
				if t.PlayerCount() >= 2 {
					tableID := id
					e.clock.AfterFunc(restartDelay, func() {
						e.starter.StartTableHand(tid, tableID)
					})
				}
			}
		}
		e.log.Info().Str("tournament_id", tid).Str("status", string(st.Status)).
			Int("players", len(st.Players)).Msg("tournament recovered")
	}
	return nil
}

func (e *Engine) resyncRanking(ctx context.Context, st *State) {
	if e.rank == nil {
		return
	}
	tid := st.Config.ID
	e.rank.Register(tid)
	players := make(map[string]ranking.PlayerState, len(st.Players))
	for uid, p := range st.Players {
		players[uid] = ranking.PlayerState{
			Chips: p.Chips,
			Info: ranking.PlayerInfo{
				Nickname: p.Nickname,
				TableID:  p.TableID,
				Active:   p.Active && p.Chips > 0,
			},
		}
	}
	if err := e.rank.SyncFromState(ctx, tid, players); err != nil {
		e.log.Warn().Err(err).Str("tournament_id", tid).Msg("ranking resync failed")
	}
}

func (e *Engine) recoverSchedule(ctx context.Context, st *State) {
	if e.sched == nil || !st.Status.running() {
		return
	}
	tid := st.Config.ID
	levels, current, elapsed, found, err := e.sched.LoadState(ctx, tid)
	if err != nil || !found {
		if err != nil {
			e.log.Warn().Err(err).Str("tournament_id", tid).Msg("scheduler state load failed")
		}
		levels, current, elapsed = st.Config.BlindLevels, st.CurrentLevel, 0
	}
	e.sched.Register(ctx, tid, levels, current, elapsed)
}

func (e *Engine) onBlindWarning(tid string, levelIndex, secondsRemaining int) {
	e.publish(events.TypeBlindIncreaseWarning, tid, map[string]any{
		"level":             levelIndex,
		"seconds_remaining": secondsRemaining,
	})
}

func (e *Engine) onBlindLevelChange(tid string, level blinds.Level, nextAt time.Time) {
	e.mu.Lock()
	st, ok := e.states[tid]
	if !ok {
		e.mu.Unlock()
		return
	}
	next := st.clone()
	next.CurrentLevel = level.Index
	next.LevelStartedAt = e.clock.Now().UTC()
	next.NextLevelAt = nextAt
	e.states[tid] = next
	snap := next.clone()
	e.mu.Unlock()

	e.saveSnapshot(context.Background(), snap)
	e.publish(events.TypeBlindLevelChanged, tid, map[string]any{
		"level":         level.Index,
		"small_blind":   level.SmallBlind,
		"big_blind":     level.BigBlind,
		"ante":          level.Ante,
		"next_level_at": nextAt,
	})
}

// CurrentBlinds returns the live blind level for a running tournament.
func (e *Engine) CurrentBlinds(tid string) (blinds.Level, bool) {
	if e.sched != nil {
		if level, ok := e.sched.CurrentLevel(tid); ok {
			return level, true
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[tid]
	if !ok || st.CurrentLevel >= len(st.Config.BlindLevels) {
		return blinds.Level{}, false
	}
	return st.Config.BlindLevels[st.CurrentLevel], true
}

func (e *Engine) saveSnapshot(ctx context.Context, st *State) {
	if e.snaps == nil {
		return
	}
	raw, err := st.Marshal()
	if err != nil {
		e.log.Error().Err(err).Str("tournament_id", st.Config.ID).Msg("state marshal failed")
		return
	}
	if err := e.snaps.SaveFull(ctx, st.Config.ID, raw, string(st.Status)); err != nil {
		e.log.Warn().Err(err).Str("tournament_id", st.Config.ID).Msg("snapshot save failed")
	}
}

func (e *Engine) updateRanking(ctx context.Context, st *State, userID string) {
	if e.rank == nil {
		return
	}
	p, ok := st.Players[userID]
	if !ok {
		return
	}
	err := e.rank.UpdateChips(ctx, st.Config.ID, userID, p.Chips, ranking.PlayerInfo{
		Nickname: p.Nickname,
		TableID:  p.TableID,
		Active:   p.Active && p.Chips > 0,
	})
	if err != nil {
		e.log.Warn().Err(err).Str("user_id", userID).Msg("ranking update failed")
	}
}

func (e *Engine) publishMove(tid string, m Move) {
	e.publish(events.TypePlayerMove, tid, map[string]any{
		"user_id":    m.UserID,
		"from_table": m.FromTable,
		"to_table":   m.ToTable,
		"seat":       m.Seat,
		"priority":   m.Priority,
	})
}

func (e *Engine) publish(t events.Type, tid string, payload map[string]any) {
	if e.bus == nil {
		return
	}
	ev := events.New(t, payload)
	ev.TournamentID = tid
	e.bus.Publish(ev)
}

// lock acquires a distributed lock, or no-ops when locks are disabled.
func (e *Engine) lock(ctx context.Context, key string) (func(), error) {
	if e.locks == nil {
		return func() {}, nil
	}
	l, err := e.locks.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	return func() { _ = l.Release(ctx) }, nil
}
