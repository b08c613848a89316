// Package gameloop sequences hands on tables: starting them, pacing bot
// turns, prompting humans, broadcasting personalized state, and scheduling
// the next hand after results are shown.
package gameloop

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/cardroomlabs/cardroom/internal/bots"
	"github.com/cardroomlabs/cardroom/internal/events"
	"github.com/cardroomlabs/cardroom/internal/table"
)

// Broadcaster is the outbound event surface, implemented by the gateway.
type Broadcaster interface {
	BroadcastToChannel(channel string, ev events.Event)
	SendToUser(userID string, ev events.Event)
}

// BotPool is the orchestrator surface the loop consults on bot turns.
type BotPool interface {
	StrategyFor(userID string) (bots.Strategy, bool)
	NotifyHandComplete(userID, tableID string, newStack, wonAmount int)
}

// Config paces the loop.
type Config struct {
	MaxIterations        int
	ActorRetries         int
	ActorRetryDelay      time.Duration
	PhaseTransitionDelay time.Duration
	HandResultDisplay    time.Duration
	ThinkMin             time.Duration
	ThinkMode            time.Duration
	ThinkMax             time.Duration
	PauseChance          float64
	TurnTimeout          time.Duration
	HistoryLimit         int
}

// DefaultConfig mirrors production pacing.
func DefaultConfig() Config {
	return Config{
		MaxIterations:        50,
		ActorRetries:         5,
		ActorRetryDelay:      300 * time.Millisecond,
		PhaseTransitionDelay: time.Second,
		HandResultDisplay:    3 * time.Second,
		ThinkMin:             time.Second,
		ThinkMode:            2 * time.Second,
		ThinkMax:             3 * time.Second,
		PauseChance:          0.2,
		TurnTimeout:          30 * time.Second,
		HistoryLimit:         10,
	}
}

// Loop runs hands on tables. One Loop serves every table; the processing
// set serializes per-table hand starts while bot turns run unlocked.
type Loop struct {
	cfg   Config
	clock quartz.Clock
	bcast Broadcaster
	pool  BotPool
	log   zerolog.Logger

	mu         sync.Mutex
	rng        *rand.Rand
	processing map[string]bool

	// onHandComplete lets tournament wiring consume table results.
	onHandComplete func(tbl *table.Table, result *table.HandResult)
}

// NewLoop builds a game loop. bcast and pool may be nil in tests.
func NewLoop(cfg Config, clock quartz.Clock, bcast Broadcaster, pool BotPool, log zerolog.Logger) *Loop {
	if cfg.MaxIterations == 0 {
		cfg = DefaultConfig()
	}
	return &Loop{
		cfg:        cfg,
		clock:      clock,
		bcast:      bcast,
		pool:       pool,
		log:        log.With().Str("component", "gameloop").Logger(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		processing: make(map[string]bool),
	}
}

// SetHandCompleteHook installs the tournament result consumer.
func (l *Loop) SetHandCompleteHook(fn func(tbl *table.Table, result *table.HandResult)) {
	l.onHandComplete = fn
}

// TryStartGame starts a hand if the table can deal one. Returns false when
// the table is already being processed or cannot start.
func (l *Loop) TryStartGame(tbl *table.Table) bool {
	tableID := tbl.ID()
	l.mu.Lock()
	if l.processing[tableID] {
		l.mu.Unlock()
		return false
	}
	l.processing[tableID] = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.processing, tableID)
		l.mu.Unlock()
	}()

	tbl.ActivateBBWaitersForNextHand()
	if !tbl.CanStartHand() {
		return false
	}
	hs, err := tbl.StartNewHand()
	if err != nil {
		return false
	}

	l.broadcast(tableID, events.TypeHandStarted, map[string]any{
		"hand_number": hs.HandNumber,
		"dealer_seat": hs.DealerSeat,
		"activated":   hs.AutoActivatedSeats,
	})
	l.broadcastSnapshots(tbl)
	l.sleep(l.cfg.PhaseTransitionDelay)

	if hs.Completed != nil {
		// Blinds put everyone all-in and the hand ran out immediately.
		l.finishHand(tbl, hs.Completed)
		return true
	}
	l.processBotTurns(tbl)
	return true
}

// ProcessBotTurns drives bot actions on a table outside the start guard,
// used when a human action hands the turn to a bot.
func (l *Loop) ProcessBotTurns(tbl *table.Table) {
	l.processBotTurns(tbl)
}

func (l *Loop) processBotTurns(tbl *table.Table) {
	tableID := tbl.ID()
	for iter := 0; iter < l.cfg.MaxIterations; iter++ {
		if tbl.Phase() == table.Waiting {
			return
		}
		seat := l.waitForActor(tbl)
		if seat < 0 {
			l.log.Warn().Str("table_id", tableID).Msg("no actor after retries, abandoning loop")
			return
		}
		p := tbl.PlayerBySeat(seat)
		if p == nil {
			return
		}
		if !p.IsBot {
			l.broadcast(tableID, events.TypeTurnChanged, map[string]any{"seat": seat})
			l.promptHuman(tbl, p)
			return
		}

		l.sleep(l.thinkDelay())
		if tbl.CurrentTurnSeat() != seat || tbl.Phase() == table.Waiting {
			continue
		}

		opts := l.actionsWithRetry(tbl, p.UserID)
		if len(opts.Actions) == 0 {
			l.log.Warn().Str("table_id", tableID).Int("seat", seat).Msg("no available actions for bot")
			return
		}
		action, amount := l.decide(tbl, p, opts)
		res, err := tbl.ProcessAction(p.UserID, action, amount)
		if err != nil {
			res, err = l.fallbackAction(tbl, p.UserID, opts)
			if err != nil {
				l.log.Error().Err(err).Str("table_id", tableID).Int("seat", seat).Msg("bot action failed")
				return
			}
		}

		l.broadcast(tableID, events.TypePlayerAction, map[string]any{
			"seat":   res.Seat,
			"action": res.Action,
			"amount": res.Amount,
		})

		if res.HandComplete {
			l.finishHand(tbl, res.Result)
			return
		}
		if res.PhaseChanged {
			l.broadcast(tableID, events.TypeCommunityCards, map[string]any{
				"phase": res.Phase.String(),
			})
			l.broadcastSnapshots(tbl)
			l.sleep(l.cfg.PhaseTransitionDelay)
			continue
		}
		l.broadcast(tableID, events.TypeTurnChanged, map[string]any{"seat": tbl.CurrentTurnSeat()})
	}
	l.log.Warn().Str("table_id", tableID).Int("cap", l.cfg.MaxIterations).Msg("bot turn loop hit iteration cap")
}

// waitForActor polls for a turn pointer with back-off.
func (l *Loop) waitForActor(tbl *table.Table) int {
	seat := tbl.CurrentTurnSeat()
	for i := 0; seat < 0 && i < l.cfg.ActorRetries; i++ {
		if tbl.Phase() == table.Waiting {
			return -1
		}
		l.sleep(l.cfg.ActorRetryDelay)
		seat = tbl.CurrentTurnSeat()
	}
	return seat
}

func (l *Loop) actionsWithRetry(tbl *table.Table, userID string) table.ActionOptions {
	opts := tbl.AvailableActions(userID)
	for i := 0; len(opts.Actions) == 0 && i < 3; i++ {
		l.sleep(l.cfg.ActorRetryDelay)
		opts = tbl.AvailableActions(userID)
	}
	return opts
}

// decide asks the orchestrator's strategy when the bot has one, otherwise
// applies the trivial heuristic: mostly check or call, sometimes fold.
func (l *Loop) decide(tbl *table.Table, p *table.Player, opts table.ActionOptions) (string, int) {
	if l.pool != nil {
		if strat, ok := l.pool.StrategyFor(p.UserID); ok {
			return strat.Decide(l.lockedRng(), l.buildContext(tbl, p, opts))
		}
	}
	for _, a := range opts.Actions {
		if a == "check" {
			return "check", 0
		}
	}
	if l.roll() < 0.7 {
		for _, a := range opts.Actions {
			if a == "call" {
				return "call", 0
			}
		}
	}
	return "fold", 0
}

func (l *Loop) buildContext(tbl *table.Table, p *table.Player, opts table.ActionOptions) bots.GameContext {
	view := tbl.ViewFor(p.UserID)
	hole := make([]string, 0, len(p.Hole))
	for _, c := range p.Hole {
		hole = append(hole, string(c))
	}
	board := make([]string, 0, len(view.Board))
	for _, c := range view.Board {
		board = append(board, string(c))
	}
	numActive := 0
	for _, sv := range view.Seats {
		if sv.Status == "active" || sv.Status == "all_in" {
			numActive++
		}
	}
	return bots.GameContext{
		Actions:        opts.Actions,
		CallAmount:     opts.CallAmount,
		MinRaise:       opts.MinRaise,
		MaxRaise:       opts.MaxRaise,
		Stack:          p.Stack,
		CurrentBet:     view.CurrentBet,
		Position:       p.Seat,
		HoleCards:      hole,
		CommunityCards: board,
		Pot:            view.Pot,
		Phase:          view.Phase,
		BigBlind:       view.BigBlind,
		NumSeats:       len(view.Seats),
		NumActive:      numActive,
	}
}

// fallbackAction recovers from a rejected decision with the safest legal
// action: check, then call, then fold.
func (l *Loop) fallbackAction(tbl *table.Table, userID string, opts table.ActionOptions) (*table.ActionResult, error) {
	for _, a := range []string{"check", "call", "fold"} {
		for _, have := range opts.Actions {
			if have != a {
				continue
			}
			res, err := tbl.ProcessAction(userID, a, 0)
			if err == nil {
				return res, nil
			}
		}
	}
	return tbl.ProcessAction(userID, "fold", 0)
}

// finishHand broadcasts results, settles bot bookkeeping and schedules the
// next hand.
func (l *Loop) finishHand(tbl *table.Table, result *table.HandResult) {
	tableID := tbl.ID()
	l.broadcast(tableID, events.TypeHandResult, map[string]any{"result": result})
	l.broadcast(tableID, events.TypeTableStateUpdate, map[string]any{"phase": tbl.Phase().String()})
	l.broadcastSnapshots(tbl)

	if l.pool != nil {
		won := make(map[int]int, len(result.Winners))
		for _, w := range result.Winners {
			won[w.Seat] = w.Amount
		}
		for seat, stack := range result.FinalStacks {
			p := tbl.PlayerBySeat(seat)
			if p == nil || !p.IsBot {
				continue
			}
			l.pool.NotifyHandComplete(p.UserID, tableID, stack, won[seat])
		}
	}
	if l.onHandComplete != nil {
		l.onHandComplete(tbl, result)
	}
	tbl.TrimHistory(l.cfg.HistoryLimit)

	l.clock.AfterFunc(l.cfg.HandResultDisplay+2*time.Second, func() {
		l.TryStartGame(tbl)
	})
}

// HandleTurnTimeout folds (or checks) for a player whose clock ran out.
func (l *Loop) HandleTurnTimeout(tbl *table.Table) {
	seat := tbl.CurrentTurnSeat()
	if seat < 0 || tbl.Phase() == table.Waiting {
		return
	}
	p := tbl.PlayerBySeat(seat)
	if p == nil {
		return
	}
	opts := tbl.AvailableActions(p.UserID)
	action := "fold"
	for _, a := range opts.Actions {
		if a == "check" {
			action = "check"
		}
	}
	res, err := tbl.ProcessAction(p.UserID, action, 0)
	if err != nil {
		l.log.Warn().Err(err).Str("table_id", tbl.ID()).Int("seat", seat).Msg("timeout action failed")
		return
	}
	l.broadcast(tbl.ID(), events.TypeTimeoutFold, map[string]any{
		"seat":   seat,
		"action": action,
	})
	if res.HandComplete {
		l.finishHand(tbl, res.Result)
		return
	}
	go l.processBotTurns(tbl)
}

// promptHuman sends the turn prompt with the actor's available actions.
func (l *Loop) promptHuman(tbl *table.Table, p *table.Player) {
	if l.bcast == nil {
		return
	}
	opts := tbl.AvailableActions(p.UserID)
	ev := events.New(events.TypeTurnPrompt, map[string]any{
		"table_id": tbl.ID(),
		"seat":     p.Seat,
		"options":  opts,
		"deadline": l.clock.Now().Add(l.cfg.TurnTimeout),
	})
	ev.TableID = tbl.ID()
	ev.UserID = p.UserID
	l.bcast.SendToUser(p.UserID, ev)
}

// broadcastSnapshots sends each seated player their personalized view and
// the channel a spectator view.
func (l *Loop) broadcastSnapshots(tbl *table.Table) {
	if l.bcast == nil {
		return
	}
	for seat := 0; seat < tbl.Config().MaxSeats; seat++ {
		p := tbl.PlayerBySeat(seat)
		if p == nil {
			continue
		}
		ev := events.New(events.TypeTableSnapshot, map[string]any{"view": tbl.ViewFor(p.UserID)})
		ev.TableID = tbl.ID()
		ev.UserID = p.UserID
		l.bcast.SendToUser(p.UserID, ev)
	}
	ev := events.New(events.TypeTableSnapshot, map[string]any{"view": tbl.ViewFor("")})
	ev.TableID = tbl.ID()
	l.bcast.BroadcastToChannel("table:"+tbl.ID(), ev)
}

func (l *Loop) broadcast(tableID string, t events.Type, payload map[string]any) {
	if l.bcast == nil {
		return
	}
	ev := events.New(t, payload)
	ev.TableID = tableID
	l.bcast.BroadcastToChannel("table:"+tableID, ev)
}

// thinkDelay draws a triangular "thinking" time, occasionally stretched by
// an extra pause so bots do not feel metronomic.
func (l *Loop) thinkDelay() time.Duration {
	min := float64(l.cfg.ThinkMin)
	mode := float64(l.cfg.ThinkMode)
	max := float64(l.cfg.ThinkMax)
	if max <= min {
		return l.cfg.ThinkMin
	}
	u := l.roll()
	cut := (mode - min) / (max - min)
	var d float64
	if u < cut {
		d = min + math.Sqrt(u*(max-min)*(mode-min))
	} else {
		d = max - math.Sqrt((1-u)*(max-min)*(max-mode))
	}
	delay := time.Duration(d)
	if l.roll() < l.cfg.PauseChance {
		delay += time.Second + time.Duration(l.roll()*float64(time.Second))
	}
	return delay
}

func (l *Loop) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	timer := l.clock.NewTimer(d)
	<-timer.C
}

func (l *Loop) roll() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64()
}

func (l *Loop) lockedRng() *rand.Rand {
	// Strategies draw few values; a fresh source seeded from the shared
	// rng keeps them off the loop mutex.
	l.mu.Lock()
	defer l.mu.Unlock()
	return rand.New(rand.NewSource(l.rng.Int63()))
}
