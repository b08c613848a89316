// Package table hosts the in-memory hold'em table: seats, phases, the turn
// pointer, under-raise tracking, chip sync against the rules snapshot, and
// hand result construction.
package table

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/cardroomlabs/cardroom/internal/events"
	"github.com/cardroomlabs/cardroom/internal/integrity"
	"github.com/cardroomlabs/cardroom/internal/rules"
)

// Phase is the table's hand phase. WAITING means no hand is live.
type Phase int

const (
	Waiting Phase = iota
	Preflop
	Flop
	Turn
	River
	ShowdownPhase
)

func (p Phase) String() string {
	return [...]string{"WAITING", "PREFLOP", "FLOP", "TURN", "RIVER", "SHOWDOWN"}[p]
}

// Config is the immutable table configuration.
type Config struct {
	ID         string
	SmallBlind int
	BigBlind   int
	Ante       int
	MinBuyIn   int
	MaxBuyIn   int
	MaxSeats   int // 6 or 9
}

// IntegrityChecker is the chip-integrity surface the table consumes.
type IntegrityChecker interface {
	CaptureHandStart(tableID string, handNumber int, stacks map[int]int) integrity.ChipSnapshot
	ValidateHandCompletion(tableID string, finalStacks map[int]int, rakeCollected int) (integrity.Result, error)
}

// ActionRecord is one applied action in the per-hand log.
type ActionRecord struct {
	Seat   int       `json:"seat"`
	UserID string    `json:"user_id"`
	Action string    `json:"action"`
	Amount int       `json:"amount,omitempty"`
	At     time.Time `json:"at"`
}

var ErrCannotStartHand = errors.New("cannot start hand")

// Table is a single cash or tournament table. All exported methods take the
// table mutex; callers never hold it.
type Table struct {
	mu  sync.Mutex
	cfg Config
	rng *rand.Rand
	log zerolog.Logger

	clock     quartz.Clock
	integrity IntegrityChecker

	seats []*Player

	phase      Phase
	handNumber int
	dealerSeat int

	snap    rules.Snapshot
	hasSnap bool

	// Positional mapping for the live hand.
	seatByIndex []int
	indexBySeat map[int]int

	pot             int
	board           []rules.Card
	currentTurnSeat int

	// WSOP under-raise tracking.
	lastFullRaise    int
	actedOnFullRaise map[int]bool
	underRaiseActive bool

	startingStacks map[int]int
	actionLog      []ActionRecord
	handStartedAt  time.Time
	turnStartedAt  time.Time
	sawFlop        bool

	pendingSitOut map[int]bool
	history       []HandResult

	// createHand is swapped in tests to deal from a fixed deck.
	createHand func(rng *rand.Rand, stacks []int, sb, bb, ante int) (rules.Snapshot, error)
}

// New creates an empty table.
func New(cfg Config, rng *rand.Rand, clock quartz.Clock, ic IntegrityChecker, log zerolog.Logger) *Table {
	if _, ok := seatOrders[cfg.MaxSeats]; !ok {
		cfg.MaxSeats = 9
	}
	return &Table{
		cfg:             cfg,
		rng:             rng,
		log:             log.With().Str("component", "table").Str("table_id", cfg.ID).Logger(),
		clock:           clock,
		integrity:       ic,
		seats:           make([]*Player, cfg.MaxSeats),
		dealerSeat:       -1,
		currentTurnSeat:  -1,
		actedOnFullRaise: make(map[int]bool),
		pendingSitOut:    make(map[int]bool),
		createHand:       rules.CreateHand,
	}
}

// ID returns the table identifier.
func (t *Table) ID() string { return t.cfg.ID }

// Config returns the immutable configuration.
func (t *Table) Config() Config { return t.cfg }

// Phase returns the current hand phase.
func (t *Table) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// HandNumber returns the number of the current (or last) hand.
func (t *Table) HandNumber() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handNumber
}

// CurrentTurnSeat returns the seat to act, -1 when none.
func (t *Table) CurrentTurnSeat() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentTurnSeat
}

// TurnStartedAt returns when the current turn began.
func (t *Table) TurnStartedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.turnStartedAt
}

// OccupiedCount returns the number of seated players.
func (t *Table) OccupiedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, p := range t.seats {
		if p != nil {
			n++
		}
	}
	return n
}

// PlayerBySeat returns a copy of the player at seat, or nil.
func (t *Table) PlayerBySeat(seat int) *Player {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seat < 0 || seat >= len(t.seats) || t.seats[seat] == nil {
		return nil
	}
	cp := *t.seats[seat]
	cp.Hole = append([]rules.Card(nil), cp.Hole...)
	return &cp
}

// PlayerByUser returns a copy of the seated player with the given user ID.
func (t *Table) PlayerByUser(userID string) *Player {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.seats {
		if p != nil && p.UserID == userID {
			cp := *p
			cp.Hole = append([]rules.Card(nil), cp.Hole...)
			return &cp
		}
	}
	return nil
}

// SeatPlayer seats a new player. Arrivals default to sitting_out and wait
// for the big blind.
func (t *Table) SeatPlayer(seat int, userID, name string, buyIn int, isBot bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if seat < 0 || seat >= len(t.seats) {
		return events.Errorf(events.CodeSeatOccupied, "seat %d does not exist", seat)
	}
	if t.seats[seat] != nil {
		return events.Errorf(events.CodeSeatOccupied, "seat %d is taken", seat)
	}
	for _, p := range t.seats {
		if p != nil && p.UserID == userID {
			return events.Errorf(events.CodeAlreadySeated, "user %s is already seated at %d", userID, p.Seat)
		}
	}
	if buyIn < t.cfg.MinBuyIn || buyIn > t.cfg.MaxBuyIn {
		return events.Errorf(events.CodeBuyinOutOfRange,
			"buy-in %d outside [%d, %d]", buyIn, t.cfg.MinBuyIn, t.cfg.MaxBuyIn)
	}

	t.seats[seat] = &Player{
		UserID: userID,
		Name:   name,
		Seat:   seat,
		Stack:  buyIn,
		Status: StatusSittingOut,
		IsBot:  isBot,
	}
	t.log.Info().Str("user_id", userID).Int("seat", seat).Int("buy_in", buyIn).Msg("player seated")
	return nil
}

// SitIn activates a sitting-out player for the next hand.
func (t *Table) SitIn(seat int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.playerAt(seat)
	if p == nil {
		return events.Errorf(events.CodeInvalidAction, "seat %d is empty", seat)
	}
	if p.Status == StatusSittingOut {
		p.Status = StatusActive
	}
	delete(t.pendingSitOut, seat)
	return nil
}

// SitOut marks a seat as sitting out. If the player is in the current hand
// the change is deferred until the hand completes; their turns fold out via
// the game loop timeout in the meantime.
func (t *Table) SitOut(seat int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.playerAt(seat)
	if p == nil {
		return events.Errorf(events.CodeInvalidAction, "seat %d is empty", seat)
	}
	if t.phase != Waiting && p.InHand() {
		t.pendingSitOut[seat] = true
		return nil
	}
	p.Status = StatusSittingOut
	return nil
}

// RemovePlayer frees the seat and returns the departing player's stack.
func (t *Table) RemovePlayer(userID string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for seat, p := range t.seats {
		if p != nil && p.UserID == userID {
			stack := p.Stack
			t.seats[seat] = nil
			delete(t.pendingSitOut, seat)
			return stack, nil
		}
	}
	return 0, events.Errorf(events.CodeInvalidAction, "user %s is not seated", userID)
}

// Rebuy tops up a zero-stack player within the buy-in range.
func (t *Table) Rebuy(userID string, amount int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.seats {
		if p != nil && p.UserID == userID {
			if p.Stack+amount > t.cfg.MaxBuyIn || amount < t.cfg.MinBuyIn-p.Stack {
				return events.Errorf(events.CodeBuyinOutOfRange,
					"rebuy of %d leaves stack outside [%d, %d]", amount, t.cfg.MinBuyIn, t.cfg.MaxBuyIn)
			}
			p.Stack += amount
			return nil
		}
	}
	return events.Errorf(events.CodeInvalidAction, "user %s is not seated", userID)
}

// CanStartHand reports whether a new hand may begin.
func (t *Table) CanStartHand() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase == Waiting && len(t.activeSeats()) >= 2
}

// ActivateBBWaitersForNextHand flips sitting-out players to active when the
// next hand's big blind lands on them. Considers the full seated set so a
// waiter cannot be skipped by dealer movement among actives. Idempotent.
// Returns the seats flipped.
func (t *Table) ActivateBBWaitersForNextHand() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activateBBWaiters()
}

func (t *Table) activateBBWaiters() []int {
	occupied := t.occupiedSet()
	if len(occupied) < 2 {
		return nil
	}

	dealer := t.nextDealer()
	if dealer < 0 {
		return nil
	}
	var bbSeat int
	if len(occupied) == 2 {
		bbSeat = nextClockwise(t.cfg.MaxSeats, dealer, occupied)
	} else {
		sbSeat := nextClockwise(t.cfg.MaxSeats, dealer, occupied)
		bbSeat = nextClockwise(t.cfg.MaxSeats, sbSeat, occupied)
	}
	if bbSeat < 0 {
		return nil
	}
	p := t.playerAt(bbSeat)
	if p != nil && p.Status == StatusSittingOut && !t.pendingSitOut[bbSeat] {
		p.Status = StatusActive
		t.log.Debug().Int("seat", bbSeat).Msg("big blind waiter activated")
		return []int{bbSeat}
	}
	return nil
}

// nextDealer computes where the button lands for the next hand without
// moving it.
func (t *Table) nextDealer() int {
	active := t.activeSet()
	if len(active) == 0 {
		return -1
	}
	if t.dealerSeat < 0 {
		for _, seat := range seatOrders[t.cfg.MaxSeats] {
			if active[seat] {
				return seat
			}
		}
		return -1
	}
	if next := nextClockwise(t.cfg.MaxSeats, t.dealerSeat, active); next >= 0 {
		return next
	}
	if active[t.dealerSeat] {
		return t.dealerSeat
	}
	return -1
}

// HandStart is the result of StartNewHand.
type HandStart struct {
	HandNumber         int
	DealerSeat         int
	AutoActivatedSeats []int
	// Completed is set in the degenerate case where blinds put everyone
	// all-in and the hand resolved without any action.
	Completed *HandResult
}

// StartNewHand begins a new hand: moves the button, activates big-blind
// waiters, orders active players positionally, seals a chip snapshot and
// deals.
func (t *Table) StartNewHand() (*HandStart, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.phase != Waiting {
		return nil, ErrCannotStartHand
	}
	auto := t.activateBBWaiters()
	active := t.activeSeats()
	if len(active) < 2 {
		return nil, ErrCannotStartHand
	}

	// Concurrent-start guard before any slow work.
	t.phase = Preflop

	t.dealerSeat = t.nextDealer()
	active = t.activeSeats()

	// Positional order: index 0 posts the earlier blind. 3+ handed the
	// order runs SB..button; heads-up it is [BB, SB=dealer].
	activeSet := t.activeSet()
	var positional []int
	if len(active) == 2 {
		bb := nextClockwise(t.cfg.MaxSeats, t.dealerSeat, activeSet)
		positional = []int{bb, t.dealerSeat}
	} else {
		sb := nextClockwise(t.cfg.MaxSeats, t.dealerSeat, activeSet)
		positional = clockwiseFrom(t.cfg.MaxSeats, sb, activeSet)
	}

	t.seatByIndex = positional
	t.indexBySeat = make(map[int]int, len(positional))
	stacks := make([]int, len(positional))
	t.startingStacks = make(map[int]int, len(positional))
	for i, seat := range positional {
		t.indexBySeat[seat] = i
		stacks[i] = t.seats[seat].Stack
		t.startingStacks[seat] = t.seats[seat].Stack
	}

	t.handNumber++
	if t.integrity != nil {
		t.integrity.CaptureHandStart(t.cfg.ID, t.handNumber, t.startingStacks)
	}

	snap, err := t.createHand(t.rng, stacks, t.cfg.SmallBlind, t.cfg.BigBlind, t.cfg.Ante)
	if err != nil {
		t.phase = Waiting
		return nil, err
	}
	t.snap = snap
	t.hasSnap = true

	t.lastFullRaise = t.cfg.BigBlind
	t.actedOnFullRaise = make(map[int]bool)
	t.underRaiseActive = false
	t.actionLog = nil
	t.sawFlop = false
	t.handStartedAt = t.clock.Now()
	t.turnStartedAt = t.handStartedAt

	t.syncFromSnapshot()
	for _, seat := range positional {
		t.seats[seat].Hole = t.snap.HoleCards(t.indexBySeat[seat])
	}

	result := &HandStart{
		HandNumber:         t.handNumber,
		DealerSeat:         t.dealerSeat,
		AutoActivatedSeats: auto,
	}
	t.log.Info().
		Int("hand_number", t.handNumber).
		Int("dealer_seat", t.dealerSeat).
		Int("players", len(positional)).
		Msg("hand started")

	if t.snap.IsHandComplete() {
		result.Completed = t.completeHand()
	}
	return result, nil
}

// syncFromSnapshot re-derives per-seat chips, phase, board, pot and the
// turn pointer from the rules snapshot.
func (t *Table) syncFromSnapshot() {
	stacks := t.snap.Stacks()
	bets := t.snap.Bets()
	totals := t.snap.TotalBets()
	for i, seat := range t.seatByIndex {
		p := t.seats[seat]
		p.Stack = stacks[i]
		p.Bet = bets[i]
		p.TotalBet = totals[i]
		switch {
		case t.snap.Folded(i):
			p.Status = StatusFolded
		case t.snap.AllIn(i):
			p.Status = StatusAllIn
		default:
			p.Status = StatusActive
		}
	}

	t.board = t.snap.Board()
	pot := 0
	for _, p := range t.snap.Pots() {
		pot += p.Amount
	}
	for _, b := range bets {
		pot += b
	}
	t.pot = pot

	switch len(t.board) {
	case 0:
		t.phase = Preflop
	case 3:
		t.phase = Flop
	case 4:
		t.phase = Turn
	case 5:
		t.phase = River
	}
	if len(t.board) >= 3 {
		t.sawFlop = true
	}

	if idx := t.snap.ActorIndex(); idx >= 0 {
		t.currentTurnSeat = t.seatByIndex[idx]
	} else {
		t.currentTurnSeat = -1
	}
}

func (t *Table) playerAt(seat int) *Player {
	if seat < 0 || seat >= len(t.seats) {
		return nil
	}
	return t.seats[seat]
}

func (t *Table) occupiedSet() map[int]bool {
	out := make(map[int]bool)
	for seat, p := range t.seats {
		if p != nil {
			out[seat] = true
		}
	}
	return out
}

func (t *Table) activeSet() map[int]bool {
	out := make(map[int]bool)
	for seat, p := range t.seats {
		if p != nil && p.Status != StatusSittingOut && p.Stack > 0 {
			out[seat] = true
		}
	}
	return out
}

func (t *Table) activeSeats() []int {
	var out []int
	for seat, p := range t.seats {
		if p != nil && p.Status != StatusSittingOut && p.Stack > 0 {
			out = append(out, seat)
		}
	}
	return out
}
