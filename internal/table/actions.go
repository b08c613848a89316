package table

import (
	"strings"

	"github.com/cardroomlabs/cardroom/internal/events"
	"github.com/cardroomlabs/cardroom/internal/rules"
)

// ActionOptions describes what the actor may do right now.
type ActionOptions struct {
	Actions    []string `json:"actions"`
	CallAmount int      `json:"call_amount"`
	MinRaise   int      `json:"min_raise"`
	MaxRaise   int      `json:"max_raise"`
}

// Winner is one seat that gained chips in a completed hand.
type Winner struct {
	Seat   int    `json:"seat"`
	UserID string `json:"user_id"`
	Amount int    `json:"amount"`
	Hand   string `json:"hand,omitempty"`
}

// Refund is the uncalled portion of a bet returned without contest.
type Refund struct {
	Seat   int `json:"seat"`
	Amount int `json:"amount"`
}

// HandResult is what _CompleteHand produces.
type HandResult struct {
	HandNumber       int                  `json:"hand_number"`
	Winners          []Winner             `json:"winners"`
	Pot              int                  `json:"pot"`
	CommunityCards   []rules.Card         `json:"community_cards"`
	ShowdownCards    map[int][]rules.Card `json:"showdown_cards,omitempty"`
	ZeroStackPlayers []string             `json:"zero_stack_players,omitempty"`
	Refund           *Refund              `json:"refund,omitempty"`
	FinalStacks      map[int]int          `json:"final_stacks"`
	NetBySeat        map[int]int          `json:"net_by_seat"`
	SawFlop          bool                 `json:"saw_flop"`
}

// ActionResult reports the outcome of a processed action.
type ActionResult struct {
	Seat         int
	Action       string
	Amount       int
	PhaseChanged bool
	Phase        Phase
	HandComplete bool
	Result       *HandResult
}

// ProcessAction validates and applies one player action.
func (t *Table) ProcessAction(userID, action string, amount int) (*ActionResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.hasSnap || t.phase == Waiting {
		return nil, events.Errorf(events.CodeNoActiveHand, "no hand in progress")
	}
	seat := -1
	for s, p := range t.seats {
		if p != nil && p.UserID == userID {
			seat = s
			break
		}
	}
	if seat < 0 || seat != t.currentTurnSeat {
		return nil, events.Errorf(events.CodeNotYourTurn, "it is not %s's turn", userID)
	}

	action = strings.ToLower(strings.TrimSpace(action))
	boardBefore := len(t.snap.Board())

	next, applied, err := t.applyAction(seat, action, &amount)
	if err != nil {
		return nil, err
	}
	t.snap = next

	t.actionLog = append(t.actionLog, ActionRecord{
		Seat: seat, UserID: userID, Action: applied, Amount: amount, At: t.clock.Now(),
	})
	t.syncFromSnapshot()

	res := &ActionResult{Seat: seat, Action: applied, Amount: amount, Phase: t.phase}
	if len(t.snap.Board()) > boardBefore {
		res.PhaseChanged = true
		t.resetUnderRaiseState()
	}

	if t.snap.IsHandComplete() {
		res.HandComplete = true
		res.Result = t.completeHand()
		res.Phase = t.phase
		return res, nil
	}

	t.turnStartedAt = t.clock.Now()
	return res, nil
}

// applyAction maps one normalized wire action onto the rules snapshot and
// maintains under-raise tracking. Returns the canonical action applied.
func (t *Table) applyAction(seat int, action string, amount *int) (rules.Snapshot, string, error) {
	switch action {
	case "fold":
		if t.snap.CheckingOrCallingAmount() <= 0 {
			return t.snap, "", events.Errorf(events.CodeCannotFoldFreeCheck,
				"a free check is available, fold not accepted")
		}
		next, err := t.snap.ApplyFold()
		return next, "fold", err

	case "check", "call":
		*amount = t.snap.CheckingOrCallingAmount()
		t.actedOnFullRaise[seat] = true
		next, err := t.snap.ApplyCheckOrCall()
		if *amount <= 0 {
			return next, "check", err
		}
		return next, "call", err

	case "bet", "raise":
		return t.applyRaise(seat, *amount, action)

	case "all_in", "allin":
		max := t.snap.MaxCompletionRaise()
		if t.snap.CanBetOrRaiseTo(max) {
			*amount = max
			return t.applyRaise(seat, max, "all_in")
		}
		*amount = t.snap.CheckingOrCallingAmount()
		t.actedOnFullRaise[seat] = true
		next, err := t.snap.ApplyCheckOrCall()
		return next, "all_in", err

	default:
		return t.snap, "", events.Errorf(events.CodeInvalidAction, "unknown action %q", action)
	}
}

func (t *Table) applyRaise(seat, amount int, name string) (rules.Snapshot, string, error) {
	min, max := t.snap.MinCompletionRaise(), t.snap.MaxCompletionRaise()
	if !t.snap.CanBetOrRaiseTo(amount) {
		return t.snap, "", events.Errorf(events.CodeInvalidAmount,
			"raise to %d invalid, legal range [%d, %d]", amount, min, max)
	}
	if t.underRaiseActive && t.actedOnFullRaise[seat] {
		return t.snap, "", events.Errorf(events.CodeInvalidAction,
			"raise not allowed after acting on the last full raise")
	}

	// A full raise reopens the action: the acted set resets and only
	// check/call records seats back into it, so the raiser keeps its own
	// raise option if an under-raise follows.
	increment := amount - t.snap.CurrentBet()
	if increment >= t.lastFullRaise {
		t.lastFullRaise = increment
		t.actedOnFullRaise = make(map[int]bool)
		t.underRaiseActive = false
	} else {
		t.underRaiseActive = true
	}

	next, err := t.snap.ApplyCompleteBetOrRaiseTo(amount)
	return next, name, err
}

func (t *Table) resetUnderRaiseState() {
	t.lastFullRaise = t.cfg.BigBlind
	t.actedOnFullRaise = make(map[int]bool)
	t.underRaiseActive = false
}

// AvailableActions returns the legal actions for the user, empty when it is
// not their turn. The WSOP under-raise rule suppresses raise for players
// who already acted on the last full raise.
func (t *Table) AvailableActions(userID string) ActionOptions {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.hasSnap || t.phase == Waiting {
		return ActionOptions{}
	}
	seat := t.currentTurnSeat
	p := t.playerAt(seat)
	if p == nil || p.UserID != userID {
		return ActionOptions{}
	}

	opts := ActionOptions{CallAmount: t.snap.CheckingOrCallingAmount()}
	if opts.CallAmount <= 0 {
		opts.Actions = append(opts.Actions, "check")
	} else {
		opts.Actions = append(opts.Actions, "fold", "call")
	}

	min, max := t.snap.MinCompletionRaise(), t.snap.MaxCompletionRaise()
	raiseBlocked := t.underRaiseActive && t.actedOnFullRaise[seat]
	if !raiseBlocked && min > 0 && t.snap.CanBetOrRaiseTo(min) {
		if t.snap.CurrentBet() == 0 {
			opts.Actions = append(opts.Actions, "bet")
		} else {
			opts.Actions = append(opts.Actions, "raise")
		}
		opts.MinRaise = min
		opts.MaxRaise = max
	}
	return opts
}

// completeHand finalizes the hand. Caller holds the mutex.
func (t *Table) completeHand() *HandResult {
	t.syncFromSnapshot()
	t.phase = ShowdownPhase

	res := &HandResult{
		HandNumber:     t.handNumber,
		CommunityCards: t.board,
		FinalStacks:    make(map[int]int, len(t.seatByIndex)),
		NetBySeat:      make(map[int]int, len(t.seatByIndex)),
		SawFlop:        t.sawFlop,
	}

	inHand := 0
	for _, seat := range t.seatByIndex {
		if t.seats[seat].InHand() {
			inHand++
		}
	}

	// Winners are seats whose final stack exceeds their starting stack.
	totalPot := 0
	for _, seat := range t.seatByIndex {
		p := t.seats[seat]
		res.FinalStacks[seat] = p.Stack
		res.NetBySeat[seat] = p.Stack - t.startingStacks[seat]
		if gain := p.Stack - t.startingStacks[seat]; gain > 0 {
			w := Winner{Seat: seat, UserID: p.UserID, Amount: gain}
			if inHand >= 2 && len(t.board) == 5 {
				w.Hand = rules.DescribeHand(p.Hole, t.board)
			}
			res.Winners = append(res.Winners, w)
			totalPot += gain
		}
	}
	if totalPot == 0 {
		for _, seat := range t.seatByIndex {
			if loss := t.startingStacks[seat] - t.seats[seat].Stack; loss > 0 {
				totalPot += loss
			}
		}
	}
	res.Pot = totalPot

	// Cards are shown only when at least two players reach showdown.
	if inHand >= 2 {
		res.ShowdownCards = make(map[int][]rules.Card)
		for _, seat := range t.seatByIndex {
			p := t.seats[seat]
			if p.InHand() {
				p.CardsRevealed = true
				res.ShowdownCards[seat] = append([]rules.Card(nil), p.Hole...)
			}
		}
	}

	// Uncalled-bet refund on a single-winner fold-out, informational: the
	// rules settle already returned the chips.
	if len(res.Winners) == 1 && inHand == 1 {
		winner := t.seats[res.Winners[0].Seat]
		maxOther := 0
		for _, seat := range t.seatByIndex {
			if seat != winner.Seat && t.seats[seat].TotalBet > maxOther {
				maxOther = t.seats[seat].TotalBet
			}
		}
		if refund := winner.TotalBet - maxOther; refund > 0 {
			res.Refund = &Refund{Seat: winner.Seat, Amount: refund}
		}
	}

	if t.integrity != nil {
		if _, err := t.integrity.ValidateHandCompletion(t.cfg.ID, res.FinalStacks, 0); err != nil {
			t.log.Error().Err(err).Int("hand_number", t.handNumber).Msg("chip integrity check failed")
		}
	}

	// Back to WAITING: clear hand state and per-hand player fields.
	t.phase = Waiting
	t.snap = rules.Snapshot{}
	t.hasSnap = false
	t.board = nil
	t.pot = 0
	t.currentTurnSeat = -1
	t.seatByIndex = nil
	t.indexBySeat = nil
	t.startingStacks = nil
	t.actionLog = nil
	t.resetUnderRaiseState()

	for _, p := range t.seats {
		if p == nil {
			continue
		}
		p.resetForNewHand()
		if p.Stack == 0 && p.Status != StatusSittingOut {
			p.Status = StatusSittingOut
			res.ZeroStackPlayers = append(res.ZeroStackPlayers, p.UserID)
		}
		if t.pendingSitOut[p.Seat] {
			p.Status = StatusSittingOut
			delete(t.pendingSitOut, p.Seat)
		}
	}

	t.history = append(t.history, *res)
	t.log.Info().
		Int("hand_number", res.HandNumber).
		Int("pot", res.Pot).
		Int("winners", len(res.Winners)).
		Msg("hand complete")
	return res
}

// History returns the retained hand results, newest last.
func (t *Table) History() []HandResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]HandResult, len(t.history))
	copy(out, t.history)
	return out
}

// TrimHistory keeps only the newest n results.
func (t *Table) TrimHistory(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.history) > n {
		t.history = append([]HandResult(nil), t.history[len(t.history)-n:]...)
	}
}
