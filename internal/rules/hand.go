package rules

import (
	"math/rand"
)

// CreateHand deals a fresh hand. stacks are given in positional order:
// seat 0 posts the earlier blind (small blind with 3+ players, big blind
// heads-up), the button is the last index (heads-up: seat 1, which is also
// the small blind).
func CreateHand(rng *rand.Rand, stacks []int, sb, bb, ante int) (Snapshot, error) {
	return CreateHandWithDeck(NewDeck(rng), stacks, sb, bb, ante)
}

// CreateHandWithDeck deals from a caller-supplied deck. Used for
// deterministic tests.
func CreateHandWithDeck(deck *Deck, stacks []int, sb, bb, ante int) (Snapshot, error) {
	n := len(stacks)
	if n < 2 {
		return Snapshot{}, ErrInsufficientSeats
	}

	s := Snapshot{
		sb: sb, bb: bb, ante: ante,
		street:     Preflop,
		seats:      make([]seatState, n),
		actor:      -1,
		currentBet: bb,
		minRaise:   bb,
		lastRaiser: -1,
		acted:      make([]bool, n),
	}
	for i, stack := range stacks {
		s.seats[i] = seatState{Stack: stack}
	}

	// Antes come out of the stack into the hand total before blinds. They
	// are not part of the live street bet.
	if ante > 0 {
		for i := range s.seats {
			paid := minInt(ante, s.seats[i].Stack)
			s.seats[i].Stack -= paid
			s.seats[i].TotalBet += paid
			if s.seats[i].Stack == 0 {
				s.seats[i].AllIn = true
			}
		}
	}

	sbIdx, bbIdx := s.sbIndex(), s.bbIndex()
	s.post(sbIdx, sb)
	s.post(bbIdx, bb)

	for i := range s.seats {
		s.seats[i].Hole = append([]Card(nil), deck.Deal(2)...)
	}
	s.deck = deck.remaining()

	// Heads-up the small blind (button) opens preflop; otherwise the seat
	// left of the big blind.
	if n == 2 {
		s.actor = s.nextActive(sbIdx)
	} else {
		s.actor = s.nextActive((bbIdx + 1) % n)
	}
	if s.actor == -1 || s.bettingComplete() {
		s.nextStreet()
	}
	return s, nil
}

func (s *Snapshot) post(idx, blind int) {
	paid := minInt(blind, s.seats[idx].Stack)
	s.seats[idx].Stack -= paid
	s.seats[idx].Bet += paid
	s.seats[idx].TotalBet += paid
	if s.seats[idx].Stack == 0 {
		s.seats[idx].AllIn = true
	}
}

func (s Snapshot) sbIndex() int {
	if len(s.seats) == 2 {
		return 1
	}
	return 0
}

func (s Snapshot) bbIndex() int {
	if len(s.seats) == 2 {
		return 0
	}
	return 1
}

// CanFold reports whether the actor may fold.
func (s Snapshot) CanFold() bool {
	return !s.complete && s.actor >= 0
}

// CanCheckOrCall reports whether the actor may check or call.
func (s Snapshot) CanCheckOrCall() bool {
	return !s.complete && s.actor >= 0
}

// CheckingOrCallingAmount returns the chips the actor must add to continue;
// zero means a free check.
func (s Snapshot) CheckingOrCallingAmount() int {
	if s.complete || s.actor < 0 {
		return 0
	}
	seat := s.seats[s.actor]
	return minInt(s.currentBet-seat.Bet, seat.Stack)
}

// MinCompletionRaise returns the smallest legal raise-to amount for the
// actor. When the stack cannot cover a full raise this is the all-in total.
func (s Snapshot) MinCompletionRaise() int {
	if s.complete || s.actor < 0 {
		return 0
	}
	seat := s.seats[s.actor]
	full := s.currentBet + s.minRaise
	if s.currentBet == 0 {
		full = s.bb
	}
	return minInt(full, seat.Bet+seat.Stack)
}

// MaxCompletionRaise returns the largest legal raise-to amount (no-limit:
// the actor's entire stake).
func (s Snapshot) MaxCompletionRaise() int {
	if s.complete || s.actor < 0 {
		return 0
	}
	seat := s.seats[s.actor]
	return seat.Bet + seat.Stack
}

// CanBetOrRaiseTo reports whether raising the street total to amount is
// legal for the actor. All-in for less than a full raise is permitted.
func (s Snapshot) CanBetOrRaiseTo(amount int) bool {
	if s.complete || s.actor < 0 {
		return false
	}
	seat := s.seats[s.actor]
	max := seat.Bet + seat.Stack
	if amount <= s.currentBet || amount > max {
		return false
	}
	return amount >= s.MinCompletionRaise() || amount == max
}

// ApplyFold folds the actor and returns the successor state.
func (s Snapshot) ApplyFold() (Snapshot, error) {
	if s.complete {
		return s, ErrHandComplete
	}
	if s.actor < 0 {
		return s, ErrNoActor
	}
	n := s.clone()
	n.markActed(n.actor)
	n.seats[n.actor].Folded = true
	if n.lastRaiser == n.actor {
		n.lastRaiser = -1
	}
	n.advanceAfterAction()
	return n, nil
}

// ApplyCheckOrCall checks when nothing is owed, otherwise calls (capped at
// the actor's stack), and returns the successor state.
func (s Snapshot) ApplyCheckOrCall() (Snapshot, error) {
	if s.complete {
		return s, ErrHandComplete
	}
	if s.actor < 0 {
		return s, ErrNoActor
	}
	n := s.clone()
	n.markActed(n.actor)
	seat := &n.seats[n.actor]
	toCall := minInt(n.currentBet-seat.Bet, seat.Stack)
	if toCall > 0 {
		seat.Stack -= toCall
		seat.Bet += toCall
		seat.TotalBet += toCall
		if seat.Stack == 0 {
			seat.AllIn = true
		}
	}
	n.advanceAfterAction()
	return n, nil
}

// ApplyCompleteBetOrRaiseTo raises the street total to amount and returns
// the successor state.
func (s Snapshot) ApplyCompleteBetOrRaiseTo(amount int) (Snapshot, error) {
	if s.complete {
		return s, ErrHandComplete
	}
	if s.actor < 0 {
		return s, ErrNoActor
	}
	if !s.CanBetOrRaiseTo(amount) {
		return s, ErrInvalidRaise
	}
	n := s.clone()
	seat := &n.seats[n.actor]

	increment := amount - n.currentBet
	if increment >= n.minRaise {
		n.minRaise = increment
	}
	n.currentBet = amount
	n.lastRaiser = n.actor

	pay := amount - seat.Bet
	seat.Stack -= pay
	seat.Bet = amount
	seat.TotalBet += pay
	if seat.Stack == 0 {
		seat.AllIn = true
	}

	// Everyone left in the hand owes a response to the new price.
	for i := range n.acted {
		n.acted[i] = false
	}
	n.markActed(n.actor)
	n.advanceAfterAction()
	return n, nil
}

func (s *Snapshot) markActed(idx int) {
	s.acted[idx] = true
	if s.street == Preflop && idx == s.bbIndex() {
		s.bbActed = true
	}
}

func (s *Snapshot) advanceAfterAction() {
	if s.nonFoldedCount() <= 1 {
		s.finish()
		return
	}
	s.actor = s.nextActive(s.actor + 1)
	if s.actor == -1 || s.bettingComplete() {
		s.nextStreet()
	}
}

func (s Snapshot) nonFoldedCount() int {
	count := 0
	for _, st := range s.seats {
		if !st.Folded {
			count++
		}
	}
	return count
}

func (s Snapshot) nextActive(from int) int {
	n := len(s.seats)
	for i := 0; i < n; i++ {
		idx := (from + i) % n
		if !s.seats[idx].Folded && !s.seats[idx].AllIn {
			return idx
		}
	}
	return -1
}

// bettingComplete mirrors table-stakes round closure: all live players have
// matched the current bet and acted, with the big blind keeping its preflop
// option on an unraised pot.
func (s Snapshot) bettingComplete() bool {
	live := 0
	for _, st := range s.seats {
		if !st.Folded && !st.AllIn {
			live++
		}
	}
	if live == 0 {
		return true
	}
	for i, st := range s.seats {
		if st.Folded || st.AllIn {
			continue
		}
		if st.Bet != s.currentBet {
			return false
		}
		if !s.acted[i] {
			return false
		}
	}
	if s.street == Preflop && s.lastRaiser == -1 {
		bb := s.seats[s.bbIndex()]
		if !bb.Folded && !bb.AllIn && !s.bbActed {
			return false
		}
	}
	return true
}

func (s *Snapshot) nextStreet() {
	s.collectBets()
	for i := range s.acted {
		s.acted[i] = false
	}
	s.currentBet = 0
	s.minRaise = s.bb
	s.lastRaiser = -1

	switch s.street {
	case Preflop:
		s.street = Flop
		s.burn()
		s.dealBoard(3)
	case Flop:
		s.street = Turn
		s.burn()
		s.dealBoard(1)
	case Turn:
		s.street = River
		s.burn()
		s.dealBoard(1)
	case River:
		s.street = Showdown
		s.finish()
		return
	case Showdown:
		return
	}

	s.actor = s.nextActive(0)
	if s.actor == -1 {
		// Everyone remaining is all-in; run the board out.
		s.nextStreet()
	}
}

func (s *Snapshot) burn() {
	if len(s.deck) > 0 {
		s.deck = s.deck[1:]
	}
}

func (s *Snapshot) dealBoard(n int) {
	s.board = append(s.board, s.deck[:n]...)
	s.deck = s.deck[n:]
}

// collectBets folds live bets into the pot structure. Pots are recomputed
// from cumulative totals so side-pot boundaries stay exact.
func (s *Snapshot) collectBets() {
	for i := range s.seats {
		s.seats[i].Bet = 0
	}
	s.pots = s.computePots()
}

func (s Snapshot) computePots() []Pot {
	// All-in levels define pot boundaries.
	levelSet := map[int]bool{}
	for _, st := range s.seats {
		if st.AllIn && !st.Folded && st.TotalBet > 0 {
			levelSet[st.TotalBet] = true
		}
	}
	levels := make([]int, 0, len(levelSet))
	for l := range levelSet {
		levels = append(levels, l)
	}
	sortInts(levels)

	var pots []Pot
	prev := 0
	addPot := func(upTo int, strict bool) {
		pot := Pot{}
		for i, st := range s.seats {
			contrib := minInt(st.TotalBet, upTo) - prev
			if contrib > 0 {
				pot.Amount += contrib
			}
			if st.Folded {
				continue
			}
			if (strict && st.TotalBet > prev) || (!strict && st.TotalBet >= upTo) {
				pot.Eligible = append(pot.Eligible, i)
			}
		}
		if pot.Amount > 0 {
			if len(pot.Eligible) == 0 && len(pots) > 0 {
				// Only folded chips above the last boundary; merge down.
				pots[len(pots)-1].Amount += pot.Amount
			} else {
				pots = append(pots, pot)
			}
		}
		prev = upTo
	}

	for _, l := range levels {
		addPot(l, false)
	}
	maxTotal := 0
	for _, st := range s.seats {
		if st.TotalBet > maxTotal {
			maxTotal = st.TotalBet
		}
	}
	if maxTotal > prev {
		addPot(maxTotal, true)
	}
	if len(pots) == 0 {
		// No chips in yet (possible only mid-construction); keep a single
		// empty main pot with all live seats eligible.
		main := Pot{}
		for i, st := range s.seats {
			if !st.Folded {
				main.Eligible = append(main.Eligible, i)
			}
		}
		pots = []Pot{main}
	}
	return pots
}

// finish resolves every pot and pushes chips to the winners.
func (s *Snapshot) finish() {
	s.collectBets()
	s.winners = make(map[int][]int)
	for potIdx, pot := range s.pots {
		if len(pot.Eligible) == 0 || pot.Amount == 0 {
			continue
		}
		var best []int
		if len(pot.Eligible) == 1 {
			best = pot.Eligible
		} else {
			bestRank := int32(0)
			for _, seat := range pot.Eligible {
				rank := evaluate(s.seats[seat].Hole, s.board)
				switch {
				case len(best) == 0 || rank < bestRank:
					bestRank = rank
					best = []int{seat}
				case rank == bestRank:
					best = append(best, seat)
				}
			}
		}
		share := pot.Amount / len(best)
		remainder := pot.Amount - share*len(best)
		for i, seat := range best {
			win := share
			if i < remainder {
				// Odd chips go to the earliest position.
				win++
			}
			s.seats[seat].Stack += win
		}
		s.winners[potIdx] = best
	}
	s.actor = -1
	s.complete = true
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func sortInts(a []int) {
	for i := 0; i < len(a); i++ {
		for j := i + 1; j < len(a); j++ {
			if a[i] > a[j] {
				a[i], a[j] = a[j], a[i]
			}
		}
	}
}
