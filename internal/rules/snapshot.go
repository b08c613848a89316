package rules

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Street is the current betting street.
type Street int

const (
	Preflop Street = iota
	Flop
	Turn
	River
	Showdown
)

func (s Street) String() string {
	return [...]string{"preflop", "flop", "turn", "river", "showdown"}[s]
}

// Pot is a main or side pot with the seats eligible to win it.
type Pot struct {
	Amount   int   `json:"amount"`
	Eligible []int `json:"eligible"`
}

type seatState struct {
	Stack    int    `json:"stack"`
	Bet      int    `json:"bet"`
	TotalBet int    `json:"total_bet"`
	Folded   bool   `json:"folded"`
	AllIn    bool   `json:"all_in"`
	Hole     []Card `json:"hole"`
}

// Snapshot is an immutable view of a hold'em hand. Apply methods return a
// new value; the receiver is never mutated. Indexing is positional: seat 0
// posts the earlier blind (small blind for 3+ players, big blind heads-up).
type Snapshot struct {
	sb, bb, ante int
	street       Street
	board        []Card
	seats        []seatState
	pots         []Pot
	actor        int
	currentBet   int
	minRaise     int
	lastRaiser   int
	acted        []bool
	bbActed      bool
	deck         []Card
	complete     bool
	winners      map[int][]int
}

var (
	ErrNoActor           = errors.New("no player to act")
	ErrCannotCheck       = errors.New("cannot check facing a bet")
	ErrInvalidRaise      = errors.New("raise amount out of range")
	ErrHandComplete      = errors.New("hand is complete")
	ErrInsufficientSeats = errors.New("at least two seats required")
)

// ActorIndex returns the positional index of the player to act, or -1 when
// no action is pending (hand complete or everyone all-in).
func (s Snapshot) ActorIndex() int {
	if s.complete {
		return -1
	}
	return s.actor
}

// IsHandComplete reports whether the hand has been resolved and chips pushed.
func (s Snapshot) IsHandComplete() bool { return s.complete }

// Board returns the community cards dealt so far.
func (s Snapshot) Board() []Card {
	out := make([]Card, len(s.board))
	copy(out, s.board)
	return out
}

// Stacks returns each seat's behind-the-line chips.
func (s Snapshot) Stacks() []int {
	out := make([]int, len(s.seats))
	for i, st := range s.seats {
		out[i] = st.Stack
	}
	return out
}

// Bets returns each seat's live bet for the current street.
func (s Snapshot) Bets() []int {
	out := make([]int, len(s.seats))
	for i, st := range s.seats {
		out[i] = st.Bet
	}
	return out
}

// TotalBets returns each seat's cumulative bet across the whole hand.
func (s Snapshot) TotalBets() []int {
	out := make([]int, len(s.seats))
	for i, st := range s.seats {
		out[i] = st.TotalBet
	}
	return out
}

// Pots returns collected pots. Live bets are not included; callers wanting
// the table pot add Bets().
func (s Snapshot) Pots() []Pot {
	out := make([]Pot, len(s.pots))
	copy(out, s.pots)
	return out
}

// HoleCards returns the two hole cards for a seat.
func (s Snapshot) HoleCards(idx int) []Card {
	if idx < 0 || idx >= len(s.seats) {
		return nil
	}
	out := make([]Card, len(s.seats[idx].Hole))
	copy(out, s.seats[idx].Hole)
	return out
}

// Folded reports whether the seat has folded.
func (s Snapshot) Folded(idx int) bool {
	return idx >= 0 && idx < len(s.seats) && s.seats[idx].Folded
}

// AllIn reports whether the seat is all-in.
func (s Snapshot) AllIn(idx int) bool {
	return idx >= 0 && idx < len(s.seats) && s.seats[idx].AllIn
}

// Street returns the current betting street.
func (s Snapshot) Street() Street { return s.street }

// CurrentBet returns the bet that must be matched on this street.
func (s Snapshot) CurrentBet() int { return s.currentBet }

// Winners returns the pot-index to winning-seats map once the hand is
// complete, nil before then.
func (s Snapshot) Winners() map[int][]int {
	if s.winners == nil {
		return nil
	}
	out := make(map[int][]int, len(s.winners))
	for k, v := range s.winners {
		seats := make([]int, len(v))
		copy(seats, v)
		out[k] = seats
	}
	return out
}

// serializable is the wire mirror of Snapshot. Unknown fields in stored
// blobs are ignored on decode.
type serializable struct {
	SB         int           `json:"sb"`
	BB         int           `json:"bb"`
	Ante       int           `json:"ante"`
	Street     Street        `json:"street"`
	Board      []Card        `json:"board"`
	Seats      []seatState   `json:"seats"`
	Pots       []Pot         `json:"pots"`
	Actor      int           `json:"actor"`
	CurrentBet int           `json:"current_bet"`
	MinRaise   int           `json:"min_raise"`
	LastRaiser int           `json:"last_raiser"`
	Acted      []bool        `json:"acted"`
	BBActed    bool          `json:"bb_acted"`
	Deck       []Card        `json:"deck"`
	Complete   bool          `json:"complete"`
	Winners    map[int][]int `json:"winners,omitempty"`
}

// Serialize encodes the snapshot for server-internal persistence. The blob
// contains the undealt deck, so it must only be stored sealed (HMAC) and
// never accepted from clients.
func (s Snapshot) Serialize() ([]byte, error) {
	return json.Marshal(serializable{
		SB: s.sb, BB: s.bb, Ante: s.ante,
		Street: s.street, Board: s.board, Seats: s.seats, Pots: s.pots,
		Actor: s.actor, CurrentBet: s.currentBet, MinRaise: s.minRaise,
		LastRaiser: s.lastRaiser, Acted: s.acted, BBActed: s.bbActed,
		Deck: s.deck, Complete: s.complete, Winners: s.winners,
	})
}

// Deserialize rehydrates a snapshot produced by Serialize. Callers must
// verify integrity (HMAC) before passing bytes here.
func Deserialize(data []byte) (Snapshot, error) {
	var w serializable
	if err := json.Unmarshal(data, &w); err != nil {
		return Snapshot{}, fmt.Errorf("decode hand snapshot: %w", err)
	}
	if len(w.Seats) < 2 {
		return Snapshot{}, ErrInsufficientSeats
	}
	return Snapshot{
		sb: w.SB, bb: w.BB, ante: w.Ante,
		street: w.Street, board: w.Board, seats: w.Seats, pots: w.Pots,
		actor: w.Actor, currentBet: w.CurrentBet, minRaise: w.MinRaise,
		lastRaiser: w.LastRaiser, acted: w.Acted, bbActed: w.BBActed,
		deck: w.Deck, complete: w.Complete, winners: w.Winners,
	}, nil
}

// clone deep-copies the snapshot so Apply methods never alias the receiver.
func (s Snapshot) clone() Snapshot {
	cp := s
	cp.board = append([]Card(nil), s.board...)
	cp.seats = make([]seatState, len(s.seats))
	for i, st := range s.seats {
		cp.seats[i] = st
		cp.seats[i].Hole = append([]Card(nil), st.Hole...)
	}
	cp.pots = make([]Pot, len(s.pots))
	for i, p := range s.pots {
		cp.pots[i] = Pot{Amount: p.Amount, Eligible: append([]int(nil), p.Eligible...)}
	}
	cp.acted = append([]bool(nil), s.acted...)
	cp.deck = append([]Card(nil), s.deck...)
	if s.winners != nil {
		cp.winners = make(map[int][]int, len(s.winners))
		for k, v := range s.winners {
			cp.winners[k] = append([]int(nil), v...)
		}
	}
	return cp
}
