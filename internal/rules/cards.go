package rules

import (
	"fmt"
	"math/rand"

	"github.com/chehsunliu/poker"
)

// Card is a two-character card code: rank then suit, e.g. "As", "Td", "9c".
type Card string

var (
	ranks = []byte("23456789TJQKA")
	suits = []byte("shdc")
)

// Valid reports whether the card code names one of the 52 cards.
func (c Card) Valid() bool {
	if len(c) != 2 {
		return false
	}
	return rankIndex(c[0]) >= 0 && suitIndex(c[1]) >= 0
}

func rankIndex(b byte) int {
	for i, r := range ranks {
		if r == b {
			return i
		}
	}
	return -1
}

func suitIndex(b byte) int {
	for i, s := range suits {
		if s == b {
			return i
		}
	}
	return -1
}

func (c Card) eval() poker.Card {
	return poker.NewCard(string(c))
}

// Deck is an ordered set of cards dealt from the front.
type Deck struct {
	cards []Card
	next  int
}

// NewDeck returns a full 52-card deck shuffled with rng.
func NewDeck(rng *rand.Rand) *Deck {
	cards := make([]Card, 0, 52)
	for _, r := range ranks {
		for _, s := range suits {
			cards = append(cards, Card([]byte{r, s}))
		}
	}
	rng.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})
	return &Deck{cards: cards}
}

// NewOrderedDeck returns a deck that deals the given cards in order.
// Used for deterministic tests.
func NewOrderedDeck(cards []Card) *Deck {
	cp := make([]Card, len(cards))
	copy(cp, cards)
	return &Deck{cards: cp}
}

// Deal removes and returns the next n cards.
func (d *Deck) Deal(n int) []Card {
	if d.next+n > len(d.cards) {
		panic(fmt.Sprintf("deck exhausted: want %d, have %d", n, len(d.cards)-d.next))
	}
	out := d.cards[d.next : d.next+n]
	d.next += n
	return out
}

// Burn discards the next card.
func (d *Deck) Burn() {
	if d.next < len(d.cards) {
		d.next++
	}
}

func (d *Deck) remaining() []Card {
	out := make([]Card, len(d.cards)-d.next)
	copy(out, d.cards[d.next:])
	return out
}

// evaluate returns the chehsunliu rank for hole+board; lower is stronger.
func evaluate(hole []Card, board []Card) int32 {
	all := make([]poker.Card, 0, len(hole)+len(board))
	for _, c := range hole {
		all = append(all, c.eval())
	}
	for _, c := range board {
		all = append(all, c.eval())
	}
	return poker.Evaluate(all)
}

// DescribeHand returns a human-readable rank name for hole+board.
func DescribeHand(hole []Card, board []Card) string {
	if len(hole)+len(board) < 5 {
		return ""
	}
	return poker.RankString(evaluate(hole, board))
}
