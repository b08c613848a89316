// Package bots manages autonomous player sessions: lifecycle, rate limits
// and the pluggable decision strategies the game loop consults on a bot's
// turn.
package bots

import (
	"math/rand"
	"sort"
	"strings"

	"github.com/chehsunliu/poker"
)

// GameContext is everything a strategy sees when deciding an action.
type GameContext struct {
	Actions        []string
	CallAmount     int
	MinRaise       int
	MaxRaise       int
	Stack          int
	CurrentBet     int
	Position       int
	HoleCards      []string
	CommunityCards []string
	Pot            int
	Phase          string
	BigBlind       int
	NumSeats       int
	NumActive      int
}

func (gc GameContext) has(action string) bool {
	for _, a := range gc.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Strategy decides a bot's action. Implementations must be safe for
// concurrent use; all randomness comes from the supplied source.
type Strategy interface {
	Name() string
	Decide(rng *rand.Rand, gc GameContext) (action string, amount int)
}

// Registry of the built-in strategies.
var strategies = map[string]Strategy{
	"balanced": balancedStrategy{},
	"loose":    looseStrategy{},
	"tight":    tightStrategy{},
	"caller":   callerStrategy{},
}

// StrategyByName returns a registered strategy, falling back to balanced.
func StrategyByName(name string) Strategy {
	if s, ok := strategies[name]; ok {
		return s
	}
	return strategies["balanced"]
}

// StrategyNames lists the registered strategies in stable order.
func StrategyNames() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RandomStrategy picks a registered strategy at random.
func RandomStrategy(rng *rand.Rand) Strategy {
	names := StrategyNames()
	return strategies[names[rng.Intn(len(names))]]
}

// handStrength scores the bot's hand in [0,1]. Preflop it rates hole
// cards; postflop it evaluates the best five-card hand against the full
// evaluator range.
func handStrength(gc GameContext) float64 {
	if len(gc.HoleCards) != 2 {
		return 0
	}
	if len(gc.CommunityCards) >= 3 {
		cards := make([]poker.Card, 0, 7)
		for _, c := range append(append([]string{}, gc.HoleCards...), gc.CommunityCards...) {
			cards = append(cards, poker.NewCard(c))
		}
		rank := poker.Evaluate(cards)
		// Evaluator ranks run 1 (best) to 7462 (worst).
		return 1 - float64(rank-1)/7461
	}
	return preflopStrength(gc.HoleCards[0], gc.HoleCards[1])
}

var rankOrder = "23456789TJQKA"

// preflopStrength is a rough Chen-style rating squeezed into [0,1].
func preflopStrength(a, b string) float64 {
	ra := strings.IndexByte(rankOrder, a[0])
	rb := strings.IndexByte(rankOrder, b[0])
	if ra < 0 || rb < 0 {
		return 0
	}
	hi, lo := ra, rb
	if lo > hi {
		hi, lo = lo, hi
	}
	score := float64(hi) / float64(len(rankOrder)-1) * 0.6
	if ra == rb {
		score += 0.35
	}
	if a[1] == b[1] {
		score += 0.08
	}
	if hi-lo == 1 {
		score += 0.05
	}
	if score > 1 {
		score = 1
	}
	return score
}

// potOdds is the fraction of the final pot the caller must contribute.
func potOdds(gc GameContext) float64 {
	if gc.CallAmount <= 0 {
		return 0
	}
	return float64(gc.CallAmount) / float64(gc.Pot+gc.CallAmount)
}

// raiseAmount sizes a raise between min and a pot-relative target.
func raiseAmount(rng *rand.Rand, gc GameContext) int {
	if gc.MinRaise <= 0 {
		return 0
	}
	target := gc.CurrentBet + gc.Pot/2 + rng.Intn(gc.BigBlind+1)
	if target < gc.MinRaise {
		target = gc.MinRaise
	}
	if gc.MaxRaise > 0 && target > gc.MaxRaise {
		target = gc.MaxRaise
	}
	return target
}

// decide applies shared threshold logic: raise above raiseAt, continue
// above callAt (adjusted by pot odds), otherwise check or fold.
func decide(rng *rand.Rand, gc GameContext, raiseAt, callAt float64) (string, int) {
	strength := handStrength(gc)
	canRaise := gc.has("raise") || gc.has("bet")

	if canRaise && strength >= raiseAt {
		verb := "raise"
		if gc.has("bet") {
			verb = "bet"
		}
		if amt := raiseAmount(rng, gc); amt > 0 {
			return verb, amt
		}
	}
	if gc.has("check") {
		return "check", 0
	}
	if gc.has("call") && strength >= callAt+potOdds(gc)*0.3 {
		return "call", 0
	}
	if gc.has("fold") {
		return "fold", 0
	}
	return "call", 0
}

type balancedStrategy struct{}

func (balancedStrategy) Name() string { return "balanced" }

func (balancedStrategy) Decide(rng *rand.Rand, gc GameContext) (string, int) {
	return decide(rng, gc, 0.72, 0.30)
}

// looseStrategy plays many hands and raises often.
type looseStrategy struct{}

func (looseStrategy) Name() string { return "loose" }

func (looseStrategy) Decide(rng *rand.Rand, gc GameContext) (string, int) {
	return decide(rng, gc, 0.55, 0.12)
}

// tightStrategy folds everything but premium holdings.
type tightStrategy struct{}

func (tightStrategy) Name() string { return "tight" }

func (tightStrategy) Decide(rng *rand.Rand, gc GameContext) (string, int) {
	return decide(rng, gc, 0.82, 0.45)
}

// callerStrategy is a calling station: it almost never raises and almost
// never folds while chips remain.
type callerStrategy struct{}

func (callerStrategy) Name() string { return "caller" }

func (callerStrategy) Decide(rng *rand.Rand, gc GameContext) (string, int) {
	if gc.has("check") {
		return "check", 0
	}
	if gc.has("call") {
		// Folds only truly hopeless spots facing big bets.
		if handStrength(gc) < 0.05 && potOdds(gc) > 0.4 {
			return "fold", 0
		}
		return "call", 0
	}
	if gc.has("fold") {
		return "fold", 0
	}
	return "check", 0
}
