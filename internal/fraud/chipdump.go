package fraud

import (
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
)

const (
	chipDumpWindow   = time.Hour
	chipDumpMinHands = 3
	chipDumpMinRate  = 0.9
)

type pairHand struct {
	winner string
	amount int
	at     time.Time
}

// ChipDumpDetector watches chip flow between pairs of players. A pair where
// one side wins at least 90% of their shared hands over three or more hands
// inside the window gets flagged.
type ChipDumpDetector struct {
	clock quartz.Clock

	mu    sync.Mutex
	pairs map[string][]pairHand
}

func NewChipDumpDetector(clock quartz.Clock) *ChipDumpDetector {
	return &ChipDumpDetector{
		clock: clock,
		pairs: make(map[string][]pairHand),
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// ObserveHand records the hand's transfers and returns any pairs that now
// exceed the one-way threshold.
func (d *ChipDumpDetector) ObserveHand(msg HandCompleted) []Flag {
	now := d.clock.Now()
	cutoff := now.Add(-chipDumpWindow)

	d.mu.Lock()
	defer d.mu.Unlock()

	var flags []Flag
	for _, tr := range msg.Transfers {
		if tr.From == "" || tr.To == "" || tr.From == tr.To {
			continue
		}
		key := pairKey(tr.From, tr.To)
		hands := append(d.pairs[key], pairHand{winner: tr.To, amount: tr.Amount, at: now})

		kept := hands[:0]
		for _, h := range hands {
			if h.at.After(cutoff) {
				kept = append(kept, h)
			}
		}
		d.pairs[key] = kept

		if f, ok := evaluatePair(tr.From, tr.To, kept, now); ok {
			flags = append(flags, f)
		}
	}
	return flags
}

func evaluatePair(a, b string, hands []pairHand, now time.Time) (Flag, bool) {
	if len(hands) < chipDumpMinHands {
		return Flag{}, false
	}
	wins := make(map[string]int, 2)
	total := 0
	for _, h := range hands {
		wins[h.winner]++
		total += h.amount
	}

	for winner, n := range wins {
		rate := float64(n) / float64(len(hands))
		if rate < chipDumpMinRate {
			continue
		}
		loser := a
		if winner == a {
			loser = b
		}
		sev := SeverityMedium
		if len(hands) >= 5 {
			sev = SeverityHigh
		}
		return Flag{
			Type:     DetectChipDumping,
			Severity: sev,
			UserIDs:  []string{loser, winner},
			Score:    rate * 100,
			Reason:   fmt.Sprintf("one-way chip flow %s -> %s: %d/%d hands, %d chips", loser, winner, n, len(hands), total),
			At:       now,
		}, true
	}
	return Flag{}, false
}
