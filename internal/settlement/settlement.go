// Package settlement distributes tournament prizes to the in-the-money
// finishers through an external wallet contract.
package settlement

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cardroomlabs/cardroom/internal/events"
)

// Wallet is the external contract prizes are paid through.
type Wallet interface {
	Credit(ctx context.Context, userID string, amount int64, reference string) error
}

// Standing is one player's final tournament position as the engine saw it.
type Standing struct {
	UserID          string
	Chips           int64
	Active          bool
	EliminationRank int
}

// Payout is one prize line of a settlement.
type Payout struct {
	Rank     int    `json:"rank"`
	UserID   string `json:"user_id"`
	Amount   int64  `json:"amount"`
	Credited bool   `json:"credited"`
	Error    string `json:"error,omitempty"`
}

// Summary reports the outcome of a settlement run. Failed transfers are
// listed here and queued for retry; they never abort the run.
type Summary struct {
	TournamentID string    `json:"tournament_id"`
	PrizePool    int64     `json:"prize_pool"`
	ITMCount     int       `json:"itm_count"`
	FinalRanking []string  `json:"final_ranking"`
	Payouts      []Payout  `json:"payouts"`
	TotalPaid    int64     `json:"total_paid"`
	FailedCount  int       `json:"failed_count"`
	SettledAt    time.Time `json:"settled_at"`
}

// pendingTransfer is a wallet credit awaiting retry.
type pendingTransfer struct {
	TournamentID string
	UserID       string
	Amount       int64
	Rank         int
}

// Service settles completed tournaments.
type Service struct {
	wallet Wallet
	bus    *events.Bus
	log    zerolog.Logger

	mu      sync.Mutex
	retries []pendingTransfer
}

// NewService creates a settlement service. bus may be nil.
func NewService(wallet Wallet, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		wallet: wallet,
		bus:    bus,
		log:    log.With().Str("component", "settlement").Logger(),
	}
}

// FinalRanking orders standings into final tournament ranks: still-active
// players by chips descending, then eliminated players by the rank they
// were issued at elimination.
func FinalRanking(standings []Standing) []string {
	active := make([]Standing, 0, len(standings))
	eliminated := make([]Standing, 0, len(standings))
	for _, st := range standings {
		if st.Active {
			active = append(active, st)
		} else {
			eliminated = append(eliminated, st)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].Chips != active[j].Chips {
			return active[i].Chips > active[j].Chips
		}
		return active[i].UserID < active[j].UserID
	})
	sort.Slice(eliminated, func(i, j int) bool {
		return eliminated[i].EliminationRank < eliminated[j].EliminationRank
	})

	ranking := make([]string, 0, len(standings))
	for _, st := range active {
		ranking = append(ranking, st.UserID)
	}
	for _, st := range eliminated {
		ranking = append(ranking, st.UserID)
	}
	return ranking
}

// ITMCount returns how many finishers are paid: itmPercent of the field
// rounded to nearest, at least one, and never more than the payout
// structure covers.
func ITMCount(totalPlayers int, itmPercent float64, payoutStructure []float64) int {
	n := int(math.Round(float64(totalPlayers) * itmPercent / 100))
	if n < 1 {
		n = 1
	}
	if n > len(payoutStructure) {
		n = len(payoutStructure)
	}
	return n
}

// Settle pays out a completed tournament and returns the summary. Wallet
// failures are recorded per payout and queued for retry.
func (s *Service) Settle(ctx context.Context, tournamentID string, prizePool int64, itmPercent float64, payoutStructure []float64, standings []Standing) Summary {
	ranking := FinalRanking(standings)
	itm := ITMCount(len(standings), itmPercent, payoutStructure)

	summary := Summary{
		TournamentID: tournamentID,
		PrizePool:    prizePool,
		ITMCount:     itm,
		FinalRanking: ranking,
		SettledAt:    time.Now().UTC(),
	}

	for rank := 1; rank <= itm && rank <= len(ranking); rank++ {
		userID := ranking[rank-1]
		amount := int64(float64(prizePool) * payoutStructure[rank-1])
		payout := Payout{Rank: rank, UserID: userID, Amount: amount}

		if err := s.wallet.Credit(ctx, userID, amount, tournamentID); err != nil {
			payout.Error = err.Error()
			summary.FailedCount++
			s.queueRetry(pendingTransfer{
				TournamentID: tournamentID,
				UserID:       userID,
				Amount:       amount,
				Rank:         rank,
			})
			s.log.Error().Err(err).
				Str("tournament_id", tournamentID).
				Str("user_id", userID).
				Int64("amount", amount).
				Msg("prize transfer failed, queued for retry")
		} else {
			payout.Credited = true
			summary.TotalPaid += amount
		}
		summary.Payouts = append(summary.Payouts, payout)
	}

	s.log.Info().
		Str("tournament_id", tournamentID).
		Int64("prize_pool", prizePool).
		Int("itm", itm).
		Int64("paid", summary.TotalPaid).
		Int("failed", summary.FailedCount).
		Msg("tournament settled")

	if s.bus != nil {
		ev := events.New(events.TypeTournamentCompleted, map[string]any{"summary": summary})
		ev.TournamentID = tournamentID
		s.bus.Publish(ev)
	}
	return summary
}

func (s *Service) queueRetry(p pendingTransfer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries = append(s.retries, p)
}

// PendingRetries returns how many transfers are waiting for a retry.
func (s *Service) PendingRetries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.retries)
}

// RetryTransfers re-attempts every queued transfer, requeueing the ones
// that fail again. Returns how many succeeded.
func (s *Service) RetryTransfers(ctx context.Context) int {
	s.mu.Lock()
	pending := s.retries
	s.retries = nil
	s.mu.Unlock()

	succeeded := 0
	for _, p := range pending {
		if err := s.wallet.Credit(ctx, p.UserID, p.Amount, p.TournamentID); err != nil {
			s.queueRetry(p)
			s.log.Warn().Err(err).
				Str("tournament_id", p.TournamentID).
				Str("user_id", p.UserID).
				Msg("prize transfer retry failed")
			continue
		}
		succeeded++
	}
	return succeeded
}
