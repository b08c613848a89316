package table

import "github.com/cardroomlabs/cardroom/internal/rules"

// SeatView is one seat as a given viewer sees it. Hole cards appear only
// for the viewer's own seat or after a showdown reveal.
type SeatView struct {
	Seat          int          `json:"seat"`
	UserID        string       `json:"user_id"`
	Name          string       `json:"name"`
	Stack         int          `json:"stack"`
	Bet           int          `json:"bet"`
	Status        string       `json:"status"`
	IsBot         bool         `json:"is_bot"`
	Hole          []rules.Card `json:"hole,omitempty"`
	CardsRevealed bool         `json:"cards_revealed"`
}

// View is a personalized table snapshot.
type View struct {
	TableID         string       `json:"table_id"`
	Phase           string       `json:"phase"`
	HandNumber      int          `json:"hand_number"`
	Pot             int          `json:"pot"`
	Board           []rules.Card `json:"board"`
	DealerSeat      int          `json:"dealer_seat"`
	CurrentTurnSeat int          `json:"current_turn_seat"`
	CurrentBet      int          `json:"current_bet"`
	SmallBlind      int          `json:"small_blind"`
	BigBlind        int          `json:"big_blind"`
	Seats           []SeatView   `json:"seats"`
}

// ViewFor renders the table for one viewer, hiding everyone else's live
// hole cards.
func (t *Table) ViewFor(viewerID string) View {
	t.mu.Lock()
	defer t.mu.Unlock()

	v := View{
		TableID:         t.cfg.ID,
		Phase:           t.phase.String(),
		HandNumber:      t.handNumber,
		Pot:             t.pot,
		Board:           append([]rules.Card(nil), t.board...),
		DealerSeat:      t.dealerSeat,
		CurrentTurnSeat: t.currentTurnSeat,
		SmallBlind:      t.cfg.SmallBlind,
		BigBlind:        t.cfg.BigBlind,
	}
	if t.hasSnap {
		v.CurrentBet = t.snap.CurrentBet()
	}
	for _, p := range t.seats {
		if p == nil {
			continue
		}
		sv := SeatView{
			Seat:          p.Seat,
			UserID:        p.UserID,
			Name:          p.Name,
			Stack:         p.Stack,
			Bet:           p.Bet,
			Status:        p.Status.String(),
			IsBot:         p.IsBot,
			CardsRevealed: p.CardsRevealed,
		}
		if p.UserID == viewerID || p.CardsRevealed {
			sv.Hole = append([]rules.Card(nil), p.Hole...)
		}
		v.Seats = append(v.Seats, sv)
	}
	return v
}
