package table

import "github.com/cardroomlabs/cardroom/internal/rules"

// Status is a seated player's participation state.
type Status int

const (
	StatusActive Status = iota
	StatusFolded
	StatusAllIn
	StatusSittingOut
)

func (s Status) String() string {
	return [...]string{"active", "folded", "all_in", "sitting_out"}[s]
}

// Player is a seated player. Owned by its Table; callers get copies.
type Player struct {
	UserID        string
	Name          string
	Seat          int
	Stack         int
	Bet           int
	TotalBet      int
	Hole          []rules.Card
	Status        Status
	IsBot         bool
	CardsRevealed bool
}

// InHand reports whether the player is still contesting the current hand.
func (p *Player) InHand() bool {
	return p.Status == StatusActive || p.Status == StatusAllIn
}

func (p *Player) resetForNewHand() {
	p.Bet = 0
	p.TotalBet = 0
	p.Hole = nil
	p.CardsRevealed = false
	if p.Status == StatusFolded || p.Status == StatusAllIn {
		p.Status = StatusActive
	}
}
