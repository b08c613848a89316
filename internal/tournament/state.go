// Package tournament coordinates multi-table tournaments: registration,
// synchronized start, hand results, eliminations, table balancing, blind
// progression, snapshots and prize settlement.
//
// State values are immutable by convention. Every mutation clones the
// current value, edits the clone under the tournament lock and swaps it
// into the store, so readers never observe a half-applied change.
package tournament

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cardroomlabs/cardroom/internal/blinds"
)

// Status is the tournament lifecycle state.
type Status string

const (
	StatusRegistering Status = "REGISTERING"
	StatusStarting    Status = "STARTING"
	StatusRunning     Status = "RUNNING"
	StatusPaused      Status = "PAUSED"
	StatusFinalTable  Status = "FINAL_TABLE"
	StatusHeadsUp     Status = "HEADS_UP"
	StatusCompleted   Status = "COMPLETED"
	StatusCancelled   Status = "CANCELLED"
)

// Terminal reports whether no further play can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// running covers every status where hands are being dealt.
func (s Status) running() bool {
	return s == StatusRunning || s == StatusFinalTable || s == StatusHeadsUp
}

// Config is fixed at creation time.
type Config struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	BuyIn            int64          `json:"buy_in"`
	StartingChips    int64          `json:"starting_chips"`
	BlindLevels      []blinds.Level `json:"blind_levels"`
	PayoutStructure  []float64      `json:"payout_structure"`
	ITMPercent       float64        `json:"itm_percent"`
	PlayersPerTable  int            `json:"players_per_table"`
	MinPlayers       int            `json:"min_players"`
	MaxPlayers       int            `json:"max_players"`
	LateRegLevels    int            `json:"late_reg_levels"`
	CountdownSeconds int            `json:"countdown_seconds"`
	FinalTableSize   int            `json:"final_table_size"`
	MinTablePlayers  int            `json:"min_table_players"`
}

// Validate rejects configs a tournament cannot run with.
func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("tournament id is required")
	}
	if c.StartingChips <= 0 {
		return fmt.Errorf("starting chips must be positive")
	}
	if len(c.BlindLevels) == 0 {
		return fmt.Errorf("at least one blind level is required")
	}
	if c.PlayersPerTable < 2 {
		return fmt.Errorf("players per table must be at least 2")
	}
	if c.MaxPlayers < 2 {
		return fmt.Errorf("max players must be at least 2")
	}
	var total float64
	for _, f := range c.PayoutStructure {
		total += f
	}
	if len(c.PayoutStructure) == 0 || total > 1.0000001 {
		return fmt.Errorf("payout structure must be non-empty and sum to at most 1")
	}
	return nil
}

// withDefaults fills derived knobs left at zero.
func (c Config) withDefaults() Config {
	if c.MinPlayers == 0 {
		c.MinPlayers = 2
	}
	if c.FinalTableSize == 0 {
		c.FinalTableSize = c.PlayersPerTable
	}
	if c.MinTablePlayers == 0 {
		c.MinTablePlayers = 2
	}
	if c.CountdownSeconds == 0 {
		c.CountdownSeconds = 10
	}
	return c
}

// Player is one entrant.
type Player struct {
	UserID          string    `json:"user_id"`
	Nickname        string    `json:"nickname"`
	Chips           int64     `json:"chips"`
	TableID         string    `json:"table_id"`
	Seat            int       `json:"seat"`
	Active          bool      `json:"active"`
	EliminationRank int       `json:"elimination_rank,omitempty"`
	EliminatedAt    time.Time `json:"eliminated_at,omitempty"`
	Rebuys          int       `json:"rebuys"`
}

// Table is one tournament table. Seats holds user IDs by seat index with
// "" for empty seats.
type Table struct {
	ID             string   `json:"id"`
	Seats          []string `json:"seats"`
	MaxSeats       int      `json:"max_seats"`
	Button         int      `json:"button"`
	HandInProgress bool     `json:"hand_in_progress"`
}

// PlayerCount is the number of occupied seats.
func (t *Table) PlayerCount() int {
	n := 0
	for _, uid := range t.Seats {
		if uid != "" {
			n++
		}
	}
	return n
}

// firstEmptySeat returns the smallest empty seat index, -1 when full.
func (t *Table) firstEmptySeat() int {
	for i, uid := range t.Seats {
		if uid == "" {
			return i
		}
	}
	return -1
}

func (t *Table) removeUser(userID string) {
	for i, uid := range t.Seats {
		if uid == userID {
			t.Seats[i] = ""
			return
		}
	}
}

// State is the full tournament value. It serializes to JSON for snapshots;
// unknown fields in stored snapshots are ignored on load.
type State struct {
	Config          Config             `json:"config"`
	Status          Status             `json:"status"`
	CreatedAt       time.Time          `json:"created_at"`
	StartedAt       time.Time          `json:"started_at,omitempty"`
	TargetStartTime time.Time          `json:"target_start_time,omitempty"`
	CurrentLevel    int                `json:"current_level"`
	LevelStartedAt  time.Time          `json:"level_started_at,omitempty"`
	NextLevelAt     time.Time          `json:"next_level_at,omitempty"`
	Players         map[string]*Player `json:"players"`
	Tables          map[string]*Table  `json:"tables"`
	Ranking         []string           `json:"ranking"`
	PrizePool       int64              `json:"prize_pool"`
	ITMThreshold    int                `json:"itm_threshold"`
	PauseReason     string             `json:"pause_reason,omitempty"`
}

// clone deep-copies the state so mutations never leak into stored values.
func (s *State) clone() *State {
	cp := *s
	cp.Players = make(map[string]*Player, len(s.Players))
	for uid, p := range s.Players {
		pc := *p
		cp.Players[uid] = &pc
	}
	cp.Tables = make(map[string]*Table, len(s.Tables))
	for tid, t := range s.Tables {
		tc := *t
		tc.Seats = append([]string(nil), t.Seats...)
		cp.Tables[tid] = &tc
	}
	cp.Ranking = append([]string(nil), s.Ranking...)
	cp.Config.BlindLevels = append([]blinds.Level(nil), s.Config.BlindLevels...)
	cp.Config.PayoutStructure = append([]float64(nil), s.Config.PayoutStructure...)
	return &cp
}

// ActiveCount counts players still holding chips.
func (s *State) ActiveCount() int {
	n := 0
	for _, p := range s.Players {
		if p.Active && p.Chips > 0 {
			n++
		}
	}
	return n
}

// TotalChips sums every player's stack, the conservation quantity.
func (s *State) TotalChips() int64 {
	var total int64
	for _, p := range s.Players {
		total += p.Chips
	}
	return total
}

// refreshRanking reorders the in-state ranking by chips descending with
// eliminated players after all active ones.
func (s *State) refreshRanking() {
	active := make([]*Player, 0, len(s.Players))
	out := make([]*Player, 0)
	for _, p := range s.Players {
		if p.Active && p.Chips > 0 {
			active = append(active, p)
		} else {
			out = append(out, p)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].Chips != active[j].Chips {
			return active[i].Chips > active[j].Chips
		}
		return active[i].UserID < active[j].UserID
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].EliminationRank < out[j].EliminationRank
	})
	s.Ranking = s.Ranking[:0]
	for _, p := range active {
		s.Ranking = append(s.Ranking, p.UserID)
	}
	for _, p := range out {
		s.Ranking = append(s.Ranking, p.UserID)
	}
}

// Marshal serializes the state for snapshotting.
func (s *State) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalState decodes a snapshot blob back into a state value.
func UnmarshalState(raw []byte) (*State, error) {
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode tournament state: %w", err)
	}
	if st.Players == nil {
		st.Players = make(map[string]*Player)
	}
	if st.Tables == nil {
		st.Tables = make(map[string]*Table)
	}
	return &st, nil
}

