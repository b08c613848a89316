package tournament

import "sort"

// MovePriority orders plan execution. Critical moves assemble the final
// table and jump the queue.
type MovePriority string

const (
	PriorityNormal   MovePriority = "NORMAL"
	PriorityCritical MovePriority = "CRITICAL"
)

// Move relocates one player between tables. ExecuteAfterHand is set when
// the source table was mid-hand at planning time; the engine holds the
// move until that table's hand completes.
type Move struct {
	UserID           string       `json:"user_id"`
	FromTable        string       `json:"from_table"`
	ToTable          string       `json:"to_table"`
	Seat             int          `json:"seat"`
	Priority         MovePriority `json:"priority"`
	ExecuteAfterHand bool         `json:"execute_after_hand"`
}

// Plan is a set of moves plus the tables that end up empty and closed.
type Plan struct {
	Moves        []Move
	BreakTables  []string
	FinalTableID string
}

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool { return len(p.Moves) == 0 }

type tableCount struct {
	id    string
	count int
}

// ComputePlan builds a balancing plan for the current state: assemble the
// final table when the field fits on one, break short-handed tables, and
// otherwise keep per-table populations within one player of each other.
// The state is not modified.
func ComputePlan(st *State) Plan {
	if len(st.Tables) <= 1 {
		return Plan{}
	}

	counts := make([]tableCount, 0, len(st.Tables))
	total := 0
	for id, t := range st.Tables {
		c := t.PlayerCount()
		counts = append(counts, tableCount{id: id, count: c})
		total += c
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count < counts[j].count
		}
		return counts[i].id < counts[j].id
	})

	if total <= st.Config.FinalTableSize {
		return finalTablePlan(st, counts)
	}
	if counts[0].count < st.Config.MinTablePlayers {
		return breakPlan(st, counts)
	}
	if counts[len(counts)-1].count-counts[0].count <= 1 {
		return Plan{}
	}
	return evenOutPlan(st, counts, total)
}

// finalTablePlan consolidates everyone onto the largest table.
func finalTablePlan(st *State, counts []tableCount) Plan {
	final := counts[len(counts)-1].id
	dest := st.Tables[final]
	seats := seatTracker(dest)

	plan := Plan{FinalTableID: final}
	for _, tc := range counts[:len(counts)-1] {
		src := st.Tables[tc.id]
		plan.BreakTables = append(plan.BreakTables, tc.id)
		for _, uid := range playersClockwise(src) {
			seat := seats.take()
			if seat < 0 {
				break
			}
			plan.Moves = append(plan.Moves, Move{
				UserID:           uid,
				FromTable:        tc.id,
				ToTable:          final,
				Seat:             seat,
				Priority:         PriorityCritical,
				ExecuteAfterHand: src.HandInProgress,
			})
		}
	}
	return plan
}

// breakPlan dissolves short-handed tables into the remaining ones,
// filling the smallest tables first.
func breakPlan(st *State, counts []tableCount) Plan {
	var plan Plan
	broken := make(map[string]bool)
	for _, tc := range counts {
		if tc.count < st.Config.MinTablePlayers && len(broken) < len(counts)-1 {
			broken[tc.id] = true
			plan.BreakTables = append(plan.BreakTables, tc.id)
		}
	}
	if len(broken) == 0 {
		return Plan{}
	}

	// Destinations ordered by ascending population, refreshed as we fill.
	dests := make([]tableCount, 0, len(counts))
	seats := make(map[string]*seatSet)
	for _, tc := range counts {
		if !broken[tc.id] {
			dests = append(dests, tc)
			seats[tc.id] = seatTracker(st.Tables[tc.id])
		}
	}

	for _, id := range plan.BreakTables {
		src := st.Tables[id]
		for _, uid := range playersClockwise(src) {
			sort.Slice(dests, func(i, j int) bool {
				if dests[i].count != dests[j].count {
					return dests[i].count < dests[j].count
				}
				return dests[i].id < dests[j].id
			})
			placed := false
			for di := range dests {
				seat := seats[dests[di].id].take()
				if seat < 0 {
					continue
				}
				plan.Moves = append(plan.Moves, Move{
					UserID:           uid,
					FromTable:        id,
					ToTable:          dests[di].id,
					Seat:             seat,
					Priority:         PriorityNormal,
					ExecuteAfterHand: src.HandInProgress,
				})
				dests[di].count++
				placed = true
				break
			}
			if !placed {
				// Every destination is full; leave the table open.
				return Plan{}
			}
		}
	}
	return plan
}

// evenOutPlan moves players from the fullest tables to the emptiest until
// every table sits within one of the ideal share.
func evenOutPlan(st *State, counts []tableCount, total int) Plan {
	ideal := total / len(counts)
	remainder := total % len(counts)

	// The ideal count per table: remainder tables carry one extra, assigned
	// to the currently fullest so fewer players move.
	targets := make(map[string]int, len(counts))
	for i := len(counts) - 1; i >= 0; i-- {
		want := ideal
		if remainder > 0 {
			want++
			remainder--
		}
		targets[counts[i].id] = want
	}

	current := make(map[string]int, len(counts))
	for _, tc := range counts {
		current[tc.id] = tc.count
	}
	seats := make(map[string]*seatSet, len(counts))
	for id, t := range st.Tables {
		seats[id] = seatTracker(t)
	}

	var plan Plan
	for {
		surplus, deficit := "", ""
		for _, tc := range counts {
			id := tc.id
			if current[id] > targets[id] && (surplus == "" || current[id] > current[surplus]) {
				surplus = id
			}
			if current[id] < targets[id] && (deficit == "" || current[id] < current[deficit]) {
				deficit = id
			}
		}
		if surplus == "" || deficit == "" {
			return plan
		}

		src := st.Tables[surplus]
		moved := pickMover(src, plan.Moves)
		seat := seats[deficit].take()
		if moved == "" || seat < 0 {
			return plan
		}
		plan.Moves = append(plan.Moves, Move{
			UserID:           moved,
			FromTable:        surplus,
			ToTable:          deficit,
			Seat:             seat,
			Priority:         PriorityNormal,
			ExecuteAfterHand: src.HandInProgress,
		})
		current[surplus]--
		current[deficit]++
	}
}

// pickMover selects the occupied seat clockwise just past the button, the
// player who would wait longest for the blinds and so loses the least
// position by moving. Players already planned to move are skipped.
func pickMover(t *Table, planned []Move) string {
	taken := make(map[string]bool, len(planned))
	for _, m := range planned {
		taken[m.UserID] = true
	}
	n := len(t.Seats)
	for i := 1; i <= n; i++ {
		uid := t.Seats[(t.Button+i)%n]
		if uid != "" && !taken[uid] {
			return uid
		}
	}
	return ""
}

// playersClockwise lists a table's occupants starting just past the button.
func playersClockwise(t *Table) []string {
	n := len(t.Seats)
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		if uid := t.Seats[(t.Button+i)%n]; uid != "" {
			out = append(out, uid)
		}
	}
	return out
}

// seatSet hands out the empty seats of a destination table smallest first.
type seatSet struct {
	free []int
}

func seatTracker(t *Table) *seatSet {
	s := &seatSet{}
	for i, uid := range t.Seats {
		if uid == "" {
			s.free = append(s.free, i)
		}
	}
	return s
}

func (s *seatSet) take() int {
	if len(s.free) == 0 {
		return -1
	}
	seat := s.free[0]
	s.free = s.free[1:]
	return seat
}
