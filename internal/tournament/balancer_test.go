package tournament

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildState assembles a running tournament with the given occupied seat
// counts, one table per entry, nine seats each.
func buildState(counts ...int) *State {
	st := &State{
		Config: Config{
			ID:              "t1",
			PlayersPerTable: 9,
			FinalTableSize:  9,
			MinTablePlayers: 2,
		},
		Status:  StatusRunning,
		Players: make(map[string]*Player),
		Tables:  make(map[string]*Table),
	}
	for ti, count := range counts {
		tbl := &Table{
			ID:       fmt.Sprintf("tbl-%d", ti+1),
			Seats:    make([]string, 9),
			MaxSeats: 9,
		}
		for s := 0; s < count; s++ {
			uid := fmt.Sprintf("p%d-%d", ti+1, s)
			tbl.Seats[s] = uid
			st.Players[uid] = &Player{UserID: uid, Chips: 1000, Active: true, TableID: tbl.ID, Seat: s}
		}
		st.Tables[tbl.ID] = tbl
	}
	return st
}

func TestNoPlanWhenBalanced(t *testing.T) {
	assert.True(t, ComputePlan(buildState(9, 8, 8)).Empty())
	assert.True(t, ComputePlan(buildState(5)).Empty())
	assert.True(t, ComputePlan(buildState(8, 9)).Empty())
}

func TestEvenOutMovesFromFullestToEmptiest(t *testing.T) {
	st := buildState(7, 3, 5)
	plan := ComputePlan(st)

	require.Len(t, plan.Moves, 2)
	assert.Empty(t, plan.BreakTables)
	for _, m := range plan.Moves {
		assert.Equal(t, "tbl-1", m.FromTable)
		assert.Equal(t, "tbl-2", m.ToTable)
		assert.Equal(t, PriorityNormal, m.Priority)
		assert.False(t, m.ExecuteAfterHand)
	}
	// Movers come clockwise from just past the button, distinct players.
	assert.Equal(t, "p1-1", plan.Moves[0].UserID)
	assert.Equal(t, "p1-2", plan.Moves[1].UserID)
	// Destination seats are the smallest empty ones.
	assert.Equal(t, 3, plan.Moves[0].Seat)
	assert.Equal(t, 4, plan.Moves[1].Seat)
}

func TestMoverPickedPastButton(t *testing.T) {
	st := buildState(6, 4)
	st.Tables["tbl-1"].Button = 2

	plan := ComputePlan(st)
	require.Len(t, plan.Moves, 1)
	assert.Equal(t, "p1-3", plan.Moves[0].UserID)
}

func TestBreakModeDissolvesShortTable(t *testing.T) {
	st := buildState(1, 6, 5)
	plan := ComputePlan(st)

	assert.Equal(t, []string{"tbl-1"}, plan.BreakTables)
	require.Len(t, plan.Moves, 1)
	// The orphan lands on the emptier surviving table.
	assert.Equal(t, "tbl-3", plan.Moves[0].ToTable)
	assert.Equal(t, 5, plan.Moves[0].Seat)
}

func TestFinalTableAssembly(t *testing.T) {
	st := buildState(5, 4)
	st.Config.FinalTableSize = 9
	st.Tables["tbl-2"].HandInProgress = true

	plan := ComputePlan(st)
	assert.Equal(t, "tbl-1", plan.FinalTableID)
	assert.Equal(t, []string{"tbl-2"}, plan.BreakTables)
	require.Len(t, plan.Moves, 4)
	for _, m := range plan.Moves {
		assert.Equal(t, PriorityCritical, m.Priority)
		assert.Equal(t, "tbl-1", m.ToTable)
		// tbl-2 is mid-hand, so every move waits for the hand to end.
		assert.True(t, m.ExecuteAfterHand)
	}
	// Seats fill smallest-empty first on the final table.
	assert.Equal(t, []int{5, 6, 7, 8},
		[]int{plan.Moves[0].Seat, plan.Moves[1].Seat, plan.Moves[2].Seat, plan.Moves[3].Seat})
}

func TestDeferredFlagSetWhenSourceMidHand(t *testing.T) {
	st := buildState(7, 3, 5)
	st.Tables["tbl-1"].HandInProgress = true

	plan := ComputePlan(st)
	require.NotEmpty(t, plan.Moves)
	for _, m := range plan.Moves {
		assert.True(t, m.ExecuteAfterHand)
	}
}
