package rules

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeck(holes [][2]Card, board [5]Card) *Deck {
	cards := make([]Card, 0, 17)
	for _, h := range holes {
		cards = append(cards, h[0], h[1])
	}
	// burn, flop, burn, turn, burn, river
	cards = append(cards, "3c", board[0], board[1], board[2])
	cards = append(cards, "4c", board[3])
	cards = append(cards, "5c", board[4])
	return NewOrderedDeck(cards)
}

func TestCreateHandHeadsUpBlinds(t *testing.T) {
	snap, err := CreateHand(rand.New(rand.NewSource(1)), []int{1000, 1000}, 10, 20, 0)
	require.NoError(t, err)

	// Heads-up: seat 0 is the big blind, seat 1 the small blind and button.
	assert.Equal(t, []int{980, 990}, snap.Stacks())
	assert.Equal(t, []int{20, 10}, snap.Bets())
	assert.Equal(t, 1, snap.ActorIndex())
	assert.Equal(t, 10, snap.CheckingOrCallingAmount())
	assert.Equal(t, Preflop, snap.Street())
	assert.Len(t, snap.HoleCards(0), 2)
	assert.Len(t, snap.HoleCards(1), 2)
}

func TestCreateHandThreeHanded(t *testing.T) {
	snap, err := CreateHand(rand.New(rand.NewSource(1)), []int{500, 500, 500}, 10, 20, 0)
	require.NoError(t, err)

	assert.Equal(t, []int{10, 20, 0}, snap.Bets())
	assert.Equal(t, 2, snap.ActorIndex())
	assert.Equal(t, 20, snap.CurrentBet())
}

func TestCreateHandRejectsSingleSeat(t *testing.T) {
	_, err := CreateHand(rand.New(rand.NewSource(1)), []int{1000}, 10, 20, 0)
	assert.ErrorIs(t, err, ErrInsufficientSeats)
}

func TestAntesCollected(t *testing.T) {
	snap, err := CreateHand(rand.New(rand.NewSource(1)), []int{500, 500, 500}, 10, 20, 5)
	require.NoError(t, err)

	assert.Equal(t, []int{485, 475, 495}, snap.Stacks())
	assert.Equal(t, []int{15, 25, 5}, snap.TotalBets())
}

func TestFoldEndsHeadsUpHand(t *testing.T) {
	snap, err := CreateHand(rand.New(rand.NewSource(1)), []int{1000, 1000}, 10, 20, 0)
	require.NoError(t, err)

	snap, err = snap.ApplyFold()
	require.NoError(t, err)

	assert.True(t, snap.IsHandComplete())
	assert.Equal(t, -1, snap.ActorIndex())
	// Big blind takes the small blind's 10 without showdown.
	assert.Equal(t, []int{1010, 990}, snap.Stacks())
	assert.Equal(t, map[int][]int{0: {0}}, snap.Winners())
}

func TestCheckedDownToShowdown(t *testing.T) {
	deck := newTestDeck(
		[][2]Card{{"As", "Ah"}, {"2c", "7d"}},
		[5]Card{"Ad", "Ks", "Qh", "Jd", "9s"},
	)
	snap, err := CreateHandWithDeck(deck, []int{1000, 1000}, 10, 20, 0)
	require.NoError(t, err)

	// Small blind limps, big blind checks its option.
	snap, err = snap.ApplyCheckOrCall()
	require.NoError(t, err)
	require.Equal(t, Preflop, snap.Street())
	require.Equal(t, 0, snap.ActorIndex())
	snap, err = snap.ApplyCheckOrCall()
	require.NoError(t, err)
	require.Equal(t, Flop, snap.Street())

	for !snap.IsHandComplete() {
		snap, err = snap.ApplyCheckOrCall()
		require.NoError(t, err)
	}

	// Trip aces beat seven high.
	assert.Equal(t, []int{1020, 980}, snap.Stacks())
	assert.Equal(t, map[int][]int{0: {0}}, snap.Winners())
	assert.Len(t, snap.Board(), 5)
}

func TestBigBlindOptionPreflop(t *testing.T) {
	snap, err := CreateHand(rand.New(rand.NewSource(1)), []int{500, 500, 500}, 10, 20, 0)
	require.NoError(t, err)

	snap, err = snap.ApplyCheckOrCall() // seat 2 calls
	require.NoError(t, err)
	snap, err = snap.ApplyCheckOrCall() // seat 0 completes the small blind
	require.NoError(t, err)

	// Everyone matched 20 but the big blind still has its option.
	require.Equal(t, Preflop, snap.Street())
	require.Equal(t, 1, snap.ActorIndex())
	assert.True(t, snap.CanBetOrRaiseTo(40))

	snap, err = snap.ApplyCheckOrCall()
	require.NoError(t, err)
	assert.Equal(t, Flop, snap.Street())
	assert.Equal(t, 0, snap.ActorIndex())
}

func TestMinRaiseBoundaries(t *testing.T) {
	snap, err := CreateHand(rand.New(rand.NewSource(1)), []int{1000, 1000, 1000}, 10, 20, 0)
	require.NoError(t, err)

	require.Equal(t, 2, snap.ActorIndex())
	assert.Equal(t, 40, snap.MinCompletionRaise())
	assert.Equal(t, 1000, snap.MaxCompletionRaise())
	assert.False(t, snap.CanBetOrRaiseTo(39))
	assert.True(t, snap.CanBetOrRaiseTo(40))
	assert.True(t, snap.CanBetOrRaiseTo(1000))

	snap, err = snap.ApplyCompleteBetOrRaiseTo(60)
	require.NoError(t, err)

	// Raise of 40 on top of 20 sets the next minimum to 100.
	require.Equal(t, 0, snap.ActorIndex())
	assert.Equal(t, 100, snap.MinCompletionRaise())
	assert.False(t, snap.CanBetOrRaiseTo(99))
	assert.True(t, snap.CanBetOrRaiseTo(100))
}

func TestAllInUnderRaiseAllowed(t *testing.T) {
	snap, err := CreateHand(rand.New(rand.NewSource(1)), []int{1000, 1000, 35}, 10, 20, 0)
	require.NoError(t, err)

	require.Equal(t, 2, snap.ActorIndex())
	// Full minimum is 40 but the short stack may jam for 35.
	assert.Equal(t, 35, snap.MinCompletionRaise())
	assert.False(t, snap.CanBetOrRaiseTo(30))
	assert.True(t, snap.CanBetOrRaiseTo(35))

	snap, err = snap.ApplyCompleteBetOrRaiseTo(35)
	require.NoError(t, err)

	assert.True(t, snap.AllIn(2))
	assert.Equal(t, 35, snap.CurrentBet())
	// The under-raise does not reopen a full raise increment: the next
	// minimum stays one big blind over the all-in total.
	require.Equal(t, 0, snap.ActorIndex())
	assert.Equal(t, 55, snap.MinCompletionRaise())
}

func TestRaiseRejectedOutOfRange(t *testing.T) {
	snap, err := CreateHand(rand.New(rand.NewSource(1)), []int{1000, 1000}, 10, 20, 0)
	require.NoError(t, err)

	_, err = snap.ApplyCompleteBetOrRaiseTo(25)
	assert.ErrorIs(t, err, ErrInvalidRaise)
	_, err = snap.ApplyCompleteBetOrRaiseTo(5000)
	assert.ErrorIs(t, err, ErrInvalidRaise)
}

func TestSidePotsThreeWayAllIn(t *testing.T) {
	deck := newTestDeck(
		[][2]Card{{"Ks", "Kh"}, {"As", "Ah"}, {"2c", "7d"}},
		[5]Card{"Ad", "Kd", "Qh", "Jc", "3s"},
	)
	snap, err := CreateHandWithDeck(deck, []int{100, 50, 200}, 10, 20, 0)
	require.NoError(t, err)

	require.Equal(t, 2, snap.ActorIndex())
	snap, err = snap.ApplyCompleteBetOrRaiseTo(200)
	require.NoError(t, err)
	snap, err = snap.ApplyCheckOrCall() // seat 0 all-in for 100
	require.NoError(t, err)
	snap, err = snap.ApplyCheckOrCall() // seat 1 all-in for 50
	require.NoError(t, err)

	require.True(t, snap.IsHandComplete())
	pots := snap.Pots()
	require.Len(t, pots, 3)
	assert.Equal(t, Pot{Amount: 150, Eligible: []int{0, 1, 2}}, pots[0])
	assert.Equal(t, Pot{Amount: 100, Eligible: []int{0, 2}}, pots[1])
	assert.Equal(t, Pot{Amount: 100, Eligible: []int{2}}, pots[2])

	// Aces take the main pot, kings the first side pot, and the uncalled
	// 100 returns to seat 2.
	assert.Equal(t, []int{100, 150, 100}, snap.Stacks())
	assert.Equal(t, map[int][]int{0: {1}, 1: {0}, 2: {2}}, snap.Winners())
}

func TestChipConservationAcrossHand(t *testing.T) {
	total := func(s Snapshot) int {
		sum := 0
		for _, v := range s.Stacks() {
			sum += v
		}
		for _, v := range s.Bets() {
			sum += v
		}
		for _, p := range s.Pots() {
			sum += p.Amount
		}
		return sum
	}

	snap, err := CreateHand(rand.New(rand.NewSource(7)), []int{300, 800, 1500}, 10, 20, 5)
	require.NoError(t, err)
	require.Equal(t, 2600, total(snap))

	for !snap.IsHandComplete() {
		var next Snapshot
		if snap.CanBetOrRaiseTo(snap.MinCompletionRaise()) && snap.Street() == Preflop {
			next, err = snap.ApplyCompleteBetOrRaiseTo(snap.MinCompletionRaise())
		} else {
			next, err = snap.ApplyCheckOrCall()
		}
		require.NoError(t, err)
		require.Equal(t, 2600, total(next))
		snap = next
	}
	assert.Equal(t, 2600, total(snap))
}

func TestApplyDoesNotMutateReceiver(t *testing.T) {
	snap, err := CreateHand(rand.New(rand.NewSource(1)), []int{1000, 1000}, 10, 20, 0)
	require.NoError(t, err)

	before := snap.Stacks()
	_, err = snap.ApplyCheckOrCall()
	require.NoError(t, err)

	assert.Equal(t, before, snap.Stacks())
	assert.Equal(t, 1, snap.ActorIndex())
}

func TestSerializeRoundTrip(t *testing.T) {
	snap, err := CreateHand(rand.New(rand.NewSource(1)), []int{1000, 1000, 1000}, 10, 20, 0)
	require.NoError(t, err)
	snap, err = snap.ApplyCompleteBetOrRaiseTo(60)
	require.NoError(t, err)

	data, err := snap.Serialize()
	require.NoError(t, err)

	got, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, snap.Stacks(), got.Stacks())
	assert.Equal(t, snap.Bets(), got.Bets())
	assert.Equal(t, snap.ActorIndex(), got.ActorIndex())
	assert.Equal(t, snap.Street(), got.Street())
	assert.Equal(t, snap.HoleCards(0), got.HoleCards(0))
	assert.Equal(t, snap.CurrentBet(), got.CurrentBet())
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	_, err := Deserialize([]byte("{not json"))
	assert.Error(t, err)
}
