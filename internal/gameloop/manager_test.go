package gameloop

import (
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardroomlabs/cardroom/internal/table"
)

func newTestManager(t *testing.T) (*Manager, *quartz.Mock) {
	t.Helper()
	mock := quartz.NewMock(t)
	loop := NewLoop(fastConfig(), mock, nil, nil, zerolog.Nop())
	return NewManager(DefaultManagerConfig(), loop, mock, nil, zerolog.Nop()), mock
}

func TestCreateTableRejectsDuplicates(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreateTable(tableConfig())
	require.NoError(t, err)
	_, err = m.CreateTable(tableConfig())
	assert.Error(t, err)
}

func TestSeatBotPrefersEmptiestTable(t *testing.T) {
	m, _ := newTestManager(t)
	busy, err := m.CreateTable(tableConfig())
	require.NoError(t, err)
	cfg2 := tableConfig()
	cfg2.ID = "t2"
	_, err = m.CreateTable(cfg2)
	require.NoError(t, err)

	require.NoError(t, busy.SeatPlayer(0, "human-a", "A", 1000, false))
	require.NoError(t, busy.SeatPlayer(1, "human-b", "B", 1000, false))

	tableID, seatNo, buyIn, err := m.SeatBot("bot-1", "Bot1")
	require.NoError(t, err)
	assert.Equal(t, "t2", tableID)
	assert.Equal(t, 0, seatNo)
	assert.GreaterOrEqual(t, buyIn, 200)
	assert.LessOrEqual(t, buyIn, 2000)

	tbl, _ := m.GetTable("t2")
	p := tbl.PlayerBySeat(0)
	require.NotNil(t, p)
	assert.True(t, p.IsBot)
	assert.Equal(t, table.StatusActive, p.Status)
}

func TestSeatBotFailsWithNoRoom(t *testing.T) {
	m, _ := newTestManager(t)
	_, _, _, err := m.SeatBot("bot-1", "Bot1")
	assert.Error(t, err)
}

func TestRemoveBotCashesOut(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreateTable(tableConfig())
	require.NoError(t, err)
	tableID, _, buyIn, err := m.SeatBot("bot-1", "Bot1")
	require.NoError(t, err)

	stack, err := m.RemoveBot("bot-1", tableID)
	require.NoError(t, err)
	assert.Equal(t, buyIn, stack)
	assert.True(t, m.TableWaiting(tableID))
}

func TestCleanupEvictsIdleEmptyTables(t *testing.T) {
	m, mock := newTestManager(t)
	_, err := m.CreateTable(tableConfig())
	require.NoError(t, err)
	occupied, err := m.CreateTable(table.Config{
		ID: "t2", SmallBlind: 5, BigBlind: 10, MinBuyIn: 200, MaxBuyIn: 2000, MaxSeats: 6,
	})
	require.NoError(t, err)
	require.NoError(t, occupied.SeatPlayer(0, "human-a", "A", 1000, false))

	mock.Advance(29 * time.Minute)
	m.cleanupPass()
	_, ok := m.GetTable("t1")
	assert.True(t, ok)

	mock.Advance(2 * time.Minute)
	m.cleanupPass()
	_, ok = m.GetTable("t1")
	assert.False(t, ok)
	_, ok = m.GetTable("t2")
	assert.True(t, ok)
}
