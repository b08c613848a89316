package gameloop

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/cardroomlabs/cardroom/internal/events"
	"github.com/cardroomlabs/cardroom/internal/table"
)

// ManagerConfig tunes table housekeeping.
type ManagerConfig struct {
	CleanupInterval  time.Duration
	EvictionAfter    time.Duration
	TimeoutScan      time.Duration
	DefaultTableSize int
}

// DefaultManagerConfig mirrors the production knobs.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		CleanupInterval:  time.Minute,
		EvictionAfter:    30 * time.Minute,
		TimeoutScan:      time.Second,
		DefaultTableSize: 6,
	}
}

type managedTable struct {
	tbl        *table.Table
	lastActive time.Time
}

// Manager owns the live table registry, evicts idle empty tables, and
// enforces turn timeouts. It also seats orchestrator bots.
type Manager struct {
	cfg   ManagerConfig
	loop  *Loop
	clock quartz.Clock
	log   zerolog.Logger
	ic    table.IntegrityChecker

	mu     sync.Mutex
	rng    *rand.Rand
	tables map[string]*managedTable
}

// NewManager builds a manager sharing the loop's clock.
func NewManager(cfg ManagerConfig, loop *Loop, clock quartz.Clock, ic table.IntegrityChecker, log zerolog.Logger) *Manager {
	if cfg.CleanupInterval == 0 {
		cfg = DefaultManagerConfig()
	}
	return &Manager{
		cfg:    cfg,
		loop:   loop,
		clock:  clock,
		log:    log.With().Str("component", "tables").Logger(),
		ic:     ic,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		tables: make(map[string]*managedTable),
	}
}

// CreateTable registers a new table.
func (m *Manager) CreateTable(cfg table.Config) (*table.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[cfg.ID]; ok {
		return nil, fmt.Errorf("table %s already exists", cfg.ID)
	}
	tbl := table.New(cfg, rand.New(rand.NewSource(m.rng.Int63())), m.clock, m.ic, m.log)
	m.tables[cfg.ID] = &managedTable{tbl: tbl, lastActive: m.clock.Now()}
	m.log.Info().Str("table_id", cfg.ID).Int("max_seats", cfg.MaxSeats).Msg("table created")
	return tbl, nil
}

// GetTable looks a table up by ID.
func (m *Manager) GetTable(id string) (*table.Table, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.tables[id]
	if !ok {
		return nil, false
	}
	return mt.tbl, true
}

// Tables snapshots the registry.
func (m *Manager) Tables() []*table.Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*table.Table, 0, len(m.tables))
	for _, mt := range m.tables {
		out = append(out, mt.tbl)
	}
	return out
}

// RemoveTable drops a table from the registry.
func (m *Manager) RemoveTable(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables, id)
}

// Touch marks a table active, deferring eviction.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mt, ok := m.tables[id]; ok {
		mt.lastActive = m.clock.Now()
	}
}

// SeatBot places a bot at the emptiest table with room, buying in for the
// table minimum plus a spread. Implements the orchestrator's Seater.
func (m *Manager) SeatBot(userID, nickname string) (string, int, int, error) {
	m.mu.Lock()
	var best *managedTable
	for _, mt := range m.tables {
		occ := mt.tbl.OccupiedCount()
		if occ >= mt.tbl.Config().MaxSeats {
			continue
		}
		if best == nil || occ < best.tbl.OccupiedCount() {
			best = mt
		}
	}
	m.mu.Unlock()
	if best == nil {
		return "", 0, 0, fmt.Errorf("no table with a free seat")
	}

	tbl := best.tbl
	cfg := tbl.Config()
	buyIn := cfg.MinBuyIn + m.roll(cfg.MaxBuyIn-cfg.MinBuyIn+1)
	for seat := 0; seat < cfg.MaxSeats; seat++ {
		if tbl.PlayerBySeat(seat) != nil {
			continue
		}
		if err := tbl.SeatPlayer(seat, userID, nickname, buyIn, true); err != nil {
			if events.CodeOf(err) == events.CodeSeatOccupied {
				continue
			}
			return "", 0, 0, err
		}
		if err := tbl.SitIn(seat); err != nil {
			return "", 0, 0, err
		}
		m.Touch(tbl.ID())
		return tbl.ID(), seat, buyIn, nil
	}
	return "", 0, 0, fmt.Errorf("table %s filled before the bot sat", tbl.ID())
}

// RemoveBot vacates a bot's seat and returns the cashed-out stack.
func (m *Manager) RemoveBot(userID, tableID string) (int, error) {
	tbl, ok := m.GetTable(tableID)
	if !ok {
		return 0, fmt.Errorf("table %s not found", tableID)
	}
	return tbl.RemovePlayer(userID)
}

// TableWaiting reports whether no hand is in flight.
func (m *Manager) TableWaiting(tableID string) bool {
	tbl, ok := m.GetTable(tableID)
	if !ok {
		return true
	}
	return tbl.Phase() == table.Waiting
}

// TryStartGame nudges the loop for a table by ID.
func (m *Manager) TryStartGame(tableID string) {
	tbl, ok := m.GetTable(tableID)
	if !ok {
		return
	}
	m.Touch(tableID)
	go m.loop.TryStartGame(tbl)
}

// RunCleanup evicts empty tables idle past the eviction window.
func (m *Manager) RunCleanup(ctx context.Context) error {
	waiter := m.clock.TickerFunc(ctx, m.cfg.CleanupInterval, func() error {
		m.cleanupPass()
		return nil
	}, "table_cleanup")
	err := waiter.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *Manager) cleanupPass() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, mt := range m.tables {
		if mt.tbl.OccupiedCount() > 0 {
			mt.lastActive = m.clock.Now()
			continue
		}
		if m.clock.Since(mt.lastActive) >= m.cfg.EvictionAfter {
			delete(m.tables, id)
			m.log.Info().Str("table_id", id).Msg("idle table evicted")
		}
	}
}

// RunTurnTimeouts folds for players whose turn clock expired.
func (m *Manager) RunTurnTimeouts(ctx context.Context) error {
	waiter := m.clock.TickerFunc(ctx, m.cfg.TimeoutScan, func() error {
		m.timeoutPass()
		return nil
	}, "turn_timeouts")
	err := waiter.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *Manager) timeoutPass() {
	for _, tbl := range m.Tables() {
		if tbl.Phase() == table.Waiting {
			continue
		}
		seat := tbl.CurrentTurnSeat()
		if seat < 0 {
			continue
		}
		p := tbl.PlayerBySeat(seat)
		if p == nil || p.IsBot {
			continue
		}
		if m.clock.Since(tbl.TurnStartedAt()) >= m.loop.cfg.TurnTimeout {
			m.log.Info().Str("table_id", tbl.ID()).Int("seat", seat).Msg("turn timed out")
			m.loop.HandleTurnTimeout(tbl)
		}
	}
}

func (m *Manager) roll(n int) int {
	if n <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Intn(n)
}
