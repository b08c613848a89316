// Package ranking keeps the live tournament leaderboard in a Redis sorted
// set scored by chip count, with a periodic in-memory snapshot for cheap
// reads.
package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func rankingKey(tid string) string { return "tournament:ranking:" + tid }
func infoKey(tid string) string    { return "tournament:ranking:" + tid + ":info" }

// PlayerInfo is the per-player hash payload next to the sorted set.
type PlayerInfo struct {
	Nickname string `json:"nickname"`
	TableID  string `json:"table_id"`
	Active   bool   `json:"active"`
}

// Entry is one leaderboard row.
type Entry struct {
	Rank     int    `json:"rank"`
	UserID   string `json:"user_id"`
	Chips    int64  `json:"chips"`
	Nickname string `json:"nickname,omitempty"`
	TableID  string `json:"table_id,omitempty"`
	Active   bool   `json:"active"`
}

// Snapshot is a point-in-time leaderboard with aggregates.
type Snapshot struct {
	TournamentID string    `json:"tournament_id"`
	Entries      []Entry   `json:"entries"`
	TotalPlayers int       `json:"total_players"`
	ActiveCount  int       `json:"active_count"`
	TotalChips   int64     `json:"total_chips"`
	AverageStack int64     `json:"average_stack"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// Engine maintains rankings for every registered tournament.
type Engine struct {
	rdb   redis.UniversalClient
	log   zerolog.Logger
	clock quartz.Clock

	mu        sync.RWMutex
	active    map[string]bool
	snapshots map[string]*Snapshot
}

// NewEngine creates a ranking engine.
func NewEngine(rdb redis.UniversalClient, clock quartz.Clock, log zerolog.Logger) *Engine {
	return &Engine{
		rdb:       rdb,
		log:       log.With().Str("component", "ranking").Logger(),
		clock:     clock,
		active:    make(map[string]bool),
		snapshots: make(map[string]*Snapshot),
	}
}

// Register starts tracking a tournament in the snapshot updater.
func (e *Engine) Register(tournamentID string) {
	e.mu.Lock()
	e.active[tournamentID] = true
	e.mu.Unlock()
}

// UpdateChips writes one player's score and info.
func (e *Engine) UpdateChips(ctx context.Context, tid, uid string, chips int64, info PlayerInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}
	pipe := e.rdb.Pipeline()
	pipe.ZAdd(ctx, rankingKey(tid), redis.Z{Score: float64(chips), Member: uid})
	pipe.HSet(ctx, infoKey(tid), uid, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update chips for %s: %w", uid, err)
	}
	return nil
}

// GetRank returns the 1-based rank of a player, 0 when unranked.
func (e *Engine) GetRank(ctx context.Context, tid, uid string) (int, error) {
	rank, err := e.rdb.ZRevRank(ctx, rankingKey(tid), uid).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(rank) + 1, nil
}

// GetTopPlayers returns the top n entries.
func (e *Engine) GetTopPlayers(ctx context.Context, tid string, n int) ([]Entry, error) {
	return e.rangeEntries(ctx, tid, 0, int64(n)-1)
}

// GetNearbyPlayers returns the window of entries around a player.
func (e *Engine) GetNearbyPlayers(ctx context.Context, tid, uid string, above, below int) ([]Entry, error) {
	rank, err := e.rdb.ZRevRank(ctx, rankingKey(tid), uid).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	start := rank - int64(above)
	if start < 0 {
		start = 0
	}
	return e.rangeEntries(ctx, tid, start, rank+int64(below))
}

func (e *Engine) rangeEntries(ctx context.Context, tid string, start, stop int64) ([]Entry, error) {
	zs, err := e.rdb.ZRevRangeWithScores(ctx, rankingKey(tid), start, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(zs) == 0 {
		return nil, nil
	}
	uids := make([]string, len(zs))
	for i, z := range zs {
		uids[i] = z.Member.(string)
	}
	raws, err := e.rdb.HMGet(ctx, infoKey(tid), uids...).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(zs))
	for i, z := range zs {
		entries[i] = Entry{
			Rank:   int(start) + i + 1,
			UserID: uids[i],
			Chips:  int64(z.Score),
		}
		if s, ok := raws[i].(string); ok && s != "" {
			var info PlayerInfo
			if json.Unmarshal([]byte(s), &info) == nil {
				entries[i].Nickname = info.Nickname
				entries[i].TableID = info.TableID
				entries[i].Active = info.Active
			}
		}
	}
	return entries, nil
}

// PlayerState is one player's authoritative chips and info for SyncFromState.
type PlayerState struct {
	Chips int64
	Info  PlayerInfo
}

// SyncFromState atomically rebuilds the sorted set and info hash from
// authoritative tournament state. Used on recovery.
func (e *Engine) SyncFromState(ctx context.Context, tid string, players map[string]PlayerState) error {
	pipe := e.rdb.TxPipeline()
	pipe.Del(ctx, rankingKey(tid), infoKey(tid))
	for uid, p := range players {
		raw, err := json.Marshal(p.Info)
		if err != nil {
			return err
		}
		pipe.ZAdd(ctx, rankingKey(tid), redis.Z{Score: float64(p.Chips), Member: uid})
		pipe.HSet(ctx, infoKey(tid), uid, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sync ranking for %s: %w", tid, err)
	}
	e.Register(tid)
	return nil
}

// Cleanup removes the tournament's Redis structures and cached snapshot.
func (e *Engine) Cleanup(ctx context.Context, tid string) error {
	e.mu.Lock()
	delete(e.active, tid)
	delete(e.snapshots, tid)
	e.mu.Unlock()
	return e.rdb.Del(ctx, rankingKey(tid), infoKey(tid)).Err()
}

// GetSnapshot returns the latest cached snapshot, nil when none exists yet.
func (e *Engine) GetSnapshot(tid string) *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshots[tid]
}

// RunSnapshotLoop regenerates snapshots for every registered tournament at
// the given interval until the context is done.
func (e *Engine) RunSnapshotLoop(ctx context.Context, interval time.Duration) {
	ticker := e.clock.TickerFunc(ctx, interval, func() error {
		e.refreshSnapshots(ctx)
		return nil
	}, "ranking_snapshots")
	_ = ticker.Wait()
}

func (e *Engine) refreshSnapshots(ctx context.Context) {
	e.mu.RLock()
	tids := make([]string, 0, len(e.active))
	for tid := range e.active {
		tids = append(tids, tid)
	}
	e.mu.RUnlock()

	for _, tid := range tids {
		snap, err := e.buildSnapshot(ctx, tid)
		if err != nil {
			e.log.Warn().Err(err).Str("tournament_id", tid).Msg("ranking snapshot failed")
			continue
		}
		e.mu.Lock()
		e.snapshots[tid] = snap
		e.mu.Unlock()
	}
}

func (e *Engine) buildSnapshot(ctx context.Context, tid string) (*Snapshot, error) {
	entries, err := e.rangeEntries(ctx, tid, 0, -1)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		TournamentID: tid,
		Entries:      entries,
		TotalPlayers: len(entries),
		GeneratedAt:  e.clock.Now(),
	}
	for _, en := range entries {
		snap.TotalChips += en.Chips
		if en.Active {
			snap.ActiveCount++
		}
	}
	if snap.ActiveCount > 0 {
		snap.AverageStack = snap.TotalChips / int64(snap.ActiveCount)
	}
	return snap, nil
}
