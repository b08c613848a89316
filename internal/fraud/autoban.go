package fraud

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
)

const detectionWindow = 30 * 24 * time.Hour

// BanService applies bans. The real implementation lives outside the core.
type BanService interface {
	TempBan(ctx context.Context, userID string, duration time.Duration, reason string) error
}

// GateConfig mirrors the auto_ban_* configuration knobs.
type GateConfig struct {
	Enabled               bool
	HighSeverityImmediate bool
	Thresholds            map[DetectionType]int
	TempBanDuration       time.Duration
}

func DefaultGateConfig() GateConfig {
	return GateConfig{
		Enabled:               true,
		HighSeverityImmediate: true,
		Thresholds: map[DetectionType]int{
			DetectChipDumping: 3,
			DetectBot:         5,
			DetectAnomaly:     5,
		},
		TempBanDuration: 24 * time.Hour,
	}
}

type detection struct {
	dtype DetectionType
	at    time.Time
}

// Gate records every flag and decides when a temporary ban fires: either a
// HIGH severity flag with immediate banning enabled, or enough detections of
// the same type inside the 30-day window.
type Gate struct {
	cfg   GateConfig
	bans  BanService
	clock quartz.Clock
	log   zerolog.Logger

	mu      sync.Mutex
	records map[string][]detection
}

func NewGate(cfg GateConfig, bans BanService, clock quartz.Clock, log zerolog.Logger) *Gate {
	if cfg.Thresholds == nil {
		cfg = DefaultGateConfig()
	}
	return &Gate{
		cfg:     cfg,
		bans:    bans,
		clock:   clock,
		log:     log.With().Str("component", "auto_ban").Logger(),
		records: make(map[string][]detection),
	}
}

// Record processes one flag for every flagged user. Returns the users banned
// as a result.
func (g *Gate) Record(ctx context.Context, f Flag) []string {
	var banned []string
	for _, userID := range f.UserIDs {
		count := g.record(userID, f.Type)
		g.log.Info().
			Str("user_id", userID).
			Str("type", string(f.Type)).
			Str("severity", string(f.Severity)).
			Float64("score", f.Score).
			Int("window_count", count).
			Str("reason", f.Reason).
			Msg("suspicious activity recorded")

		if !g.cfg.Enabled {
			continue
		}
		immediate := f.Severity == SeverityHigh && g.cfg.HighSeverityImmediate
		threshold := g.cfg.Thresholds[f.Type]
		if !immediate && (threshold == 0 || count < threshold) {
			continue
		}
		if g.applyBan(ctx, userID, f) {
			banned = append(banned, userID)
		}
	}
	return banned
}

func (g *Gate) record(userID string, t DetectionType) int {
	now := g.clock.Now()
	cutoff := now.Add(-detectionWindow)

	g.mu.Lock()
	defer g.mu.Unlock()
	recs := append(g.records[userID], detection{dtype: t, at: now})
	kept := recs[:0]
	count := 0
	for _, r := range recs {
		if !r.at.After(cutoff) {
			continue
		}
		kept = append(kept, r)
		if r.dtype == t {
			count++
		}
	}
	g.records[userID] = kept
	return count
}

func (g *Gate) applyBan(ctx context.Context, userID string, f Flag) bool {
	if g.bans == nil {
		g.log.Warn().Str("user_id", userID).Msg("ban warranted but no ban service wired")
		return false
	}
	if err := g.bans.TempBan(ctx, userID, g.cfg.TempBanDuration, f.Reason); err != nil {
		g.log.Error().Err(err).Str("user_id", userID).Msg("temp ban failed")
		return false
	}
	g.log.Warn().
		Str("user_id", userID).
		Str("type", string(f.Type)).
		Dur("duration", g.cfg.TempBanDuration).
		Msg("temporary ban applied")
	return true
}

// WindowCount reports how many detections of a type a user has in the
// current window.
func (g *Gate) WindowCount(userID string, t DetectionType) int {
	cutoff := g.clock.Now().Add(-detectionWindow)
	g.mu.Lock()
	defer g.mu.Unlock()
	count := 0
	for _, r := range g.records[userID] {
		if r.dtype == t && r.at.After(cutoff) {
			count++
		}
	}
	return count
}
