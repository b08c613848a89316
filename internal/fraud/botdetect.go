package fraud

import (
	"fmt"
	"math"
	"sync"

	"github.com/coder/quartz"
)

// BotDetectorConfig holds the scoring knobs. Weights split the 100-point
// scale between response timing, action ratios and timing flatness.
type BotDetectorConfig struct {
	SampleSize     int
	ResponseWeight float64
	ActionWeight   float64
	FlatWeight     float64

	StdDevThresholdMs  float64
	MinResponseMs      float64
	TimeRangeMs        float64
	FoldRatioHigh      float64
	RaiseRatioHigh     float64
	SuspicionThreshold float64
	HighSeverityScore  float64
}

func DefaultBotDetectorConfig() BotDetectorConfig {
	return BotDetectorConfig{
		SampleSize:         20,
		ResponseWeight:     50,
		ActionWeight:       30,
		FlatWeight:         20,
		StdDevThresholdMs:  150,
		MinResponseMs:      100,
		TimeRangeMs:        500,
		FoldRatioHigh:      0.85,
		RaiseRatioHigh:     0.6,
		SuspicionThreshold: 60,
		HighSeverityScore:  75,
	}
}

type actionSample struct {
	action         string
	responseTimeMs float64
}

// BotDetector keeps a ring buffer of the last N actions per user and scores
// the buffer whenever it fills.
type BotDetector struct {
	cfg   BotDetectorConfig
	clock quartz.Clock

	mu      sync.Mutex
	buffers map[string][]actionSample
}

func NewBotDetector(cfg BotDetectorConfig, clock quartz.Clock) *BotDetector {
	if cfg.SampleSize == 0 {
		cfg = DefaultBotDetectorConfig()
	}
	return &BotDetector{
		cfg:     cfg,
		clock:   clock,
		buffers: make(map[string][]actionSample),
	}
}

// ObserveAction appends a sample. When the buffer reaches the sample size it
// is scored and cleared; a score past the suspicion threshold yields a flag.
func (d *BotDetector) ObserveAction(msg PlayerAction) (Flag, bool) {
	d.mu.Lock()
	buf := append(d.buffers[msg.UserID], actionSample{
		action:         msg.Action,
		responseTimeMs: float64(msg.ResponseTimeMs),
	})
	if len(buf) < d.cfg.SampleSize {
		d.buffers[msg.UserID] = buf
		d.mu.Unlock()
		return Flag{}, false
	}
	d.buffers[msg.UserID] = nil
	d.mu.Unlock()

	score := d.score(buf)
	if score < d.cfg.SuspicionThreshold {
		return Flag{}, false
	}
	sev := SeverityMedium
	if score >= d.cfg.HighSeverityScore {
		sev = SeverityHigh
	}
	return Flag{
		Type:     DetectBot,
		Severity: sev,
		UserIDs:  []string{msg.UserID},
		Score:    score,
		Reason:   fmt.Sprintf("bot suspicion score %.0f over %d actions", score, len(buf)),
		At:       d.clock.Now(),
	}, true
}

// score combines response-time statistics, action ratios and timing flatness
// into a 0..100+ suspicion score.
func (d *BotDetector) score(buf []actionSample) float64 {
	times := make([]float64, len(buf))
	folds, raises := 0, 0
	for i, s := range buf {
		times[i] = s.responseTimeMs
		switch s.action {
		case "fold":
			folds++
		case "raise", "bet":
			raises++
		}
	}

	std := stdDev(times)
	minT, maxT := minMax(times)

	var responsePoints float64
	if std < d.cfg.StdDevThresholdMs {
		responsePoints += (1 - std/d.cfg.StdDevThresholdMs)
	}
	if minT < d.cfg.MinResponseMs {
		responsePoints += (1 - minT/d.cfg.MinResponseMs)
	}
	if maxT-minT < d.cfg.TimeRangeMs {
		responsePoints += (1 - (maxT-minT)/d.cfg.TimeRangeMs)
	}
	score := d.cfg.ResponseWeight * responsePoints / 3

	n := float64(len(buf))
	foldRatio := float64(folds) / n
	raiseRatio := float64(raises) / n
	var actionPoints float64
	if foldRatio >= d.cfg.FoldRatioHigh || foldRatio == 0 {
		actionPoints++
	}
	if raiseRatio >= d.cfg.RaiseRatioHigh {
		actionPoints++
	}
	score += d.cfg.ActionWeight * actionPoints / 2

	// Flatness: the share of samples landing in the single most common
	// 50 ms bucket. Humans spread out; scripts cluster.
	buckets := make(map[int]int)
	top := 0
	for _, t := range times {
		b := int(t) / 50
		buckets[b]++
		if buckets[b] > top {
			top = buckets[b]
		}
	}
	if flat := float64(top) / n; flat >= 0.5 {
		score += d.cfg.FlatWeight * flat
	}

	return score
}

func stdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return math.Sqrt(sq / float64(len(xs)))
}

func minMax(xs []float64) (float64, float64) {
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	return lo, hi
}

// SessionHeuristics flags statistically extreme sessions.
type SessionHeuristics struct {
	clock quartz.Clock
}

func NewSessionHeuristics(clock quartz.Clock) *SessionHeuristics {
	return &SessionHeuristics{clock: clock}
}

const (
	sessionWinRateLimit = 0.85
	sessionMinHands     = 10
	sessionProfitLimit  = 100_000
	sessionMinutesLimit = 12 * 60
)

// ObserveStats returns a flag when a session crosses any heuristic limit.
func (h *SessionHeuristics) ObserveStats(msg PlayerStats) (Flag, bool) {
	var reasons []string
	sev := SeverityLow
	if msg.HandsPlayed >= sessionMinHands && msg.WinRate >= sessionWinRateLimit {
		reasons = append(reasons, fmt.Sprintf("win rate %.2f over %d hands", msg.WinRate, msg.HandsPlayed))
		sev = SeverityMedium
	}
	if msg.Profit >= sessionProfitLimit {
		reasons = append(reasons, fmt.Sprintf("session profit %d", msg.Profit))
		sev = SeverityMedium
	}
	if msg.SessionMinutes >= sessionMinutesLimit {
		reasons = append(reasons, fmt.Sprintf("session length %.0f minutes", msg.SessionMinutes))
	}
	if len(reasons) == 0 {
		return Flag{}, false
	}
	reason := reasons[0]
	for _, r := range reasons[1:] {
		reason += "; " + r
	}
	return Flag{
		Type:     DetectAnomaly,
		Severity: sev,
		UserIDs:  []string{msg.UserID},
		Reason:   reason,
		At:       h.clock.Now(),
	}, true
}
