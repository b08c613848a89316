package fraud

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBans struct {
	mu     sync.Mutex
	banned map[string]string
	err    error
}

func newFakeBans() *fakeBans {
	return &fakeBans{banned: make(map[string]string)}
}

func (f *fakeBans) TempBan(_ context.Context, userID string, _ time.Duration, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.banned[userID] = reason
	return nil
}

func (f *fakeBans) isBanned(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.banned[userID]
	return ok
}

func dumpHand(winner, loser string, amount int) HandCompleted {
	return HandCompleted{
		TableID:   "t1",
		Transfers: []Transfer{{From: loser, To: winner, Amount: amount}},
	}
}

func TestChipDumpFlagsOneWayFlow(t *testing.T) {
	d := NewChipDumpDetector(quartz.NewMock(t))

	require.Empty(t, d.ObserveHand(dumpHand("shark", "fish", 500)))
	require.Empty(t, d.ObserveHand(dumpHand("shark", "fish", 500)))

	flags := d.ObserveHand(dumpHand("shark", "fish", 500))
	require.Len(t, flags, 1)
	assert.Equal(t, DetectChipDumping, flags[0].Type)
	assert.Equal(t, SeverityMedium, flags[0].Severity)
	assert.ElementsMatch(t, []string{"shark", "fish"}, flags[0].UserIDs)

	// Five one-way hands escalate to HIGH.
	d.ObserveHand(dumpHand("shark", "fish", 500))
	flags = d.ObserveHand(dumpHand("shark", "fish", 500))
	require.Len(t, flags, 1)
	assert.Equal(t, SeverityHigh, flags[0].Severity)
}

func TestChipDumpIgnoresBalancedFlow(t *testing.T) {
	d := NewChipDumpDetector(quartz.NewMock(t))
	for i := 0; i < 3; i++ {
		require.Empty(t, d.ObserveHand(dumpHand("a", "b", 100)))
		require.Empty(t, d.ObserveHand(dumpHand("b", "a", 100)))
	}
}

func TestChipDumpWindowExpires(t *testing.T) {
	mock := quartz.NewMock(t)
	d := NewChipDumpDetector(mock)

	d.ObserveHand(dumpHand("shark", "fish", 500))
	d.ObserveHand(dumpHand("shark", "fish", 500))

	// The early hands age out of the one-hour window.
	mock.Advance(2 * time.Hour)
	require.Empty(t, d.ObserveHand(dumpHand("shark", "fish", 500)))
	require.Empty(t, d.ObserveHand(dumpHand("shark", "fish", 500)))
}

func botAction(user string, responseMs int, action string) PlayerAction {
	return PlayerAction{UserID: user, TableID: "t1", Action: action, ResponseTimeMs: responseMs}
}

func TestBotDetectorFlagsMetronomicTiming(t *testing.T) {
	d := NewBotDetector(DefaultBotDetectorConfig(), quartz.NewMock(t))

	// Nineteen samples fill the buffer without a verdict.
	for i := 0; i < 19; i++ {
		_, ok := d.ObserveAction(botAction("robot", 50, "fold"))
		require.False(t, ok)
	}
	flag, ok := d.ObserveAction(botAction("robot", 50, "fold"))
	require.True(t, ok)
	assert.Equal(t, DetectBot, flag.Type)
	assert.Equal(t, SeverityHigh, flag.Severity)
	assert.GreaterOrEqual(t, flag.Score, 75.0)
}

func TestBotDetectorPassesHumanTiming(t *testing.T) {
	d := NewBotDetector(DefaultBotDetectorConfig(), quartz.NewMock(t))

	actions := []string{"fold", "call", "raise", "check", "call"}
	times := []int{800, 2400, 5200, 1500, 9800, 3100, 700, 4400, 12000, 2100}
	for i := 0; i < 20; i++ {
		flag, ok := d.ObserveAction(botAction("human", times[i%len(times)]+i*37, actions[i%len(actions)]))
		if i < 19 {
			require.False(t, ok)
		} else {
			assert.False(t, ok, "human flagged with score %.0f", flag.Score)
		}
	}
}

func TestSessionHeuristicsFlagExtremes(t *testing.T) {
	h := NewSessionHeuristics(quartz.NewMock(t))

	_, ok := h.ObserveStats(PlayerStats{UserID: "u1", HandsPlayed: 50, WinRate: 0.5})
	assert.False(t, ok)

	flag, ok := h.ObserveStats(PlayerStats{UserID: "u1", HandsPlayed: 50, WinRate: 0.92})
	require.True(t, ok)
	assert.Equal(t, DetectAnomaly, flag.Type)
	assert.Equal(t, SeverityMedium, flag.Severity)

	// Few hands: a high win rate alone is noise.
	_, ok = h.ObserveStats(PlayerStats{UserID: "u2", HandsPlayed: 4, WinRate: 1.0})
	assert.False(t, ok)
}

func TestGateImmediateBanOnHighSeverity(t *testing.T) {
	bans := newFakeBans()
	g := NewGate(DefaultGateConfig(), bans, quartz.NewMock(t), zerolog.Nop())

	banned := g.Record(context.Background(), Flag{
		Type:     DetectBot,
		Severity: SeverityHigh,
		UserIDs:  []string{"robot"},
		Reason:   "score 95",
	})
	assert.Equal(t, []string{"robot"}, banned)
	assert.True(t, bans.isBanned("robot"))
}

func TestGateThresholdBanWithinWindow(t *testing.T) {
	bans := newFakeBans()
	mock := quartz.NewMock(t)
	g := NewGate(DefaultGateConfig(), bans, mock, zerolog.Nop())
	ctx := context.Background()

	flag := Flag{Type: DetectChipDumping, Severity: SeverityMedium, UserIDs: []string{"fish"}}
	require.Empty(t, g.Record(ctx, flag))
	require.Empty(t, g.Record(ctx, flag))
	assert.False(t, bans.isBanned("fish"))

	// Third detection of the same type crosses the threshold.
	banned := g.Record(ctx, flag)
	assert.Equal(t, []string{"fish"}, banned)
	assert.True(t, bans.isBanned("fish"))
}

func TestGateWindowExpiryResetsCount(t *testing.T) {
	bans := newFakeBans()
	mock := quartz.NewMock(t)
	g := NewGate(DefaultGateConfig(), bans, mock, zerolog.Nop())
	ctx := context.Background()

	flag := Flag{Type: DetectChipDumping, Severity: SeverityMedium, UserIDs: []string{"fish"}}
	g.Record(ctx, flag)
	g.Record(ctx, flag)

	mock.Advance(31 * 24 * time.Hour)
	g.Record(ctx, flag)
	assert.Equal(t, 1, g.WindowCount("fish", DetectChipDumping))
	assert.False(t, bans.isBanned("fish"))
}

func TestGateDisabledRecordsButNeverBans(t *testing.T) {
	bans := newFakeBans()
	cfg := DefaultGateConfig()
	cfg.Enabled = false
	g := NewGate(cfg, bans, quartz.NewMock(t), zerolog.Nop())

	banned := g.Record(context.Background(), Flag{
		Type:     DetectBot,
		Severity: SeverityHigh,
		UserIDs:  []string{"robot"},
	})
	assert.Empty(t, banned)
	assert.False(t, bans.isBanned("robot"))
	assert.Equal(t, 1, g.WindowCount("robot", DetectBot))
}

func TestConsumerRoundTrip(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	require.NoError(t, rdb.FlushDB(context.Background()).Err())
	t.Cleanup(func() { _ = rdb.Close() })

	mock := quartz.NewMock(t)
	bans := newFakeBans()
	gate := NewGate(DefaultGateConfig(), bans, mock, zerolog.Nop())
	consumer := NewConsumer(
		rdb,
		gate,
		NewChipDumpDetector(mock),
		NewBotDetector(DefaultBotDetectorConfig(), mock),
		NewSessionHeuristics(mock),
		nil,
		zerolog.Nop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	// Give the subscription a moment to establish, then publish enough
	// metronomic actions to trip the bot detector.
	pub := NewPublisher(rdb, zerolog.Nop())
	require.Eventually(t, func() bool {
		n, err := rdb.PubSubNumSub(context.Background(), ChannelPlayerAction).Result()
		return err == nil && n[ChannelPlayerAction] > 0
	}, 5*time.Second, 20*time.Millisecond)

	for i := 0; i < 20; i++ {
		pub.PlayerAction(context.Background(), botAction("robot", 40, "fold"))
	}

	require.Eventually(t, func() bool {
		return bans.isBanned("robot")
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
