// cardroomd runs the cardroom server: WebSocket gateway, cash tables, the
// bot orchestrator, tournaments and the fraud pipeline in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cardroomlabs/cardroom/internal/blinds"
	"github.com/cardroomlabs/cardroom/internal/bots"
	"github.com/cardroomlabs/cardroom/internal/config"
	"github.com/cardroomlabs/cardroom/internal/events"
	"github.com/cardroomlabs/cardroom/internal/fraud"
	"github.com/cardroomlabs/cardroom/internal/gameloop"
	"github.com/cardroomlabs/cardroom/internal/gateway"
	"github.com/cardroomlabs/cardroom/internal/integrity"
	"github.com/cardroomlabs/cardroom/internal/metrics"
	"github.com/cardroomlabs/cardroom/internal/ranking"
	"github.com/cardroomlabs/cardroom/internal/redlock"
	"github.com/cardroomlabs/cardroom/internal/settlement"
	"github.com/cardroomlabs/cardroom/internal/snapshot"
	"github.com/cardroomlabs/cardroom/internal/table"
	"github.com/cardroomlabs/cardroom/internal/tournament"
)

var cli struct {
	Server      serverCmd      `cmd:"" default:"1" help:"Run the cardroom server."`
	CheckConfig checkConfigCmd `cmd:"" name:"check-config" help:"Validate the configuration and exit."`
}

type serverCmd struct {
	Config   string `short:"c" default:"cardroom.hcl" help:"Path to the HCL configuration file."`
	Addr     string `short:"a" help:"Bind address, overrides the config."`
	Port     int    `short:"p" help:"Bind port, overrides the config."`
	LogLevel string `short:"l" help:"Log level, overrides the config."`
}

type checkConfigCmd struct {
	Config string `short:"c" default:"cardroom.hcl" help:"Path to the HCL configuration file."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("cardroomd"),
		kong.Description("Real-time multiplayer poker platform core."),
	)
	ctx.FatalIfErrorf(ctx.Run())
}

func (c *checkConfigCmd) Run() error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Printf("%s: configuration valid, %d tables\n", c.Config, len(cfg.Tables))
	return nil
}

func (s *serverCmd) Run() error {
	cfg, err := config.Load(s.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if s.Addr != "" {
		cfg.Server.Address = s.Addr
	}
	if s.Port != 0 {
		cfg.Server.Port = s.Port
	}
	if s.LogLevel != "" {
		cfg.Server.LogLevel = s.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	clock := quartz.NewReal()
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancelPing()
	if err != nil {
		return fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
	}
	defer func() { _ = rdb.Close() }()

	m := metrics.New()
	bus := events.NewBus(1024, log)
	defer bus.Close()

	secret := []byte(cfg.Integrity.Secret)
	ic := integrity.NewService(secret, log, m.IntegrityViolations)
	locks := redlock.NewManager(rdb, log,
		redlock.WithTTL(time.Duration(cfg.Locks.TTLMs)*time.Millisecond),
		redlock.WithRetryInterval(time.Duration(cfg.Locks.RetryIntervalMs)*time.Millisecond),
		redlock.WithAcquireTimeout(time.Duration(cfg.Locks.AcquireTimeoutMs)*time.Millisecond),
		redlock.WithTimeoutCounter(m.LockTimeouts),
	)
	rank := ranking.NewEngine(rdb, clock, log)
	sched := blinds.NewScheduler(clock, rdb, log, m.SchedulerDriftMs)
	snaps := snapshot.NewManager(rdb, secret, log)
	settle := settlement.NewService(&loggingWallet{log: log}, bus, log)

	gw := gateway.New(gateway.Config{
		HeartbeatInterval: time.Duration(cfg.Server.HeartbeatInterval) * time.Second,
		MaxMissedPongs:    cfg.Server.MaxMissedPongs,
	}, clock, nil, log)
	gw.SetConnGauge(m.ActiveConnections)

	loopCfg := gameloop.DefaultConfig()
	loopCfg.PhaseTransitionDelay = secondsToDuration(cfg.Game.PhaseTransitionDelaySeconds)
	loopCfg.HandResultDisplay = secondsToDuration(cfg.Game.HandResultDisplaySeconds)
	loopCfg.TurnTimeout = time.Duration(cfg.Game.TurnTimeoutSeconds) * time.Second
	loopCfg.MaxIterations = cfg.Game.MaxBotTurnIterations
	loopCfg.HistoryLimit = cfg.Game.HandHistoryLimit

	pool := &lazyPool{}
	loop := gameloop.NewLoop(loopCfg, clock, gw, pool, log)
	mgr := gameloop.NewManager(gameloop.ManagerConfig{
		CleanupInterval:  time.Duration(cfg.Game.CleanupIntervalSeconds) * time.Second,
		EvictionAfter:    time.Duration(cfg.Game.TableEvictionMinutes) * time.Minute,
		TimeoutScan:      time.Second,
		DefaultTableSize: 6,
	}, loop, clock, ic, log)

	orch := bots.New(bots.Config{
		TargetCount:     cfg.Bots.TargetCount,
		SpawnPerMinute:  cfg.Bots.SpawnRatePerMinute,
		RetirePerMinute: cfg.Bots.RetireRatePerMinute,
		RestChance:      0.15,
		RestMin:         30 * time.Second,
		RestMax:         3 * time.Minute,
	}, mgr, clock, log, m.ActiveBots)
	pool.orch = orch

	engine := tournament.NewEngine(clock, locks, rank, sched, snaps, settle, bus, log)
	engine.SetHandStarter(&tournamentStarter{mgr: mgr})

	gate := fraud.NewGate(fraud.GateConfig{
		Enabled:               cfg.Fraud.AutoBanEnabled,
		HighSeverityImmediate: cfg.Fraud.HighSeverityImmediate,
		Thresholds: map[fraud.DetectionType]int{
			fraud.DetectChipDumping: cfg.Fraud.ThresholdChipDumping,
			fraud.DetectBot:         cfg.Fraud.ThresholdBot,
			fraud.DetectAnomaly:     cfg.Fraud.ThresholdAnomaly,
		},
		TempBanDuration: time.Duration(cfg.Fraud.TempBanDurationHours) * time.Hour,
	}, &loggingBans{log: log}, clock, log)

	botDetCfg := fraud.DefaultBotDetectorConfig()
	botDetCfg.SampleSize = cfg.Fraud.BotMinSampleSize
	botDetCfg.SuspicionThreshold = float64(cfg.Fraud.BotSuspicionThreshold)
	botDetCfg.ResponseWeight = float64(cfg.Fraud.ResponseWeight)
	botDetCfg.ActionWeight = float64(cfg.Fraud.ActionWeight)
	botDetCfg.FlatWeight = float64(cfg.Fraud.FlatWeight)
	consumer := fraud.NewConsumer(rdb, gate,
		fraud.NewChipDumpDetector(clock),
		fraud.NewBotDetector(botDetCfg, clock),
		fraud.NewSessionHeuristics(clock),
		nil, log)
	fpub := fraud.NewPublisher(rdb, log)

	// Hand results feed metrics, the fraud pipeline and the lobby feed.
	loop.SetHandCompleteHook(func(tbl *table.Table, res *table.HandResult) {
		m.HandsCompleted.Inc()
		fpub.HandCompleted(context.Background(), fraud.HandCompleted{
			TableID:    tbl.ID(),
			HandNumber: res.HandNumber,
			Transfers:  transfersFromResult(tbl, res),
			Timestamp:  clock.Now(),
		})
		gw.BroadcastToChannel(gateway.ChannelLobby,
			events.New(events.TypeLobbyUpdate, map[string]any{"tables": lobbyTables(mgr)}))
	})
	gw.SetLobbySnapshot(func() events.Event {
		return events.New(events.TypeLobbySnapshot, map[string]any{"tables": lobbyTables(mgr)})
	})

	// Bus events fan out to WebSocket subscribers.
	bus.Subscribe(func(ev events.Event) {
		gw.BroadcastToChannel(gateway.ChannelFor(ev), ev)
	})

	gw.SetHandler((&router{
		mgr:   mgr,
		loop:  loop,
		gw:    gw,
		fpub:  fpub,
		clock: clock,
		log:   log,
	}).handle)

	for _, tc := range cfg.Tables {
		_, err := mgr.CreateTable(table.Config{
			ID:         tc.Name,
			SmallBlind: tc.SmallBlind,
			BigBlind:   tc.BigBlind,
			Ante:       tc.Ante,
			MinBuyIn:   tc.BuyInMin,
			MaxBuyIn:   tc.BuyInMax,
			MaxSeats:   tc.MaxSeats,
		})
		if err != nil {
			return fmt.Errorf("create table %s: %w", tc.Name, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.Recover(ctx); err != nil {
		log.Error().Err(err).Msg("tournament recovery failed")
	}

	mux := http.NewServeMux()
	mux.Handle("/", gw.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.ListenAddress(), Handler: mux}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddress()).Msg("cardroomd listening")
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return gw.RunHeartbeats(ctx) })
	g.Go(func() error { return mgr.RunCleanup(ctx) })
	g.Go(func() error { return mgr.RunTurnTimeouts(ctx) })
	g.Go(func() error { return engine.RunBalancing(ctx) })
	g.Go(func() error { return consumer.Run(ctx) })
	g.Go(func() error {
		rank.RunSnapshotLoop(ctx, time.Second)
		return nil
	})
	if cfg.Bots.Enabled {
		g.Go(func() error { return orch.Run(ctx) })
	}

	err = g.Wait()
	orch.ForceRemoveAllBots()
	gw.Shutdown()
	log.Info().Msg("cardroomd stopped")
	return err
}

func setupLogging(cfg *config.Config) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("invalid log level %q: %w", cfg.Server.LogLevel, err)
	}

	var writers []io.Writer
	writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	closeLog := func() {}
	if cfg.Server.LogFile != "" {
		f, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closeLog = func() { _ = f.Close() }
	}

	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return log, closeLog, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// lazyPool breaks the loop/manager/orchestrator construction cycle: the loop
// needs a bot pool before the orchestrator can exist.
type lazyPool struct {
	orch *bots.Orchestrator
}

func (p *lazyPool) StrategyFor(userID string) (bots.Strategy, bool) {
	if p.orch == nil {
		return nil, false
	}
	return p.orch.StrategyFor(userID)
}

func (p *lazyPool) NotifyHandComplete(userID, tableID string, newStack, wonAmount int) {
	if p.orch != nil {
		p.orch.NotifyHandComplete(userID, tableID, newStack, wonAmount)
	}
}

// tournamentStarter bridges the tournament engine to the game loop.
type tournamentStarter struct {
	mgr *gameloop.Manager
}

func (s *tournamentStarter) StartTableHand(_, tableID string) {
	s.mgr.TryStartGame(tableID)
}

// lobbyTables summarizes every live table for the lobby feed.
func lobbyTables(mgr *gameloop.Manager) []map[string]any {
	tables := mgr.Tables()
	out := make([]map[string]any, 0, len(tables))
	for _, tbl := range tables {
		cfg := tbl.Config()
		out = append(out, map[string]any{
			"table_id":    tbl.ID(),
			"small_blind": cfg.SmallBlind,
			"big_blind":   cfg.BigBlind,
			"max_seats":   cfg.MaxSeats,
			"occupied":    tbl.OccupiedCount(),
			"in_hand":     tbl.Phase() != table.Waiting,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i]["table_id"].(string) < out[j]["table_id"].(string)
	})
	return out
}

// transfersFromResult pairs each hand's losers with its winners so the
// chip-dump detector can track directional flow.
func transfersFromResult(tbl *table.Table, res *table.HandResult) []fraud.Transfer {
	type stake struct {
		userID string
		amount int
	}
	var winners, losers []stake
	for seat, net := range res.NetBySeat {
		p := tbl.PlayerBySeat(seat)
		if p == nil {
			continue
		}
		switch {
		case net > 0:
			winners = append(winners, stake{p.UserID, net})
		case net < 0:
			losers = append(losers, stake{p.UserID, -net})
		}
	}
	sort.Slice(winners, func(i, j int) bool { return winners[i].userID < winners[j].userID })
	sort.Slice(losers, func(i, j int) bool { return losers[i].userID < losers[j].userID })

	var out []fraud.Transfer
	wi, li := 0, 0
	for wi < len(winners) && li < len(losers) {
		amount := winners[wi].amount
		if losers[li].amount < amount {
			amount = losers[li].amount
		}
		out = append(out, fraud.Transfer{
			From:   losers[li].userID,
			To:     winners[wi].userID,
			Amount: amount,
		})
		winners[wi].amount -= amount
		losers[li].amount -= amount
		if winners[wi].amount == 0 {
			wi++
		}
		if losers[li].amount == 0 {
			li++
		}
	}
	return out
}
