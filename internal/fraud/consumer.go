package fraud

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// AnomalyDetector is the optional DB-backed check run on player stats once a
// session has enough hands. Nil disables it.
type AnomalyDetector interface {
	Check(ctx context.Context, stats PlayerStats) (Flag, bool, error)
}

// Consumer subscribes to the three fraud channels and routes each message to
// its detector. Individual message failures are logged and skipped; the
// listen loop only exits on context cancellation.
type Consumer struct {
	rdb      redis.UniversalClient
	gate     *Gate
	dumps    *ChipDumpDetector
	bots     *BotDetector
	sessions *SessionHeuristics
	anomaly  AnomalyDetector
	log      zerolog.Logger
}

func NewConsumer(
	rdb redis.UniversalClient,
	gate *Gate,
	dumps *ChipDumpDetector,
	bots *BotDetector,
	sessions *SessionHeuristics,
	anomaly AnomalyDetector,
	log zerolog.Logger,
) *Consumer {
	return &Consumer{
		rdb:      rdb,
		gate:     gate,
		dumps:    dumps,
		bots:     bots,
		sessions: sessions,
		anomaly:  anomaly,
		log:      log.With().Str("component", "fraud").Logger(),
	}
}

// Run blocks consuming messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	pubsub := c.rdb.Subscribe(ctx, ChannelHandCompleted, ChannelPlayerAction, ChannelPlayerStats)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("fraud subscribe: %w", err)
	}
	c.log.Info().Msg("fraud consumer listening")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := c.handle(ctx, msg.Channel, []byte(msg.Payload)); err != nil {
				c.log.Error().Err(err).Str("channel", msg.Channel).Msg("fraud message failed")
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, channel string, payload []byte) error {
	switch channel {
	case ChannelHandCompleted:
		var msg HandCompleted
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("decode hand_completed: %w", err)
		}
		for _, f := range c.dumps.ObserveHand(msg) {
			c.gate.Record(ctx, f)
		}

	case ChannelPlayerAction:
		var msg PlayerAction
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("decode player_action: %w", err)
		}
		if f, ok := c.bots.ObserveAction(msg); ok {
			c.gate.Record(ctx, f)
		}

	case ChannelPlayerStats:
		var msg PlayerStats
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("decode player_stats: %w", err)
		}
		if f, ok := c.sessions.ObserveStats(msg); ok {
			c.gate.Record(ctx, f)
		}
		if c.anomaly != nil && msg.HandsPlayed >= sessionMinHands {
			f, ok, err := c.anomaly.Check(ctx, msg)
			if err != nil {
				return fmt.Errorf("anomaly check: %w", err)
			}
			if ok {
				c.gate.Record(ctx, f)
			}
		}

	default:
		c.log.Warn().Str("channel", channel).Msg("unexpected fraud channel")
	}
	return nil
}

// Publisher pushes telemetry onto the fraud channels. The game loop hooks
// call it after hands and actions.
type Publisher struct {
	rdb redis.UniversalClient
	log zerolog.Logger
}

func NewPublisher(rdb redis.UniversalClient, log zerolog.Logger) *Publisher {
	return &Publisher{rdb: rdb, log: log.With().Str("component", "fraud_pub").Logger()}
}

func (p *Publisher) publish(ctx context.Context, channel string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.log.Error().Err(err).Str("channel", channel).Msg("marshal failed")
		return
	}
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		p.log.Error().Err(err).Str("channel", channel).Msg("publish failed")
	}
}

func (p *Publisher) HandCompleted(ctx context.Context, msg HandCompleted) {
	p.publish(ctx, ChannelHandCompleted, msg)
}

func (p *Publisher) PlayerAction(ctx context.Context, msg PlayerAction) {
	p.publish(ctx, ChannelPlayerAction, msg)
}

func (p *Publisher) PlayerStats(ctx context.Context, msg PlayerStats) {
	p.publish(ctx, ChannelPlayerStats, msg)
}
