// Package gateway terminates WebSocket connections and fans events out to
// channel subscribers, with heartbeat-driven eviction and versioned replay
// for reconnecting clients.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/cardroomlabs/cardroom/internal/events"
)

// Config tunes heartbeats and the per-channel replay buffer.
type Config struct {
	HeartbeatInterval time.Duration
	MaxMissedPongs    int
	ReplayBuffer      int
}

// DefaultConfig mirrors the production knobs.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 15 * time.Second,
		MaxMissedPongs:    3,
		ReplayBuffer:      64,
	}
}

// ClientHandler receives every client envelope the gateway does not consume
// itself (subscriptions, heartbeats, recovery). The application routes game
// traffic through it.
type ClientHandler func(c *Conn, env Envelope)

type buffered struct {
	version uint64
	env     Envelope
}

type channelState struct {
	version uint64
	buf     []buffered
}

// Gateway is the connection registry and broadcast hub.
type Gateway struct {
	cfg      Config
	clock    quartz.Clock
	log      zerolog.Logger
	upgrader websocket.Upgrader
	handler  ClientHandler
	gauge    prometheus.Gauge

	mu            sync.RWMutex
	conns         map[string]*Conn
	byUser        map[string]map[string]*Conn
	channels      map[string]*channelState
	lobbySnapshot func() events.Event
}

// New builds a gateway. The handler may be nil; unrouted client envelopes
// then get an ERROR response.
func New(cfg Config, clock quartz.Clock, handler ClientHandler, log zerolog.Logger) *Gateway {
	if cfg.HeartbeatInterval == 0 {
		cfg = DefaultConfig()
	}
	if cfg.ReplayBuffer == 0 {
		cfg.ReplayBuffer = 64
	}
	return &Gateway{
		cfg:   cfg,
		clock: clock,
		log:   log.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		handler:  handler,
		conns:    make(map[string]*Conn),
		byUser:   make(map[string]map[string]*Conn),
		channels: make(map[string]*channelState),
	}
}

// SetHandler installs the client envelope router.
func (g *Gateway) SetHandler(h ClientHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handler = h
}

// SetConnGauge installs the connection-count collector.
func (g *Gateway) SetConnGauge(gauge prometheus.Gauge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gauge = gauge
}

// SetLobbySnapshot installs the provider for the snapshot sent to every
// fresh lobby subscriber.
func (g *Gateway) SetLobbySnapshot(fn func() events.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lobbySnapshot = fn
}

// Handler returns the HTTP mux serving /ws upgrades and /health.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleUpgrade)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, "OK")
	})
	return mux
}

func (g *Gateway) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newConn(uuid.NewString(), ws, g, g.log)
	c.sessionID = uuid.NewString()
	if user := r.URL.Query().Get("user_id"); user != "" {
		c.userID = user
	}

	g.mu.Lock()
	g.conns[c.id] = c
	if c.userID != "" {
		if g.byUser[c.userID] == nil {
			g.byUser[c.userID] = make(map[string]*Conn)
		}
		g.byUser[c.userID][c.id] = c
	}
	total := len(g.conns)
	if g.gauge != nil {
		g.gauge.Set(float64(total))
	}
	g.mu.Unlock()

	g.log.Info().Str("conn_id", c.id).Str("user_id", c.userID).Int("total", total).Msg("client connected")
	c.start()
	c.enqueue(Envelope{
		Type:      events.TypeConnectionState,
		Payload:   map[string]any{"state": "CONNECTED", "session_id": c.sessionID},
		Timestamp: g.clock.Now(),
	})
}

func (g *Gateway) dropConn(c *Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.conns[c.id]; !ok {
		return
	}
	delete(g.conns, c.id)
	if c.userID != "" {
		delete(g.byUser[c.userID], c.id)
		if len(g.byUser[c.userID]) == 0 {
			delete(g.byUser, c.userID)
		}
	}
	if g.gauge != nil {
		g.gauge.Set(float64(len(g.conns)))
	}
	g.log.Info().Str("conn_id", c.id).Int("total", len(g.conns)).Msg("client disconnected")
}

// ConnCount reports live connections.
func (g *Gateway) ConnCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// BroadcastToChannel versions the event on its channel, records it in the
// replay buffer and enqueues it on every subscriber. Non-blocking; a
// subscriber with a full buffer is marked for eviction.
func (g *Gateway) BroadcastToChannel(channel string, ev events.Event) {
	env := wrap(ev)
	env.Channel = channel

	g.mu.Lock()
	cs := g.channels[channel]
	if cs == nil {
		cs = &channelState{}
		g.channels[channel] = cs
	}
	cs.version++
	env.Version = cs.version
	cs.buf = append(cs.buf, buffered{version: cs.version, env: env})
	if len(cs.buf) > g.cfg.ReplayBuffer {
		cs.buf = cs.buf[len(cs.buf)-g.cfg.ReplayBuffer:]
	}
	targets := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		targets = append(targets, c)
	}
	g.mu.Unlock()

	for _, c := range targets {
		if !c.subscribedTo(channel) {
			continue
		}
		if c.enqueue(env) {
			c.sawVersion(channel, env.Version)
		}
	}
}

// SendToUser delivers directly to every connection of one user.
func (g *Gateway) SendToUser(userID string, ev events.Event) {
	env := wrap(ev)

	g.mu.RLock()
	targets := make([]*Conn, 0, len(g.byUser[userID]))
	for _, c := range g.byUser[userID] {
		targets = append(targets, c)
	}
	g.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(env)
	}
}

// Reply sends a correlated response on one connection. Handlers use it to
// answer client-initiated envelopes.
func (g *Gateway) Reply(c *Conn, req Envelope, ev events.Event) {
	env := wrap(ev)
	env.CorrelationID = req.CorrelationID
	c.enqueue(env)
}

// SendToConnection delivers directly to a single connection.
func (g *Gateway) SendToConnection(connID string, ev events.Event) bool {
	g.mu.RLock()
	c := g.conns[connID]
	g.mu.RUnlock()
	if c == nil {
		return false
	}
	return c.enqueue(wrap(ev))
}

// RunHeartbeats pings every connection on the configured interval and closes
// those past the missed-pong threshold.
func (g *Gateway) RunHeartbeats(ctx context.Context) error {
	waiter := g.clock.TickerFunc(ctx, g.cfg.HeartbeatInterval, func() error {
		g.heartbeatPass()
		return nil
	}, "gateway_heartbeat")
	err := waiter.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (g *Gateway) heartbeatPass() {
	g.mu.RLock()
	conns := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.RUnlock()

	for _, c := range conns {
		if c.isEvicted() {
			g.dropConn(c)
			_ = c.Close()
			continue
		}
		if missed := c.recordPing(); missed > g.cfg.MaxMissedPongs {
			g.log.Warn().Str("conn_id", c.id).Int("missed", missed-1).Msg("heartbeat timeout")
			g.dropConn(c)
			c.closeWithReason("HEARTBEAT_TIMEOUT")
			continue
		}
		c.enqueue(Envelope{Type: events.TypePing, Timestamp: g.clock.Now()})
	}
}

// Shutdown closes every connection.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	conns := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.conns = make(map[string]*Conn)
	g.byUser = make(map[string]map[string]*Conn)
	g.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// handleClientEnvelope consumes the system messages and routes the rest.
func (g *Gateway) handleClientEnvelope(c *Conn, env Envelope) {
	switch env.Type {
	case events.TypePong:
		c.pongReceived()

	case events.TypePing:
		c.enqueue(Envelope{
			Type:          events.TypePong,
			CorrelationID: env.CorrelationID,
			Timestamp:     g.clock.Now(),
		})

	case events.TypeSubscribeLobby:
		c.subscribe(ChannelLobby)
		g.ack(c, env, map[string]any{"channel": ChannelLobby})
		g.mu.RLock()
		snap := g.lobbySnapshot
		g.mu.RUnlock()
		if snap != nil {
			c.enqueue(wrap(snap()))
		}

	case events.TypeUnsubscribeLobby:
		c.unsubscribe(ChannelLobby)
		g.ack(c, env, map[string]any{"channel": ChannelLobby})

	case events.TypeSubscribeTable:
		channel, ok := tableChannelFromPayload(env.Payload)
		if !ok {
			g.sendError(c, env, "INVALID_SUBSCRIPTION", "table_id required")
			return
		}
		c.subscribe(channel)
		g.ack(c, env, map[string]any{"channel": channel})

	case events.TypeUnsubscribeTable:
		channel, ok := tableChannelFromPayload(env.Payload)
		if !ok {
			g.sendError(c, env, "INVALID_SUBSCRIPTION", "table_id required")
			return
		}
		c.unsubscribe(channel)
		g.ack(c, env, map[string]any{"channel": channel})

	case events.TypeRecoveryRequest:
		g.handleRecovery(c, env)

	default:
		g.mu.RLock()
		handler := g.handler
		g.mu.RUnlock()
		if handler == nil {
			g.sendError(c, env, "UNKNOWN_MESSAGE_TYPE", fmt.Sprintf("unhandled type %s", env.Type))
			return
		}
		handler(c, env)
	}
}

// handleRecovery replays buffered updates newer than the client's last-seen
// versions. When the buffer no longer covers the gap the client is told to
// resync from a fresh snapshot instead.
func (g *Gateway) handleRecovery(c *Conn, req Envelope) {
	lastSeen := versionsFromPayload(req.Payload)

	channels := make([]string, 0, len(lastSeen))
	for channel := range lastSeen {
		channels = append(channels, channel)
	}
	sort.Strings(channels)

	replayed := 0
	resync := make([]string, 0)
	for _, channel := range channels {
		c.subscribe(channel)
		seen := lastSeen[channel]

		g.mu.RLock()
		cs := g.channels[channel]
		var pending []buffered
		var gap bool
		if cs != nil && cs.version > seen {
			// The buffer must still hold version seen+1, otherwise updates
			// were lost and only a fresh snapshot is safe.
			if len(cs.buf) > 0 && cs.buf[0].version <= seen+1 {
				for _, b := range cs.buf {
					if b.version > seen {
						pending = append(pending, b)
					}
				}
			} else {
				gap = true
			}
		}
		g.mu.RUnlock()

		if gap {
			resync = append(resync, channel)
			continue
		}
		for _, b := range pending {
			if c.enqueue(b.env) {
				c.sawVersion(channel, b.version)
				replayed++
			}
		}
	}

	c.enqueue(Envelope{
		Type:          events.TypeRecoveryResponse,
		CorrelationID: req.CorrelationID,
		Payload: map[string]any{
			"state":    "RECOVERED",
			"replayed": replayed,
			"resync":   resync,
		},
		Timestamp: g.clock.Now(),
	})
}

func (g *Gateway) ack(c *Conn, req Envelope, payload map[string]any) {
	c.enqueue(Envelope{
		Type:          events.TypeConnectionState,
		CorrelationID: req.CorrelationID,
		Payload:       payload,
		Timestamp:     g.clock.Now(),
	})
}

func (g *Gateway) sendError(c *Conn, req Envelope, code, message string) {
	c.enqueue(Envelope{
		Type:          events.TypeError,
		CorrelationID: req.CorrelationID,
		Payload:       map[string]any{"code": code, "message": message},
		Timestamp:     g.clock.Now(),
	})
}

func tableChannelFromPayload(payload map[string]any) (string, bool) {
	tableID, _ := payload["table_id"].(string)
	if tableID == "" {
		return "", false
	}
	if tournamentID, _ := payload["tournament_id"].(string); tournamentID != "" {
		return TournamentTableChannel(tournamentID, tableID), true
	}
	return TableChannel(tableID), true
}

func versionsFromPayload(payload map[string]any) map[string]uint64 {
	out := make(map[string]uint64)
	raw, _ := payload["last_seen_versions"].(map[string]any)
	for channel, v := range raw {
		// JSON numbers decode as float64.
		if f, ok := v.(float64); ok && f >= 0 {
			out[channel] = uint64(f)
		}
	}
	return out
}
