package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 8192
	sendBuffer     = 256
)

// Conn wraps one WebSocket connection with its subscription set, per-channel
// last-seen versions and heartbeat accounting.
type Conn struct {
	id        string
	conn      *websocket.Conn
	send      chan Envelope
	gw        *Gateway
	log       zerolog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu          sync.RWMutex
	userID      string
	sessionID   string
	channels    map[string]bool
	lastSeen    map[string]uint64
	missedPongs int
	evicted     bool
}

func newConn(id string, ws *websocket.Conn, gw *Gateway, log zerolog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		id:       id,
		conn:     ws,
		send:     make(chan Envelope, sendBuffer),
		gw:       gw,
		log:      log.With().Str("conn_id", id).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		channels: make(map[string]bool),
		lastSeen: make(map[string]uint64),
	}
}

// ID returns the connection identifier.
func (c *Conn) ID() string { return c.id }

// UserID returns the authenticated user, empty until identified.
func (c *Conn) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Conn) start() {
	go c.writePump()
	go c.readPump()
}

// Close tears the connection down exactly once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.send)
		err = c.conn.Close()
	})
	return err
}

// closeWithReason sends a close frame with the given reason before tearing
// down. Used for heartbeat timeouts.
func (c *Conn) closeWithReason(reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
	_ = c.Close()
}

// enqueue hands an envelope to the write pump without blocking. A full
// buffer marks the connection for eviction.
func (c *Conn) enqueue(env Envelope) bool {
	defer func() {
		if r := recover(); r != nil {
			// The send channel closed mid-enqueue during shutdown.
			c.log.Debug().Interface("reason", r).Msg("enqueue on closed connection")
		}
	}()

	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	select {
	case c.send <- env:
		return true
	default:
		c.log.Warn().Str("type", string(env.Type)).Msg("send buffer full, marking connection for eviction")
		c.markEvicted()
		return false
	}
}

func (c *Conn) markEvicted() {
	c.mu.Lock()
	c.evicted = true
	c.mu.Unlock()
}

func (c *Conn) isEvicted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.evicted
}

func (c *Conn) subscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channel] = true
}

func (c *Conn) unsubscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channel)
	delete(c.lastSeen, channel)
}

func (c *Conn) subscribedTo(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channel]
}

func (c *Conn) sawVersion(channel string, version uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if version > c.lastSeen[channel] {
		c.lastSeen[channel] = version
	}
}

func (c *Conn) pongReceived() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missedPongs = 0
}

// recordPing bumps the missed-pong counter and reports the new value.
func (c *Conn) recordPing() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missedPongs++
	return c.missedPongs
}

func (c *Conn) readPump() {
	defer func() {
		c.gw.dropConn(c)
		_ = c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Error().Err(err).Msg("websocket read failed")
			}
			return
		}
		c.gw.handleClientEnvelope(c, env)
	}
}

func (c *Conn) writePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case env, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				c.log.Error().Err(err).Msg("websocket write failed")
				c.markEvicted()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
