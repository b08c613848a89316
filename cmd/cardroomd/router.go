package main

import (
	"context"
	"fmt"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/cardroomlabs/cardroom/internal/events"
	"github.com/cardroomlabs/cardroom/internal/fraud"
	"github.com/cardroomlabs/cardroom/internal/gameloop"
	"github.com/cardroomlabs/cardroom/internal/gateway"
	"github.com/cardroomlabs/cardroom/internal/table"
)

// router translates client envelopes into table operations and answers with
// correlated result envelopes.
type router struct {
	mgr   *gameloop.Manager
	loop  *gameloop.Loop
	gw    *gateway.Gateway
	fpub  *fraud.Publisher
	clock quartz.Clock
	log   zerolog.Logger
}

func (r *router) handle(c *gateway.Conn, env gateway.Envelope) {
	userID := c.UserID()
	if userID == "" {
		r.fail(c, env, "NOT_AUTHENTICATED", "connect with a user_id to play")
		return
	}

	switch env.Type {
	case events.TypeSeatRequest:
		r.handleSeat(c, env, userID)
	case events.TypeLeaveRequest:
		r.handleLeave(c, env, userID)
	case events.TypeSitOutRequest:
		r.handleSitStatus(c, env, userID, false)
	case events.TypeSitInRequest:
		r.handleSitStatus(c, env, userID, true)
	case events.TypePlayerAction:
		r.handleAction(c, env, userID)
	case events.TypeRebuy:
		r.handleRebuy(c, env, userID)
	default:
		r.fail(c, env, "UNKNOWN_MESSAGE_TYPE", fmt.Sprintf("unhandled type %s", env.Type))
	}
}

func (r *router) handleSeat(c *gateway.Conn, env gateway.Envelope, userID string) {
	tbl, ok := r.tableFrom(c, env)
	if !ok {
		return
	}
	seat := intField(env.Payload, "seat")
	buyIn := intField(env.Payload, "buy_in")
	nickname, _ := env.Payload["nickname"].(string)
	if nickname == "" {
		nickname = userID
	}

	if err := tbl.SeatPlayer(seat, userID, nickname, buyIn, false); err != nil {
		r.failErr(c, env, err)
		return
	}
	if err := tbl.SitIn(seat); err != nil {
		r.failErr(c, env, err)
		return
	}
	r.mgr.Touch(tbl.ID())

	result := events.New(events.TypeSeatResult, map[string]any{
		"table_id": tbl.ID(),
		"seat":     seat,
		"stack":    buyIn,
	})
	result.UserID = userID
	r.gw.Reply(c, env, result)
	r.mgr.TryStartGame(tbl.ID())
}

func (r *router) handleLeave(c *gateway.Conn, env gateway.Envelope, userID string) {
	tbl, ok := r.tableFrom(c, env)
	if !ok {
		return
	}
	stack, err := tbl.RemovePlayer(userID)
	if err != nil {
		r.failErr(c, env, err)
		return
	}
	result := events.New(events.TypeLeaveResult, map[string]any{
		"table_id":   tbl.ID(),
		"cashed_out": stack,
	})
	result.UserID = userID
	r.gw.Reply(c, env, result)
}

func (r *router) handleSitStatus(c *gateway.Conn, env gateway.Envelope, userID string, sitIn bool) {
	tbl, ok := r.tableFrom(c, env)
	if !ok {
		return
	}
	p := tbl.PlayerByUser(userID)
	if p == nil {
		r.fail(c, env, "NOT_SEATED", "not seated at this table")
		return
	}

	var err error
	evType := events.TypePlayerSitOut
	if sitIn {
		err = tbl.SitIn(p.Seat)
		evType = events.TypePlayerSitIn
	} else {
		err = tbl.SitOut(p.Seat)
	}
	if err != nil {
		r.failErr(c, env, err)
		return
	}

	ev := events.New(evType, map[string]any{"seat": p.Seat})
	ev.TableID = tbl.ID()
	ev.UserID = userID
	r.gw.BroadcastToChannel(gateway.TableChannel(tbl.ID()), ev)
	if sitIn {
		r.mgr.TryStartGame(tbl.ID())
	}
}

func (r *router) handleAction(c *gateway.Conn, env gateway.Envelope, userID string) {
	tbl, ok := r.tableFrom(c, env)
	if !ok {
		return
	}
	action, _ := env.Payload["action"].(string)
	amount := intField(env.Payload, "amount")
	responseMs := int(r.clock.Since(tbl.TurnStartedAt()).Milliseconds())

	if _, err := tbl.ProcessAction(userID, action, amount); err != nil {
		r.failErr(c, env, err)
		return
	}
	r.mgr.Touch(tbl.ID())

	if r.fpub != nil {
		r.fpub.PlayerAction(context.Background(), fraud.PlayerAction{
			UserID:         userID,
			TableID:        tbl.ID(),
			Action:         action,
			Amount:         amount,
			ResponseTimeMs: responseMs,
			Timestamp:      r.clock.Now(),
		})
	}

	go r.loop.ProcessBotTurns(tbl)
}

func (r *router) handleRebuy(c *gateway.Conn, env gateway.Envelope, userID string) {
	tbl, ok := r.tableFrom(c, env)
	if !ok {
		return
	}
	amount := intField(env.Payload, "amount")
	if err := tbl.Rebuy(userID, amount); err != nil {
		r.failErr(c, env, err)
		return
	}
	ev := events.New(events.TypeRebuy, map[string]any{"amount": amount})
	ev.TableID = tbl.ID()
	ev.UserID = userID
	r.gw.BroadcastToChannel(gateway.TableChannel(tbl.ID()), ev)
}

func (r *router) tableFrom(c *gateway.Conn, env gateway.Envelope) (*table.Table, bool) {
	tableID, _ := env.Payload["table_id"].(string)
	tbl, ok := r.mgr.GetTable(tableID)
	if !ok {
		r.fail(c, env, "TABLE_NOT_FOUND", fmt.Sprintf("table %s not found", tableID))
		return nil, false
	}
	return tbl, true
}

func (r *router) fail(c *gateway.Conn, env gateway.Envelope, code, message string) {
	r.gw.Reply(c, env, events.New(events.TypeError, map[string]any{
		"code":    code,
		"message": message,
	}))
}

func (r *router) failErr(c *gateway.Conn, env gateway.Envelope, err error) {
	r.fail(c, env, events.CodeOf(err), err.Error())
}

func intField(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
