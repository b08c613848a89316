package gateway

import (
	"fmt"
	"time"

	"github.com/cardroomlabs/cardroom/internal/events"
)

// Envelope is the wire frame. Every event crossing the socket is wrapped in
// one, in either direction.
type Envelope struct {
	Type          events.Type    `json:"type"`
	Payload       map[string]any `json:"payload,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Channel       string         `json:"channel,omitempty"`
	Version       uint64         `json:"version,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// wrap frames a bus event for the socket.
func wrap(ev events.Event) Envelope {
	payload := ev.Payload
	if ev.TournamentID != "" || ev.TableID != "" || ev.UserID != "" {
		payload = make(map[string]any, len(ev.Payload)+3)
		for k, v := range ev.Payload {
			payload[k] = v
		}
		if ev.TournamentID != "" {
			payload["tournament_id"] = ev.TournamentID
		}
		if ev.TableID != "" {
			payload["table_id"] = ev.TableID
		}
		if ev.UserID != "" {
			payload["user_id"] = ev.UserID
		}
	}
	return Envelope{
		Type:      ev.Type,
		Payload:   payload,
		Timestamp: ev.Timestamp,
	}
}

// Channel names. Subscription is explicit; nothing is delivered to a
// connection that has not subscribed to the event's channel.
const ChannelLobby = "lobby"

func TableChannel(tableID string) string {
	return fmt.Sprintf("table:%s", tableID)
}

func TournamentChannel(tournamentID string) string {
	return fmt.Sprintf("tournament:%s", tournamentID)
}

func TournamentTableChannel(tournamentID, tableID string) string {
	return fmt.Sprintf("tournament:%s:table:%s", tournamentID, tableID)
}

// ChannelFor routes a bus event to its broadcast channel.
func ChannelFor(ev events.Event) string {
	switch {
	case ev.TournamentID != "" && ev.TableID != "":
		return TournamentTableChannel(ev.TournamentID, ev.TableID)
	case ev.TournamentID != "":
		return TournamentChannel(ev.TournamentID)
	case ev.TableID != "":
		return TableChannel(ev.TableID)
	default:
		return ChannelLobby
	}
}
