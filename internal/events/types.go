package events

import (
	"time"

	"github.com/google/uuid"
)

// Type names a wire event. The direction column of the taxonomy is implicit:
// *_REQUEST types flow client to server, everything else server to client
// unless noted.
type Type string

const (
	// System
	TypePing             Type = "PING"
	TypePong             Type = "PONG"
	TypeConnectionState  Type = "CONNECTION_STATE"
	TypeError            Type = "ERROR"
	TypeRecoveryRequest  Type = "RECOVERY_REQUEST"
	TypeRecoveryResponse Type = "RECOVERY_RESPONSE"
	TypeAnnouncement     Type = "ANNOUNCEMENT"
	TypeRoomForceClosed  Type = "ROOM_FORCE_CLOSED"

	// Lobby
	TypeSubscribeLobby   Type = "SUBSCRIBE_LOBBY"
	TypeUnsubscribeLobby Type = "UNSUBSCRIBE_LOBBY"
	TypeLobbySnapshot    Type = "LOBBY_SNAPSHOT"
	TypeLobbyUpdate      Type = "LOBBY_UPDATE"

	// Table
	TypeSubscribeTable   Type = "SUBSCRIBE_TABLE"
	TypeUnsubscribeTable Type = "UNSUBSCRIBE_TABLE"
	TypeTableSnapshot    Type = "TABLE_SNAPSHOT"
	TypeTableStateUpdate Type = "TABLE_STATE_UPDATE"
	TypeTurnPrompt       Type = "TURN_PROMPT"
	TypeTurnChanged      Type = "TURN_CHANGED"
	TypeSeatRequest      Type = "SEAT_REQUEST"
	TypeSeatResult       Type = "SEAT_RESULT"
	TypeLeaveRequest     Type = "LEAVE_REQUEST"
	TypeLeaveResult      Type = "LEAVE_RESULT"
	TypeSitOutRequest    Type = "SIT_OUT_REQUEST"
	TypeSitInRequest     Type = "SIT_IN_REQUEST"
	TypePlayerSitOut     Type = "PLAYER_SIT_OUT"
	TypePlayerSitIn      Type = "PLAYER_SIT_IN"
	TypeHandStarted      Type = "HAND_STARTED"
	TypeHandResult       Type = "HAND_RESULT"
	TypeCommunityCards   Type = "COMMUNITY_CARDS"
	TypeRevealCards      Type = "REVEAL_CARDS"
	TypeCardsRevealed    Type = "CARDS_REVEALED"
	TypeStackZero        Type = "STACK_ZERO"
	TypeRebuy            Type = "REBUY"
	TypeTimeoutFold      Type = "TIMEOUT_FOLD"
	TypePlayerAction     Type = "PLAYER_ACTION"

	// Tournament
	TypeTournamentEvent       Type = "TOURNAMENT_EVENT"
	TypeTableEvent            Type = "TABLE_EVENT"
	TypeRankingUpdate         Type = "RANKING_UPDATE"
	TypeBlindChange           Type = "BLIND_CHANGE"
	TypeBlindIncreaseWarning  Type = "BLIND_INCREASE_WARNING"
	TypeShotgunCountdown      Type = "SHOTGUN_COUNTDOWN"
	TypePlayerMove            Type = "PLAYER_MOVE"
	TypePlayerRegistered      Type = "PLAYER_REGISTERED"
	TypeTournamentStarted     Type = "TOURNAMENT_STARTED"
	TypeTableHandCompleted    Type = "TABLE_HAND_COMPLETED"
	TypePlayerEliminated      Type = "PLAYER_ELIMINATED"
	TypeBlindLevelChanged     Type = "BLIND_LEVEL_CHANGED"
	TypeTournamentCompleted   Type = "TOURNAMENT_COMPLETED"
	TypeTournamentPaused      Type = "TOURNAMENT_PAUSED"
	TypeTournamentResumed     Type = "TOURNAMENT_RESUMED"
	TypeTournamentCancelled   Type = "TOURNAMENT_CANCELLED"
)

// Event is the unit the in-process bus carries and the gateway frames.
type Event struct {
	ID           string         `json:"id"`
	Type         Type           `json:"type"`
	TournamentID string         `json:"tournament_id,omitempty"`
	TableID      string         `json:"table_id,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// New builds an event with a fresh ID and the current timestamp.
func New(t Type, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
