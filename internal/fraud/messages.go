// Package fraud consumes gameplay telemetry from Redis Pub/Sub and runs it
// through the chip-dumping, bot and session detectors. Confirmed flags feed
// the auto-ban gate.
package fraud

import "time"

// Pub/Sub channels the consumer listens on.
const (
	ChannelHandCompleted = "fraud:hand_completed"
	ChannelPlayerAction  = "fraud:player_action"
	ChannelPlayerStats   = "fraud:player_stats"
)

// Transfer is a net chip movement from one hand, loser to winner.
type Transfer struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int    `json:"amount"`
}

// HandCompleted is published after each settled hand.
type HandCompleted struct {
	TableID    string     `json:"table_id"`
	HandNumber int        `json:"hand_number"`
	Transfers  []Transfer `json:"transfers"`
	Timestamp  time.Time  `json:"timestamp"`
}

// PlayerAction is published for every human action at a table.
type PlayerAction struct {
	UserID         string    `json:"user_id"`
	TableID        string    `json:"table_id"`
	Action         string    `json:"action"`
	Amount         int       `json:"amount"`
	ResponseTimeMs int       `json:"response_time_ms"`
	Timestamp      time.Time `json:"timestamp"`
}

// PlayerStats summarizes a session, published periodically.
type PlayerStats struct {
	UserID         string  `json:"user_id"`
	HandsPlayed    int     `json:"hands_played"`
	WinRate        float64 `json:"win_rate"`
	Profit         int     `json:"profit"`
	SessionMinutes float64 `json:"session_minutes"`
}

// DetectionType classifies a flag for per-type ban thresholds.
type DetectionType string

const (
	DetectChipDumping DetectionType = "chip_dumping"
	DetectBot         DetectionType = "bot"
	DetectAnomaly     DetectionType = "anomaly"
)

// Severity of a detection.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Flag is one suspicious-activity detection.
type Flag struct {
	Type     DetectionType
	Severity Severity
	UserIDs  []string
	Score    float64
	Reason   string
	At       time.Time
}
