// Package config loads the cardroom configuration from HCL.
package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Config represents the complete cardroom configuration
type Config struct {
	Server    ServerSettings  `hcl:"server,block"`
	Redis     RedisSettings   `hcl:"redis,block"`
	Game      GameSettings    `hcl:"game,block"`
	Bots      BotSettings     `hcl:"bots,block"`
	Fraud     FraudSettings   `hcl:"fraud,block"`
	Locks     LockSettings    `hcl:"locks,block"`
	Integrity IntegritySettings `hcl:"integrity,block"`
	Tables    []TableConfig   `hcl:"table,block"`
}

// ServerSettings contains the listener and logging configuration
type ServerSettings struct {
	Address            string `hcl:"address,optional"`
	Port               int    `hcl:"port,optional"`
	LogLevel           string `hcl:"log_level,optional"`
	LogFile            string `hcl:"log_file,optional"`
	HeartbeatInterval  int    `hcl:"heartbeat_interval_seconds,optional"`
	MaxMissedPongs     int    `hcl:"max_missed_pongs,optional"`
}

// RedisSettings points at the Redis backing locks, ranking and snapshots
type RedisSettings struct {
	Addr     string `hcl:"addr,optional"`
	Password string `hcl:"password,optional"`
	DB       int    `hcl:"db,optional"`
}

// GameSettings drives the game loop pacing and table lifecycle
type GameSettings struct {
	PhaseTransitionDelaySeconds float64 `hcl:"phase_transition_delay_seconds,optional"`
	HandResultDisplaySeconds    float64 `hcl:"hand_result_display_seconds,optional"`
	TurnTimeoutSeconds          int     `hcl:"turn_timeout_seconds,optional"`
	TableEvictionMinutes        int     `hcl:"table_eviction_minutes,optional"`
	CleanupIntervalSeconds      int     `hcl:"cleanup_interval_seconds,optional"`
	HandHistoryLimit            int     `hcl:"hand_history_limit,optional"`
	MaxBotTurnIterations        int     `hcl:"max_bot_turn_iterations,optional"`
}

// BotSettings configures the bot orchestrator
type BotSettings struct {
	Enabled             bool `hcl:"enabled,optional"`
	TargetCount         int  `hcl:"target_count,optional"`
	SpawnRatePerMinute  int  `hcl:"spawn_rate_per_minute,optional"`
	RetireRatePerMinute int  `hcl:"retire_rate_per_minute,optional"`
}

// FraudSettings configures detectors and the auto-ban gate
type FraudSettings struct {
	AutoBanEnabled               bool `hcl:"auto_ban_enabled,optional"`
	HighSeverityImmediate        bool `hcl:"auto_ban_high_severity_immediate,optional"`
	ThresholdChipDumping         int  `hcl:"auto_ban_threshold_chip_dumping,optional"`
	ThresholdBot                 int  `hcl:"auto_ban_threshold_bot,optional"`
	ThresholdAnomaly             int  `hcl:"auto_ban_threshold_anomaly,optional"`
	TempBanDurationHours         int  `hcl:"auto_ban_temp_duration_hours,optional"`
	BotSuspicionThreshold        int  `hcl:"bot_suspicion_threshold,optional"`
	BotMinSampleSize             int  `hcl:"bot_min_sample_size,optional"`
	ResponseWeight               int  `hcl:"response_weight,optional"`
	ActionWeight                 int  `hcl:"action_weight,optional"`
	FlatWeight                   int  `hcl:"flat_weight,optional"`
}

// LockSettings configures the distributed lock manager
type LockSettings struct {
	TTLMs           int `hcl:"lock_timeout_ms,optional"`
	AcquireTimeoutMs int `hcl:"acquire_timeout_ms,optional"`
	RetryIntervalMs int `hcl:"retry_interval_ms,optional"`
}

// IntegritySettings holds the chip snapshot sealing secret
type IntegritySettings struct {
	Secret string `hcl:"secret,optional"`
}

// TableConfig defines a cash table created at startup
type TableConfig struct {
	Name       string `hcl:"name,label"`
	MaxSeats   int    `hcl:"max_seats,optional"`
	SmallBlind int    `hcl:"small_blind"`
	BigBlind   int    `hcl:"big_blind"`
	Ante       int    `hcl:"ante,optional"`
	BuyInMin   int    `hcl:"buy_in_min,optional"`
	BuyInMax   int    `hcl:"buy_in_max,optional"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerSettings{
			Address:           "localhost",
			Port:              8080,
			LogLevel:          "info",
			LogFile:           "cardroom.log",
			HeartbeatInterval: 15,
			MaxMissedPongs:    3,
		},
		Redis: RedisSettings{
			Addr: "localhost:6379",
		},
		Game: GameSettings{
			PhaseTransitionDelaySeconds: 1.5,
			HandResultDisplaySeconds:    5,
			TurnTimeoutSeconds:          30,
			TableEvictionMinutes:        30,
			CleanupIntervalSeconds:      60,
			HandHistoryLimit:            10,
			MaxBotTurnIterations:        50,
		},
		Bots: BotSettings{
			Enabled:             true,
			TargetCount:         0,
			SpawnRatePerMinute:  5,
			RetireRatePerMinute: 5,
		},
		Fraud: FraudSettings{
			AutoBanEnabled:        true,
			HighSeverityImmediate: true,
			ThresholdChipDumping:  3,
			ThresholdBot:          5,
			ThresholdAnomaly:      5,
			TempBanDurationHours:  24,
			BotSuspicionThreshold: 60,
			BotMinSampleSize:      20,
			ResponseWeight:        50,
			ActionWeight:          30,
			FlatWeight:            20,
		},
		Locks: LockSettings{
			TTLMs:            10000,
			AcquireTimeoutMs: 5000,
			RetryIntervalMs:  50,
		},
		Integrity: IntegritySettings{
			Secret: "dev-only-integrity-secret",
		},
		Tables: []TableConfig{
			{
				Name:       "main",
				MaxSeats:   6,
				SmallBlind: 10,
				BigBlind:   20,
				BuyInMin:   400,
				BuyInMax:   4000,
			},
		},
	}
}

// Load reads configuration from an HCL file, falling back to defaults when
// the file does not exist.
func Load(filename string) (*Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return Default(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	config := Default()
	diags = gohcl.DecodeBody(file.Body, nil, config)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}
	applyDefaults(config)
	return config, nil
}

// applyDefaults fills zero values the HCL decode left behind.
func applyDefaults(c *Config) {
	d := Default()
	if c.Server.Address == "" {
		c.Server.Address = d.Server.Address
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = d.Server.LogLevel
	}
	if c.Server.HeartbeatInterval == 0 {
		c.Server.HeartbeatInterval = d.Server.HeartbeatInterval
	}
	if c.Server.MaxMissedPongs == 0 {
		c.Server.MaxMissedPongs = d.Server.MaxMissedPongs
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = d.Redis.Addr
	}
	if c.Game.PhaseTransitionDelaySeconds == 0 {
		c.Game.PhaseTransitionDelaySeconds = d.Game.PhaseTransitionDelaySeconds
	}
	if c.Game.HandResultDisplaySeconds == 0 {
		c.Game.HandResultDisplaySeconds = d.Game.HandResultDisplaySeconds
	}
	if c.Game.TurnTimeoutSeconds == 0 {
		c.Game.TurnTimeoutSeconds = d.Game.TurnTimeoutSeconds
	}
	if c.Game.TableEvictionMinutes == 0 {
		c.Game.TableEvictionMinutes = d.Game.TableEvictionMinutes
	}
	if c.Game.CleanupIntervalSeconds == 0 {
		c.Game.CleanupIntervalSeconds = d.Game.CleanupIntervalSeconds
	}
	if c.Game.HandHistoryLimit == 0 {
		c.Game.HandHistoryLimit = d.Game.HandHistoryLimit
	}
	if c.Game.MaxBotTurnIterations == 0 {
		c.Game.MaxBotTurnIterations = d.Game.MaxBotTurnIterations
	}
	if c.Locks.TTLMs == 0 {
		c.Locks.TTLMs = d.Locks.TTLMs
	}
	if c.Locks.AcquireTimeoutMs == 0 {
		c.Locks.AcquireTimeoutMs = d.Locks.AcquireTimeoutMs
	}
	if c.Locks.RetryIntervalMs == 0 {
		c.Locks.RetryIntervalMs = d.Locks.RetryIntervalMs
	}
	if c.Integrity.Secret == "" {
		c.Integrity.Secret = d.Integrity.Secret
	}
	for i := range c.Tables {
		if c.Tables[i].MaxSeats == 0 {
			c.Tables[i].MaxSeats = 6
		}
		if c.Tables[i].BuyInMin == 0 {
			c.Tables[i].BuyInMin = c.Tables[i].BigBlind * 20
		}
		if c.Tables[i].BuyInMax == 0 {
			c.Tables[i].BuyInMax = c.Tables[i].BigBlind * 200
		}
	}
}

// Validate checks the configuration for inconsistencies
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	for _, table := range c.Tables {
		if table.SmallBlind <= 0 {
			return fmt.Errorf("table %s: small blind must be positive", table.Name)
		}
		if table.BigBlind <= table.SmallBlind {
			return fmt.Errorf("table %s: big blind must be greater than small blind", table.Name)
		}
		if table.MaxSeats != 6 && table.MaxSeats != 9 {
			return fmt.Errorf("table %s: max seats must be 6 or 9", table.Name)
		}
		if table.BuyInMin >= table.BuyInMax {
			return fmt.Errorf("table %s: buy-in minimum must be less than maximum", table.Name)
		}
	}
	if c.Bots.TargetCount < 0 {
		return fmt.Errorf("bots: target_count must not be negative")
	}
	if c.Locks.RetryIntervalMs <= 0 || c.Locks.AcquireTimeoutMs <= 0 {
		return fmt.Errorf("locks: retry and acquire timeouts must be positive")
	}
	return nil
}

// ListenAddress returns the host:port pair the gateway binds to
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}
