package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.hcl"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Game.TurnTimeoutSeconds)
	assert.Equal(t, 50, cfg.Locks.RetryIntervalMs)
	require.NoError(t, cfg.Validate())
}

func TestLoadParsesHCL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cardroom.hcl")
	content := `
server {
  port      = 9090
  log_level = "debug"
}

redis {
  addr = "redis:6379"
}

game {
  turn_timeout_seconds = 15
}

bots {
  enabled      = true
  target_count = 12
}

fraud {
  bot_suspicion_threshold = 75
}

locks {}

integrity {
  secret = "prod-secret"
}

table "highroller" {
  max_seats   = 9
  small_blind = 100
  big_blind   = 200
}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 15, cfg.Game.TurnTimeoutSeconds)
	assert.Equal(t, 12, cfg.Bots.TargetCount)
	assert.Equal(t, 75, cfg.Fraud.BotSuspicionThreshold)
	assert.Equal(t, "prod-secret", cfg.Integrity.Secret)

	require.Len(t, cfg.Tables, 1)
	tbl := cfg.Tables[0]
	assert.Equal(t, "highroller", tbl.Name)
	assert.Equal(t, 9, tbl.MaxSeats)
	// Derived buy-in bounds.
	assert.Equal(t, 4000, tbl.BuyInMin)
	assert.Equal(t, 40000, tbl.BuyInMax)

	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadTables(t *testing.T) {
	cfg := Default()
	cfg.Tables[0].BigBlind = cfg.Tables[0].SmallBlind
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Tables[0].MaxSeats = 7
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())
}

func TestListenAddress(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "localhost:8080", cfg.ListenAddress())
}
