package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// LoadConfig guards itself with a package-level sync.Once, so only the
// first call in this binary actually loads anything; exercise that one
// call here rather than racing it across tests.
func TestLoadConfigAppliesDefaultsWithNoConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, uint32(1), cfg.Engine.PriceFloor)
	assert.Equal(t, uint32(1_000_000), cfg.Engine.PriceCeil)
	assert.Equal(t, "sharded", cfg.Engine.ExecIDMode)
	assert.Equal(t, "skip", cfg.Engine.SelfMatchPolicy)
	assert.Equal(t, uint32(1), cfg.Router.NumShards)
	assert.Equal(t, "hybrid", cfg.Router.ActivationPolicy)
	assert.Equal(t, 4, cfg.Coordinator.NumThreads)
	assert.Equal(t, 10, cfg.Clock.TickCadenceMs)
	assert.Equal(t, "continue", cfg.Clock.ErrorRecovery)
	assert.Equal(t, uint32(4096), cfg.Execution.BatchSize)
	assert.Equal(t, 9090, cfg.Monitoring.PrometheusPort)
}

func TestGetConfigReturnsSameSingletonAsLoadConfig(t *testing.T) {
	got := GetConfig()
	assert.Same(t, config, got)
}

func TestSaveConfigWritesReadableJSON(t *testing.T) {
	cfg := &Config{}
	cfg.Engine.PriceFloor = 5
	cfg.Engine.SelfMatchPolicy = "cancel_taker"
	cfg.Monitoring.LogLevel = "debug"

	path := filepath.Join(t.TempDir(), "nested", "config.json")
	require.NoError(t, SaveConfig(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var roundTripped Config
	require.NoError(t, json.Unmarshal(data, &roundTripped))
	assert.Equal(t, uint32(5), roundTripped.Engine.PriceFloor)
	assert.Equal(t, "cancel_taker", roundTripped.Engine.SelfMatchPolicy)
	assert.Equal(t, "debug", roundTripped.Monitoring.LogLevel)
}

func TestInitLoggerBuildsADevelopmentLoggerForDebugLevel(t *testing.T) {
	cfg := &Config{}
	cfg.Monitoring.LogLevel = "debug"

	logger, err := InitLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestInitLoggerFallsBackToProductionForUnknownLevel(t *testing.T) {
	cfg := &Config{}
	cfg.Monitoring.LogLevel = "nonsense"

	logger, err := InitLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)
}
