package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BACKTEST_DATA_DIR", t.TempDir())
	t.Setenv("MONTE_CARLO_ITERATIONS", "")
	t.Setenv("KFOLD_SHARDS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 0.04, cfg.RiskFreeRate)
	assert.Equal(t, int64(42), cfg.MonteCarloSeed)
	assert.Equal(t, 200, cfg.MonteCarloIterations)
	assert.Equal(t, 7, cfg.MonteCarloBlockSize)
	assert.Equal(t, 10, cfg.KFoldShards)
}

func TestApplyOverrides(t *testing.T) {
	cfg := &Config{LogLevel: "info", RiskFreeRate: 0.04, KFoldShards: 10}
	cfg.ApplyOverrides(map[string]string{
		"LOG_LEVEL":    "debug",
		"RISK_FREE_RATE": "0.02",
		"KFOLD_SHARDS": "5",
		"UNKNOWN_KEY":  "ignored",
	})

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 0.02, cfg.RiskFreeRate)
	assert.Equal(t, 5, cfg.KFoldShards)
}

func TestValidate_RejectsNonPositiveIterations(t *testing.T) {
	cfg := &Config{MonteCarloIterations: 0, KFoldShards: 10, PricePoolSize: 1}
	err := cfg.Validate()
	assert.Error(t, err)
}
