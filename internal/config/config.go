// Package config provides configuration management for the backtest engine.
//
// Configuration is loaded from environment variables (optionally backed by a
// .env file) in a single pass. An override hook is kept for a future
// settings-store layer, mirroring the two-phase "env now, pluggable override
// later" shape the rest of the stack uses.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds engine-wide configuration.
type Config struct {
	DataDir              string  // Base directory for the sqlite result cache
	LogLevel             string  // debug, info, warn, error
	DevMode              bool    // Enables pretty console logging
	RiskFreeRate         float64 // Annual risk-free rate used by Sharpe/Sortino/Treynor
	MonteCarloSeed       int64   // Default Monte-Carlo bootstrap seed
	MonteCarloIterations int     // Default number of bootstrap iterations
	MonteCarloBlockSize  int     // Default moving-block size
	MonteCarloYears      float64 // Default bootstrap horizon in years
	KFoldShards          int     // Default number of K-fold shards
	CacheTTLSeconds      int     // Loaded from CACHE_DATA_DATE_TTL_SECONDS; the data-date probe uses the fixed resultcache.DataDateProbeTTL instead
	PricePoolSize        int     // Bounded price-store query handle pool size
}

// Load reads configuration from environment variables, applying a .env file
// first if one is present in the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("BACKTEST_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:              absDataDir,
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		DevMode:              getEnvAsBool("DEV_MODE", false),
		RiskFreeRate:         getEnvAsFloat("RISK_FREE_RATE", 0.04),
		MonteCarloSeed:       int64(getEnvAsInt("MONTE_CARLO_SEED", 42)),
		MonteCarloIterations: getEnvAsInt("MONTE_CARLO_ITERATIONS", 200),
		MonteCarloBlockSize:  getEnvAsInt("MONTE_CARLO_BLOCK_SIZE", 7),
		MonteCarloYears:      getEnvAsFloat("MONTE_CARLO_YEARS", 5),
		KFoldShards:          getEnvAsInt("KFOLD_SHARDS", 10),
		CacheTTLSeconds:      getEnvAsInt("CACHE_DATA_DATE_TTL_SECONDS", 60),
		PricePoolSize:        getEnvAsInt("PRICE_POOL_SIZE", 8),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyOverrides merges string-keyed overrides (e.g. from an admin key-value
// config store) into the configuration. Unknown keys are ignored; malformed
// numeric values are ignored rather than rejected, since overrides are best
// effort by contract.
func (c *Config) ApplyOverrides(overrides map[string]string) {
	for k, v := range overrides {
		switch k {
		case "LOG_LEVEL":
			c.LogLevel = v
		case "RISK_FREE_RATE":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				c.RiskFreeRate = f
			}
		case "MONTE_CARLO_ITERATIONS":
			if i, err := strconv.Atoi(v); err == nil {
				c.MonteCarloIterations = i
			}
		case "KFOLD_SHARDS":
			if i, err := strconv.Atoi(v); err == nil {
				c.KFoldShards = i
			}
		}
	}
}

// Validate checks invariants on loaded configuration.
func (c *Config) Validate() error {
	if c.MonteCarloIterations <= 0 {
		return fmt.Errorf("monte carlo iterations must be positive, got %d", c.MonteCarloIterations)
	}
	if c.KFoldShards <= 0 {
		return fmt.Errorf("kfold shards must be positive, got %d", c.KFoldShards)
	}
	if c.PricePoolSize <= 0 {
		return fmt.Errorf("price pool size must be positive, got %d", c.PricePoolSize)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
