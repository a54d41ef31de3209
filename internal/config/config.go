// Package config loads the system's configuration via viper, trimmed to
// the sections the matching-engine runtime actually owns: per-engine
// defaults, router shard/activation policy, coordinator thread sizing,
// simulation-clock cadence, and the execution manager's batch size.
// Adapted from the teacher's internal/config/config.go, keeping its
// viper + sync.Once + mapstructure idiom and InitLogger helper while
// dropping the Server/Database/WebSocket/PeerJS/MarketData/Risk/Auth
// sections that belonged to the original trading-bot domain.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the root configuration document, normally loaded from
// config.yaml or TRADSYS_-prefixed environment variables.
type Config struct {
	// Engine defaults, applied to every symbol unless a registry
	// override (outside this package's scope) replaces them.
	Engine struct {
		PriceFloor      uint32 `mapstructure:"price_floor"`
		PriceCeil       uint32 `mapstructure:"price_ceil"`
		Tick            uint32 `mapstructure:"tick"`
		BatchMax        uint32 `mapstructure:"batch_max"`
		ArenaCapacity   uint32 `mapstructure:"arena_capacity"`
		ElasticArena    bool   `mapstructure:"elastic_arena"`
		ExecIDMode      string `mapstructure:"exec_id_mode"`
		ExecShiftBits   uint32 `mapstructure:"exec_shift_bits"`
		SelfMatchPolicy string `mapstructure:"self_match_policy"`
		BandMode        string `mapstructure:"band_mode"`
		BandValue       uint32 `mapstructure:"band_value"`
	} `mapstructure:"engine"`

	// Router configuration, mirroring whistle's RouterConfig.
	Router struct {
		NumShards        uint32 `mapstructure:"num_shards"`
		SpscDepthDefault uint32 `mapstructure:"spsc_depth_default"`
		PrewarmTopK      uint32 `mapstructure:"prewarm_top_k"`
		BurstWindowTicks uint32 `mapstructure:"burst_window_ticks"`
		HeadroomPercent  uint32 `mapstructure:"headroom_percent"`
		ActivationPolicy string `mapstructure:"activation_policy"`
	} `mapstructure:"router"`

	// Coordinator thread/capacity sizing.
	Coordinator struct {
		NumThreads          int    `mapstructure:"num_threads"`
		SpscDepth           uint32 `mapstructure:"spsc_depth"`
		MaxSymbolsPerThread int    `mapstructure:"max_symbols_per_thread"`
	} `mapstructure:"coordinator"`

	// Clock cadence and error-recovery policy.
	Clock struct {
		TickCadenceMs         int    `mapstructure:"tick_cadence_ms"`
		MetricsIntervalMs     int    `mapstructure:"metrics_interval_ms"`
		HealthCheckIntervalMs int    `mapstructure:"health_check_interval_ms"`
		SnapshotIntervalTick  uint64 `mapstructure:"snapshot_interval_tick"`
		ErrorRecovery         string `mapstructure:"error_recovery"`
		MaxRetries            uint32 `mapstructure:"max_retries"`
	} `mapstructure:"clock"`

	// Execution manager batch sizing.
	Execution struct {
		BatchSize uint32 `mapstructure:"batch_size"`
	} `mapstructure:"execution"`

	// Monitoring configuration: log level and prometheus port.
	Monitoring struct {
		PrometheusPort int    `mapstructure:"prometheus_port"`
		LogLevel       string `mapstructure:"log_level"`
	} `mapstructure:"monitoring"`
}

var (
	config *Config
	once   sync.Once
)

// LoadConfig loads the configuration from configPath, falling back to
// defaults and TRADSYS_-prefixed environment variables when no file is
// present.
func LoadConfig(configPath string) (*Config, error) {
	var err error

	once.Do(func() {
		config = &Config{}

		setDefaults()

		v := viper.New()
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if configPath != "" {
			v.AddConfigPath(configPath)
		} else {
			v.AddConfigPath(".")
			v.AddConfigPath("./config")
			v.AddConfigPath("/etc/whistle")
		}

		v.AutomaticEnv()
		v.SetEnvPrefix("TRADSYS")

		if err = v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				err = fmt.Errorf("failed to read config file: %w", err)
				return
			}
			err = nil
		}

		if err = v.Unmarshal(config); err != nil {
			err = fmt.Errorf("failed to unmarshal config: %w", err)
			return
		}
	})

	return config, err
}

// GetConfig returns the process-wide configuration, loading defaults if
// LoadConfig hasn't been called yet.
func GetConfig() *Config {
	if config == nil {
		_, err := LoadConfig("")
		if err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
	}
	return config
}

// SaveConfig persists cfg as JSON to path, creating parent directories
// as needed.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func setDefaults() {
	config.Engine.PriceFloor = 1
	config.Engine.PriceCeil = 1_000_000
	config.Engine.Tick = 1
	config.Engine.BatchMax = 512
	config.Engine.ArenaCapacity = 65536
	config.Engine.ElasticArena = false
	config.Engine.ExecIDMode = "sharded"
	config.Engine.ExecShiftBits = 32
	config.Engine.SelfMatchPolicy = "skip"
	config.Engine.BandMode = "percent"
	config.Engine.BandValue = 10

	config.Router.NumShards = 1
	config.Router.SpscDepthDefault = 2048
	config.Router.PrewarmTopK = 128
	config.Router.BurstWindowTicks = 4
	config.Router.HeadroomPercent = 50
	config.Router.ActivationPolicy = "hybrid"

	config.Coordinator.NumThreads = 4
	config.Coordinator.SpscDepth = 1024
	config.Coordinator.MaxSymbolsPerThread = 64

	config.Clock.TickCadenceMs = 10
	config.Clock.MetricsIntervalMs = 1000
	config.Clock.HealthCheckIntervalMs = 5000
	config.Clock.SnapshotIntervalTick = 10_000
	config.Clock.ErrorRecovery = "continue"
	config.Clock.MaxRetries = 3

	config.Execution.BatchSize = 4096

	config.Monitoring.PrometheusPort = 9090
	config.Monitoring.LogLevel = "info"
}

// InitLogger builds a zap.Logger per cfg.Monitoring.LogLevel, matching
// the teacher's debug/production split.
func InitLogger(cfg *Config) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	switch cfg.Monitoring.LogLevel {
	case "debug":
		logger, err = zap.NewDevelopment()
	case "info", "warn", "error":
		logger, err = zap.NewProduction()
	default:
		logger, err = zap.NewProduction()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger, nil
}
