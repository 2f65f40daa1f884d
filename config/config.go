// Package config loads store configuration from a yaml file with
// environment overrides under the ATOMGO prefix.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the tunable parameters of a store instance.
type Config struct {
	// DataDir is the root directory for the commit log, action queue
	// and snapshots.
	DataDir string `mapstructure:"data_dir"`

	Ingest   IngestConfig   `mapstructure:"ingest"`
	Spatial  SpatialConfig  `mapstructure:"spatial"`
	Autonomy AutonomyConfig `mapstructure:"autonomy"`
}

// IngestConfig tunes the ingestion orchestrator.
type IngestConfig struct {
	ChunkSize   int    `mapstructure:"chunk_size"`
	AtomQuota   uint64 `mapstructure:"atom_quota"`
	CompressWAL bool   `mapstructure:"compress_wal"`
}

// SpatialConfig tunes the spatial index curve.
type SpatialConfig struct {
	Bits int     `mapstructure:"bits"`
	Min  float64 `mapstructure:"min"`
	Max  float64 `mapstructure:"max"`
}

// AutonomyConfig tunes the maintenance loop.
type AutonomyConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
	AutoApprove  bool          `mapstructure:"auto_approve"`
	PressureHigh int           `mapstructure:"pressure_high"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		DataDir: "./data",
		Ingest: IngestConfig{
			ChunkSize: 64,
		},
		Spatial: SpatialConfig{
			Bits: 21,
			Min:  -512,
			Max:  512,
		},
		Autonomy: AutonomyConfig{
			Enabled:      true,
			Interval:     time.Minute,
			Cooldown:     10 * time.Minute,
			AutoApprove:  true,
			PressureHigh: 256,
		},
	}
}

// Load reads configuration from path (yaml), applying ATOMGO_*
// environment overrides on top and defaults underneath. An empty path
// returns defaults plus environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("data_dir", "./data")
	v.SetDefault("ingest.chunk_size", 64)
	v.SetDefault("ingest.atom_quota", 0)
	v.SetDefault("ingest.compress_wal", false)
	v.SetDefault("spatial.bits", 21)
	v.SetDefault("spatial.min", -512.0)
	v.SetDefault("spatial.max", 512.0)
	v.SetDefault("autonomy.enabled", true)
	v.SetDefault("autonomy.interval", time.Minute)
	v.SetDefault("autonomy.cooldown", 10*time.Minute)
	v.SetDefault("autonomy.auto_approve", true)
	v.SetDefault("autonomy.pressure_high", 256)

	v.SetEnvPrefix("ATOMGO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
