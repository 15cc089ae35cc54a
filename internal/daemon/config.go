// Package daemon manages the atlas daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	API       APIConfig       `toml:"api"`
	TSDB      TSDBConfig      `toml:"tsdb"`
	Logging   LoggingConfig   `toml:"logging"`
	State     StateConfig     `toml:"state"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// APIConfig controls the status HTTP server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// TSDBConfig controls the time-series store gateway.
type TSDBConfig struct {
	BaseURL    string `toml:"base_url"`
	MetricsDB  string `toml:"metrics_db"`
	CommandsDB string `toml:"commands_db"`
	AuditDB    string `toml:"audit_db"`
	TimeoutSec int    `toml:"timeout_sec"`
	Retries    int    `toml:"retries"`
	RetryDelay string `toml:"retry_delay"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Debug bool `toml:"debug"`
}

// StateConfig controls state snapshot persistence.
type StateConfig struct {
	SnapshotInterval string `toml:"snapshot_interval"`
}

// TelemetryConfig controls observability.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8733,
		},
		TSDB: TSDBConfig{
			BaseURL:    "http://127.0.0.1:8181",
			MetricsDB:  "Locations",
			CommandsDB: "UIControlCommands",
			AuditDB:    "ControlCommands",
			TimeoutSec: 30,
			Retries:    3,
			RetryDelay: "1s",
		},
		State: StateConfig{
			SnapshotInterval: "5m",
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// LoadConfig reads config from $ATLAS_HOME/config.toml, falling back to
// defaults, then applies environment overrides.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(atlasHome(), "config.toml")

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv maps the documented environment variables over the file
// values. All are optional.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ATLAS_TSDB_URL"); v != "" {
		cfg.TSDB.BaseURL = v
	}
	if v := os.Getenv("ATLAS_TSDB_METRICS_DB"); v != "" {
		cfg.TSDB.MetricsDB = v
	}
	if v := os.Getenv("ATLAS_TSDB_COMMANDS_DB"); v != "" {
		cfg.TSDB.CommandsDB = v
	}
	if v := os.Getenv("ATLAS_TSDB_AUDIT_DB"); v != "" {
		cfg.TSDB.AuditDB = v
	}
	if v := os.Getenv("ATLAS_TSDB_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TSDB.TimeoutSec = n
		}
	}
	if v := os.Getenv("ATLAS_TSDB_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TSDB.Retries = n
		}
	}
	if v := os.Getenv("ATLAS_TSDB_RETRY_DELAY"); v != "" {
		cfg.TSDB.RetryDelay = v
	}
	if v := os.Getenv("ATLAS_DEBUG"); v != "" {
		cfg.Logging.Debug = v == "1" || v == "true"
	}
}

// RetryDelayDuration parses the configured retry delay, defaulting to a second.
func (c TSDBConfig) RetryDelayDuration() time.Duration {
	return parseDuration(c.RetryDelay, time.Second)
}

// SnapshotIntervalDuration parses the snapshot cadence, defaulting to
// five minutes.
func (c StateConfig) SnapshotIntervalDuration() time.Duration {
	return parseDuration(c.SnapshotInterval, 5*time.Minute)
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// atlasHome returns the atlas data directory.
func atlasHome() string {
	if env := os.Getenv("ATLAS_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".atlas")
}

// AtlasHome is exported for use by other packages.
func AtlasHome() string {
	return atlasHome()
}
