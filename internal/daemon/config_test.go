package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.API.Port != 8733 {
		t.Errorf("port = %d", cfg.API.Port)
	}
	if cfg.TSDB.Retries != 3 || cfg.TSDB.TimeoutSec != 30 {
		t.Errorf("tsdb defaults = %+v", cfg.TSDB)
	}
	if cfg.TSDB.RetryDelayDuration() != time.Second {
		t.Errorf("retry delay = %v", cfg.TSDB.RetryDelayDuration())
	}
	if cfg.State.SnapshotIntervalDuration() != 5*time.Minute {
		t.Errorf("snapshot interval = %v", cfg.State.SnapshotIntervalDuration())
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("ATLAS_HOME", home)

	content := `
[api]
host = "0.0.0.0"
port = 9000

[tsdb]
base_url = "http://tsdb.internal:8181"
retries = 5
`
	if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	// Environment beats the file.
	t.Setenv("ATLAS_TSDB_URL", "http://override:8181")
	t.Setenv("ATLAS_TSDB_RETRIES", "7")
	t.Setenv("ATLAS_DEBUG", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.Port != 9000 || cfg.API.Host != "0.0.0.0" {
		t.Errorf("api = %+v", cfg.API)
	}
	if cfg.TSDB.BaseURL != "http://override:8181" {
		t.Errorf("base url = %q, want env override", cfg.TSDB.BaseURL)
	}
	if cfg.TSDB.Retries != 7 {
		t.Errorf("retries = %d, want env override 7", cfg.TSDB.Retries)
	}
	if !cfg.Logging.Debug {
		t.Error("debug should be on from env")
	}
	// File value untouched by env survives.
	if cfg.TSDB.CommandsDB != "UIControlCommands" {
		t.Errorf("commands db = %q", cfg.TSDB.CommandsDB)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("ATLAS_HOME", t.TempDir())
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.TSDB.BaseURL != DefaultConfig().TSDB.BaseURL {
		t.Errorf("missing file should fall back to defaults")
	}
}

func TestParseDuration(t *testing.T) {
	if d := parseDuration("90s", time.Second); d != 90*time.Second {
		t.Errorf("parseDuration(90s) = %v", d)
	}
	if d := parseDuration("garbage", time.Minute); d != time.Minute {
		t.Errorf("bad input should fall back, got %v", d)
	}
	if d := parseDuration("", time.Minute); d != time.Minute {
		t.Errorf("empty input should fall back, got %v", d)
	}
}
