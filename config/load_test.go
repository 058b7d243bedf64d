package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

const validYAML = `
env: dev
logger:
  level: info
  format: json
gateway:
  apiKey: foo
  apiSecret: bar
  baseURL: https://api.test
  restRate: 5
  restBurst: 10
tracker:
  pollIntervalMs: 1000
  maxFailures: 5
defaults:
  twapPriceBandPct: 0.05
  cancelTimeoutMs: 10000
symbols:
  BTCUSDT:
    tickSize: 0.1
    stepSize: 0.001
    minQty: 0.001
    minNotional: 5
`

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Env != "dev" || cfg.Gateway.APIKey != "foo" {
		t.Fatalf("unexpected cfg values: %+v", cfg)
	}
	if cfg.Tracker.PollInterval() != time.Second {
		t.Fatalf("unexpected poll interval: %v", cfg.Tracker.PollInterval())
	}
	if cfg.Defaults.CancelTimeout() != 10*time.Second {
		t.Fatalf("unexpected cancel timeout: %v", cfg.Defaults.CancelTimeout())
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	t.Setenv("SE_GATEWAY_API_KEY", "env-key")
	t.Setenv("SE_GATEWAY_API_SECRET", "env-secret")
	cfg, err := LoadWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Gateway.APIKey != "env-key" || cfg.Gateway.APISecret != "env-secret" {
		t.Fatalf("env overrides not applied: %+v", cfg.Gateway)
	}
}

func TestTrackerDefaults(t *testing.T) {
	var tr TrackerConfig
	if tr.PollInterval() != 3*time.Second {
		t.Fatalf("zero config should default to 3s, got %v", tr.PollInterval())
	}
	var d StrategyDefaults
	if d.CancelTimeout() != 10*time.Second {
		t.Fatalf("zero config should default to 10s, got %v", d.CancelTimeout())
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(AppConfig{}); err == nil {
		t.Fatalf("expected error for empty config")
	}

	path := writeTempConfig(t, validYAML+`
    maxQty: 0.0001
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for minQty > maxQty")
	}
}
