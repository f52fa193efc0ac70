package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	if cfg.Scheduler.MaxConcurrent != 4 {
		t.Errorf("expected max_concurrent 4, got %d", cfg.Scheduler.MaxConcurrent)
	}
	if cfg.Scheduler.RetryBaseDelay != time.Second {
		t.Errorf("expected retry base 1s, got %s", cfg.Scheduler.RetryBaseDelay)
	}
	if cfg.Router.ConfidenceWeight != 0.7 || cfg.Router.LatencyWeight != 0.3 {
		t.Errorf("unexpected router weights %f/%f", cfg.Router.ConfidenceWeight, cfg.Router.LatencyWeight)
	}
	if cfg.Health.Interval != 30*time.Second {
		t.Errorf("expected probe interval 30s, got %s", cfg.Health.Interval)
	}
	if !cfg.Journal.Enabled {
		t.Error("expected journal enabled by default")
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  listen: ":9000"
scheduler:
  max_concurrent: 8
  retry_base_delay: 2s
router:
  confidence_weight: 0.6
  latency_weight: 0.4
health:
  failure_threshold: 5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Listen != ":9000" {
		t.Errorf("expected listen :9000, got %s", cfg.Server.Listen)
	}
	if cfg.Scheduler.MaxConcurrent != 8 {
		t.Errorf("expected max_concurrent 8, got %d", cfg.Scheduler.MaxConcurrent)
	}
	if cfg.Scheduler.RetryBaseDelay != 2*time.Second {
		t.Errorf("expected retry base 2s, got %s", cfg.Scheduler.RetryBaseDelay)
	}
	if cfg.Router.ConfidenceWeight != 0.6 {
		t.Errorf("expected confidence weight 0.6, got %f", cfg.Router.ConfidenceWeight)
	}
	if cfg.Health.FailureThreshold != 5 {
		t.Errorf("expected failure threshold 5, got %d", cfg.Health.FailureThreshold)
	}
	// Unset keys keep their defaults.
	if cfg.Scheduler.LaneDepth != 100 {
		t.Errorf("expected lane_depth default 100, got %d", cfg.Scheduler.LaneDepth)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestAPIKeyEnvExpansion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "anthropic:\n  api_key: ${DISPATCHD_TEST_KEY}\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DISPATCHD_TEST_KEY", "sk-test-123")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-test-123" {
		t.Errorf("expected expanded key, got %q", cfg.Anthropic.APIKey)
	}
}
