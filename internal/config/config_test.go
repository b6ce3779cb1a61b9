package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Pipeline.SequenceLength != 10 {
		t.Fatalf("expected default sequence length 10, got %d", cfg.Pipeline.SequenceLength)
	}
	if cfg.Pipeline.Threshold != 0.7 {
		t.Fatalf("expected default threshold 0.7, got %f", cfg.Pipeline.Threshold)
	}
	if cfg.Pipeline.CooldownWindow != 300*time.Second {
		t.Fatalf("expected default cooldown 300s, got %v", cfg.Pipeline.CooldownWindow)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("pipeline:\n  sequenceLength: 24\n  threshold: 0.8\nlogging:\n  level: debug\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("PDM_ENGINE_THRESHOLD", "0.75")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pipeline.SequenceLength != 24 {
		t.Fatalf("expected sequence length 24 from file, got %d", cfg.Pipeline.SequenceLength)
	}
	if cfg.Pipeline.Threshold != 0.75 {
		t.Fatalf("expected env override threshold 0.75, got %f", cfg.Pipeline.Threshold)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected log level debug, got %s", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("pipeline:\n  threshold: 1.5\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for out-of-range threshold")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
