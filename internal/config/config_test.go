package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if cfg.ContextBudget.BudgetRatio != 0.65 {
		t.Errorf("budget ratio default = %v", cfg.ContextBudget.BudgetRatio)
	}
	if cfg.Search.RRFK != 60 {
		t.Errorf("rrf k default = %d", cfg.Search.RRFK)
	}
	if cfg.Archive.RetentionDays != 90 {
		t.Errorf("retention default = %d", cfg.Archive.RetentionDays)
	}
	if cfg.Embedding.DBFile != "continuity.db" {
		t.Errorf("db file default = %q", cfg.Embedding.DBFile)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
data_dir = "/tmp/continuity-test"

[embedding]
endpoint = "http://localhost:11434"
model = "nomic-embed-text"

[search]
recency_weight = 0.3

[topic_tracking]
window_size = 6
fixation_threshold = 3
`), 0o644)

	cfg := Load(path)
	if cfg.DataDir != "/tmp/continuity-test" {
		t.Errorf("data_dir = %q", cfg.DataDir)
	}
	if cfg.Embedding.Endpoint != "http://localhost:11434" {
		t.Errorf("endpoint = %q", cfg.Embedding.Endpoint)
	}
	if cfg.Search.RecencyWeight != 0.3 {
		t.Errorf("recency weight = %v", cfg.Search.RecencyWeight)
	}
	if cfg.TopicTracking.WindowSize != 6 || cfg.TopicTracking.FixationThreshold != 3 {
		t.Errorf("topic tracking not overridden: %+v", cfg.TopicTracking)
	}
	// Untouched sections keep their defaults.
	if cfg.Compaction.Threshold != 0.80 {
		t.Errorf("compaction default lost: %v", cfg.Compaction.Threshold)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONTINUITY_DATA_DIR", "/tmp/env-dir")
	t.Setenv("CONTINUITY_EMBEDDING_ENDPOINT", "http://env:8080")
	t.Setenv("CONTINUITY_OBSERVER_ENABLED", "1")

	cfg := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if cfg.DataDir != "/tmp/env-dir" {
		t.Errorf("env data dir = %q", cfg.DataDir)
	}
	if cfg.Embedding.Endpoint != "http://env:8080" {
		t.Errorf("env endpoint = %q", cfg.Embedding.Endpoint)
	}
	if !cfg.Observer.Enabled {
		t.Error("observer env flag not applied")
	}
}
