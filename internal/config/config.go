// Package config loads the engine configuration for the daemon:
// defaults -> TOML file -> environment variables (env wins).
package config

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/coolmanns/continuity"
)

// Load reads config from path (default "continuity.toml"). A missing file
// is not an error; the defaults simply apply.
func Load(path string) continuity.Config {
	cfg := continuity.DefaultConfig()

	if path == "" {
		path = "continuity.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("CONTINUITY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CONTINUITY_EMBEDDING_ENDPOINT"); v != "" {
		cfg.Embedding.Endpoint = v
	}
	if v := os.Getenv("CONTINUITY_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("CONTINUITY_GEMINI_API_KEY"); v != "" {
		cfg.Embedding.GeminiAPIKey = v
	}
	if v := os.Getenv("CONTINUITY_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("CONTINUITY_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}
