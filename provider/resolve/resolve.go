// Package resolve builds the embedding provider chain from configuration:
// an OpenAI-compatible endpoint is preferred, then Gemini. Each candidate is
// verified with a short warmup probe that also discovers the embedding
// dimensionality; the first healthy provider wins.
package resolve

import (
	"context"
	"fmt"
	"time"

	"github.com/coolmanns/continuity"
	"github.com/coolmanns/continuity/provider/gemini"
	"github.com/coolmanns/continuity/provider/openaicompat"
)

const warmupTimeout = 5 * time.Second

// Embedding resolves a ready continuity.EmbeddingProvider from config.
// Returns an error when no candidate is configured or none passes warmup;
// callers are expected to degrade retrieval rather than fail.
func Embedding(ctx context.Context, cfg continuity.EmbeddingConfig) (continuity.EmbeddingProvider, error) {
	var candidates []continuity.EmbeddingProvider
	if cfg.Endpoint != "" {
		candidates = append(candidates, openaicompat.NewEmbedding(
			cfg.Endpoint, cfg.APIKey, cfg.Model,
			openaicompat.WithDimensions(cfg.Dimensions)))
	}
	if cfg.GeminiAPIKey != "" {
		candidates = append(candidates, gemini.NewEmbedding(cfg.GeminiAPIKey, cfg.Model, cfg.Dimensions))
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("resolve: no embedding provider configured")
	}

	var lastErr error
	for _, p := range candidates {
		if err := warmup(ctx, p); err != nil {
			lastErr = err
			continue
		}
		return p, nil
	}
	return nil, fmt.Errorf("resolve: no embedding provider passed warmup: %w", lastErr)
}

// warmup sends one short probe so a dead endpoint is found at startup, not
// mid-turn, and so Dimensions() is populated before the store opens.
func warmup(ctx context.Context, p continuity.EmbeddingProvider) error {
	ctx, cancel := context.WithTimeout(ctx, warmupTimeout)
	defer cancel()
	vecs, err := p.Embed(ctx, []string{continuity.QueryPrefix + "warmup"})
	if err != nil {
		return err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return fmt.Errorf("warmup: %s returned an empty embedding", p.Name())
	}
	if p.Dimensions() <= 0 {
		return fmt.Errorf("warmup: %s reported no dimensionality", p.Name())
	}
	return nil
}
