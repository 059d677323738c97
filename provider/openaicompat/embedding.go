// Package openaicompat provides a continuity.EmbeddingProvider for any
// OpenAI-compatible embeddings endpoint (OpenAI, Ollama, llama.cpp server,
// LM Studio, vLLM, ...).
package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coolmanns/continuity"
)

const defaultTimeout = 30 * time.Second

// Embedding implements continuity.EmbeddingProvider against POST
// {baseURL}/v1/embeddings.
type Embedding struct {
	baseURL    string
	apiKey     string
	model      string
	dims       int
	httpClient *http.Client
}

// EmbeddingOption configures an Embedding.
type EmbeddingOption func(*Embedding)

// WithHTTPClient replaces the default HTTP client (30 s timeout).
func WithHTTPClient(c *http.Client) EmbeddingOption {
	return func(e *Embedding) { e.httpClient = c }
}

// WithDimensions sets the advertised dimensionality. Without it, callers
// discover the real value from a warmup embedding.
func WithDimensions(dims int) EmbeddingOption {
	return func(e *Embedding) { e.dims = dims }
}

var _ continuity.EmbeddingProvider = (*Embedding)(nil)

// NewEmbedding creates an embedding provider for an OpenAI-compatible base
// URL. apiKey may be empty for local servers.
func NewEmbedding(baseURL, apiKey, model string, opts ...EmbeddingOption) *Embedding {
	e := &Embedding{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Name returns "openaicompat".
func (e *Embedding) Name() string { return "openaicompat" }

// Dimensions returns the configured or discovered dimensionality.
func (e *Embedding) Dimensions() int { return e.dims }

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed posts the batch to /v1/embeddings and returns one vector per input.
// The first successful call freezes the dimensionality.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(embedRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, &continuity.ErrEmbedding{Provider: e.Name(), Message: "marshal request: " + err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/v1/embeddings", strings.NewReader(string(payload)))
	if err != nil {
		return nil, &continuity.ErrEmbedding{Provider: e.Name(), Message: "create request: " + err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, &continuity.ErrEmbedding{Provider: e.Name(), Message: "request failed: " + err.Error()}
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, &continuity.ErrEmbedding{Provider: e.Name(), Message: "read response: " + err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &continuity.ErrEmbedding{
			Provider: e.Name(),
			Message:  fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(body), 200)),
		}
	}

	var parsed embedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &continuity.ErrEmbedding{Provider: e.Name(), Message: "parse response: " + err.Error()}
	}
	if len(parsed.Data) != len(texts) {
		return nil, &continuity.ErrEmbedding{
			Provider: e.Name(),
			Message:  fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(parsed.Data)),
		}
	}

	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	if e.dims == 0 && len(out[0]) > 0 {
		e.dims = len(out[0])
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
