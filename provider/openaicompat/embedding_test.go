package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coolmanns/continuity"
)

func embedServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		var resp embedResponse
		for range req.Input {
			vec := make([]float32, dims)
			vec[0] = 1
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
			}{Embedding: vec})
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestEmbedBatch(t *testing.T) {
	srv := embedServer(t, 8)
	defer srv.Close()

	e := NewEmbedding(srv.URL, "key", "test-model")
	vecs, err := e.Embed(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 8 {
		t.Fatalf("unexpected shape: %d x %d", len(vecs), len(vecs[0]))
	}
	// Dimensionality is discovered from the first call and frozen.
	if e.Dimensions() != 8 {
		t.Errorf("dims = %d, want 8", e.Dimensions())
	}
}

func TestEmbedErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewEmbedding(srv.URL, "", "missing")
	_, err := e.Embed(context.Background(), []string{"x"})
	var embErr *continuity.ErrEmbedding
	if !errors.As(err, &embErr) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
	if embErr.Provider != "openaicompat" {
		t.Errorf("provider = %q", embErr.Provider)
	}
}

func TestEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	e := NewEmbedding(srv.URL, "", "m")
	if _, err := e.Embed(context.Background(), []string{"x"}); err == nil {
		t.Error("expected mismatch error")
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	e := NewEmbedding("http://unused", "", "m")
	vecs, err := e.Embed(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("empty input: %v %v", vecs, err)
	}
}
