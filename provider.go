package continuity

import "context"

// Embedding input prefixes. Asymmetric embedding models expect stored
// documents and retrieval queries to be marked differently; providers that
// do not care simply embed the prefixed text as-is.
const (
	DocumentPrefix = "search_document: "
	QueryPrefix    = "search_query: "
)

// EmbeddingProvider generates embedding vectors for text.
type EmbeddingProvider interface {
	// Embed returns embedding vectors for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the provider name.
	Name() string
}

// ErrEmbedding is returned by embedding providers on request or transport
// failure.
type ErrEmbedding struct {
	Provider string
	Message  string
}

func (e *ErrEmbedding) Error() string {
	return "embedding (" + e.Provider + "): " + e.Message
}
