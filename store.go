package continuity

import "context"

// ExchangeStore abstracts the indexed exchange storage shared by the indexer
// and the searcher of one agent. Implementations must keep exactly one
// embedding row and (when supported) one full-text row per exchange row;
// re-indexing an id replaces all of them.
type ExchangeStore interface {
	// Init creates all required tables. Idempotent.
	Init(ctx context.Context) error

	// EnsureDimensions records the embedding dimensionality on first use.
	// A later call with a different value drops all stored embeddings and
	// records the new dimensionality; exchange text rows are kept.
	EnsureDimensions(ctx context.Context, dims int) error

	// IndexExchanges writes a batch of exchanges with their embeddings in a
	// single transaction, replacing any prior rows with the same ids.
	// embeddings[i] belongs to exchanges[i]; a nil vector skips the
	// embedding row for that exchange.
	IndexExchanges(ctx context.Context, exchanges []Exchange, embeddings [][]float32) error

	// SearchVector returns the topK nearest exchanges by vector distance,
	// ordered ascending (lower distance = more similar).
	SearchVector(ctx context.Context, embedding []float32, topK int) ([]ScoredExchange, error)

	// DeleteDay removes every row belonging to the given date.
	DeleteDay(ctx context.Context, date string) error

	// Stats reports row counts.
	Stats(ctx context.Context) (StoreStats, error)

	Close() error
}

// KeywordSearcher is an optional ExchangeStore capability for full-text
// keyword search. Stores that support it are discovered via type assertion;
// without it the searcher degrades to semantic-only retrieval.
type KeywordSearcher interface {
	// SearchKeyword runs a sanitized full-text query and returns up to topK
	// exchanges in relevance order (best first).
	SearchKeyword(ctx context.Context, query string, topK int) ([]ScoredExchange, error)
}
