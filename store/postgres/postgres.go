// Package postgres implements continuity.ExchangeStore using PostgreSQL
// with pgvector for native vector similarity search and tsvector for
// full-text keyword search.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coolmanns/continuity"
)

// Store implements continuity.ExchangeStore backed by PostgreSQL with
// pgvector. Vector search uses HNSW indexes with cosine distance.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithHNSWM sets the HNSW m parameter (max connections per node).
// Higher values improve recall at the cost of memory. Default: pgvector's 16.
// Only affects index creation (CREATE INDEX IF NOT EXISTS).
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter (build-time
// candidate list size). Higher values improve index quality at the cost of
// slower builds. Default: pgvector's 64.
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

var (
	_ continuity.ExchangeStore   = (*Store)(nil)
	_ continuity.KeywordSearcher = (*Store)(nil)
)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector extension, all required tables, and indexes.
// Safe to call multiple times (all statements are idempotent). The
// embedding column is untyped vector so the dimensionality discovered at
// warmup does not require DDL changes.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS exchanges (
			id TEXT PRIMARY KEY,
			date TEXT NOT NULL,
			exchange_index INTEGER NOT NULL,
			user_text TEXT,
			agent_text TEXT,
			combined TEXT NOT NULL,
			metadata JSONB,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS vec_exchanges (
			id TEXT PRIMARY KEY REFERENCES exchanges(id) ON DELETE CASCADE,
			embedding vector
		)`,
		`CREATE INDEX IF NOT EXISTS exchanges_date_idx ON exchanges(date)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS vec_exchanges_embedding_idx
			ON vec_exchanges USING hnsw (embedding vector_cosine_ops)%s`, s.hnswWithClause()),
		`CREATE INDEX IF NOT EXISTS exchanges_combined_fts_idx
			ON exchanges USING gin (to_tsvector('english', combined))`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error { return nil }

const dimensionsKey = "embedding_dimensions"

// EnsureDimensions records the embedding dimensionality on first use. A
// mismatch truncates the vector table; exchange text rows are kept.
func (s *Store) EnsureDimensions(ctx context.Context, dims int) error {
	var current string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM meta WHERE key = $1`, dimensionsKey).Scan(&current)
	if err == pgx.ErrNoRows {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO meta (key, value) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
			dimensionsKey, strconv.Itoa(dims))
		if err != nil {
			return fmt.Errorf("postgres: record dimensions: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("postgres: read dimensions: %w", err)
	}
	stored, _ := strconv.Atoi(current)
	if stored == dims {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	if _, err := tx.Exec(ctx, `TRUNCATE vec_exchanges`); err != nil {
		return fmt.Errorf("postgres: drop vectors: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE meta SET value = $2 WHERE key = $1`,
		dimensionsKey, strconv.Itoa(dims)); err != nil {
		return fmt.Errorf("postgres: record dimensions: %w", err)
	}
	return tx.Commit(ctx)
}

// IndexExchanges writes a batch of exchanges with their embeddings inside a
// single transaction, replacing prior rows with the same ids.
func (s *Store) IndexExchanges(ctx context.Context, exchanges []continuity.Exchange, embeddings [][]float32) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for i, ex := range exchanges {
		_, err = tx.Exec(ctx,
			`INSERT INTO exchanges (id, date, exchange_index, user_text, agent_text, combined, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO UPDATE SET
			   date = EXCLUDED.date,
			   exchange_index = EXCLUDED.exchange_index,
			   user_text = EXCLUDED.user_text,
			   agent_text = EXCLUDED.agent_text,
			   combined = EXCLUDED.combined,
			   created_at = EXCLUDED.created_at`,
			ex.ID, ex.Date, ex.Index, ex.UserText, ex.AgentText, ex.Combined, ex.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert exchange: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM vec_exchanges WHERE id = $1`, ex.ID); err != nil {
			return fmt.Errorf("postgres: delete vector: %w", err)
		}
		if i < len(embeddings) && embeddings[i] != nil {
			if _, err := tx.Exec(ctx,
				`INSERT INTO vec_exchanges (id, embedding) VALUES ($1, $2::vector)`,
				ex.ID, serializeEmbedding(embeddings[i])); err != nil {
				return fmt.Errorf("postgres: insert vector: %w", err)
			}
		}
	}
	return tx.Commit(ctx)
}

// SearchVector returns the topK nearest exchanges by pgvector cosine
// distance, ascending.
func (s *Store) SearchVector(ctx context.Context, embedding []float32, topK int) ([]continuity.ScoredExchange, error) {
	embStr := serializeEmbedding(embedding)
	rows, err := s.pool.Query(ctx,
		`SELECT e.id, e.date, e.exchange_index, e.user_text, e.agent_text, e.combined, e.created_at,
		        (v.embedding <=> $1::vector) AS distance
		 FROM vec_exchanges v
		 JOIN exchanges e ON e.id = v.id
		 WHERE v.embedding IS NOT NULL
		 ORDER BY v.embedding <=> $1::vector
		 LIMIT $2`,
		embStr, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search: %w", err)
	}
	defer rows.Close()
	return scanScoredExchanges(rows, true)
}

// SearchKeyword performs full-text keyword search over combined exchange
// text using tsvector/tsquery with a GIN index, best rank first.
func (s *Store) SearchKeyword(ctx context.Context, query string, topK int) ([]continuity.ScoredExchange, error) {
	// The engine quotes FTS tokens for SQLite; plainto_tsquery tokenizes
	// raw text itself, so strip the quoting here.
	plain := strings.ReplaceAll(query, `"`, " ")
	rows, err := s.pool.Query(ctx,
		`SELECT e.id, e.date, e.exchange_index, e.user_text, e.agent_text, e.combined, e.created_at
		 FROM exchanges e
		 WHERE to_tsvector('english', e.combined) @@ plainto_tsquery('english', $1)
		 ORDER BY ts_rank(to_tsvector('english', e.combined), plainto_tsquery('english', $1)) DESC
		 LIMIT $2`,
		plain, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: keyword search: %w", err)
	}
	defer rows.Close()
	return scanScoredExchanges(rows, false)
}

func scanScoredExchanges(rows pgx.Rows, withDistance bool) ([]continuity.ScoredExchange, error) {
	var results []continuity.ScoredExchange
	for rows.Next() {
		var ex continuity.Exchange
		var userText, agentText *string
		var distance float64
		var err error
		if withDistance {
			err = rows.Scan(&ex.ID, &ex.Date, &ex.Index, &userText, &agentText, &ex.Combined, &ex.CreatedAt, &distance)
		} else {
			err = rows.Scan(&ex.ID, &ex.Date, &ex.Index, &userText, &agentText, &ex.Combined, &ex.CreatedAt)
		}
		if err != nil {
			return nil, fmt.Errorf("postgres: scan exchange: %w", err)
		}
		if userText != nil {
			ex.UserText = *userText
		}
		if agentText != nil {
			ex.AgentText = *agentText
		}
		results = append(results, continuity.ScoredExchange{Exchange: ex, Distance: float32(distance)})
	}
	return results, rows.Err()
}

// DeleteDay removes every row of one date; vector rows cascade.
func (s *Store) DeleteDay(ctx context.Context, date string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM exchanges WHERE date = $1`, date); err != nil {
		return fmt.Errorf("postgres: delete day: %w", err)
	}
	return nil
}

// Stats reports exchange and date counts.
func (s *Store) Stats(ctx context.Context) (continuity.StoreStats, error) {
	var stats continuity.StoreStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT date) FROM exchanges`).Scan(&stats.Exchanges, &stats.Dates)
	if err != nil {
		return continuity.StoreStats{}, fmt.Errorf("postgres: stats: %w", err)
	}
	return stats, nil
}

// serializeEmbedding renders a vector in pgvector literal form: [x,y,z].
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
