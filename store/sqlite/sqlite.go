// Package sqlite implements continuity.ExchangeStore using pure-Go SQLite
// with in-process brute-force vector search and FTS5 keyword search.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/coolmanns/continuity"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements continuity.ExchangeStore backed by a local SQLite file.
// Embeddings are stored as JSON text and vector search is done in-process
// using brute-force cosine similarity; keyword search uses an FTS5 table
// when the build supports it.
type Store struct {
	db       *sql.DB
	logger   *slog.Logger
	ftsReady bool
}

var (
	_ continuity.ExchangeStore   = (*Store)(nil)
	_ continuity.KeywordSearcher = (*Store)(nil)
)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables and enables WAL journaling. Because the
// pool holds a single connection, a read issued while an index transaction
// is open waits until that transaction ends.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")

	if _, err := s.db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("enable wal: %w", err)
	}

	tables := []string{
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
			metadata TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS vec_exchanges (
			id TEXT PRIMARY KEY,
			embedding TEXT NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_exchanges_date ON exchanges(date)`)

	// FTS5 full-text index for keyword search. Its absence degrades the
	// searcher to semantic-only, so creation is best-effort.
	if _, err := s.db.ExecContext(ctx,
		`CREATE VIRTUAL TABLE IF NOT EXISTS fts_exchanges USING fts5(id UNINDEXED, combined)`); err != nil {
		s.logger.Warn("sqlite: fts5 unavailable, keyword search disabled", "error", err)
	} else {
		s.ftsReady = true
	}

	s.logger.Info("sqlite: init completed", "fts", s.ftsReady, "duration", time.Since(start))
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const dimensionsKey = "embedding_dimensions"

// EnsureDimensions records the embedding dimensionality on first use. A
// mismatch with the recorded value drops every stored embedding so the
// vector table can be rebuilt at the new dimensionality; exchange text and
// FTS rows are kept.
func (s *Store) EnsureDimensions(ctx context.Context, dims int) error {
	var current string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = ?`, dimensionsKey).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
			dimensionsKey, strconv.Itoa(dims))
		if err != nil {
			return fmt.Errorf("record dimensions: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read dimensions: %w", err)
	}

	stored, _ := strconv.Atoi(current)
	if stored == dims {
		return nil
	}

	s.logger.Warn("sqlite: embedding dimensions changed, rebuilding vectors",
		"stored", stored, "new", dims)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if _, err := tx.ExecContext(ctx, `DELETE FROM vec_exchanges`); err != nil {
		return fmt.Errorf("drop vectors: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
		dimensionsKey, strconv.Itoa(dims)); err != nil {
		return fmt.Errorf("record dimensions: %w", err)
	}
	return tx.Commit()
}

// IndexExchanges writes a batch of exchanges with their embeddings inside a
// single transaction. Prior rows with the same ids are replaced; the vector
// and FTS rows use delete-then-insert because virtual tables have no upsert.
func (s *Store) IndexExchanges(ctx context.Context, exchanges []continuity.Exchange, embeddings [][]float32) error {
	start := time.Now()
	s.logger.Debug("sqlite: index exchanges", "count", len(exchanges))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for i, ex := range exchanges {
		var metaJSON *string
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO exchanges
			 (id, date, exchange_index, user_text, agent_text, combined, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ex.ID, ex.Date, ex.Index, ex.UserText, ex.AgentText, ex.Combined, metaJSON, ex.CreatedAt,
		)
		if err != nil {
			s.logger.Error("sqlite: insert exchange failed", "id", ex.ID, "error", err)
			return fmt.Errorf("insert exchange: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_exchanges WHERE id = ?`, ex.ID); err != nil {
			return fmt.Errorf("delete vector: %w", err)
		}
		if i < len(embeddings) && embeddings[i] != nil {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO vec_exchanges (id, embedding) VALUES (?, ?)`,
				ex.ID, serializeEmbedding(embeddings[i])); err != nil {
				return fmt.Errorf("insert vector: %w", err)
			}
		}

		if s.ftsReady {
			_, _ = tx.ExecContext(ctx, `DELETE FROM fts_exchanges WHERE id = ?`, ex.ID)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO fts_exchanges (id, combined) VALUES (?, ?)`,
				ex.ID, ex.Combined); err != nil {
				return fmt.Errorf("insert fts: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: index commit failed", "error", err)
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: index exchanges ok", "count", len(exchanges), "duration", time.Since(start))
	return nil
}

// SearchVector performs brute-force cosine similarity search over every
// stored embedding, returning the topK nearest exchanges by distance
// (1 - cosine), ascending.
func (s *Store) SearchVector(ctx context.Context, embedding []float32, topK int) ([]continuity.ScoredExchange, error) {
	start := time.Now()
	s.logger.Debug("sqlite: search vector", "top_k", topK, "embedding_dim", len(embedding))

	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.date, e.exchange_index, e.user_text, e.agent_text, e.combined, e.created_at, v.embedding
		 FROM vec_exchanges v
		 JOIN exchanges e ON e.id = v.id`,
	)
	if err != nil {
		s.logger.Error("sqlite: search vector failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("search vector: %w", err)
	}
	defer rows.Close()

	var results []continuity.ScoredExchange
	scanned := 0
	for rows.Next() {
		var ex continuity.Exchange
		var embJSON string
		var userText, agentText sql.NullString
		if err := rows.Scan(&ex.ID, &ex.Date, &ex.Index, &userText, &agentText, &ex.Combined, &ex.CreatedAt, &embJSON); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		scanned++
		ex.UserText = userText.String
		ex.AgentText = agentText.String
		stored, err := deserializeEmbedding(embJSON)
		if err != nil {
			continue
		}
		results = append(results, continuity.ScoredExchange{
			Exchange: ex,
			Distance: 1 - cosineSimilarity(embedding, stored),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exchanges: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if len(results) > topK {
		results = results[:topK]
	}
	s.logger.Debug("sqlite: search vector ok", "scanned", scanned, "returned", len(results), "duration", time.Since(start))
	return results, nil
}

// SearchKeyword performs full-text search over combined exchange text using
// SQLite FTS5, best rank first.
func (s *Store) SearchKeyword(ctx context.Context, query string, topK int) ([]continuity.ScoredExchange, error) {
	if !s.ftsReady {
		return nil, fmt.Errorf("keyword search: fts5 unavailable")
	}
	start := time.Now()
	s.logger.Debug("sqlite: search keyword", "query", query, "top_k", topK)

	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.date, e.exchange_index, e.user_text, e.agent_text, e.combined, e.created_at
		 FROM fts_exchanges f
		 JOIN exchanges e ON e.id = f.id
		 WHERE fts_exchanges MATCH ?
		 ORDER BY f.rank
		 LIMIT ?`,
		query, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var results []continuity.ScoredExchange
	for rows.Next() {
		var ex continuity.Exchange
		var userText, agentText sql.NullString
		if err := rows.Scan(&ex.ID, &ex.Date, &ex.Index, &userText, &agentText, &ex.Combined, &ex.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		ex.UserText = userText.String
		ex.AgentText = agentText.String
		results = append(results, continuity.ScoredExchange{Exchange: ex})
	}
	s.logger.Debug("sqlite: search keyword ok", "returned", len(results), "duration", time.Since(start))
	return results, rows.Err()
}

// DeleteDay removes every exchange, vector, and FTS row of one date in a
// single transaction.
func (s *Store) DeleteDay(ctx context.Context, date string) error {
	start := time.Now()
	s.logger.Debug("sqlite: delete day", "date", date)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM vec_exchanges WHERE id IN (SELECT id FROM exchanges WHERE date = ?)`, date); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if s.ftsReady {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM fts_exchanges WHERE id IN (SELECT id FROM exchanges WHERE date = ?)`, date); err != nil {
			return fmt.Errorf("delete fts: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM exchanges WHERE date = ?`, date); err != nil {
		return fmt.Errorf("delete exchanges: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: delete day ok", "date", date, "duration", time.Since(start))
	return nil
}

// Stats reports exchange and date counts.
func (s *Store) Stats(ctx context.Context) (continuity.StoreStats, error) {
	var stats continuity.StoreStats
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT date) FROM exchanges`).Scan(&stats.Exchanges, &stats.Dates); err != nil {
		return continuity.StoreStats{}, fmt.Errorf("stats: %w", err)
	}
	return stats, nil
}

func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}
