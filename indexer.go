package continuity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// IndexLog records which archived days have been indexed, persisted as JSON
// beside the database.
type IndexLog struct {
	path  string
	dates map[string]bool
	last  string
}

type indexLogFile struct {
	Dates       []string `json:"dates"`
	LastIndexed string   `json:"lastIndexed,omitempty"`
}

// LoadIndexLog reads the index log at path. A missing or corrupt file yields
// an empty log; indexing is idempotent, so re-indexing already-indexed days
// is safe.
func LoadIndexLog(path string) *IndexLog {
	log := &IndexLog{path: path, dates: make(map[string]bool)}
	data, err := os.ReadFile(path)
	if err != nil {
		return log
	}
	var f indexLogFile
	if err := json.Unmarshal(data, &f); err != nil {
		return log
	}
	for _, d := range f.Dates {
		log.dates[d] = true
	}
	log.last = f.LastIndexed
	return log
}

// Has reports whether date is marked indexed.
func (l *IndexLog) Has(date string) bool {
	return l.dates[date]
}

// Dates returns the indexed dates as a set.
func (l *IndexLog) Dates() map[string]bool {
	out := make(map[string]bool, len(l.dates))
	for d := range l.dates {
		out[d] = true
	}
	return out
}

// Mark records date as indexed and persists the log.
func (l *IndexLog) Mark(date string) error {
	l.dates[date] = true
	if date > l.last {
		l.last = date
	}
	return l.save()
}

// Unmark removes date from the log (used when a day's archive is pruned).
func (l *IndexLog) Unmark(date string) error {
	if !l.dates[date] {
		return nil
	}
	delete(l.dates, date)
	return l.save()
}

func (l *IndexLog) save() error {
	f := indexLogFile{Dates: make([]string, 0, len(l.dates)), LastIndexed: l.last}
	for d := range l.dates {
		f.Dates = append(f.Dates, d)
	}
	sort.Strings(f.Dates)
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index log: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create index log dir: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write index log: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace index log: %w", err)
	}
	return nil
}

// Indexer pairs archived days into exchanges, embeds them, and writes them
// through the exchange store.
type Indexer struct {
	store     ExchangeStore
	embedding EmbeddingProvider
	log       *IndexLog
	logger    *slog.Logger
	tracer    Tracer
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithIndexerLogger sets the structured logger.
func WithIndexerLogger(l *slog.Logger) IndexerOption {
	return func(ix *Indexer) { ix.logger = l }
}

// WithIndexerTracer sets the Tracer.
func WithIndexerTracer(t Tracer) IndexerOption {
	return func(ix *Indexer) { ix.tracer = t }
}

// NewIndexer creates an Indexer. embedding may be nil, in which case days are
// indexed for keyword search only.
func NewIndexer(store ExchangeStore, embedding EmbeddingProvider, logPath string, opts ...IndexerOption) *Indexer {
	ix := &Indexer{
		store:     store,
		embedding: embedding,
		log:       LoadIndexLog(logPath),
		logger:    nopLogger,
	}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// IndexedDates returns the set of indexed days.
func (ix *Indexer) IndexedDates() map[string]bool {
	return ix.log.Dates()
}

// ForgetDay drops a day from the index log and deletes its rows, used when
// the archive retention window expires.
func (ix *Indexer) ForgetDay(ctx context.Context, date string) error {
	if err := ix.store.DeleteDay(ctx, date); err != nil {
		return err
	}
	return ix.log.Unmark(date)
}

// IndexDay pairs one archived day into exchanges, embeds and stores them,
// then marks the day indexed. Exchanges whose embedding fails are skipped;
// the day is still marked so a bad exchange cannot wedge the sweep. Returns
// the number of exchanges written.
func (ix *Indexer) IndexDay(ctx context.Context, date string, entries []ArchiveEntry) (int, error) {
	if ix.tracer != nil {
		var span Span
		ctx, span = ix.tracer.Start(ctx, "indexer.index_day",
			StringAttr("date", date), IntAttr("entries", len(entries)))
		defer span.End()
	}

	exchanges := PairEntries(date, entries)
	if len(exchanges) == 0 {
		if err := ix.log.Mark(date); err != nil {
			return 0, err
		}
		return 0, nil
	}

	embeddings := make([][]float32, len(exchanges))
	if ix.embedding != nil {
		if err := ix.store.EnsureDimensions(ctx, ix.embedding.Dimensions()); err != nil {
			return 0, fmt.Errorf("ensure dimensions: %w", err)
		}
		texts := make([]string, len(exchanges))
		for i, ex := range exchanges {
			texts[i] = DocumentPrefix + ex.Combined
		}
		vecs, err := ix.embedding.Embed(ctx, texts)
		if err == nil && len(vecs) == len(exchanges) {
			copy(embeddings, vecs)
		} else {
			// Batch failed; fall back to one call per exchange so a single
			// bad input only skips itself.
			ix.logger.Warn("indexer: batch embed failed, retrying per exchange", "date", date, "error", err)
			for i, text := range texts {
				one, err := ix.embedding.Embed(ctx, []string{text})
				if err != nil || len(one) == 0 {
					ix.logger.Warn("indexer: skipping exchange", "id", exchanges[i].ID, "error", err)
					continue
				}
				embeddings[i] = one[0]
			}
		}
	}

	written := make([]Exchange, 0, len(exchanges))
	writtenVecs := make([][]float32, 0, len(exchanges))
	for i, ex := range exchanges {
		if ix.embedding != nil && embeddings[i] == nil {
			continue
		}
		written = append(written, ex)
		writtenVecs = append(writtenVecs, embeddings[i])
	}

	if len(written) > 0 {
		if err := ix.store.IndexExchanges(ctx, written, writtenVecs); err != nil {
			return 0, fmt.Errorf("index day %s: %w", date, err)
		}
	}
	if err := ix.log.Mark(date); err != nil {
		return len(written), err
	}
	ix.logger.Debug("indexer: day indexed", "date", date, "exchanges", len(written), "skipped", len(exchanges)-len(written))
	return len(written), nil
}
