package continuity

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"
)

const maxFetchLimit = 60

// Searcher retrieves indexed exchanges with hybrid semantic + keyword
// search, fusing both rankings with Reciprocal Rank Fusion and boosting
// recent exchanges. It shares the exchange store with the Indexer.
type Searcher struct {
	store     ExchangeStore
	embedding EmbeddingProvider
	cfg       SearchConfig
	logger    *slog.Logger
	tracer    Tracer
	now       func() time.Time
}

// SearcherOption configures a Searcher.
type SearcherOption func(*Searcher)

// WithSearcherLogger sets the structured logger.
func WithSearcherLogger(l *slog.Logger) SearcherOption {
	return func(s *Searcher) { s.logger = l }
}

// WithSearcherTracer sets the Tracer.
func WithSearcherTracer(t Tracer) SearcherOption {
	return func(s *Searcher) { s.tracer = t }
}

// NewSearcher creates a Searcher. embedding may be nil, degrading retrieval
// to keyword-only when the store supports it.
func NewSearcher(store ExchangeStore, embedding EmbeddingProvider, cfg SearchConfig, opts ...SearcherOption) *Searcher {
	def := DefaultConfig().Search
	if cfg.RecencyHalfLifeDays <= 0 {
		cfg.RecencyHalfLifeDays = def.RecencyHalfLifeDays
	}
	if cfg.RecencyWeight <= 0 {
		cfg.RecencyWeight = def.RecencyWeight
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = def.RRFK
	}
	s := &Searcher{
		store:     store,
		embedding: embedding,
		cfg:       cfg,
		logger:    nopLogger,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Search returns the top exchanges for the query, best composite score
// first. Failures of one retrieval path degrade to the other; when both
// fail the error is returned alongside an empty result so callers can log
// and move on without failing the turn.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]ScoredExchange, error) {
	if s.tracer != nil {
		var span Span
		ctx, span = s.tracer.Start(ctx, "searcher.search", IntAttr("limit", limit))
		defer span.End()
	}
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	fetchLimit := min(2*limit, maxFetchLimit)

	var semantic []ScoredExchange
	var semanticErr error
	if s.embedding != nil {
		semantic, semanticErr = s.searchSemantic(ctx, query, fetchLimit)
		if semanticErr != nil {
			s.logger.Warn("searcher: semantic path failed", "error", semanticErr)
		}
	}

	var keyword []ScoredExchange
	if ks, ok := s.store.(KeywordSearcher); ok {
		if fts, n := sanitizeFTSQuery(query); n >= 2 {
			var err error
			keyword, err = ks.SearchKeyword(ctx, fts, fetchLimit)
			if err != nil {
				s.logger.Warn("searcher: keyword path failed", "error", err)
			}
		}
	}

	if len(semantic) == 0 && len(keyword) == 0 {
		return nil, semanticErr
	}

	fused := s.fuse(semantic, keyword)
	s.rerank(fused)
	if len(fused) > limit {
		fused = fused[:limit]
	}
	s.logger.Debug("searcher: search done",
		"semantic", len(semantic), "keyword", len(keyword), "returned", len(fused))
	return fused, nil
}

func (s *Searcher) searchSemantic(ctx context.Context, query string, fetchLimit int) ([]ScoredExchange, error) {
	vecs, err := s.embedding.Embed(ctx, []string{QueryPrefix + query})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, &ErrEmbedding{Provider: s.embedding.Name(), Message: "no embedding returned"}
	}
	return s.store.SearchVector(ctx, vecs[0], fetchLimit)
}

// fuse merges both ranked lists with Reciprocal Rank Fusion: a document at
// rank r (0-based) contributes 1/(k+r+1) per list it appears in.
func (s *Searcher) fuse(semantic, keyword []ScoredExchange) []ScoredExchange {
	k := float32(s.cfg.RRFK)
	merged := make(map[string]*ScoredExchange)

	for rank, ex := range semantic {
		e, ok := merged[ex.ID]
		if !ok {
			copied := ex
			merged[ex.ID] = &copied
			e = merged[ex.ID]
		}
		e.RRF += 1 / (k + float32(rank) + 1)
	}
	for rank, ex := range keyword {
		e, ok := merged[ex.ID]
		if !ok {
			copied := ex
			merged[ex.ID] = &copied
			e = merged[ex.ID]
		}
		e.RRF += 1 / (k + float32(rank) + 1)
	}

	out := make([]ScoredExchange, 0, len(merged))
	for _, e := range merged {
		out = append(out, *e)
	}
	return out
}

// rerank applies the recency boost and sorts by composite score descending.
// Composite is higher-is-better: rrf * (1 + exp(-ageDays/halfLife)*weight),
// so two exchanges with equal fusion scores order newest first.
func (s *Searcher) rerank(list []ScoredExchange) {
	now := s.now()
	for i := range list {
		ageDays := s.ageDays(now, list[i].Exchange)
		boost := math.Exp(-ageDays/s.cfg.RecencyHalfLifeDays) * s.cfg.RecencyWeight
		list[i].Composite = list[i].RRF * float32(1+boost)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Composite != list[j].Composite {
			return list[i].Composite > list[j].Composite
		}
		return list[i].CreatedAt > list[j].CreatedAt
	})
}

func (s *Searcher) ageDays(now time.Time, ex Exchange) float64 {
	created := ex.CreatedAt
	if created == 0 {
		created = exchangeCreatedAt(ex.Date, ex.Index, time.Time{})
	}
	age := now.Unix() - created
	if age < 0 {
		return 0
	}
	return float64(age) / 86400
}

// ftsStripChars are FTS query operators removed before tokenizing.
var ftsStripChars = strings.NewReplacer(
	`*`, " ", `"`, " ", `^`, " ", `(`, " ", `)`, " ",
	`{`, " ", `}`, " ", `[`, " ", `]`, " ", `:`, " ",
)

// sanitizeFTSQuery turns free text into a safe full-text query: operators
// stripped, boolean keywords dropped, punctuation flattened, short tokens
// removed, every surviving token quoted and joined with implicit AND.
// Returns the query and the surviving token count.
func sanitizeFTSQuery(query string) (string, int) {
	cleaned := ftsStripChars.Replace(query)
	var b strings.Builder
	for _, r := range cleaned {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == ' ':
			b.WriteRune(r)
		case r > 127:
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	var quoted []string
	for _, tok := range strings.Fields(b.String()) {
		switch strings.ToUpper(tok) {
		case "AND", "OR", "NOT", "NEAR":
			continue
		}
		if len(tok) < 2 {
			continue
		}
		quoted = append(quoted, `"`+tok+`"`)
	}
	return strings.Join(quoted, " "), len(quoted)
}
