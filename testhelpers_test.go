package continuity

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// fakeEmbedding is a deterministic in-process embedding provider. Texts
// sharing more words land closer together, which is enough signal for
// retrieval tests without a network.
type fakeEmbedding struct {
	mu    sync.Mutex
	calls int
	fail  bool
	dims  int
}

func newFakeEmbedding() *fakeEmbedding {
	return &fakeEmbedding{dims: 16}
}

func (f *fakeEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, errors.New("fake embedding down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

func (f *fakeEmbedding) vector(text string) []float32 {
	vec := make([]float32, f.dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, `.,!?"'`)
		if word == "" {
			continue
		}
		h := uint32(2166136261)
		for _, c := range []byte(word) {
			h = (h ^ uint32(c)) * 16777619
		}
		vec[h%uint32(f.dims)] += 1
	}
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		inv := 1 / float32sqrt(norm)
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func float32sqrt(x float32) float32 {
	z := x
	for i := 0; i < 20; i++ {
		z = (z + x/z) / 2
	}
	return z
}

func (f *fakeEmbedding) Dimensions() int { return f.dims }
func (f *fakeEmbedding) Name() string    { return "fake" }

// fakeStore is an in-memory ExchangeStore with brute-force cosine search
// and naive token-overlap keyword search.
type fakeStore struct {
	mu        sync.Mutex
	dims      int
	exchanges map[string]Exchange
	vectors   map[string][]float32
	noKeyword bool
	failInit  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		exchanges: make(map[string]Exchange),
		vectors:   make(map[string][]float32),
	}
}

func (s *fakeStore) Init(context.Context) error {
	if s.failInit {
		return errors.New("fake store init failure")
	}
	return nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) EnsureDimensions(_ context.Context, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dims != 0 && s.dims != dims {
		s.vectors = make(map[string][]float32)
	}
	s.dims = dims
	return nil
}

func (s *fakeStore) IndexExchanges(_ context.Context, exchanges []Exchange, embeddings [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ex := range exchanges {
		s.exchanges[ex.ID] = ex
		delete(s.vectors, ex.ID)
		if i < len(embeddings) && embeddings[i] != nil {
			s.vectors[ex.ID] = embeddings[i]
		}
	}
	return nil
}

func (s *fakeStore) SearchVector(_ context.Context, embedding []float32, topK int) ([]ScoredExchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ScoredExchange
	for id, vec := range s.vectors {
		var dot float32
		for i := 0; i < min(len(vec), len(embedding)); i++ {
			dot += vec[i] * embedding[i]
		}
		out = append(out, ScoredExchange{Exchange: s.exchanges[id], Distance: 1 - dot})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *fakeStore) SearchKeyword(_ context.Context, query string, topK int) ([]ScoredExchange, error) {
	if s.noKeyword {
		return nil, errors.New("keyword search unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var tokens []string
	for _, tok := range strings.Fields(query) {
		tokens = append(tokens, strings.ToLower(strings.Trim(tok, `"`)))
	}
	type hit struct {
		ex    Exchange
		score int
	}
	var hits []hit
	for _, ex := range s.exchanges {
		text := strings.ToLower(ex.Combined)
		score := 0
		for _, tok := range tokens {
			if strings.Contains(text, tok) {
				score++
			}
		}
		if score == len(tokens) && score > 0 {
			hits = append(hits, hit{ex: ex, score: score})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].ex.ID < hits[j].ex.ID
	})
	var out []ScoredExchange
	for _, h := range hits {
		out = append(out, ScoredExchange{Exchange: h.ex})
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *fakeStore) DeleteDay(_ context.Context, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ex := range s.exchanges {
		if ex.Date == date {
			delete(s.exchanges, id)
			delete(s.vectors, id)
		}
	}
	return nil
}

func (s *fakeStore) Stats(context.Context) (StoreStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dates := make(map[string]bool)
	for _, ex := range s.exchanges {
		dates[ex.Date] = true
	}
	return StoreStats{Exchanges: len(s.exchanges), Dates: len(dates)}, nil
}

var (
	_ ExchangeStore   = (*fakeStore)(nil)
	_ KeywordSearcher = (*fakeStore)(nil)
)
