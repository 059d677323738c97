package continuity

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultAgentID is the memory domain used when the host does not scope an
// event to a specific agent.
const DefaultAgentID = "main"

// StoreOpener constructs an ExchangeStore for an agent's database path.
// The engine opens one store per agent, lazily.
type StoreOpener func(dbPath string) ExchangeStore

// Engine is the per-process memory engine. The host runtime forwards its
// lifecycle events to the matching hook method; every method is safe for
// concurrent use and keyed by agent id.
type Engine struct {
	cfg       Config
	logger    *slog.Logger
	tracer    Tracer
	embedding EmbeddingProvider
	openStore StoreOpener
	now       func() time.Time

	mu     sync.Mutex
	agents map[string]*agentState
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a structured logger for the engine and every component it
// constructs. When not set, no logs are emitted.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the Tracer propagated to the searcher and indexer.
func WithTracer(t Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithEmbedding injects a ready embedding provider. Without one, semantic
// retrieval is disabled and the engine degrades to keyword search plus
// session context.
func WithEmbedding(p EmbeddingProvider) Option {
	return func(e *Engine) { e.embedding = p }
}

// WithStoreOpener sets the ExchangeStore constructor used for each agent's
// database, e.g. the sqlite or postgres store packages. Without one, the
// index and search paths are disabled.
func WithStoreOpener(open StoreOpener) Option {
	return func(e *Engine) { e.openStore = open }
}

// New creates an Engine.
func New(cfg Config, opts ...Option) *Engine {
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultConfig().DataDir
	}
	if len(cfg.ContinuityIndicators) == 0 {
		cfg.ContinuityIndicators = DefaultConfig().ContinuityIndicators
	}
	if cfg.Search.RetrievalLimit <= 0 {
		cfg.Search.RetrievalLimit = DefaultConfig().Search.RetrievalLimit
	}
	if cfg.Embedding.DBFile == "" {
		cfg.Embedding.DBFile = DefaultConfig().Embedding.DBFile
	}
	if cfg.Archive.ArchiveDir == "" {
		cfg.Archive.ArchiveDir = DefaultConfig().Archive.ArchiveDir
	}
	e := &Engine{
		cfg:    cfg,
		logger: nopLogger,
		now:    time.Now,
		agents: make(map[string]*agentState),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// agentState is the per-agent memory domain: archive, index, searcher, and
// session-scoped trackers. Mutable session state is guarded by mu; storage
// construction by initOnce so concurrent first callers share one init.
type agentState struct {
	id  string
	dir string

	initOnce sync.Once
	initErr  error
	ready    atomic.Bool
	store    ExchangeStore
	indexer  *Indexer
	searcher *Searcher

	archiver  *Archiver
	estimator *Estimator
	compactor *Compactor
	noise     *NoiseFilter

	mu            sync.Mutex
	anchors       *AnchorTracker
	topics        *TopicTracker
	sessionID     string
	sessionStart  time.Time
	exchangeCount int
	lastRetrieval []ScoredExchange

	maintenanceBusy atomic.Bool
	maintenanceRuns int
}

// agent returns the state for an agent id, creating the in-memory parts on
// first sight. Storage stays closed until ensureStorage.
func (e *Engine) agent(agentID string) *agentState {
	id := sanitizeAgentID(agentID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.agents[id]; ok {
		return st
	}

	dir := e.cfg.DataDir
	if id != DefaultAgentID {
		dir = filepath.Join(e.cfg.DataDir, "agents", id)
	}
	st := &agentState{
		id:  id,
		dir: dir,
		archiver: NewArchiver(filepath.Join(dir, e.cfg.Archive.ArchiveDir), e.cfg.Archive,
			WithArchiverLogger(e.logger)),
		estimator:    NewEstimator(e.cfg.TokenEstimation, WithEstimatorLogger(e.logger)),
		noise:        NewNoiseFilter(e.cfg.NoiseFilter),
		anchors:      NewAnchorTracker(e.cfg.Anchors),
		topics:       NewTopicTracker(e.cfg.TopicTracking, WithTopicLogger(e.logger)),
		sessionStart: e.now(),
	}
	st.compactor = NewCompactor(e.cfg.Compaction, e.cfg.ContextBudget, e.cfg.Anchors,
		st.estimator, WithCompactorLogger(e.logger))
	e.agents[id] = st
	e.logger.Debug("engine: agent registered", "agent", id, "dir", dir)
	return st
}

func sanitizeAgentID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultAgentID
	}
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return DefaultAgentID
	}
	return out
}

// ensureStorage lazily opens and initializes the agent's exchange store and
// the indexer/searcher around it. Concurrent callers share one init and
// observe the same outcome; a failed init disables retrieval for the agent
// but leaves archiving and session context functional.
func (e *Engine) ensureStorage(ctx context.Context, st *agentState) error {
	st.initOnce.Do(func() {
		if e.openStore == nil {
			st.initErr = errors.New("no exchange store configured")
			return
		}
		store := e.openStore(filepath.Join(st.dir, e.cfg.Embedding.DBFile))
		if err := store.Init(ctx); err != nil {
			st.initErr = err
			e.logger.Error("engine: storage init failed", "agent", st.id, "error", err)
			return
		}
		st.store = store
		st.indexer = NewIndexer(store, e.embedding, filepath.Join(st.dir, "index-log.json"),
			WithIndexerLogger(e.logger), WithIndexerTracer(e.tracer))
		st.searcher = NewSearcher(store, e.embedding, e.cfg.Search,
			WithSearcherLogger(e.logger), WithSearcherTracer(e.tracer))
		st.ready.Store(true)
		e.logger.Info("engine: storage ready", "agent", st.id, "dir", st.dir)
	})
	return st.initErr
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Close closes every open agent store.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for _, st := range e.agents {
		if st.store == nil {
			continue
		}
		if err := st.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// snapshotAgents returns the registered agent states sorted by id.
func (e *Engine) snapshotAgents() []*agentState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*agentState, 0, len(e.agents))
	for _, st := range e.agents {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
