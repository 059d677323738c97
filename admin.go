package continuity

import (
	"context"
	"time"
)

// AgentStateReport is the administrative view of one agent's memory domain.
type AgentStateReport struct {
	AgentID       string                 `json:"agent_id"`
	ArchiveStats  ArchiveStats           `json:"archive_stats"`
	Topics        map[string]TopicRecord `json:"topics"`
	Fixated       []string               `json:"fixated"`
	Anchors       []Anchor               `json:"anchors"`
	ExchangeCount int                    `json:"exchange_count"`
	SessionAge    time.Duration          `json:"session_age"`
	IndexReady    bool                   `json:"index_ready"`
}

// State reports the current memory state of one agent.
func (e *Engine) State(ctx context.Context, agentID string) (AgentStateReport, error) {
	st := e.agent(agentID)
	stats, err := st.archiver.Stats()
	if err != nil {
		return AgentStateReport{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return AgentStateReport{
		AgentID:       st.id,
		ArchiveStats:  stats,
		Topics:        st.topics.Topics(),
		Fixated:       st.topics.Fixated(),
		Anchors:       st.anchors.Anchors(),
		ExchangeCount: st.exchangeCount,
		SessionAge:    e.now().Sub(st.sessionStart),
		IndexReady:    st.ready.Load(),
	}, nil
}

// SearchRequest is an administrative search across one agent's archive.
type SearchRequest struct {
	Query   string `json:"query"`
	Limit   int    `json:"limit"`
	AgentID string `json:"agent_id,omitempty"`
}

// SearchResult carries the matched exchanges with their vector distances.
type SearchResult struct {
	Exchanges []ScoredExchange `json:"exchanges"`
	Distances []float32        `json:"distances"`
}

// Search runs a hybrid search against an agent's archive on demand.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	st := e.agent(req.AgentID)
	if err := e.ensureStorage(ctx, st); err != nil {
		return SearchResult{}, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	exchanges, err := st.searcher.Search(ctx, req.Query, limit)
	if err != nil {
		return SearchResult{}, err
	}
	distances := make([]float32, len(exchanges))
	for i, ex := range exchanges {
		distances[i] = ex.Distance
	}
	return SearchResult{Exchanges: exchanges, Distances: distances}, nil
}

// ArchiveStatsFor reports archive statistics for one agent.
func (e *Engine) ArchiveStatsFor(agentID string) (ArchiveStats, error) {
	return e.agent(agentID).archiver.Stats()
}

// TopicsReport is the administrative view of the topic tracker.
type TopicsReport struct {
	Topics  map[string]TopicRecord `json:"topics"`
	Fixated []string               `json:"fixated"`
}

// Topics reports the tracked and fixated topics of one agent.
func (e *Engine) Topics(agentID string) TopicsReport {
	st := e.agent(agentID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return TopicsReport{Topics: st.topics.Topics(), Fixated: st.topics.Fixated()}
}

// AgentInfo is one row of the agent listing.
type AgentInfo struct {
	AgentID       string `json:"agent_id"`
	ExchangeCount int    `json:"exchange_count"`
	StorageReady  bool   `json:"storage_ready"`
	DataDir       string `json:"data_dir"`
}

// ListAgents lists every registered agent with its storage status.
func (e *Engine) ListAgents() []AgentInfo {
	agents := e.snapshotAgents()
	out := make([]AgentInfo, len(agents))
	for i, st := range agents {
		st.mu.Lock()
		out[i] = AgentInfo{
			AgentID:       st.id,
			ExchangeCount: st.exchangeCount,
			StorageReady:  st.ready.Load(),
			DataDir:       st.dir,
		}
		st.mu.Unlock()
	}
	return out
}
