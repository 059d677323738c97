package continuity

import (
	"context"
)

// minRetrievalLength is the cleaned user text length below which retrieval
// is skipped.
const minRetrievalLength = 10

// recallInjectionCount caps how many recalled exchanges enter the prompt.
const recallInjectionCount = 3

// BeforeAgentStart handles the turn-start event: it strips previously
// injected blocks from the new user text, retrieves relevant past exchanges,
// and assembles the context block to prepend to the turn. Errors never
// propagate; a failing turn gets an empty prepend.
func (e *Engine) BeforeAgentStart(ctx context.Context, agentID string, msgs []Message) string {
	st := e.agent(agentID)

	st.mu.Lock()
	st.exchangeCount++
	st.lastRetrieval = nil
	anchorBlock := st.anchors.Format()
	topicBlock := st.topics.FormatNotes()
	st.mu.Unlock()

	var inj Injection
	inj.SetAnchors(anchorBlock)
	inj.SetTopics(topicBlock)

	cleaned := StripInjectedContext(lastUserText(msgs))
	if len(cleaned) < minRetrievalLength {
		return inj.Render()
	}

	if err := e.ensureStorage(ctx, st); err == nil {
		survivors := e.retrieve(ctx, st, cleaned, e.cfg.Search.RetrievalLimit)
		if e.shouldInject(cleaned, survivors) {
			top := make([]ScoredExchange, min(recallInjectionCount, len(survivors)))
			copy(top, survivors)
			sortChronological(top)
			inj.SetRecall(formatRecallBlock(top))
		}
	}
	return inj.Render()
}

// retrieve runs hybrid search, applies the noise filter, and caches the
// survivors for synchronous tool-result enrichment later in the turn.
func (e *Engine) retrieve(ctx context.Context, st *agentState, query string, limit int) []ScoredExchange {
	results, err := st.searcher.Search(ctx, query, limit)
	if err != nil {
		e.logger.Warn("engine: retrieval failed", "agent", st.id, "error", err)
	}
	survivors := st.noise.Filter(results)

	st.mu.Lock()
	st.lastRetrieval = survivors
	st.mu.Unlock()
	return survivors
}

// shouldInject decides whether recalled exchanges enter the prompt: always
// on explicit recall intent, otherwise only when the best composite score
// clears the relevance threshold.
func (e *Engine) shouldInject(cleaned string, survivors []ScoredExchange) bool {
	if len(survivors) == 0 {
		return false
	}
	if hasRecallIntent(cleaned, e.cfg.ContinuityIndicators) {
		return true
	}
	return float64(survivors[0].Composite) > e.cfg.Search.RelevanceThreshold
}

func lastUserText(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Text()
		}
	}
	return ""
}

// BeforeToolCall pre-populates the retrieval cache when the host is about to
// run the memory search tool, so the synchronous persist hook has data.
func (e *Engine) BeforeToolCall(ctx context.Context, agentID, toolName string, params map[string]any) {
	if toolName != MemorySearchTool {
		return
	}
	query, _ := params["query"].(string)
	if query == "" {
		query, _ = params["text"].(string)
	}
	if len(query) < minRetrievalLength {
		return
	}
	st := e.agent(agentID)
	if err := e.ensureStorage(ctx, st); err != nil {
		return
	}
	e.retrieve(ctx, st, query, e.cfg.Search.RetrievalLimit)
}

// AfterToolCall feeds mid-turn tool output to the topic tracker without
// advancing the exchange window.
func (e *Engine) AfterToolCall(_ context.Context, agentID, result string) {
	if result == "" {
		return
	}
	st := e.agent(agentID)
	st.mu.Lock()
	st.topics.TrackMidTurn(result)
	st.mu.Unlock()
}

// ToolResultPersist handles the synchronous persist event for the memory
// search tool: thin results get cached archive recall spliced in. It
// performs no I/O; its only inputs are the message and the cache. Returns
// the (possibly modified) message and whether it changed.
func (e *Engine) ToolResultPersist(agentID, toolName string, msg Message) (Message, bool) {
	if toolName != MemorySearchTool {
		return msg, false
	}
	st := e.agent(agentID)
	st.mu.Lock()
	cached := st.lastRetrieval
	st.mu.Unlock()
	return enrichToolResult(msg, cached, st.noise, e.cfg.Archive.ArchiveDir)
}

// AgentEnd handles the turn-end event: trackers absorb the turn, the
// archiver persists it, and the current day is incrementally re-indexed.
// Every step is best-effort.
func (e *Engine) AgentEnd(ctx context.Context, agentID string, msgs []Message) {
	st := e.agent(agentID)

	st.mu.Lock()
	for _, m := range msgs {
		if m.Role == RoleUser {
			if text := StripInjectedContext(m.Text()); text != "" {
				st.topics.Track(text)
			}
		}
	}
	st.anchors.Detect(msgs)
	st.mu.Unlock()

	if _, err := st.archiver.Archive(msgs); err != nil {
		e.logger.Error("engine: archive failed", "agent", st.id, "error", err)
		return
	}

	if err := e.ensureStorage(ctx, st); err != nil {
		return
	}
	today := DayKey(e.now())
	entries, err := st.archiver.Conversation(today)
	if err != nil {
		e.logger.Warn("engine: cannot reload today for indexing", "agent", st.id, "error", err)
		return
	}
	if _, err := st.indexer.IndexDay(ctx, today, entries); err != nil {
		e.logger.Warn("engine: incremental index failed", "agent", st.id, "date", today, "error", err)
	}
}

// BeforeCompaction logs a summary of what the memory engine holds so the
// compaction event is visible in operational logs.
func (e *Engine) BeforeCompaction(agentID string) {
	st := e.agent(agentID)
	st.mu.Lock()
	exchanges := st.exchangeCount
	topics := len(st.topics.Topics())
	anchors := len(st.anchors.Anchors())
	st.mu.Unlock()
	e.logger.Info("engine: compaction starting",
		"agent", st.id, "session_exchanges", exchanges, "topics", topics, "anchors", anchors)
}

// SessionStart resets the session-scoped state: counters, topic window,
// anchors, and the retrieval cache.
func (e *Engine) SessionStart(agentID, sessionID string) {
	st := e.agent(agentID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessionID = sessionID
	st.sessionStart = e.now()
	st.exchangeCount = 0
	st.lastRetrieval = nil
	st.anchors = NewAnchorTracker(e.cfg.Anchors)
	st.topics = NewTopicTracker(e.cfg.TopicTracking, WithTopicLogger(e.logger))
	e.logger.Debug("engine: session started", "agent", st.id, "session", sessionID)
}

// SessionEnd runs a final index pass over every archived day not yet in the
// index log.
func (e *Engine) SessionEnd(ctx context.Context, agentID, sessionID string, messageCount int) {
	st := e.agent(agentID)
	if err := e.ensureStorage(ctx, st); err != nil {
		return
	}
	unindexed, err := st.archiver.UnindexedDates(st.indexer.IndexedDates())
	if err != nil {
		e.logger.Warn("engine: session-end sweep failed", "agent", st.id, "error", err)
		return
	}
	for _, date := range unindexed {
		entries, err := st.archiver.Conversation(date)
		if err != nil {
			e.logger.Warn("engine: skipping unreadable day", "agent", st.id, "date", date, "error", err)
			continue
		}
		if _, err := st.indexer.IndexDay(ctx, date, entries); err != nil {
			e.logger.Warn("engine: session-end index failed", "agent", st.id, "date", date, "error", err)
		}
	}
	e.logger.Debug("engine: session ended",
		"agent", st.id, "session", sessionID, "messages", messageCount, "indexed_days", len(unindexed))
}

// Compact applies threshold-triggered history compression for the agent,
// returning the original slice untouched when under threshold.
func (e *Engine) Compact(agentID string, msgs []Message) []Message {
	st := e.agent(agentID)
	if !st.compactor.NeedsCompaction(msgs) {
		return msgs
	}
	e.BeforeCompaction(agentID)
	return st.compactor.Compact(msgs)
}
