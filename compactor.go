package continuity

import (
	"log/slog"
	"sort"
)

// Task-aware compaction keeps a bounded tail of each traffic class.
const (
	taskKeepToolMessages      = 15
	taskKeepAssistantMessages = 5
	taskKeepUserMessages      = 5
	taskAssistantCharLimit    = 1500
)

// Compactor compresses conversation history when it approaches the token
// ceiling. Histories carrying tool traffic get a task-aware pass that
// preserves recent tool state; plain conversation goes through the tiered
// budget allocator with anchor extraction.
type Compactor struct {
	cfg       CompactionConfig
	anchorCfg AnchorConfig
	alloc     *Allocator
	est       *Estimator
	logger    *slog.Logger
}

// CompactorOption configures a Compactor.
type CompactorOption func(*Compactor)

// WithCompactorLogger sets the structured logger.
func WithCompactorLogger(l *slog.Logger) CompactorOption {
	return func(c *Compactor) { c.logger = l }
}

// NewCompactor creates a Compactor. The budget config is shared with the
// allocator: the task-aware budget is derived from the same BudgetRatio.
func NewCompactor(cfg CompactionConfig, budgetCfg ContextBudgetConfig, anchorCfg AnchorConfig, est *Estimator, opts ...CompactorOption) *Compactor {
	def := DefaultConfig().Compaction
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = def.Threshold
	}
	if cfg.FallbackMessages <= 0 {
		cfg.FallbackMessages = def.FallbackMessages
	}
	c := &Compactor{
		cfg:       cfg,
		anchorCfg: anchorCfg,
		alloc:     NewAllocator(budgetCfg, est),
		est:       est,
		logger:    nopLogger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NeedsCompaction reports whether the history exceeds the trigger threshold.
func (c *Compactor) NeedsCompaction(msgs []Message) bool {
	return c.est.IsOverBudget(c.est.EstimateMessages(msgs), c.cfg.Threshold)
}

// Compact compresses the history. When the result still exceeds 95% of the
// ceiling, it falls back to the system message plus the most recent tail.
func (c *Compactor) Compact(msgs []Message) []Message {
	var result []Message
	if c.cfg.TaskAware && hasToolTraffic(msgs) {
		result = c.compactTaskAware(msgs)
		c.logger.Debug("compactor: task-aware pass", "in", len(msgs), "out", len(result))
	} else {
		result = c.compactConversational(msgs)
		c.logger.Debug("compactor: conversational pass", "in", len(msgs), "out", len(result))
	}

	if c.est.IsOverBudget(c.est.EstimateMessages(result), 0.95) {
		result = c.fallback(msgs)
		c.logger.Warn("compactor: still over budget, using fallback tail", "kept", len(result))
	}
	return result
}

func hasToolTraffic(msgs []Message) bool {
	for _, m := range msgs {
		if m.IsToolRelated() {
			return true
		}
	}
	return false
}

// compactTaskAware keeps, in priority order: system messages, the first user
// message, the last tool results, the last assistant messages (truncated),
// and the last user messages, each class admitted under a rising share of
// the token budget.
func (c *Compactor) compactTaskAware(msgs []Message) []Message {
	budget := int(float64(c.est.MaxTokens()) * c.alloc.cfg.BudgetRatio)
	kept := make(map[int]Message)
	used := 0

	admit := func(i int, m Message, ceiling int) {
		if _, ok := kept[i]; ok {
			return
		}
		tokens := c.est.Estimate(m.Text()) + messageOverheadTokens
		if used+tokens > ceiling {
			return
		}
		used += tokens
		kept[i] = m
	}

	for i, m := range msgs {
		if m.Role == RoleSystem {
			admit(i, m, budget)
		}
	}
	for i, m := range msgs {
		if m.Role == RoleUser {
			admit(i, m, budget)
			break
		}
	}

	toolCeiling := int(float64(budget) * 0.7)
	for _, i := range lastIndices(msgs, taskKeepToolMessages, func(m Message) bool {
		return m.Role == RoleTool || m.Role == RoleFunction
	}) {
		admit(i, msgs[i], toolCeiling)
	}

	assistantCeiling := int(float64(budget) * 0.9)
	for _, i := range lastIndices(msgs, taskKeepAssistantMessages, func(m Message) bool {
		return m.Role == RoleAssistant
	}) {
		m := msgs[i]
		m.Content = TextContent(truncateAtBoundary(m.Text(), taskAssistantCharLimit))
		admit(i, m, assistantCeiling)
	}

	for _, i := range lastIndices(msgs, taskKeepUserMessages, func(m Message) bool {
		return m.Role == RoleUser
	}) {
		admit(i, msgs[i], budget)
	}

	indices := make([]int, 0, len(kept))
	for i := range kept {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	out := make([]Message, len(indices))
	for n, i := range indices {
		out[n] = kept[i]
	}
	return out
}

// lastIndices returns the original indices of the last n messages matching
// the predicate, in ascending order.
func lastIndices(msgs []Message, n int, match func(Message) bool) []int {
	var picked []int
	for i := len(msgs) - 1; i >= 0 && len(picked) < n; i-- {
		if match(msgs[i]) {
			picked = append(picked, i)
		}
	}
	sort.Ints(picked)
	return picked
}

// compactConversational runs the budget allocator and folds detected anchors
// into the system message so identity moments survive compression.
func (c *Compactor) compactConversational(msgs []Message) []Message {
	kept, _ := c.alloc.Optimize(msgs)

	tracker := NewAnchorTracker(c.anchorCfg)
	tracker.Detect(msgs)
	block := tracker.Format()
	if block == "" {
		return kept
	}

	for i, m := range kept {
		if m.Role == RoleSystem {
			m.Content = TextContent(m.Text() + "\n\n" + block)
			kept[i] = m
			return kept
		}
	}
	return append([]Message{{Role: RoleSystem, Content: TextContent(block)}}, kept...)
}

// fallback keeps the first system message plus the most recent tail.
func (c *Compactor) fallback(msgs []Message) []Message {
	var out []Message
	for _, m := range msgs {
		if m.Role == RoleSystem {
			out = append(out, m)
			break
		}
	}
	tail := msgs
	if len(tail) > c.cfg.FallbackMessages {
		tail = tail[len(tail)-c.cfg.FallbackMessages:]
	}
	for _, m := range tail {
		if m.Role == RoleSystem && len(out) > 0 && m.Text() == out[0].Text() {
			continue
		}
		out = append(out, m)
	}
	return out
}
