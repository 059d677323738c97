package continuity

import (
	"math"
	"sort"
	"strings"
)

// Tier is one of five priority bands governing budget allocation for a
// message. Lower values are higher priority.
type Tier int

const (
	TierEssential Tier = iota
	TierHigh
	TierMedium
	TierLow
	TierMinimal
)

var tierNames = [...]string{"essential", "high", "medium", "low", "minimal"}

func (t Tier) String() string {
	if t < TierEssential || t > TierMinimal {
		return "unknown"
	}
	return tierNames[t]
}

// Weight returns the fixed tier weight.
func (t Tier) Weight() float64 {
	switch t {
	case TierEssential:
		return 1.0
	case TierHigh:
		return 0.8
	case TierMedium:
		return 0.6
	case TierLow:
		return 0.4
	default:
		return 0.2
	}
}

// PoolReport describes how one tier's token pool was spent.
type PoolReport struct {
	Allocated int `json:"allocated"`
	Used      int `json:"used"`
	Messages  int `json:"messages"`
}

// BudgetReport summarizes one optimization pass.
type BudgetReport struct {
	Ceiling     int                   `json:"ceiling"`
	TotalBudget int                   `json:"total_budget"`
	TotalUsed   int                   `json:"total_used"`
	Remaining   int                   `json:"remaining"`
	Pools       map[string]PoolReport `json:"pools"`
}

// Allocator selects in-session messages under a token ceiling using tiered,
// pool-constrained admission.
type Allocator struct {
	cfg ContextBudgetConfig
	est *Estimator
}

// NewAllocator creates an Allocator. Pool ratios that do not sum to 1 are
// replaced wholesale by the defaults.
func NewAllocator(cfg ContextBudgetConfig, est *Estimator) *Allocator {
	def := DefaultConfig().ContextBudget
	if cfg.BudgetRatio <= 0 || cfg.BudgetRatio > 1 {
		cfg.BudgetRatio = def.BudgetRatio
	}
	if cfg.RecentTurnsAlwaysFull <= 0 {
		cfg.RecentTurnsAlwaysFull = def.RecentTurnsAlwaysFull
	}
	if cfg.RecentTurnCharLimit <= 0 {
		cfg.RecentTurnCharLimit = def.RecentTurnCharLimit
	}
	if cfg.MidTurnCharLimit <= 0 {
		cfg.MidTurnCharLimit = def.MidTurnCharLimit
	}
	if cfg.OlderTurnCharLimit <= 0 {
		cfg.OlderTurnCharLimit = def.OlderTurnCharLimit
	}
	if math.Abs(cfg.PoolRatios.Sum()-1) > 1e-6 {
		cfg.PoolRatios = def.PoolRatios
	}
	return &Allocator{cfg: cfg, est: est}
}

// Classify assigns a tier by position: system messages and the most recent
// turns are essential, with bands widening toward the start of the history.
// TierHigh is never assigned here; it is reserved for externally tagged
// entries such as anchor blocks.
func (a *Allocator) Classify(index, total int, m Message) Tier {
	if m.Role == RoleSystem {
		return TierEssential
	}
	d := total - 1 - index
	r := a.cfg.RecentTurnsAlwaysFull
	switch {
	case d < 2*r:
		return TierEssential
	case d < 4*r:
		return TierMedium
	case d < 8*r:
		return TierLow
	default:
		return TierMinimal
	}
}

func (a *Allocator) charLimit(t Tier) int {
	switch t {
	case TierEssential, TierHigh:
		return a.cfg.RecentTurnCharLimit
	case TierMedium:
		return a.cfg.MidTurnCharLimit
	case TierLow:
		return a.cfg.OlderTurnCharLimit
	default:
		return a.cfg.OlderTurnCharLimit / 2
	}
}

func (a *Allocator) poolRatio(t Tier) float64 {
	switch t {
	case TierEssential:
		return a.cfg.PoolRatios.Essential
	case TierHigh:
		return a.cfg.PoolRatios.High
	case TierMedium:
		return a.cfg.PoolRatios.Medium
	case TierLow:
		return a.cfg.PoolRatios.Low
	default:
		return a.cfg.PoolRatios.Minimal
	}
}

// Optimize selects and truncates messages under the token budget, returning
// the kept messages in their original order plus a spend report.
func (a *Allocator) Optimize(msgs []Message) ([]Message, BudgetReport) {
	return a.OptimizeTagged(msgs, nil)
}

// OptimizeTagged is Optimize with explicit tier overrides by message index,
// used to pin externally tagged entries (e.g. anchor blocks) to TierHigh.
func (a *Allocator) OptimizeTagged(msgs []Message, tags map[int]Tier) ([]Message, BudgetReport) {
	budget := int(float64(a.est.MaxTokens()) * a.cfg.BudgetRatio)
	report := BudgetReport{
		Ceiling:     a.est.MaxTokens(),
		TotalBudget: budget,
		Pools:       make(map[string]PoolReport, len(tierNames)),
	}

	type entry struct {
		index int
		msg   Message
	}
	groups := make(map[Tier][]entry)
	for i, m := range msgs {
		tier, tagged := tags[i]
		if !tagged {
			tier = a.Classify(i, len(msgs), m)
		}
		groups[tier] = append(groups[tier], entry{index: i, msg: m})
	}

	var kept []entry
	for tier := TierEssential; tier <= TierMinimal; tier++ {
		pool := int(float64(budget) * a.poolRatio(tier))
		pr := PoolReport{Allocated: pool}
		limit := a.charLimit(tier)

		for _, e := range groups[tier] {
			text := truncateAtBoundary(e.msg.Text(), limit)
			tokens := a.est.Estimate(text)
			if pr.Used+tokens > pool {
				continue
			}
			pr.Used += tokens
			pr.Messages++
			m := e.msg
			m.Content = TextContent(text)
			kept = append(kept, entry{index: e.index, msg: m})
		}

		report.TotalUsed += pr.Used
		report.Pools[tier.String()] = pr
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].index < kept[j].index })
	out := make([]Message, len(kept))
	for i, e := range kept {
		out[i] = e.msg
	}
	report.Remaining = report.TotalBudget - report.TotalUsed
	return out, report
}

const truncationMarker = " [...]"

// truncateAtBoundary cuts text to at most limit characters, preferring a
// sentence boundary (the last '.' or newline) in the back half of the kept
// chunk; otherwise it hard-cuts and appends a marker.
func truncateAtBoundary(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	chunk := string(runes[:limit])
	cut := strings.LastIndexAny(chunk, ".\n")
	if cut >= limit/2 {
		return strings.TrimRight(chunk[:cut+1], "\n")
	}
	return chunk + truncationMarker
}
