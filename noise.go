package continuity

import "strings"

// NoiseFilter drops recalled exchanges that would poison injection: agent
// denials of memory, user meta-questions about memory, session-reset
// boilerplate, and trivially short formulaic pairs. All pattern tables come
// from configuration so the filter stays data-driven.
type NoiseFilter struct {
	denial    []string
	meta      []string
	reset     []string
	formulaic []string
	minLength int
}

// NewNoiseFilter creates a filter, falling back to the default pattern
// tables for any empty list.
func NewNoiseFilter(cfg NoiseConfig) *NoiseFilter {
	def := DefaultConfig().NoiseFilter
	if len(cfg.DenialPhrases) == 0 {
		cfg.DenialPhrases = def.DenialPhrases
	}
	if len(cfg.MetaQuestions) == 0 {
		cfg.MetaQuestions = def.MetaQuestions
	}
	if len(cfg.ResetMarkers) == 0 {
		cfg.ResetMarkers = def.ResetMarkers
	}
	if len(cfg.FormulaicReplies) == 0 {
		cfg.FormulaicReplies = def.FormulaicReplies
	}
	if cfg.MinExchangeLength <= 0 {
		cfg.MinExchangeLength = def.MinExchangeLength
	}
	return &NoiseFilter{
		denial:    lowerAll(cfg.DenialPhrases),
		meta:      lowerAll(cfg.MetaQuestions),
		reset:     lowerAll(cfg.ResetMarkers),
		formulaic: lowerAll(cfg.FormulaicReplies),
		minLength: cfg.MinExchangeLength,
	}
}

func lowerAll(list []string) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = strings.ToLower(s)
	}
	return out
}

// Reject reports whether the exchange matches a noise pattern, and which.
func (f *NoiseFilter) Reject(ex Exchange) (bool, string) {
	agent := strings.ToLower(ex.AgentText)
	user := strings.ToLower(ex.UserText)

	for _, p := range f.denial {
		if strings.Contains(agent, p) {
			return true, "agent denial: " + p
		}
	}
	for _, p := range f.meta {
		if strings.Contains(user, p) {
			return true, "meta question: " + p
		}
	}
	for _, p := range f.reset {
		if strings.Contains(user, p) {
			return true, "session reset: " + p
		}
	}
	if len(ex.UserText)+len(ex.AgentText) < f.minLength {
		for _, p := range f.formulaic {
			if strings.Contains(agent, p) {
				return true, "formulaic short exchange: " + p
			}
		}
	}
	return false, ""
}

// Filter returns the exchanges surviving the noise patterns, in order.
func (f *NoiseFilter) Filter(list []ScoredExchange) []ScoredExchange {
	out := make([]ScoredExchange, 0, len(list))
	for _, ex := range list {
		if rejected, _ := f.Reject(ex.Exchange); !rejected {
			out = append(out, ex)
		}
	}
	return out
}
