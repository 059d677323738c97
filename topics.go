package continuity

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"
)

// TopicRecord tracks one topic inside the sliding exchange window.
type TopicRecord struct {
	Mentions      int       `json:"mentions"`
	FirstSeen     int       `json:"first_seen"` // exchange index
	LastSeen      int       `json:"last_seen"`  // exchange index
	LastTimestamp time.Time `json:"last_timestamp"`
}

// TopicTracker counts topic mentions over a sliding window of exchanges and
// flags fixation when a topic keeps coming up. Not safe for concurrent use;
// the owning agent state serializes access.
type TopicTracker struct {
	cfg       TopicConfig
	patterns  []*regexp.Regexp
	stopWords map[string]bool
	topics    map[string]*TopicRecord
	exchange  int
	now       func() time.Time
	logger    *slog.Logger
}

// TopicTrackerOption configures a TopicTracker.
type TopicTrackerOption func(*TopicTracker)

// WithTopicLogger sets the structured logger used for pattern warnings.
func WithTopicLogger(l *slog.Logger) TopicTrackerOption {
	return func(t *TopicTracker) { t.logger = l }
}

// NewTopicTracker creates a tracker from config. Invalid custom patterns are
// skipped with a warning rather than failing construction.
func NewTopicTracker(cfg TopicConfig, opts ...TopicTrackerOption) *TopicTracker {
	def := DefaultConfig().TopicTracking
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.FixationThreshold <= 0 {
		cfg.FixationThreshold = def.FixationThreshold
	}
	if cfg.DecayFactor <= 0 {
		cfg.DecayFactor = def.DecayFactor
	}
	if cfg.MinWordLength <= 0 {
		cfg.MinWordLength = def.MinWordLength
	}
	if len(cfg.StopWords) == 0 {
		cfg.StopWords = def.StopWords
	}

	t := &TopicTracker{
		cfg:       cfg,
		stopWords: make(map[string]bool, len(cfg.StopWords)),
		topics:    make(map[string]*TopicRecord),
		exchange:  -1,
		now:       time.Now,
		logger:    nopLogger,
	}
	for _, o := range opts {
		o(t)
	}
	for _, w := range cfg.StopWords {
		t.stopWords[strings.ToLower(w)] = true
	}
	for _, p := range cfg.CustomPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			t.logger.Warn("topics: skipping invalid custom pattern", "pattern", p, "error", err)
			continue
		}
		t.patterns = append(t.patterns, re)
	}
	return t
}

// Track absorbs one exchange worth of text, auto-advancing the exchange
// counter.
func (t *TopicTracker) Track(text string) {
	t.TrackAt(text, t.exchange+1)
}

// TrackAt absorbs text at an explicit exchange index. Topics whose last
// mention fell out of the sliding window are pruned first, then every topic
// extracted from the text has its mention count advanced.
func (t *TopicTracker) TrackAt(text string, exchangeIndex int) {
	if exchangeIndex > t.exchange {
		t.exchange = exchangeIndex
	}
	t.prune()

	ts := t.now()
	for _, topic := range t.extract(text) {
		rec, ok := t.topics[topic]
		if !ok {
			rec = &TopicRecord{FirstSeen: t.exchange}
			t.topics[topic] = rec
		}
		rec.Mentions++
		rec.LastSeen = t.exchange
		rec.LastTimestamp = ts
	}
}

// TrackMidTurn absorbs text at the current exchange index, so tool output
// contributes mentions without advancing the window.
func (t *TopicTracker) TrackMidTurn(text string) {
	idx := t.exchange
	if idx < 0 {
		idx = 0
	}
	t.TrackAt(text, idx)
}

func (t *TopicTracker) prune() {
	for topic, rec := range t.topics {
		if rec.LastSeen < t.exchange-t.cfg.WindowSize {
			delete(t.topics, topic)
			continue
		}
		if t.cfg.PruneAgeMinutes > 0 && !rec.LastTimestamp.IsZero() {
			if t.now().Sub(rec.LastTimestamp) > time.Duration(t.cfg.PruneAgeMinutes)*time.Minute {
				delete(t.topics, topic)
			}
		}
	}
}

// extract returns the deduplicated topics of one message: custom pattern
// matches, tokens repeated at least twice, and tokens already tracked from
// earlier exchanges.
func (t *TopicTracker) extract(text string) []string {
	found := make(map[string]bool)

	for _, re := range t.patterns {
		for _, m := range re.FindAllString(text, -1) {
			found[strings.ToLower(m)] = true
		}
	}

	counts := make(map[string]int)
	for _, raw := range strings.Fields(text) {
		tok := normalizeToken(raw)
		if len(tok) < t.cfg.MinWordLength {
			continue
		}
		if tok[0] < 'a' || tok[0] > 'z' {
			continue
		}
		if t.stopWords[tok] {
			continue
		}
		counts[tok]++
	}
	for tok, n := range counts {
		if n >= 2 {
			found[tok] = true
		} else if _, revisit := t.topics[tok]; revisit {
			found[tok] = true
		}
	}

	out := make([]string, 0, len(found))
	for topic := range found {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

var tokenStrip = regexp.MustCompile(`[^a-z0-9-]`)

func normalizeToken(raw string) string {
	return tokenStrip.ReplaceAllString(strings.ToLower(raw), "")
}

// Freshness scores how novel a topic still is: 1 for an unseen topic,
// decaying toward 0 as mentions approach the fixation threshold.
func (t *TopicTracker) Freshness(topic string) float64 {
	rec, ok := t.topics[strings.ToLower(topic)]
	if !ok {
		return 1
	}
	score := 1 - float64(rec.Mentions)/float64(t.cfg.FixationThreshold)*t.cfg.DecayFactor
	if score < 0 {
		return 0
	}
	return score
}

// Fixated returns the topics whose mention count reached the fixation
// threshold, sorted by mention count descending then name.
func (t *TopicTracker) Fixated() []string {
	var out []string
	for topic, rec := range t.topics {
		if rec.Mentions >= t.cfg.FixationThreshold {
			out = append(out, topic)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		mi, mj := t.topics[out[i]].Mentions, t.topics[out[j]].Mentions
		if mi != mj {
			return mi > mj
		}
		return out[i] < out[j]
	})
	return out
}

// Topics returns a copy of the tracked topic records.
func (t *TopicTracker) Topics() map[string]TopicRecord {
	out := make(map[string]TopicRecord, len(t.topics))
	for topic, rec := range t.topics {
		out[topic] = *rec
	}
	return out
}

// FormatNotes renders one awareness line per fixated topic. Empty when
// nothing is fixated.
func (t *TopicTracker) FormatNotes() string {
	fixated := t.Fixated()
	if len(fixated) == 0 {
		return ""
	}
	var b strings.Builder
	for _, topic := range fixated {
		fmt.Fprintf(&b, "[TOPIC NOTE] The topic '%s' has come up %d times recently.\n", topic, t.topics[topic].Mentions)
	}
	return strings.TrimRight(b.String(), "\n")
}
