package continuity

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// AnchorType classifies a continuity anchor.
type AnchorType string

const (
	AnchorIdentity      AnchorType = "identity"
	AnchorContradiction AnchorType = "contradiction"
	AnchorTension       AnchorType = "tension"
)

// anchorPriority maps each type to its retention priority.
var anchorPriority = map[AnchorType]float64{
	AnchorIdentity:      1.0,
	AnchorContradiction: 1.0,
	AnchorTension:       0.7,
}

const anchorTextLimit = 200

// Anchor is a preserved identity, contradiction, or tension moment detected
// from a user message and surfaced across turns.
type Anchor struct {
	Type         AnchorType `json:"type"`
	Priority     float64    `json:"priority"`
	Text         string     `json:"text"`
	Timestamp    time.Time  `json:"timestamp"`
	MessageIndex int        `json:"message_index"`
	Keyword      string     `json:"keyword"`
}

// AnchorTracker detects and retains continuity anchors for one session.
// Not safe for concurrent use; the owning agent state serializes access.
type AnchorTracker struct {
	cfg  AnchorConfig
	seen map[string]bool // type + message index, suppresses re-detection
	list []Anchor
	now  func() time.Time
}

// NewAnchorTracker creates a tracker from config, applying defaults for any
// zero field.
func NewAnchorTracker(cfg AnchorConfig) *AnchorTracker {
	def := DefaultConfig().Anchors
	if cfg.MaxAgeMinutes <= 0 {
		cfg.MaxAgeMinutes = def.MaxAgeMinutes
	}
	if cfg.MaxCount <= 0 {
		cfg.MaxCount = def.MaxCount
	}
	if len(cfg.Keywords.Identity) == 0 && len(cfg.Keywords.Contradiction) == 0 && len(cfg.Keywords.Tension) == 0 {
		cfg.Keywords = def.Keywords
	}
	return &AnchorTracker{
		cfg:  cfg,
		seen: make(map[string]bool),
		now:  time.Now,
	}
}

// Detect scans user messages for anchor keywords and absorbs new anchors.
// A (type, message index) pair yields at most one anchor ever, so repeated
// scans over a growing history are cheap and idempotent. After scanning the
// retained list is pruned by age, sorted by priority then recency, and
// capped at MaxCount.
func (t *AnchorTracker) Detect(msgs []Message) {
	if !t.cfg.Enabled {
		return
	}
	for i, m := range msgs {
		if m.Role != RoleUser {
			continue
		}
		text := m.Text()
		if text == "" {
			continue
		}
		lower := strings.ToLower(text)
		t.detectType(AnchorIdentity, t.cfg.Keywords.Identity, lower, text, i, m.Timestamp)
		t.detectType(AnchorContradiction, t.cfg.Keywords.Contradiction, lower, text, i, m.Timestamp)
		t.detectType(AnchorTension, t.cfg.Keywords.Tension, lower, text, i, m.Timestamp)
	}
	t.prune()
}

func (t *AnchorTracker) detectType(at AnchorType, keywords []string, lower, text string, index int, ts time.Time) {
	key := string(at) + ":" + fmt.Sprint(index)
	if t.seen[key] {
		return
	}
	for _, kw := range keywords {
		if kw == "" || !strings.Contains(lower, strings.ToLower(kw)) {
			continue
		}
		if ts.IsZero() {
			ts = t.now()
		}
		t.seen[key] = true
		t.list = append(t.list, Anchor{
			Type:         at,
			Priority:     anchorPriority[at],
			Text:         truncateRunes(text, anchorTextLimit),
			Timestamp:    ts,
			MessageIndex: index,
			Keyword:      kw,
		})
		return
	}
}

func (t *AnchorTracker) prune() {
	maxAge := time.Duration(t.cfg.MaxAgeMinutes) * time.Minute
	cutoff := t.now().Add(-maxAge)
	kept := t.list[:0]
	for _, a := range t.list {
		if a.Timestamp.After(cutoff) {
			kept = append(kept, a)
		}
	}
	t.list = kept

	sort.SliceStable(t.list, func(i, j int) bool {
		if t.list[i].Priority != t.list[j].Priority {
			return t.list[i].Priority > t.list[j].Priority
		}
		return t.list[i].Timestamp.After(t.list[j].Timestamp)
	})
	if len(t.list) > t.cfg.MaxCount {
		t.list = t.list[:t.cfg.MaxCount]
	}
}

// Anchors returns a copy of the retained anchors.
func (t *AnchorTracker) Anchors() []Anchor {
	out := make([]Anchor, len(t.list))
	copy(out, t.list)
	return out
}

// Format renders the anchor block for prompt injection. Empty when no
// anchors are retained or detection is disabled.
func (t *AnchorTracker) Format() string {
	if len(t.list) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("[CONTINUITY ANCHORS]\n")
	now := t.now()
	for _, a := range t.list {
		fmt.Fprintf(&b, "%s: %q (%s)\n", strings.ToUpper(string(a.Type)), a.Text, formatAge(now.Sub(a.Timestamp)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dmin ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
