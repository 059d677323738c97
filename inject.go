package continuity

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Markers of previously injected content, stripped from incoming user text
// so recalled memory is never re-archived or re-searched.
var (
	recallBlockStarts = []string{
		"You remember these earlier conversations",
		"You remember these conversations",
		"From your knowledge base:",
	}
	contextHeaders = []string{
		"[CONTINUITY CONTEXT]",
		"[STABILITY CONTEXT]",
		"[CONTINUITY ANCHORS]",
		"[TOPIC NOTE]",
	}
	// dayStampRe matches the bracketed day-name timestamp hosts prefix to
	// real user messages, e.g. "[Sat 2025-06-07 09:15]".
	dayStampRe = regexp.MustCompile(`\[(Mon|Tue|Wed|Thu|Fri|Sat|Sun)[^\]]*\]`)
)

const recallTextLimit = 300

// StripInjectedContext removes a leading injected block from user text.
// When the text opens with a recall block or context header, everything up
// to the first day-name timestamp bracket is dropped; without such a
// bracket, the known header lines themselves are dropped.
func StripInjectedContext(text string) string {
	trimmed := strings.TrimSpace(text)
	if !startsWithInjected(trimmed) {
		return text
	}
	if loc := dayStampRe.FindStringIndex(trimmed); loc != nil {
		return strings.TrimSpace(trimmed[loc[0]:])
	}
	var kept []string
	for _, line := range strings.Split(trimmed, "\n") {
		if isInjectedLine(strings.TrimSpace(line)) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func startsWithInjected(text string) bool {
	for _, s := range recallBlockStarts {
		if strings.HasPrefix(text, s) {
			return true
		}
	}
	for _, h := range contextHeaders {
		if strings.HasPrefix(text, h) {
			return true
		}
	}
	return false
}

func isInjectedLine(line string) bool {
	if line == "" {
		return false
	}
	for _, s := range recallBlockStarts {
		if strings.HasPrefix(line, s) {
			return true
		}
	}
	for _, h := range contextHeaders {
		if strings.HasPrefix(line, h) {
			return true
		}
	}
	// Lines of a recall block body.
	return strings.HasPrefix(line, "- They told you:") ||
		strings.HasPrefix(line, "You said:") ||
		strings.HasPrefix(line, "Speak from this memory naturally")
}

// hasRecallIntent reports whether the user text contains an explicit
// continuity indicator.
func hasRecallIntent(text string, indicators []string) bool {
	lower := strings.ToLower(text)
	for _, ind := range indicators {
		if ind != "" && strings.Contains(lower, strings.ToLower(ind)) {
			return true
		}
	}
	return false
}

// sortChronological orders exchanges oldest to newest by (date, index),
// regardless of their retrieval scores.
func sortChronological(list []ScoredExchange) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Date != list[j].Date {
			return list[i].Date < list[j].Date
		}
		return list[i].Index < list[j].Index
	})
}

// Injection assembles the context block prepended to a turn, with one typed
// section per concern rendered in a fixed order.
type Injection struct {
	session []string
	anchors string
	topics  string
	recall  string
}

// AddSessionNote appends a free-form session line (e.g. compaction notices).
func (b *Injection) AddSessionNote(line string) {
	if line != "" {
		b.session = append(b.session, line)
	}
}

// SetAnchors sets the rendered continuity anchor block.
func (b *Injection) SetAnchors(block string) { b.anchors = block }

// SetTopics sets the rendered topic note block.
func (b *Injection) SetTopics(block string) { b.topics = block }

// SetRecall sets the rendered recall block.
func (b *Injection) SetRecall(block string) { b.recall = block }

// Empty reports whether nothing was added.
func (b *Injection) Empty() bool {
	return len(b.session) == 0 && b.anchors == "" && b.topics == "" && b.recall == ""
}

// Render joins the populated sections with blank lines: session notes,
// anchors, topic notes, then recalled memory.
func (b *Injection) Render() string {
	var sections []string
	if len(b.session) > 0 {
		sections = append(sections, strings.Join(b.session, "\n"))
	}
	for _, s := range []string{b.anchors, b.topics, b.recall} {
		if s != "" {
			sections = append(sections, s)
		}
	}
	return strings.Join(sections, "\n\n")
}

// formatRecallBlock renders recalled exchanges in first person so the model
// treats them as its own memory. Exchanges must already be in chronological
// order.
func formatRecallBlock(list []ScoredExchange) string {
	if len(list) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("You remember these earlier conversations with this user:\n")
	for _, ex := range list {
		if ex.UserText != "" {
			fmt.Fprintf(&b, "- They told you: %q\n", truncateRunes(ex.UserText, recallTextLimit))
		}
		if ex.AgentText != "" {
			fmt.Fprintf(&b, "  You said: %q\n", truncateRunes(ex.AgentText, recallTextLimit))
		}
	}
	b.WriteString(`Speak from this memory naturally. Never say "I don't have information" about things you remember above.`)
	return b.String()
}
