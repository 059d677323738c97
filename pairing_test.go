package continuity

import (
	"strings"
	"testing"
	"time"
)

func entry(sender, text string, ts time.Time) ArchiveEntry {
	return ArchiveEntry{Timestamp: ts, Sender: sender, Text: text}
}

func TestPairAlternatingStream(t *testing.T) {
	base := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	entries := []ArchiveEntry{
		entry(SenderUser, "q1", base),
		entry(SenderAgent, "a1", base.Add(time.Minute)),
		entry(SenderUser, "q2", base.Add(2*time.Minute)),
		entry(SenderAgent, "a2", base.Add(3*time.Minute)),
	}
	exchanges := PairEntries("2025-06-01", entries)
	if len(exchanges) != 2 {
		t.Fatalf("expected 2 exchanges, got %d", len(exchanges))
	}
	for i, ex := range exchanges {
		if ex.Index != i {
			t.Errorf("exchange %d has index %d", i, ex.Index)
		}
		if ex.ID != ExchangeID("2025-06-01", i) {
			t.Errorf("unexpected id %s", ex.ID)
		}
	}
	if exchanges[0].UserText != "q1" || exchanges[0].AgentText != "a1" {
		t.Errorf("unexpected first exchange %+v", exchanges[0])
	}
}

func TestPairOrphansPreserved(t *testing.T) {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	entries := []ArchiveEntry{
		entry(SenderAgent, "leading agent", base),
		entry(SenderUser, "orphan one", base.Add(time.Minute)),
		entry(SenderUser, "answered", base.Add(2*time.Minute)),
		entry(SenderAgent, "the answer", base.Add(3*time.Minute)),
		entry(SenderUser, "trailing orphan", base.Add(4*time.Minute)),
	}
	exchanges := PairEntries("2025-06-01", entries)
	if len(exchanges) != 4 {
		t.Fatalf("expected 4 exchanges, got %d", len(exchanges))
	}
	if exchanges[0].UserText != "" || exchanges[0].AgentText != "leading agent" {
		t.Errorf("leading agent exchange wrong: %+v", exchanges[0])
	}
	if exchanges[1].UserText != "orphan one" || exchanges[1].AgentText != "" {
		t.Errorf("orphan user flushed wrong: %+v", exchanges[1])
	}
	if exchanges[2].UserText != "answered" || exchanges[2].AgentText != "the answer" {
		t.Errorf("paired exchange wrong: %+v", exchanges[2])
	}
	if exchanges[3].UserText != "trailing orphan" || exchanges[3].AgentText != "" {
		t.Errorf("trailing orphan lost: %+v", exchanges[3])
	}
}

func TestPairCombinedFormat(t *testing.T) {
	base := time.Date(2025, 6, 1, 14, 5, 0, 0, time.UTC)
	exchanges := PairEntries("2025-06-01", []ArchiveEntry{
		entry(SenderUser, "hello", base),
		entry(SenderAgent, "hi", base.Add(time.Second)),
	})
	want := "[2025-06-01 14:05]\nUser: hello\nAgent: hi"
	if exchanges[0].Combined != want {
		t.Errorf("combined = %q, want %q", exchanges[0].Combined, want)
	}
	if exchanges[0].CreatedAt != base.Unix() {
		t.Errorf("created_at = %d, want %d", exchanges[0].CreatedAt, base.Unix())
	}
}

func TestPairCreatedAtFallback(t *testing.T) {
	exchanges := PairEntries("2025-06-01", []ArchiveEntry{
		{Sender: SenderUser, Text: "first"},
		{Sender: SenderAgent, Text: "reply"},
		{Sender: SenderUser, Text: "second"},
	})
	noon := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Unix()
	if exchanges[0].CreatedAt != noon {
		t.Errorf("expected noon fallback, got %d", exchanges[0].CreatedAt)
	}
	// Fallback spaces exchanges a minute apart to keep same-day order.
	if exchanges[1].CreatedAt != noon+60 {
		t.Errorf("expected noon+60s for index 1, got %d", exchanges[1].CreatedAt)
	}
	if !strings.Contains(exchanges[0].Combined, "[2025-06-01 00:00]") {
		t.Errorf("expected zero clock in combined, got %q", exchanges[0].Combined)
	}
}

func TestPairEmptyStream(t *testing.T) {
	if got := PairEntries("2025-06-01", nil); len(got) != 0 {
		t.Errorf("empty stream must pair to nothing, got %v", got)
	}
}
