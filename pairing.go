package continuity

import (
	"fmt"
	"time"
)

// PairEntries groups a time-ordered day of archived messages into exchanges.
//
// Each user message opens a pair; if a pair is already open it is flushed
// with no agent side first. Each agent message closes the current pair and
// flushes it, forming an agent-only exchange when nothing is open. A trailing
// open pair is flushed at the end, so orphan user messages and leading agent
// messages are both preserved.
func PairEntries(date string, entries []ArchiveEntry) []Exchange {
	var exchanges []Exchange
	var current *Exchange
	var currentTS time.Time

	flush := func() {
		if current == nil {
			return
		}
		current.Index = len(exchanges)
		current.ID = ExchangeID(date, current.Index)
		current.Combined = combinedText(date, currentTS, current.UserText, current.AgentText)
		current.CreatedAt = exchangeCreatedAt(date, current.Index, currentTS)
		exchanges = append(exchanges, *current)
		current = nil
		currentTS = time.Time{}
	}

	for _, e := range entries {
		switch e.Sender {
		case SenderUser:
			flush()
			current = &Exchange{Date: date, UserText: e.Text}
			currentTS = e.Timestamp
		case SenderAgent:
			if current == nil {
				current = &Exchange{Date: date}
				currentTS = e.Timestamp
			}
			current.AgentText = e.Text
			flush()
		}
	}
	flush()
	return exchanges
}

// ExchangeID builds the stable row id for an exchange at a given position.
func ExchangeID(date string, index int) string {
	return fmt.Sprintf("exchange_%s_%d", date, index)
}

func combinedText(date string, ts time.Time, userText, agentText string) string {
	clock := "00:00"
	if !ts.IsZero() {
		clock = ts.Format("15:04")
	}
	return fmt.Sprintf("[%s %s]\nUser: %s\nAgent: %s", date, clock, userText, agentText)
}

// exchangeCreatedAt prefers the real message timestamp; when the archive
// entry carried none it falls back to the date at noon UTC plus the exchange
// index in minutes, which keeps same-day ordering stable.
func exchangeCreatedAt(date string, index int, ts time.Time) int64 {
	if !ts.IsZero() {
		return ts.Unix()
	}
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0
	}
	return day.Add(12*time.Hour + time.Duration(index)*time.Minute).Unix()
}
