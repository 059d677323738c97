package continuity

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Archive entry senders. Assistant messages are archived as "agent".
const (
	SenderUser  = "user"
	SenderAgent = "agent"
)

// ArchiveEntry is one archived message inside a day file.
type ArchiveEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
}

func (e ArchiveEntry) dedupKey() string {
	return e.Timestamp.UTC().Format(time.RFC3339Nano) + "_" + e.Sender
}

// DayFile is the on-disk shape of one archived day.
type DayFile struct {
	Date         string         `json:"date"`
	MessageCount int            `json:"messageCount"`
	Messages     []ArchiveEntry `json:"messages"`
}

// ArchiveStats summarizes an agent's archive.
type ArchiveStats struct {
	Days       int    `json:"days"`
	Messages   int    `json:"messages"`
	OldestDate string `json:"oldest_date,omitempty"`
	NewestDate string `json:"newest_date,omitempty"`
}

// Archiver maintains a durable per-day conversation log with total
// deduplication: a (timestamp, sender) pair is never written twice, so
// re-archiving the same stream is idempotent.
type Archiver struct {
	dir           string
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// ArchiverOption configures an Archiver.
type ArchiverOption func(*Archiver)

// WithArchiverLogger sets the structured logger.
func WithArchiverLogger(l *slog.Logger) ArchiverOption {
	return func(a *Archiver) { a.logger = l }
}

// NewArchiver creates an Archiver writing day files under dir.
func NewArchiver(dir string, cfg ArchiveConfig, opts ...ArchiverOption) *Archiver {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultConfig().Archive.RetentionDays
	}
	a := &Archiver{
		dir:           dir,
		retentionDays: cfg.RetentionDays,
		logger:        nopLogger,
		now:           time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Archive persists the user and assistant messages of a stream, grouped by
// day. Messages without a timestamp are stamped with the current time.
// Returns the number of entries actually added after deduplication.
func (a *Archiver) Archive(msgs []Message) (int, error) {
	byDate := make(map[string][]ArchiveEntry)
	for _, m := range msgs {
		var sender string
		switch m.Role {
		case RoleUser:
			sender = SenderUser
		case RoleAssistant:
			sender = SenderAgent
		default:
			continue
		}
		text := m.Text()
		if text == "" {
			continue
		}
		ts := m.Timestamp
		if ts.IsZero() {
			ts = a.now()
		}
		date := DayKey(ts)
		byDate[date] = append(byDate[date], ArchiveEntry{Timestamp: ts, Sender: sender, Text: text})
	}
	if len(byDate) == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return 0, fmt.Errorf("create archive dir: %w", err)
	}

	added := 0
	for date, entries := range byDate {
		n, err := a.appendDay(date, entries)
		if err != nil {
			return added, err
		}
		added += n
	}
	a.logger.Debug("archive: stream persisted", "days", len(byDate), "added", added)
	return added, nil
}

func (a *Archiver) appendDay(date string, entries []ArchiveEntry) (int, error) {
	day, err := a.loadDay(date)
	if err != nil {
		// A corrupt day file is replaced rather than blocking archival.
		a.logger.Warn("archive: replacing unreadable day file", "date", date, "error", err)
		day = DayFile{Date: date}
	}

	keys := make(map[string]bool, len(day.Messages))
	for _, e := range day.Messages {
		keys[e.dedupKey()] = true
	}

	added := 0
	for _, e := range entries {
		k := e.dedupKey()
		if keys[k] {
			continue
		}
		keys[k] = true
		day.Messages = append(day.Messages, e)
		added++
	}
	if added == 0 {
		return 0, nil
	}

	sort.SliceStable(day.Messages, func(i, j int) bool {
		return day.Messages[i].Timestamp.Before(day.Messages[j].Timestamp)
	})
	day.MessageCount = len(day.Messages)

	if err := a.writeDay(date, day); err != nil {
		return 0, err
	}
	return added, nil
}

func (a *Archiver) dayPath(date string) string {
	return filepath.Join(a.dir, date+".json")
}

func (a *Archiver) loadDay(date string) (DayFile, error) {
	data, err := os.ReadFile(a.dayPath(date))
	if os.IsNotExist(err) {
		return DayFile{Date: date}, nil
	}
	if err != nil {
		return DayFile{}, err
	}
	var day DayFile
	if err := json.Unmarshal(data, &day); err != nil {
		return DayFile{}, fmt.Errorf("parse day file %s: %w", date, err)
	}
	return day, nil
}

// writeDay replaces the day file via a temp file and rename, which is atomic
// enough for the single-process writers this archive serves.
func (a *Archiver) writeDay(date string, day DayFile) error {
	data, err := json.MarshalIndent(day, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal day file: %w", err)
	}
	tmp := a.dayPath(date) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write day file: %w", err)
	}
	if err := os.Rename(tmp, a.dayPath(date)); err != nil {
		return fmt.Errorf("replace day file: %w", err)
	}
	return nil
}

// Conversation returns the archived messages of one day, oldest first.
// A missing day returns an empty slice; a corrupt day returns an error.
func (a *Archiver) Conversation(date string) ([]ArchiveEntry, error) {
	day, err := a.loadDay(date)
	if err != nil {
		return nil, err
	}
	return day.Messages, nil
}

// Dates lists all archived days, sorted ascending.
func (a *Archiver) Dates() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read archive dir: %w", err)
	}
	var dates []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		date := strings.TrimSuffix(name, ".json")
		if _, err := time.Parse("2006-01-02", date); err != nil {
			continue
		}
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates, nil
}

// Stats reports day and message counts across the archive. Unreadable days
// are skipped.
func (a *Archiver) Stats() (ArchiveStats, error) {
	dates, err := a.Dates()
	if err != nil {
		return ArchiveStats{}, err
	}
	stats := ArchiveStats{Days: len(dates)}
	if len(dates) > 0 {
		stats.OldestDate = dates[0]
		stats.NewestDate = dates[len(dates)-1]
	}
	for _, date := range dates {
		day, err := a.loadDay(date)
		if err != nil {
			a.logger.Warn("archive: skipping unreadable day in stats", "date", date, "error", err)
			continue
		}
		stats.Messages += len(day.Messages)
	}
	return stats, nil
}

// UnindexedDates returns the archived days missing from the indexed set,
// sorted ascending.
func (a *Archiver) UnindexedDates(indexed map[string]bool) ([]string, error) {
	dates, err := a.Dates()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, d := range dates {
		if !indexed[d] {
			out = append(out, d)
		}
	}
	return out, nil
}

// PruneOld deletes day files older than the retention window and returns the
// pruned dates.
func (a *Archiver) PruneOld() ([]string, error) {
	dates, err := a.Dates()
	if err != nil {
		return nil, err
	}
	cutoff := DayKey(a.now().AddDate(0, 0, -a.retentionDays))
	var pruned []string
	for _, date := range dates {
		if date >= cutoff {
			continue
		}
		if err := os.Remove(a.dayPath(date)); err != nil {
			a.logger.Warn("archive: prune failed", "date", date, "error", err)
			continue
		}
		pruned = append(pruned, date)
	}
	if len(pruned) > 0 {
		a.logger.Info("archive: pruned old days", "count", len(pruned), "cutoff", cutoff)
	}
	return pruned, nil
}
