package continuity

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUnix returns current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}

// DayKey formats t as the YYYY-MM-DD key used by the archive and the index.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
