package sqlite

import (
	"fmt"
	"time"
)

// SQLite has no native datetime type; we store RFC3339 TEXT.

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.999999999Z")
}

func nowRFC3339() string {
	return formatTime(time.Now())
}

func parseRFC3339(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}
