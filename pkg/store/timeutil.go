package store

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
	_ "time/tzdata"
)

// DisplayLayout is how datetimes are shown to users and written in prompts.
const DisplayLayout = "2006-01-02 15:04"

// Location loads a timezone by name. Unknown names fall back to UTC.
func Location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("unknown timezone, falling back to UTC", "timezone", name)
		return time.UTC
	}
	return loc
}

// ParseLocal parses a user-supplied datetime. Values without an offset are
// interpreted in loc.
func ParseLocal(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty datetime")
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.In(loc), nil
	}
	for _, f := range []string{
		DisplayLayout,
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if t, err := time.ParseInLocation(f, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", value)
}

// FormatLocal renders t in loc using DisplayLayout.
func FormatLocal(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DisplayLayout)
}
