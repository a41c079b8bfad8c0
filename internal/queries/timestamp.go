package queries

import (
	"fmt"
	"time"

	"github.com/brucehart/harlite/internal/harerr"
)

// ParseTimestampBound accepts RFC3339 (normalized to UTC with millisecond
// precision) or a date-only YYYY-MM-DD, expanded to 00:00:00.000 for a
// "from" bound or 23:59:59.999 for a "to" bound. Empty string is an error
// (spec §4.4).
func ParseTimestampBound(value string, isTo bool) (string, error) {
	if value == "" {
		return "", harerr.New(harerr.InputInvalid, "queries.ParseTimestampBound", fmt.Errorf("empty timestamp bound"))
	}

	if t, err := time.Parse("2006-01-02", value); err == nil {
		if isTo {
			t = t.Add(24*time.Hour - time.Millisecond)
		}
		return formatMillis(t.UTC()), nil
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return "", harerr.New(harerr.InputInvalid, "queries.ParseTimestampBound", fmt.Errorf("invalid timestamp %q: %w", value, err))
	}
	return formatMillis(t.UTC()), nil
}

func formatMillis(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000Z")
}
