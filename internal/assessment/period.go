package assessment

import (
	"fmt"
	"strings"
	"time"
)

// periodEndLayout matches the human-readable cutoff stored in
// configuration, e.g. "31 March 2026 11:59pm".
const periodEndLayout = "2 January 2006 3:04pm"

// ParsePeriodEnd turns a configuration period_end string into a UTC
// instant. The format carries no zone; timestamps are UTC throughout.
func ParsePeriodEnd(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrMalformedDate)
	}
	t, err := time.ParseInLocation(periodEndLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedDate, raw)
	}
	return t, nil
}
