// -------------------------------------------------------------------------------
// Timestamps - ISO-8601 Conversion
//
// Author: Alex Freidah
//
// Persisted records store timestamps as UTC ISO-8601 strings with millisecond
// precision. Parsing also accepts any RFC 3339 form so records written by other
// tools still load.
// -------------------------------------------------------------------------------

package model

import (
	"fmt"
	"time"
)

// TimestampLayout is the persisted timestamp format.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t for storage. The zero time renders as "".
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

// ParseTime parses a persisted timestamp. "" parses to the zero time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// Now returns the current time truncated to storage precision.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
