// Package timestamp provides standardized Unix timestamp handling.
//
// Inter-service messages carry a millisecond Unix epoch field "ts"; this
// package uses int64 milliseconds (UTC) as the canonical format so timestamps
// compare and serialize consistently across services. A value of 0 means
// "not set".
package timestamp

import (
	"strconv"
	"time"
)

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time.
// Returns the zero time if ms is 0.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Format converts Unix milliseconds to an RFC3339 string for display.
// Returns the empty string if ms is 0.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// Parse converts a loosely typed timestamp to Unix milliseconds. Inbound JSON
// decodes numbers as float64, so both integer and float forms are accepted;
// values below 1e12 are treated as seconds and scaled. Strings may be RFC3339
// or a bare Unix value. Returns 0 for anything unparseable.
func Parse(input any) int64 {
	switch v := input.(type) {
	case nil:
		return 0
	case time.Time:
		return ToUnixMs(v)
	case int:
		return Parse(int64(v))
	case int32:
		return Parse(int64(v))
	case int64:
		if v == 0 {
			return 0
		}
		if v > 1e12 {
			return v
		}
		return v * 1000
	case float64:
		return Parse(int64(v))
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return ToUnixMs(t)
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return Parse(n)
		}
		return 0
	default:
		return 0
	}
}
