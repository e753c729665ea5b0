package utils

import "time"

// millisThreshold separates unix seconds from unix milliseconds.
const millisThreshold = 1e12

// Now returns the current time in UTC timezone
func Now() time.Time {
	return time.Now().UTC()
}

// UnixToTime converts a unix timestamp to a UTC time.Time
func UnixToTime(timestamp int64) time.Time {
	if timestamp <= 0 {
		return time.Time{}
	}
	return time.Unix(timestamp, 0).UTC()
}

// UnixToTimeWithMilliseconds converts a unix timestamp with milliseconds to a UTC time.Time
func UnixToTimeWithMilliseconds(timestamp int64) time.Time {
	if timestamp <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(timestamp).UTC()
}

// UnixAutoToTime accepts seconds or milliseconds. Non-positive values yield fallback.
func UnixAutoToTime(timestamp int64, fallback time.Time) time.Time {
	switch {
	case timestamp <= 0:
		return fallback.UTC()
	case timestamp > millisThreshold:
		return UnixToTimeWithMilliseconds(timestamp)
	default:
		return UnixToTime(timestamp)
	}
}

// FormatISO8601 formats a time.Time to ISO8601 format in UTC
func FormatISO8601(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
