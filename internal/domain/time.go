package domain

import "time"

// fqlLayout is the timestamp form the vendor's query language accepts:
// UTC ISO-8601 with second precision and a Z suffix.
const fqlLayout = "2006-01-02T15:04:05Z"

// FQLTime formats an instant for use inside a vendor query filter.
func FQLTime(t time.Time) string {
	return t.UTC().Format(fqlLayout)
}

// ParseFQLTime parses a vendor UTC timestamp. Accepts the query form
// as well as record timestamps carrying fractional seconds.
func ParseFQLTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// FormatTimestamp renders an instant for human-facing output.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
