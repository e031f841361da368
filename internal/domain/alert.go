// Package domain contains the core entities of the alert watcher: the
// opaque vendor record and its typed accessors, identifier derivation,
// the watch filter and session statistics, and the shared time helpers.
package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Alert is a raw vendor alert record. The vendor owns the schema, so the
// record is kept as a decoded JSON object and unknown fields pass through
// untouched; the accessors below cover the handful of fields this system
// actually reads. Exporting or re-serializing an Alert must reproduce the
// original fields exactly.
type Alert map[string]any

// displayMarkers are the composite-id segments a display identifier
// starts at. Vendor ids look like "cid:ind:<hash>" or "cid:det:<hash>".
var displayMarkers = []string{"ind:", "det:"}

// DisplayID derives the short, human-facing identifier from a full
// composite identifier: the suffix starting at the first "ind:" or
// "det:" marker, or the input unchanged when no marker is present.
// Follow-up API calls still require the full identifier, so callers
// must keep the original around (the store persists both).
func DisplayID(fullID string) string {
	for _, marker := range displayMarkers {
		if i := strings.Index(fullID, marker); i >= 0 {
			return fullID[i:]
		}
	}
	return fullID
}

// ID returns the record's full composite identifier, preferring the
// "id" field, then "composite_id", then a fixed placeholder so a
// malformed record still gets a stable key.
func (a Alert) ID() string {
	if s := a.str("id"); s != "" {
		return s
	}
	if s := a.str("composite_id"); s != "" {
		return s
	}
	return "unknown-id"
}

// DisplayID derives the short identifier from this record's full id.
func (a Alert) DisplayID() string {
	return DisplayID(a.ID())
}

// Name returns the alert title, or "" when absent.
func (a Alert) Name() string {
	return a.str("name")
}

// Description returns the alert description, or "" when absent.
func (a Alert) Description() string {
	return a.str("description")
}

// Status returns the vendor status string (e.g. "new", "closed").
func (a Alert) Status() string {
	return a.str("status")
}

// Product returns the originating product, preferring the "product"
// field and falling back to the first entry of "source_products".
func (a Alert) Product() string {
	if s := a.str("product"); s != "" {
		return s
	}
	if list, ok := a["source_products"].([]any); ok && len(list) > 0 {
		if s, ok := list[0].(string); ok {
			return s
		}
	}
	return ""
}

// Hostname returns the hostname from the device sub-object, or ""
// when the record has no device.
func (a Alert) Hostname() string {
	dev, ok := a["device"].(map[string]any)
	if !ok {
		return ""
	}
	host, _ := dev["hostname"].(string)
	return host
}

// Severity returns the numeric severity. A missing severity counts as
// zero; a present value that cannot be read as a number returns ok=false
// so callers can decide to fail open.
func (a Alert) Severity() (int, bool) {
	v, present := a["severity"]
	if !present || v == nil {
		return 0, true
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// SeverityValue returns the severity field as stored, for callers that
// render enumerated severities ("Critical") as well as numeric ones.
func (a Alert) SeverityValue() any {
	return a["severity"]
}

// SeverityName returns the vendor's enumerated severity label, or ""
// when absent.
func (a Alert) SeverityName() string {
	return a.str("severity_name")
}

// CreatedTimestamp returns the vendor creation timestamp string.
func (a Alert) CreatedTimestamp() string {
	return a.str("created_timestamp")
}

// UpdatedTimestamp returns the vendor update timestamp string.
func (a Alert) UpdatedTimestamp() string {
	return a.str("updated_timestamp")
}

// BestCreated selects the best available creation instant for ordering
// and watermark advancement: created_timestamp, then timestamp, then
// updated_timestamp, else "". Timestamps are vendor UTC ISO-8601
// strings, so lexical order is chronological order.
func (a Alert) BestCreated() string {
	if s := a.str("created_timestamp"); s != "" {
		return s
	}
	if s := a.str("timestamp"); s != "" {
		return s
	}
	return a.str("updated_timestamp")
}

// Clone returns a deep copy of the record. Used by stores that must not
// alias caller-held maps.
func (a Alert) Clone() Alert {
	if a == nil {
		return nil
	}
	raw, err := json.Marshal(a)
	if err != nil {
		// Records always come from decoded JSON, so this cannot fire
		// for real vendor data; fall back to a shallow copy.
		out := make(Alert, len(a))
		for k, v := range a {
			out[k] = v
		}
		return out
	}
	var out Alert
	if err := json.Unmarshal(raw, &out); err != nil {
		out = make(Alert, len(a))
		for k, v := range a {
			out[k] = v
		}
	}
	return out
}

// str reads a field as a string, stringifying scalar values the vendor
// occasionally sends as numbers.
func (a Alert) str(key string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
