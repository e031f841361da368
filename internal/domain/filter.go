package domain

import "strings"

// AlertFilter holds the watch-time matching criteria. All set criteria
// must hold for a record to pass (AND semantics); zero values impose no
// constraint, so the zero filter matches everything.
type AlertFilter struct {
	// SeverityMin rejects records whose numeric severity is below this
	// value. Nil means no severity constraint.
	SeverityMin *int `json:"severity_min,omitempty" yaml:"severity_min,omitempty"`

	// Product is a case-insensitive substring match against the
	// record's product field.
	Product string `json:"product,omitempty" yaml:"product,omitempty"`

	// Hostname is a case-insensitive substring match against the
	// record's device hostname.
	Hostname string `json:"hostname,omitempty" yaml:"hostname,omitempty"`

	// Status is recognized configuration but not consulted during
	// matching. Changing that would alter which alerts long-standing
	// filter configs deliver, so it stays display-only.
	Status string `json:"status,omitempty" yaml:"status,omitempty"`

	// Keywords accepts a record when any entry is a case-insensitive
	// substring of the record's name plus description.
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

// Matches reports whether the record passes every set criterion.
// A record severity that cannot be parsed as a number does not fail
// the severity criterion: a malformed vendor field must never hide an
// alert from live output.
func (f *AlertFilter) Matches(a Alert) bool {
	if f == nil {
		return true
	}
	if f.SeverityMin != nil {
		if sev, ok := a.Severity(); ok && sev < *f.SeverityMin {
			return false
		}
	}
	if f.Product != "" {
		if !strings.Contains(strings.ToUpper(a.Product()), strings.ToUpper(f.Product)) {
			return false
		}
	}
	if f.Hostname != "" {
		if !strings.Contains(strings.ToLower(a.Hostname()), strings.ToLower(f.Hostname)) {
			return false
		}
	}
	if len(f.Keywords) > 0 {
		text := strings.ToLower(a.Name() + " " + a.Description())
		found := false
		for _, kw := range f.Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// IsZero reports whether the filter imposes no constraints at all.
func (f *AlertFilter) IsZero() bool {
	if f == nil {
		return true
	}
	return f.SeverityMin == nil && f.Product == "" && f.Hostname == "" &&
		f.Status == "" && len(f.Keywords) == 0
}
