package store

import "github.com/Mercury0/talon/internal/domain"

// StoredAlert is a point-lookup result: the original record plus the
// identifier mapping and cache bookkeeping.
type StoredAlert struct {
	// DisplayID is the short identifier the row is keyed by.
	DisplayID string `json:"display_id"`

	// FullID is the vendor's composite identifier, stored untransformed.
	FullID string `json:"full_id"`

	// Record is the complete original vendor record.
	Record domain.Alert `json:"record"`

	// FirstSeen is when this row was first cached, as stored.
	FirstSeen string `json:"first_seen"`
}

// Row is a listing summary of one cached alert, carrying the
// denormalized search columns.
type Row struct {
	DisplayID string `json:"display_id"`
	FullID    string `json:"full_id"`
	Name      string `json:"name"`
	Severity  int    `json:"severity"`
	Status    string `json:"status"`
	Product   string `json:"product"`
	Hostname  string `json:"hostname"`
	Created   string `json:"created"`
	Updated   string `json:"updated"`
}

// Stats aggregates the cache, either globally or for one UTC day.
type Stats struct {
	// Date is the restricting day ("YYYY-MM-DD"), empty for global stats.
	Date string `json:"date,omitempty"`

	// Total is the number of cached alerts in scope.
	Total int `json:"total"`

	// BySeverity counts alerts keyed by the stored numeric severity.
	BySeverity map[string]int `json:"by_severity"`

	// ByProduct counts alerts keyed by product, "unknown" when empty.
	ByProduct map[string]int `json:"by_product"`
}
