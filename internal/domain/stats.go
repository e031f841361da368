package domain

import (
	"fmt"
	"time"
)

// AlertStats accumulates per-session counters over accepted alerts.
// It is owned by a single watch session and mutated only from the
// poll loop.
type AlertStats struct {
	// Total is the number of accepted alerts since the last reset.
	Total int `json:"total"`

	// BySeverity counts alerts keyed by the severity value as
	// delivered by the vendor ("70", "Critical", "unknown" when absent).
	BySeverity map[string]int `json:"by_severity"`

	// ByProduct counts alerts keyed by product, "unknown" when the
	// record carries none.
	ByProduct map[string]int `json:"by_product"`

	// LastReset is when the counters were last zeroed.
	LastReset time.Time `json:"last_reset"`
}

// NewAlertStats returns zeroed counters stamped with the current time.
func NewAlertStats() *AlertStats {
	return &AlertStats{
		BySeverity: make(map[string]int),
		ByProduct:  make(map[string]int),
		LastReset:  time.Now().UTC(),
	}
}

// Add counts one accepted record.
func (s *AlertStats) Add(a Alert) {
	s.Total++

	sevKey := "unknown"
	if v, ok := a["severity"]; ok && v != nil {
		sevKey = fmt.Sprint(v)
	}
	s.BySeverity[sevKey]++

	prodKey := a.Product()
	if prodKey == "" {
		prodKey = "unknown"
	}
	s.ByProduct[prodKey]++
}

// Reset zeroes the counters and stamps a new reset time.
func (s *AlertStats) Reset() {
	s.Total = 0
	s.BySeverity = make(map[string]int)
	s.ByProduct = make(map[string]int)
	s.LastReset = time.Now().UTC()
}
