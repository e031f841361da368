package watch

import "time"

// Session is the in-memory state of one watch run. It never outlives
// the process: the watermark is re-derived from the lookback window at
// every start, which is what makes delivery best-effort rather than
// exactly-once across restarts.
type Session struct {
	// Since is the watermark: the creation time of the most recently
	// accepted record, as a vendor UTC ISO-8601 string. It never
	// decreases within a session.
	Since string

	// Seen holds the display ids delivered in this session. Both dedup
	// layers consult it; records rejected by the filter are never added.
	Seen map[string]struct{}

	// NewCount is the number of records accepted so far.
	NewCount int

	// Started is when the session began.
	Started time.Time
}

// NewSession creates a session with the given initial watermark.
func NewSession(since string, started time.Time) *Session {
	return &Session{
		Since:   since,
		Seen:    make(map[string]struct{}),
		Started: started,
	}
}

// HasSeen reports whether a display id was already delivered.
func (s *Session) HasSeen(displayID string) bool {
	_, ok := s.Seen[displayID]
	return ok
}

// MarkSeen records a display id as delivered.
func (s *Session) MarkSeen(displayID string) {
	s.Seen[displayID] = struct{}{}
}
