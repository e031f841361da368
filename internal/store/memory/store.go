// Package memory provides an in-memory store.AlertStore used by tests
// and by runs that do not want a file on disk. Contents vanish on exit.
package memory

import (
	"context"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Mercury0/talon/internal/domain"
	"github.com/Mercury0/talon/internal/store"
)

// Store is an in-memory implementation of store.AlertStore, keyed by
// display id like the durable backends.
type Store struct {
	mu sync.RWMutex

	// rows stores all cached alerts by display id
	rows map[string]*cachedAlert
}

type cachedAlert struct {
	row       store.Row
	record    domain.Alert
	firstSeen string
}

// NewStore creates an empty in-memory alert store.
func NewStore() *Store {
	return &Store{rows: make(map[string]*cachedAlert)}
}

// Upsert inserts or replaces the row for displayID and reports whether
// it is new. The first-seen stamp of an existing row is preserved so a
// repeated upsert is a data no-op.
func (s *Store) Upsert(_ context.Context, rec domain.Alert, displayID, fullID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rows[displayID]
	firstSeen := time.Now().UTC().Format("2006-01-02 15:04:05")
	if exists {
		firstSeen = existing.firstSeen
	}

	sev, _ := rec.Severity()
	s.rows[displayID] = &cachedAlert{
		row: store.Row{
			DisplayID: displayID,
			FullID:    fullID,
			Name:      rec.Name(),
			Severity:  sev,
			Status:    rec.Status(),
			Product:   rec.Product(),
			Hostname:  rec.Hostname(),
			Created:   rec.CreatedTimestamp(),
			Updated:   rec.UpdatedTimestamp(),
		},
		record:    rec.Clone(),
		firstSeen: firstSeen,
	}

	return !exists, nil
}

// GetByDisplayID retrieves one cached alert by exact display id.
func (s *Store) GetByDisplayID(_ context.Context, displayID string) (*store.StoredAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.rows[displayID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &store.StoredAlert{
		DisplayID: entry.row.DisplayID,
		FullID:    entry.row.FullID,
		Record:    entry.record.Clone(),
		FirstSeen: entry.firstSeen,
	}, nil
}

// ListRecent retrieves up to limit cached alerts, newest first. A
// non-positive limit returns everything.
func (s *Store) ListRecent(_ context.Context, limit int) ([]store.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]store.Row, 0, len(s.rows))
	for _, entry := range s.rows {
		rows = append(rows, entry.row)
	}
	sortNewestFirst(rows)

	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// Stats aggregates cached alerts, optionally restricted to one UTC day.
func (s *Store) Stats(_ context.Context, date string) (*store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &store.Stats{
		Date:       date,
		BySeverity: make(map[string]int),
		ByProduct:  make(map[string]int),
	}
	for _, entry := range s.rows {
		if date != "" && !strings.HasPrefix(entry.row.Created, date) {
			continue
		}
		stats.Total++
		stats.BySeverity[strconv.Itoa(entry.row.Severity)]++
		product := entry.row.Product
		if product == "" {
			product = "unknown"
		}
		stats.ByProduct[product]++
	}
	return stats, nil
}

// Purge removes every cached alert and returns the prior row count.
func (s *Store) Purge(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := int64(len(s.rows))
	s.rows = make(map[string]*cachedAlert)
	return count, nil
}

// ExportCSV writes all cached alerts to w, newest first.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	entries, err := s.exportEntries(ctx)
	if err != nil {
		return 0, err
	}
	n, err := store.EncodeCSV(w, entries)
	if err != nil {
		return n, &store.StorageError{Op: "export csv", Err: err}
	}
	return n, nil
}

// ExportJSON writes all cached alerts to w as a JSON array, newest first.
func (s *Store) ExportJSON(ctx context.Context, w io.Writer) (int, error) {
	entries, err := s.exportEntries(ctx)
	if err != nil {
		return 0, err
	}
	n, err := store.EncodeJSON(w, entries)
	if err != nil {
		return n, &store.StorageError{Op: "export json", Err: err}
	}
	return n, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

// Clear removes all data from the store. Useful for test cleanup.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]*cachedAlert)
}

func (s *Store) exportEntries(_ context.Context) ([]store.ExportEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]store.ExportEntry, 0, len(s.rows))
	for _, entry := range s.rows {
		entries = append(entries, store.ExportEntry{
			Row:    entry.row,
			Record: entry.record.Clone(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Created != entries[j].Created {
			return entries[i].Created > entries[j].Created
		}
		return entries[i].DisplayID < entries[j].DisplayID
	})
	return entries, nil
}

func sortNewestFirst(rows []store.Row) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Created != rows[j].Created {
			return rows[i].Created > rows[j].Created
		}
		return rows[i].DisplayID < rows[j].DisplayID
	})
}
