// Package store defines the local alert cache contract shared by the
// sqlite, postgres, and memory backends. The cache is keyed by display
// identifier and keeps the complete original vendor record alongside
// denormalized search columns, so alerts stay inspectable offline.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Mercury0/talon/internal/domain"
)

// ErrNotFound is returned when a point lookup matches no cached alert.
var ErrNotFound = errors.New("alert not found in store")

// StorageError wraps a storage-layer I/O failure. The watch loop treats
// it as non-fatal: a record missing from the cache is recoverable,
// losing live output is not.
type StorageError struct {
	// Op names the failed operation ("upsert", "stats", ...).
	Op string

	// Err is the underlying cause.
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// AlertStore is the interface for the persistent alert cache.
type AlertStore interface {
	// Upsert inserts or replaces the row keyed by displayID, storing the
	// complete record plus the untransformed fullID. Reports whether no
	// row with this display id existed before. Safe to repeat with
	// identical arguments; only the boolean changes.
	Upsert(ctx context.Context, rec domain.Alert, displayID, fullID string) (bool, error)

	// GetByDisplayID retrieves one cached alert by exact display id.
	// Returns ErrNotFound when no row matches.
	GetByDisplayID(ctx context.Context, displayID string) (*StoredAlert, error)

	// ListRecent retrieves up to limit cached alerts, newest creation
	// timestamp first.
	ListRecent(ctx context.Context, limit int) ([]Row, error)

	// Stats aggregates cached alerts: totals plus severity and product
	// breakdowns. An empty date covers the whole cache; a "YYYY-MM-DD"
	// date restricts to records created on that UTC day.
	Stats(ctx context.Context, date string) (*Stats, error)

	// Purge removes every cached alert and returns the prior row count.
	Purge(ctx context.Context) (int64, error)

	// ExportCSV writes all cached alerts to w in the fixed CSV layout,
	// newest first, and returns the number of records written.
	ExportCSV(ctx context.Context, w io.Writer) (int, error)

	// ExportJSON writes all cached alerts to w as a JSON array of the
	// complete original records, newest first, and returns the number of
	// records written.
	ExportJSON(ctx context.Context, w io.Writer) (int, error)

	// Close releases the backend's resources.
	Close() error
}
