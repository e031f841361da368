// Package sqlite provides the default store.AlertStore backend: a
// single-file SQLite database, normally in the user's home directory,
// so cached alerts survive restarts without any external service.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Mercury0/talon/internal/domain"
	"github.com/Mercury0/talon/internal/metrics"
	"github.com/Mercury0/talon/internal/store"
)

const backendName = "sqlite"

// Store is a SQLite-backed implementation of store.AlertStore.
type Store struct {
	db   *sql.DB
	path string
}

// New opens the database file at path, creating the parent directory
// and the schema when missing.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	// One writer connection keeps concurrent shell reads and watch
	// writes from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// migrate creates the alerts table and its indexes.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS alerts (
			display_id        TEXT PRIMARY KEY,
			full_id           TEXT UNIQUE NOT NULL,
			name              TEXT,
			description       TEXT,
			severity          INTEGER,
			status            TEXT,
			product           TEXT,
			hostname          TEXT,
			created_timestamp TEXT,
			updated_timestamp TEXT,
			raw_data          TEXT NOT NULL,
			first_seen        TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_timestamp);
		CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Upsert inserts or replaces the row for displayID and reports whether
// it is new. The first-seen stamp of an existing row is kept, so
// repeating an upsert changes no data.
func (s *Store) Upsert(ctx context.Context, rec domain.Alert, displayID, fullID string) (wasNew bool, err error) {
	start := time.Now()
	defer func() { observe("upsert", start, err) }()

	raw, err := json.Marshal(rec)
	if err != nil {
		return false, &store.StorageError{Op: "upsert", Err: fmt.Errorf("encode record: %w", err)}
	}
	sev, _ := rec.Severity()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, &store.StorageError{Op: "upsert", Err: err}
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM alerts WHERE display_id = ?)`, displayID).Scan(&exists)
	if err != nil {
		return false, &store.StorageError{Op: "upsert", Err: err}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO alerts (
			display_id, full_id, name, description, severity, status,
			product, hostname, created_timestamp, updated_timestamp, raw_data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(display_id) DO UPDATE SET
			full_id           = excluded.full_id,
			name              = excluded.name,
			description       = excluded.description,
			severity          = excluded.severity,
			status            = excluded.status,
			product           = excluded.product,
			hostname          = excluded.hostname,
			created_timestamp = excluded.created_timestamp,
			updated_timestamp = excluded.updated_timestamp,
			raw_data          = excluded.raw_data`,
		displayID, fullID, rec.Name(), rec.Description(), sev, rec.Status(),
		rec.Product(), rec.Hostname(), rec.CreatedTimestamp(), rec.UpdatedTimestamp(), string(raw))
	if err != nil {
		return false, &store.StorageError{Op: "upsert", Err: err}
	}

	if err = tx.Commit(); err != nil {
		return false, &store.StorageError{Op: "upsert", Err: err}
	}
	return !exists, nil
}

// GetByDisplayID retrieves one cached alert by exact display id.
func (s *Store) GetByDisplayID(ctx context.Context, displayID string) (sa *store.StoredAlert, err error) {
	start := time.Now()
	defer func() { observe("get", start, err) }()

	var (
		result store.StoredAlert
		raw    string
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT display_id, full_id, raw_data, first_seen FROM alerts WHERE display_id = ?`,
		displayID).Scan(&result.DisplayID, &result.FullID, &raw, &result.FirstSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, &store.StorageError{Op: "get", Err: err}
	}

	if err = json.Unmarshal([]byte(raw), &result.Record); err != nil {
		return nil, &store.StorageError{Op: "get", Err: fmt.Errorf("decode record: %w", err)}
	}
	return &result, nil
}

// ListRecent retrieves up to limit cached alerts, newest creation
// timestamp first. A non-positive limit returns everything.
func (s *Store) ListRecent(ctx context.Context, limit int) (rows []store.Row, err error) {
	start := time.Now()
	defer func() { observe("list", start, err) }()

	query := `
		SELECT display_id, full_id, name, severity, status, product,
		       hostname, created_timestamp, updated_timestamp
		FROM alerts ORDER BY created_timestamp DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	result, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &store.StorageError{Op: "list", Err: err}
	}
	defer result.Close()

	for result.Next() {
		var row store.Row
		if err = result.Scan(&row.DisplayID, &row.FullID, &row.Name, &row.Severity,
			&row.Status, &row.Product, &row.Hostname, &row.Created, &row.Updated); err != nil {
			return nil, &store.StorageError{Op: "list", Err: err}
		}
		rows = append(rows, row)
	}
	if err = result.Err(); err != nil {
		return nil, &store.StorageError{Op: "list", Err: err}
	}
	return rows, nil
}

// Stats aggregates cached alerts. The day restriction compares the
// leading YYYY-MM-DD of the stored creation timestamp, which is the
// UTC calendar day for vendor timestamps.
func (s *Store) Stats(ctx context.Context, date string) (stats *store.Stats, err error) {
	start := time.Now()
	defer func() { observe("stats", start, err) }()

	where := ""
	var args []any
	if date != "" {
		where = " WHERE substr(created_timestamp, 1, 10) = ?"
		args = append(args, date)
	}

	stats = &store.Stats{
		Date:       date,
		BySeverity: make(map[string]int),
		ByProduct:  make(map[string]int),
	}

	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts"+where, args...).Scan(&stats.Total)
	if err != nil {
		return nil, &store.StorageError{Op: "stats", Err: err}
	}

	sevRows, err := s.db.QueryContext(ctx,
		"SELECT severity, COUNT(*) FROM alerts"+where+" GROUP BY severity ORDER BY severity DESC", args...)
	if err != nil {
		return nil, &store.StorageError{Op: "stats", Err: err}
	}
	defer sevRows.Close()
	for sevRows.Next() {
		var sev, count int
		if err = sevRows.Scan(&sev, &count); err != nil {
			return nil, &store.StorageError{Op: "stats", Err: err}
		}
		stats.BySeverity[strconv.Itoa(sev)] = count
	}
	if err = sevRows.Err(); err != nil {
		return nil, &store.StorageError{Op: "stats", Err: err}
	}

	prodRows, err := s.db.QueryContext(ctx,
		"SELECT COALESCE(NULLIF(product, ''), 'unknown'), COUNT(*) FROM alerts"+where+
			" GROUP BY 1 ORDER BY COUNT(*) DESC", args...)
	if err != nil {
		return nil, &store.StorageError{Op: "stats", Err: err}
	}
	defer prodRows.Close()
	for prodRows.Next() {
		var product string
		var count int
		if err = prodRows.Scan(&product, &count); err != nil {
			return nil, &store.StorageError{Op: "stats", Err: err}
		}
		stats.ByProduct[product] = count
	}
	if err = prodRows.Err(); err != nil {
		return nil, &store.StorageError{Op: "stats", Err: err}
	}

	return stats, nil
}

// Purge removes every cached alert and returns the prior row count.
func (s *Store) Purge(ctx context.Context) (count int64, err error) {
	start := time.Now()
	defer func() { observe("purge", start, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &store.StorageError{Op: "purge", Err: err}
	}
	defer tx.Rollback()

	if err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts").Scan(&count); err != nil {
		return 0, &store.StorageError{Op: "purge", Err: err}
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM alerts"); err != nil {
		return 0, &store.StorageError{Op: "purge", Err: err}
	}
	if err = tx.Commit(); err != nil {
		return 0, &store.StorageError{Op: "purge", Err: err}
	}
	return count, nil
}

// ExportCSV writes all cached alerts to w, newest first.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer) (n int, err error) {
	start := time.Now()
	defer func() { observe("export", start, err) }()

	entries, err := s.exportEntries(ctx)
	if err != nil {
		return 0, err
	}
	if n, err = store.EncodeCSV(w, entries); err != nil {
		return n, &store.StorageError{Op: "export csv", Err: err}
	}
	return n, nil
}

// ExportJSON writes all cached alerts to w as a JSON array, newest first.
func (s *Store) ExportJSON(ctx context.Context, w io.Writer) (n int, err error) {
	start := time.Now()
	defer func() { observe("export", start, err) }()

	entries, err := s.exportEntries(ctx)
	if err != nil {
		return 0, err
	}
	if n, err = store.EncodeJSON(w, entries); err != nil {
		return n, &store.StorageError{Op: "export json", Err: err}
	}
	return n, nil
}

// Close closes the database file.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) exportEntries(ctx context.Context) ([]store.ExportEntry, error) {
	result, err := s.db.QueryContext(ctx, `
		SELECT display_id, full_id, name, severity, status, product,
		       hostname, created_timestamp, updated_timestamp, raw_data
		FROM alerts ORDER BY created_timestamp DESC`)
	if err != nil {
		return nil, &store.StorageError{Op: "export", Err: err}
	}
	defer result.Close()

	var entries []store.ExportEntry
	for result.Next() {
		var (
			entry store.ExportEntry
			raw   string
		)
		if err := result.Scan(&entry.DisplayID, &entry.FullID, &entry.Name, &entry.Severity,
			&entry.Status, &entry.Product, &entry.Hostname, &entry.Created, &entry.Updated, &raw); err != nil {
			return nil, &store.StorageError{Op: "export", Err: err}
		}
		if err := json.Unmarshal([]byte(raw), &entry.Record); err != nil {
			return nil, &store.StorageError{Op: "export", Err: fmt.Errorf("decode record: %w", err)}
		}
		entries = append(entries, entry)
	}
	if err := result.Err(); err != nil {
		return nil, &store.StorageError{Op: "export", Err: err}
	}
	return entries, nil
}

func observe(op string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		status = "failure"
	}
	metrics.StorageOperationsTotal.WithLabelValues(backendName, op, status).Inc()
	metrics.StorageOperationLatency.WithLabelValues(backendName, op).Observe(time.Since(start).Seconds())
}
