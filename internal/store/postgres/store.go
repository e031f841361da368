// Package postgres provides a PostgreSQL-backed store.AlertStore for
// deployments that want the alert cache in a shared database instead of
// a local file.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Mercury0/talon/internal/config"
	"github.com/Mercury0/talon/internal/domain"
	"github.com/Mercury0/talon/internal/metrics"
	"github.com/Mercury0/talon/internal/store"
)

const backendName = "postgres"

// Store is a PostgreSQL-backed implementation of store.AlertStore.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a connection pool, verifies connectivity, and ensures the
// schema exists.
func New(ctx context.Context, cfg *config.PostgresConfig) (*Store, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
		cfg.SSLMode,
		cfg.MaxOpenConns,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxOpenConns
	poolConfig.MinConns = cfg.MaxIdleConns
	poolConfig.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the alerts table and its indexes.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS alerts (
			display_id        TEXT PRIMARY KEY,
			full_id           TEXT UNIQUE NOT NULL,
			name              TEXT NOT NULL DEFAULT '',
			description       TEXT NOT NULL DEFAULT '',
			severity          INTEGER NOT NULL DEFAULT 0,
			status            TEXT NOT NULL DEFAULT '',
			product           TEXT NOT NULL DEFAULT '',
			hostname          TEXT NOT NULL DEFAULT '',
			created_timestamp TEXT NOT NULL DEFAULT '',
			updated_timestamp TEXT NOT NULL DEFAULT '',
			raw_data          TEXT NOT NULL,
			first_seen        TEXT NOT NULL DEFAULT to_char(now() AT TIME ZONE 'utc', 'YYYY-MM-DD HH24:MI:SS')
		);

		CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_timestamp);
		CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Upsert inserts or replaces the row for displayID and reports whether
// it is new. The first-seen stamp of an existing row is kept.
func (s *Store) Upsert(ctx context.Context, rec domain.Alert, displayID, fullID string) (wasNew bool, err error) {
	start := time.Now()
	defer func() { observe("upsert", start, err) }()

	raw, err := json.Marshal(rec)
	if err != nil {
		return false, &store.StorageError{Op: "upsert", Err: fmt.Errorf("encode record: %w", err)}
	}
	sev, _ := rec.Severity()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, &store.StorageError{Op: "upsert", Err: err}
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM alerts WHERE display_id = $1)`, displayID).Scan(&exists)
	if err != nil {
		return false, &store.StorageError{Op: "upsert", Err: err}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO alerts (
			display_id, full_id, name, description, severity, status,
			product, hostname, created_timestamp, updated_timestamp, raw_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (display_id) DO UPDATE SET
			full_id           = EXCLUDED.full_id,
			name              = EXCLUDED.name,
			description       = EXCLUDED.description,
			severity          = EXCLUDED.severity,
			status            = EXCLUDED.status,
			product           = EXCLUDED.product,
			hostname          = EXCLUDED.hostname,
			created_timestamp = EXCLUDED.created_timestamp,
			updated_timestamp = EXCLUDED.updated_timestamp,
			raw_data          = EXCLUDED.raw_data`,
		displayID, fullID, rec.Name(), rec.Description(), sev, rec.Status(),
		rec.Product(), rec.Hostname(), rec.CreatedTimestamp(), rec.UpdatedTimestamp(), string(raw))
	if err != nil {
		return false, &store.StorageError{Op: "upsert", Err: err}
	}

	if err = tx.Commit(ctx); err != nil {
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
	err = s.pool.QueryRow(ctx,
		`SELECT display_id, full_id, raw_data, first_seen FROM alerts WHERE display_id = $1`,
		displayID).Scan(&result.DisplayID, &result.FullID, &raw, &result.FirstSeen)
	if errors.Is(err, pgx.ErrNoRows) {
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
		query += " LIMIT $1"
		args = append(args, limit)
	}

	result, err := s.pool.Query(ctx, query, args...)
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

// Stats aggregates cached alerts, optionally restricted to one UTC day
// by the leading YYYY-MM-DD of the stored creation timestamp.
func (s *Store) Stats(ctx context.Context, date string) (stats *store.Stats, err error) {
	start := time.Now()
	defer func() { observe("stats", start, err) }()

	where := ""
	var args []any
	if date != "" {
		where = " WHERE left(created_timestamp, 10) = $1"
		args = append(args, date)
	}

	stats = &store.Stats{
		Date:       date,
		BySeverity: make(map[string]int),
		ByProduct:  make(map[string]int),
	}

	err = s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM alerts"+where, args...).Scan(&stats.Total)
	if err != nil {
		return nil, &store.StorageError{Op: "stats", Err: err}
	}

	sevRows, err := s.pool.Query(ctx,
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

	prodRows, err := s.pool.Query(ctx,
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

	tag, err := s.pool.Exec(ctx, "DELETE FROM alerts")
	if err != nil {
		return 0, &store.StorageError{Op: "purge", Err: err}
	}
	return tag.RowsAffected(), nil
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

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) exportEntries(ctx context.Context) ([]store.ExportEntry, error) {
	result, err := s.pool.Query(ctx, `
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
