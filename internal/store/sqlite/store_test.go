package sqlite

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Mercury0/talon/internal/domain"
	"github.com/Mercury0/talon/internal/store"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "talon.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testAlert(fullID, created string, severity int) domain.Alert {
	return domain.Alert{
		"id":                fullID,
		"name":              "Test detection",
		"description":       "suspicious behavior observed",
		"severity":          float64(severity),
		"status":            "new",
		"product":           "epp",
		"device":            map[string]any{"hostname": "web01"},
		"created_timestamp": created,
		"updated_timestamp": created,
	}
}

func TestStore_UpsertIdempotence(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	rec := testAlert("cid:ind:1", "2026-02-01T10:00:00Z", 70)

	wasNew, err := s.Upsert(ctx, rec, "ind:1", "cid:ind:1")
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if !wasNew {
		t.Error("first Upsert() wasNew = false, want true")
	}

	wasNew, err = s.Upsert(ctx, rec, "ind:1", "cid:ind:1")
	if err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}
	if wasNew {
		t.Error("second Upsert() wasNew = true, want false")
	}

	rows, err := s.ListRecent(ctx, 0)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("rows = %v, want exactly 1 after duplicate upsert", len(rows))
	}
}

func TestStore_UpsertPreservesFirstSeen(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	rec := testAlert("cid:ind:1", "2026-02-01T10:00:00Z", 70)

	if _, err := s.Upsert(ctx, rec, "ind:1", "cid:ind:1"); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	first, err := s.GetByDisplayID(ctx, "ind:1")
	if err != nil {
		t.Fatalf("GetByDisplayID() error = %v", err)
	}

	rec["status"] = "in_progress"
	if _, err := s.Upsert(ctx, rec, "ind:1", "cid:ind:1"); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}
	second, err := s.GetByDisplayID(ctx, "ind:1")
	if err != nil {
		t.Fatalf("GetByDisplayID() error = %v", err)
	}

	if second.FirstSeen != first.FirstSeen {
		t.Errorf("FirstSeen changed on re-upsert: %v -> %v", first.FirstSeen, second.FirstSeen)
	}
	if second.Record.Status() != "in_progress" {
		t.Errorf("Status = %v, want updated raw record", second.Record.Status())
	}
}

func TestStore_GetByDisplayID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := testAlert("cid:ind:1", "2026-02-01T10:00:00Z", 70)
	rec["behaviors"] = []any{map[string]any{"tactic": "Execution"}}
	if _, err := s.Upsert(ctx, rec, "ind:1", "cid:ind:1"); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := s.GetByDisplayID(ctx, "ind:1")
	if err != nil {
		t.Fatalf("GetByDisplayID() error = %v", err)
	}
	if got.FullID != "cid:ind:1" {
		t.Errorf("FullID = %v, want the untransformed original", got.FullID)
	}
	if !reflect.DeepEqual(got.Record, rec) {
		t.Errorf("Record differs from stored original:\n got %v\nwant %v", got.Record, rec)
	}

	_, err = s.GetByDisplayID(ctx, "ind:missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetByDisplayID() error = %v, want ErrNotFound", err)
	}
}

func TestStore_ListRecentOrdering(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Upsert(ctx, testAlert("cid:ind:old", "2026-02-01T08:00:00Z", 30), "ind:old", "cid:ind:old")
	s.Upsert(ctx, testAlert("cid:ind:new", "2026-02-01T12:00:00Z", 50), "ind:new", "cid:ind:new")
	s.Upsert(ctx, testAlert("cid:ind:mid", "2026-02-01T10:00:00Z", 70), "ind:mid", "cid:ind:mid")

	rows, err := s.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %v, want 2", len(rows))
	}
	if rows[0].DisplayID != "ind:new" || rows[1].DisplayID != "ind:mid" {
		t.Errorf("order = %v, %v; want ind:new, ind:mid", rows[0].DisplayID, rows[1].DisplayID)
	}
}

func TestStore_Stats(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Upsert(ctx, testAlert("cid:ind:1", "2026-02-01T08:00:00Z", 70), "ind:1", "cid:ind:1")
	s.Upsert(ctx, testAlert("cid:ind:2", "2026-02-01T09:00:00Z", 70), "ind:2", "cid:ind:2")
	s.Upsert(ctx, testAlert("cid:ind:3", "2026-02-02T09:00:00Z", 30), "ind:3", "cid:ind:3")

	global, err := s.Stats(ctx, "")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if global.Total != 3 {
		t.Errorf("Total = %v, want 3", global.Total)
	}
	if global.BySeverity["70"] != 2 || global.BySeverity["30"] != 1 {
		t.Errorf("BySeverity = %v, want 70:2 30:1", global.BySeverity)
	}
	if global.ByProduct["epp"] != 3 {
		t.Errorf("ByProduct = %v, want epp:3", global.ByProduct)
	}

	daily, err := s.Stats(ctx, "2026-02-02")
	if err != nil {
		t.Fatalf("Stats(day) error = %v", err)
	}
	if daily.Total != 1 {
		t.Errorf("daily Total = %v, want 1", daily.Total)
	}
	if daily.BySeverity["70"] != 0 {
		t.Errorf("daily BySeverity[70] = %v, want 0", daily.BySeverity["70"])
	}
}

func TestStore_Purge(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Upsert(ctx, testAlert("cid:ind:1", "2026-02-01T08:00:00Z", 70), "ind:1", "cid:ind:1")
	s.Upsert(ctx, testAlert("cid:ind:2", "2026-02-01T09:00:00Z", 30), "ind:2", "cid:ind:2")

	count, err := s.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if count != 2 {
		t.Errorf("Purge() count = %v, want 2", count)
	}

	count, err = s.Purge(ctx)
	if err != nil {
		t.Fatalf("second Purge() error = %v", err)
	}
	if count != 0 {
		t.Errorf("second Purge() count = %v, want 0", count)
	}
}

func TestStore_ExportCSV(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Upsert(ctx, testAlert("cid:ind:old", "2026-02-01T08:00:00Z", 30), "ind:old", "cid:ind:old")
	s.Upsert(ctx, testAlert("cid:ind:new", "2026-02-01T12:00:00Z", 70), "ind:new", "cid:ind:new")

	var buf bytes.Buffer
	n, err := s.ExportCSV(ctx, &buf)
	if err != nil {
		t.Fatalf("ExportCSV() error = %v", err)
	}
	if n != 2 {
		t.Errorf("exported = %v, want 2", n)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse exported csv: %v", err)
	}
	wantHeader := []string{"ID", "Name", "Severity", "Status", "Product", "Hostname", "Created", "Updated", "Description"}
	if !reflect.DeepEqual(records[0], wantHeader) {
		t.Errorf("header = %v, want %v", records[0], wantHeader)
	}
	if records[1][0] != "ind:new" {
		t.Errorf("first data row id = %v, want newest first", records[1][0])
	}
}

func TestStore_ExportJSONRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	original := testAlert("cid:ind:1", "2026-02-01T12:00:00Z", 70)
	original["behaviors"] = []any{map[string]any{"tactic": "Execution"}}
	s.Upsert(ctx, original, "ind:1", "cid:ind:1")

	var buf bytes.Buffer
	n, err := s.ExportJSON(ctx, &buf)
	if err != nil {
		t.Fatalf("ExportJSON() error = %v", err)
	}
	if n != 1 {
		t.Errorf("exported = %v, want 1", n)
	}

	var parsed []domain.Alert
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("parse exported json: %v", err)
	}
	if len(parsed) != 1 {
		t.Fatalf("parsed records = %v, want 1", len(parsed))
	}
	if !reflect.DeepEqual(parsed[0], original) {
		t.Errorf("round-tripped record differs:\n got %v\nwant %v", parsed[0], original)
	}
}
