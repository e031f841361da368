package memory

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/Mercury0/talon/internal/domain"
	"github.com/Mercury0/talon/internal/store"
)

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
	s := NewStore()
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

func TestStore_GetByDisplayID(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	rec := testAlert("cid:ind:1", "2026-02-01T10:00:00Z", 70)

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
	if got.Record.Name() != "Test detection" {
		t.Errorf("Record.Name() = %v, want Test detection", got.Record.Name())
	}

	_, err = s.GetByDisplayID(ctx, "ind:missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetByDisplayID() error = %v, want ErrNotFound", err)
	}
}

func TestStore_ListRecentOrdering(t *testing.T) {
	s := NewStore()
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
	s := NewStore()
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

	daily, err := s.Stats(ctx, "2026-02-01")
	if err != nil {
		t.Fatalf("Stats(day) error = %v", err)
	}
	if daily.Total != 2 {
		t.Errorf("daily Total = %v, want 2", daily.Total)
	}
	if daily.BySeverity["30"] != 0 {
		t.Errorf("daily BySeverity[30] = %v, want 0", daily.BySeverity["30"])
	}
}

func TestStore_Purge(t *testing.T) {
	s := NewStore()
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

	rows, _ := s.ListRecent(ctx, 0)
	if len(rows) != 0 {
		t.Errorf("rows after purge = %v, want 0", len(rows))
	}
}

func TestStore_ExportCSV(t *testing.T) {
	s := NewStore()
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
	if len(records) != 3 {
		t.Fatalf("csv rows = %v, want header + 2", len(records))
	}
	if records[1][0] != "ind:new" {
		t.Errorf("first data row id = %v, want newest first", records[1][0])
	}
	if records[1][2] != "70" {
		t.Errorf("first data row severity = %v, want 70", records[1][2])
	}
}

func TestStore_ExportJSONRoundTrip(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	originals := []domain.Alert{
		testAlert("cid:ind:1", "2026-02-01T12:00:00Z", 70),
		testAlert("cid:ind:2", "2026-02-01T08:00:00Z", 30),
	}
	// Unknown vendor fields must survive the round trip untouched.
	originals[0]["behaviors"] = []any{map[string]any{"tactic": "Execution"}}

	s.Upsert(ctx, originals[0], "ind:1", "cid:ind:1")
	s.Upsert(ctx, originals[1], "ind:2", "cid:ind:2")

	var buf bytes.Buffer
	n, err := s.ExportJSON(ctx, &buf)
	if err != nil {
		t.Fatalf("ExportJSON() error = %v", err)
	}
	if n != 2 {
		t.Errorf("exported = %v, want 2", n)
	}

	var parsed []domain.Alert
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("parse exported json: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("parsed records = %v, want 2", len(parsed))
	}
	// Newest first: parsed[0] is ind:1.
	if !reflect.DeepEqual(parsed[0], originals[0]) {
		t.Errorf("round-tripped record differs:\n got %v\nwant %v", parsed[0], originals[0])
	}
	if !reflect.DeepEqual(parsed[1], originals[1]) {
		t.Errorf("round-tripped record differs:\n got %v\nwant %v", parsed[1], originals[1])
	}
}

func TestStore_EmptyExports(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	var buf bytes.Buffer
	if n, err := s.ExportJSON(ctx, &buf); err != nil || n != 0 {
		t.Fatalf("ExportJSON() = %v, %v; want 0, nil", n, err)
	}
	var parsed []any
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("empty export should parse as a JSON array: %v", err)
	}
	if len(parsed) != 0 {
		t.Errorf("parsed = %v, want empty array", parsed)
	}
}
