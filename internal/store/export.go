package store

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/Mercury0/talon/internal/domain"
)

// CSVHeader is the fixed export column layout. Consumers key on these
// names, so the order never changes.
var CSVHeader = []string{
	"ID", "Name", "Severity", "Status", "Product", "Hostname",
	"Created", "Updated", "Description",
}

// ExportEntry pairs a listing row with its full original record for the
// export encoders. Backends produce entries newest-first.
type ExportEntry struct {
	Row
	Record domain.Alert
}

// EncodeCSV writes entries to w in the fixed CSV layout and returns the
// number of data rows written.
func EncodeCSV(w io.Writer, entries []ExportEntry) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}
	for i, e := range entries {
		record := []string{
			e.DisplayID,
			e.Name,
			strconv.Itoa(e.Severity),
			e.Status,
			e.Product,
			e.Hostname,
			e.Created,
			e.Updated,
			e.Record.Description(),
		}
		if err := cw.Write(record); err != nil {
			return i, fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return len(entries), fmt.Errorf("flush csv: %w", err)
	}
	return len(entries), nil
}

// EncodeJSON writes entries to w as an indented JSON array of the
// complete original records and returns the number written.
func EncodeJSON(w io.Writer, entries []ExportEntry) (int, error) {
	records := make([]domain.Alert, 0, len(entries))
	for _, e := range entries {
		records = append(records, e.Record)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode records: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return 0, fmt.Errorf("write records: %w", err)
	}
	return len(entries), nil
}
