package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/Mercury0/talon/internal/domain"
	"github.com/Mercury0/talon/internal/store"
)

// CSV streams alerts as CSV rows in the same column layout as the store
// export, writing the header once before the first record.
type CSV struct {
	mu          sync.Mutex
	w           *csv.Writer
	wroteHeader bool
}

// NewCSV creates a CSV sink writing to w.
func NewCSV(w io.Writer) *CSV {
	return &CSV{w: csv.NewWriter(w)}
}

// Emit writes one row, preceded by the header on first use.
func (c *CSV) Emit(_ context.Context, rec domain.Alert, displayID string) (err error) {
	defer func() { observe("csv", err) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.wroteHeader {
		if err = c.w.Write(store.CSVHeader); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
		c.wroteHeader = true
	}

	sev, _ := rec.Severity()
	row := []string{
		displayID,
		rec.Name(),
		strconv.Itoa(sev),
		rec.Status(),
		rec.Product(),
		rec.Hostname(),
		rec.CreatedTimestamp(),
		rec.UpdatedTimestamp(),
		rec.Description(),
	}
	if err = c.w.Write(row); err != nil {
		return fmt.Errorf("failed to write csv row: %w", err)
	}

	// Flush per record so a tailing reader sees alerts as they arrive.
	c.w.Flush()
	if err = c.w.Error(); err != nil {
		return fmt.Errorf("failed to flush csv row: %w", err)
	}
	return nil
}

// Close flushes any buffered output.
func (c *CSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w.Flush()
	return c.w.Error()
}
