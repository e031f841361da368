package sink

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Mercury0/talon/internal/domain"
)

// ANSI escape sequences for severity coloring.
const (
	colorReset = "\x1b[0m"
	colorRed   = "\x1b[31m"
	colorGreen = "\x1b[32m"
	colorBlue  = "\x1b[34m"
)

// Console renders one human-readable line per alert, with the severity
// token colored by urgency. Safe for concurrent use.
type Console struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

// NewConsole creates a console sink writing to w. Coloring is optional
// so the same renderer can serve non-TTY destinations.
func NewConsole(w io.Writer, color bool) *Console {
	return &Console{w: w, color: color}
}

// Emit writes the alert line.
func (c *Console) Emit(_ context.Context, rec domain.Alert, displayID string) (err error) {
	defer func() { observe("console", err) }()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err = fmt.Fprintln(c.w, formatLine(rec, displayID, c.color)); err != nil {
		return fmt.Errorf("failed to write console line: %w", err)
	}
	return nil
}

// Close is a no-op; the console does not own its writer.
func (c *Console) Close() error {
	return nil
}

// FormatLine renders the plain (uncolored) alert line:
//
//	[created] [severity] [display_id] name (product @ hostname)
//
// Absent fields render as "-" so columns stay recognizable.
func FormatLine(rec domain.Alert, displayID string) string {
	return formatLine(rec, displayID, false)
}

func formatLine(rec domain.Alert, displayID string, colored bool) string {
	created := rec.BestCreated()
	if t, perr := domain.ParseFQLTime(created); perr == nil {
		created = domain.FormatTimestamp(t)
	}
	if created == "" {
		created = "-"
	}

	sev := "[" + severityToken(rec) + "]"
	if colored {
		sev = severityColor(rec) + sev + colorReset
	}

	name := rec.Name()
	if name == "" {
		name = "-"
	}
	product := rec.Product()
	if product == "" {
		product = "-"
	}
	hostname := rec.Hostname()
	if hostname == "" {
		hostname = "-"
	}

	return fmt.Sprintf("[%s] %s [%s] %s (%s @ %s)",
		created, sev, displayID, name, product, hostname)
}

// severityToken picks the text shown in the severity column: the
// numeric value when the record carries one, else the vendor's
// enumerated label, else "-".
func severityToken(rec domain.Alert) string {
	if v, ok := rec.Severity(); ok && rec.SeverityValue() != nil {
		return fmt.Sprintf("%d", v)
	}
	if name := rec.SeverityName(); name != "" {
		return name
	}
	if raw := rec.SeverityValue(); raw != nil {
		return fmt.Sprint(raw)
	}
	return "-"
}

// severityColor maps a record's severity to its escape sequence:
// numeric >= 60 red, >= 30 blue, below green; enumerated CRITICAL and
// HIGH red, MEDIUM blue, everything else green.
func severityColor(rec domain.Alert) string {
	if v, ok := rec.Severity(); ok && rec.SeverityValue() != nil {
		switch {
		case v >= 60:
			return colorRed
		case v >= 30:
			return colorBlue
		default:
			return colorGreen
		}
	}

	name := rec.SeverityName()
	if name == "" {
		if raw := rec.SeverityValue(); raw != nil {
			name = fmt.Sprint(raw)
		}
	}
	switch strings.ToUpper(name) {
	case "CRITICAL", "HIGH":
		return colorRed
	case "MEDIUM":
		return colorBlue
	default:
		return colorGreen
	}
}
