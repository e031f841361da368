package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Mercury0/talon/internal/domain"
)

// File appends the plain (uncolored) alert line to a log file, so a
// watch session leaves a durable text trail alongside the live output.
type File struct {
	mu sync.Mutex
	f  *os.File
}

// NewFile opens (or creates) the log file at path for appending.
func NewFile(path string) (*File, error) {
	cleanPath := filepath.Clean(path)
	f, err := os.OpenFile(cleanPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open watch log file: %w", err)
	}
	return &File{f: f}, nil
}

// Emit appends the alert line.
func (s *File) Emit(_ context.Context, rec domain.Alert, displayID string) (err error) {
	defer func() { observe("file", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err = fmt.Fprintln(s.f, FormatLine(rec, displayID)); err != nil {
		return fmt.Errorf("failed to append watch log line: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *File) Close() error {
	return s.f.Close()
}
