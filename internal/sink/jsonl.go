package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/Mercury0/talon/internal/domain"
)

// JSONL writes one compact JSON object per alert, suitable for piping
// into jq or shipping to a log collector.
type JSONL struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONL creates a JSON-lines sink writing to w.
func NewJSONL(w io.Writer) *JSONL {
	return &JSONL{enc: json.NewEncoder(w)}
}

// Emit writes the complete original record as one line.
func (j *JSONL) Emit(_ context.Context, rec domain.Alert, _ string) (err error) {
	defer func() { observe("jsonl", err) }()

	j.mu.Lock()
	defer j.mu.Unlock()
	if err = j.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	return nil
}

// Close is a no-op; the sink does not own its writer.
func (j *JSONL) Close() error {
	return nil
}
