// Package sink delivers accepted alerts to their live destinations:
// the interactive console, line-oriented machine formats, an optional
// plain-text log file, and fan-out across several of these at once.
// Broker forwarders live in the kafka and nats subpackages.
package sink

import (
	"context"
	"errors"

	"github.com/Mercury0/talon/internal/domain"
	"github.com/Mercury0/talon/internal/metrics"
)

// Sink receives each accepted alert of a watch session exactly once, in
// watermark order. Emit failures are non-fatal to the session: the
// poller logs them and moves on.
type Sink interface {
	// Emit delivers one accepted record. displayID is the short
	// identifier derived from the record's composite id.
	Emit(ctx context.Context, rec domain.Alert, displayID string) error

	// Close releases any resources held by the sink.
	Close() error
}

// observe records the outcome of one emit on the named sink.
func observe(sink string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.SinkEmitsTotal.WithLabelValues(sink, status).Inc()
}

// Multi fans each emit out to every member sink. All members are
// attempted even when earlier ones fail; errors are joined.
type Multi struct {
	sinks []Sink
}

// NewMulti creates a fan-out sink over the given members.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Emit delivers the record to every member sink.
func (m *Multi) Emit(ctx context.Context, rec domain.Alert, displayID string) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Emit(ctx, rec, displayID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every member sink.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
