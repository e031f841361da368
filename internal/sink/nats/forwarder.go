// Package nats publishes accepted alerts to a NATS subject.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Mercury0/talon/internal/config"
	"github.com/Mercury0/talon/internal/domain"
	"github.com/Mercury0/talon/internal/metrics"
)

// headerDisplayID carries the short identifier so subscribers can route
// without decoding the payload.
const headerDisplayID = "Talon-Display-Id"

// Forwarder implements sink.Sink over a NATS connection.
type Forwarder struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewForwarder connects to the NATS server and returns a forwarder
// publishing to the configured subject.
func NewForwarder(cfg *config.NATSConfig, logger *slog.Logger) (*Forwarder, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("talon-forwarder"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return &Forwarder{
		conn:    conn,
		subject: cfg.Subject,
		logger:  logger,
	}, nil
}

// Emit publishes the record as a JSON message with the display id in a
// header. Publishes are buffered client-side; Close flushes them.
func (f *Forwarder) Emit(_ context.Context, rec domain.Alert, displayID string) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		metrics.SinkEmitsTotal.WithLabelValues("nats", "failure").Inc()
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	msg := nats.NewMsg(f.subject)
	msg.Header.Set(headerDisplayID, displayID)
	msg.Data = payload
	if err := f.conn.PublishMsg(msg); err != nil {
		metrics.SinkEmitsTotal.WithLabelValues("nats", "failure").Inc()
		return fmt.Errorf("failed to publish alert to nats: %w", err)
	}

	metrics.SinkEmitsTotal.WithLabelValues("nats", "success").Inc()
	return nil
}

// Close flushes buffered publishes and drops the connection.
func (f *Forwarder) Close() error {
	if f.conn == nil {
		return nil
	}
	if err := f.conn.Flush(); err != nil {
		f.logger.Warn("nats flush on close failed", "error", err)
	}
	f.conn.Close()
	return nil
}
