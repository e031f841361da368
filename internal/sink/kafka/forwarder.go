// Package kafka publishes accepted alerts to a Kafka topic, keyed by
// display id so every emission of one alert lands on the same partition.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Mercury0/talon/internal/config"
	"github.com/Mercury0/talon/internal/domain"
	"github.com/Mercury0/talon/internal/metrics"
)

// Forwarder implements sink.Sink over a Kafka writer.
type Forwarder struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewForwarder creates a Kafka forwarder from the given settings.
func NewForwarder(cfg *config.KafkaConfig, logger *slog.Logger) *Forwarder {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // Use key-based partitioning
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	return &Forwarder{
		writer: writer,
		logger: logger,
	}
}

// Emit publishes the record as a JSON message keyed by display id.
func (f *Forwarder) Emit(ctx context.Context, rec domain.Alert, displayID string) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		metrics.SinkEmitsTotal.WithLabelValues("kafka", "failure").Inc()
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(displayID),
		Value: payload,
	}
	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		metrics.SinkEmitsTotal.WithLabelValues("kafka", "failure").Inc()
		return fmt.Errorf("failed to write alert to kafka: %w", err)
	}

	metrics.SinkEmitsTotal.WithLabelValues("kafka", "success").Inc()
	return nil
}

// Close closes the Kafka writer.
func (f *Forwarder) Close() error {
	if f.writer != nil {
		return f.writer.Close()
	}
	return nil
}
