// Package kafka publishes task lifecycle events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/lottery-keeper/internal/events"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by the sink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink is an events.EventHandler that writes every event to Kafka, keyed by
// task id so that one task's events stay ordered within a partition.
type Sink struct {
	writer MessageWriter
	topic  string
	logger *slog.Logger
}

var _ events.EventHandler = (*Sink)(nil)

// flushInterval caps how long a synchronous write waits for a batch to
// fill. Events are emitted on the enqueue request path, so the writer's
// one second default would show up in every response.
const flushInterval = 10 * time.Millisecond

// NewSink creates a sink writing to topic on the given brokers.
func NewSink(brokers []string, topic string, logger *slog.Logger) *Sink {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           flushInterval,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return NewSinkWithWriter(writer, topic, logger)
}

// NewSinkWithWriter creates a sink around an existing writer.
func NewSinkWithWriter(writer MessageWriter, topic string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		writer: writer,
		topic:  topic,
		logger: logger.With("component", "kafka_sink", "topic", topic),
	}
}

// HandleEvent implements events.EventHandler.
func (s *Sink) HandleEvent(ctx context.Context, event *events.TaskEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.ID, err)
	}

	msg := kafka.Message{
		Key:   []byte(event.TaskID.String()),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Error("failed to publish event",
			"event_id", event.ID,
			"event_type", event.Type,
			"task_id", event.TaskID,
			"error", err)
		return fmt.Errorf("failed to publish event %s: %w", event.ID, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *Sink) Close() error {
	return s.writer.Close()
}
