package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lottery-keeper/internal/events"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestSink_HandleEvent(t *testing.T) {
	writer := &fakeWriter{}
	sink := NewSinkWithWriter(writer, "lottery.tasks", slog.New(slog.NewTextHandler(io.Discard, nil)))

	taskID := uuid.New()
	event, err := events.NewTaskEvent(events.TypeTaskCompleted, taskID, "selectWinner", "completed",
		map[string]string{"winner": "bob"})
	require.NoError(t, err)

	require.NoError(t, sink.HandleEvent(context.Background(), event))
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, taskID.String(), string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, events.TypeTaskCompleted, string(msg.Headers[0].Value))

	decoded, err := events.Decode(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, event.ID, decoded.ID)
	assert.JSONEq(t, `{"winner":"bob"}`, string(decoded.Payload))

	require.NoError(t, sink.Close())
	assert.True(t, writer.closed)
}

func TestSink_WriteFailure(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker unavailable")}
	sink := NewSinkWithWriter(writer, "lottery.tasks", nil)

	event, err := events.NewTaskEvent(events.TypeTaskFailed, uuid.New(), "selectWinner", "failed", nil)
	require.NoError(t, err)

	err = sink.HandleEvent(context.Background(), event)
	assert.ErrorContains(t, err, "broker unavailable")
}

func TestNewSink_FlushesPromptly(t *testing.T) {
	sink := NewSink([]string{"localhost:9092"}, "task-events", slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = sink.Close() })

	writer, ok := sink.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, flushInterval, writer.BatchTimeout)
	assert.LessOrEqual(t, writer.BatchTimeout, 50*time.Millisecond)
	assert.False(t, writer.Async)
}
