package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deadlineRecorder struct {
	hasDeadline bool
}

func (d *deadlineRecorder) HandleEvent(ctx context.Context, _ *TaskEvent) error {
	_, d.hasDeadline = ctx.Deadline()
	return nil
}

func newEnqueuedEvent(t *testing.T) *TaskEvent {
	t.Helper()
	event, err := NewTaskEvent(TypeTaskEnqueued, uuid.New(), "selectWinner", "pending", nil)
	require.NoError(t, err)
	return event
}

func TestInMemoryEventEmitter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("no handlers", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		assert.NoError(t, emitter.EmitEvent(context.Background(), newEnqueuedEvent(t)))
	})

	t.Run("nil event", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		assert.Error(t, emitter.EmitEvent(context.Background(), nil))
	})

	t.Run("every handler receives the event", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		first, second := &MockEventHandler{}, &MockEventHandler{}
		emitter.RegisterHandler(first)
		emitter.RegisterHandler(second)

		event := newEnqueuedEvent(t)
		require.NoError(t, emitter.EmitEvent(context.Background(), event))

		assert.Equal(t, 1, first.HandledCount)
		assert.Equal(t, 1, second.HandledCount)
		assert.Same(t, event, second.LastEvent)
	})

	t.Run("failures are joined and do not stop delivery", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		brokerDown := errors.New("broker down")
		failing := &MockEventHandler{HandlerError: brokerDown}
		after := &MockEventHandler{}
		emitter.RegisterHandler(failing)
		emitter.RegisterHandler(after)

		err := emitter.EmitEvent(context.Background(), newEnqueuedEvent(t))
		require.Error(t, err)
		assert.ErrorIs(t, err, brokerDown)
		assert.Equal(t, 1, after.HandledCount)
	})

	t.Run("handler calls are bounded", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		rec := &deadlineRecorder{}
		emitter.RegisterHandler(rec)

		require.NoError(t, emitter.EmitEvent(context.Background(), newEnqueuedEvent(t)))
		assert.True(t, rec.hasDeadline)

		emitter.SetHandlerTimeout(0)
		require.NoError(t, emitter.EmitEvent(context.Background(), newEnqueuedEvent(t)))
		assert.False(t, rec.hasDeadline)

		emitter.SetHandlerTimeout(time.Second)
	})
}
