package task

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/lottery-keeper/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingWaker struct {
	wakes int
}

func (w *countingWaker) Wake() { w.wakes++ }

func TestWakeOnEventHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name      string
		eventType string
		source    string
		wantWakes int
	}{
		{"remote enqueue wakes", events.TypeTaskEnqueued, "instance-b", 1},
		{"remote reset wakes", events.TypeTaskReset, "instance-b", 1},
		{"own enqueue ignored", events.TypeTaskEnqueued, "instance-a", 0},
		{"completion ignored", events.TypeTaskCompleted, "instance-b", 0},
		{"unknown source wakes", events.TypeTaskEnqueued, "", 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			waker := &countingWaker{}
			h := NewWakeOnEventHandler(waker, "instance-a", logger)

			event, err := events.NewTaskEvent(tc.eventType, uuid.New(), string(ActionSelectWinner), "pending", nil)
			require.NoError(t, err)
			event.Source = tc.source

			require.NoError(t, h.HandleEvent(context.Background(), event))
			assert.Equal(t, tc.wantWakes, waker.wakes)
		})
	}
}
