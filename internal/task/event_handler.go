package task

import (
	"context"
	"log/slog"

	"github.com/phrazzld/lottery-keeper/internal/events"
)

// WakeOnEventHandler implements the events.EventHandler interface to wake
// the local scheduler when another instance enqueues or resets a task, so
// that pending work is picked up without waiting for the next tick.
type WakeOnEventHandler struct {
	scheduler interface{ Wake() }
	source    string
	logger    *slog.Logger
}

// NewWakeOnEventHandler creates a handler for remote lifecycle events.
// Events whose Source equals source are ignored.
func NewWakeOnEventHandler(
	scheduler interface{ Wake() },
	source string,
	logger *slog.Logger,
) *WakeOnEventHandler {
	return &WakeOnEventHandler{
		scheduler: scheduler,
		source:    source,
		logger:    logger.With("component", "wake_on_event_handler"),
	}
}

// HandleEvent wakes the scheduler for enqueue and reset events.
func (h *WakeOnEventHandler) HandleEvent(ctx context.Context, event *events.TaskEvent) error {
	if event.Source != "" && event.Source == h.source {
		return nil
	}

	switch event.Type {
	case events.TypeTaskEnqueued, events.TypeTaskReset:
		h.logger.Debug("waking scheduler for remote event",
			"event_type", event.Type,
			"event_id", event.ID,
			"task_id", event.TaskID,
			"source", event.Source)
		h.scheduler.Wake()
	default:
		h.logger.Debug("ignoring event with unsupported type",
			"event_type", event.Type,
			"event_id", event.ID)
	}
	return nil
}

// Ensure WakeOnEventHandler implements events.EventHandler
var _ events.EventHandler = (*WakeOnEventHandler)(nil)
