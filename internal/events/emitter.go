package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultHandlerTimeout bounds a single handler call. Lifecycle events are
// emitted from request and worker paths, so a stalled broker must not hold
// them up for longer than this.
const DefaultHandlerTimeout = 5 * time.Second

// InMemoryEventEmitter dispatches task lifecycle events synchronously to the
// handlers registered in this process, such as the Kafka sink and the NATS
// fan-out publisher.
type InMemoryEventEmitter struct {
	mu       sync.RWMutex
	handlers []EventHandler
	timeout  time.Duration
	logger   *slog.Logger
}

var _ EventEmitter = (*InMemoryEventEmitter)(nil)

// NewInMemoryEventEmitter creates an emitter with no handlers.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryEventEmitter{
		timeout: DefaultHandlerTimeout,
		logger:  logger.With("component", "event_emitter"),
	}
}

// SetHandlerTimeout changes the per-handler timeout. Zero disables it.
func (e *InMemoryEventEmitter) SetHandlerTimeout(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timeout = d
}

// RegisterHandler adds a handler. Handlers are called in registration order.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
	e.logger.Debug("registered event handler",
		"handler", fmt.Sprintf("%T", handler),
		"handler_count", len(e.handlers))
}

// EmitEvent delivers event to every handler, even after one fails. The
// failures are joined into the returned error.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *TaskEvent) error {
	if event == nil {
		return errors.New("cannot emit a nil event")
	}

	e.mu.RLock()
	handlers := append([]EventHandler(nil), e.handlers...)
	timeout := e.timeout
	e.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	var errs []error
	for _, handler := range handlers {
		if err := e.deliver(ctx, handler, event, timeout); err != nil {
			e.logger.ErrorContext(ctx, "event handler failed",
				"handler", fmt.Sprintf("%T", handler),
				"event_id", event.ID,
				"event_type", event.Type,
				"task_id", event.TaskID,
				"error", err)
			errs = append(errs, fmt.Errorf("%T: %w", handler, err))
		}
	}
	return errors.Join(errs...)
}

func (e *InMemoryEventEmitter) deliver(ctx context.Context, handler EventHandler, event *TaskEvent, timeout time.Duration) error {
	if timeout <= 0 {
		return handler.HandleEvent(ctx, event)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return handler.HandleEvent(ctx, event)
}
