package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lottery-keeper/internal/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/phrazzld/lottery-keeper/internal/task"

// terminalWriteTimeout bounds the final Complete/Fail write, which runs even
// after the processing context has been cancelled.
const terminalWriteTimeout = 30 * time.Second

// Recorder appends progress entries to the task being processed.
type Recorder interface {
	Log(ctx context.Context, level Level, message string, data any)
}

// Handler executes one action. The returned value is stored as the task
// result and must be JSON serializable.
type Handler interface {
	Handle(ctx context.Context, t *Task, rec Recorder) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, t *Task, rec Recorder) (any, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, t *Task, rec Recorder) (any, error) {
	return f(ctx, t, rec)
}

// Processor runs claimed tasks and writes exactly one terminal transition
// per task.
type Processor struct {
	store    Store
	handlers map[Action]Handler
	mu       sync.RWMutex
	emitter  events.EventEmitter
	source   string
	logger   *slog.Logger

	completed metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewProcessor creates a processor with no handlers registered. source
// identifies this process in emitted events.
func NewProcessor(store Store, emitter events.EventEmitter, source string, logger *slog.Logger) (*Processor, error) {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	meter := otel.Meter(meterName)
	completed, err := meter.Int64Counter("tasks.completed",
		metric.WithDescription("Tasks that reached the completed state"))
	if err != nil {
		return nil, fmt.Errorf("failed to create completed counter: %w", err)
	}
	failed, err := meter.Int64Counter("tasks.failed",
		metric.WithDescription("Tasks that reached the failed state"))
	if err != nil {
		return nil, fmt.Errorf("failed to create failed counter: %w", err)
	}
	duration, err := meter.Float64Histogram("tasks.duration",
		metric.WithDescription("Task processing time"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &Processor{
		store:     store,
		handlers:  make(map[Action]Handler),
		emitter:   emitter,
		source:    source,
		logger:    logger.With("component", "task_processor"),
		completed: completed,
		failed:    failed,
		duration:  duration,
	}, nil
}

// Register binds a handler to an action, replacing any previous one.
func (p *Processor) Register(action Action, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[action] = h
}

// Supports reports whether a handler is registered for action.
func (p *Processor) Supports(action Action) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.handlers[action]
	return ok
}

// Process runs a task already claimed into in-progress. Handler failures
// and panics become a failed task; the returned error only reports that
// the terminal transition itself could not be written.
func (p *Processor) Process(ctx context.Context, t *Task) error {
	logger := p.logger.With(
		"task_id", t.ID,
		"action", t.Action,
		"dedup_key", t.DedupKey,
	)
	start := time.Now()
	rec := &storeRecorder{store: p.store, taskID: t.ID, logger: logger}

	logger.InfoContext(ctx, "processing task")
	rec.Log(ctx, LevelInfo, "Processing started", map[string]any{"action": t.Action})
	p.emit(ctx, logger, t, events.TypeTaskClaimed, string(StatusInProgress), "", nil)

	result, stack, err := p.execute(ctx, t, rec)

	var raw json.RawMessage
	if err == nil && result != nil {
		if raw, err = json.Marshal(result); err != nil {
			err = fmt.Errorf("failed to encode task result: %w", err)
			stack = errorChain(err)
		}
	}

	// terminal writes must land even if ctx was cancelled mid-run
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	attrs := metric.WithAttributes(attribute.String("action", string(t.Action)))
	p.duration.Record(writeCtx, time.Since(start).Seconds(), attrs)

	if err != nil {
		msg := err.Error()
		logger.WarnContext(ctx, "task failed", slog.String("error", msg))
		rec.Log(writeCtx, LevelError, "Task failed: "+msg, map[string]any{"error": msg})

		if failErr := p.store.Fail(writeCtx, t.ID, msg, stack); failErr != nil {
			logger.ErrorContext(ctx, "failed to record task failure", slog.String("error", failErr.Error()))
			return fmt.Errorf("failed to mark task %s failed: %w", t.ID, failErr)
		}
		p.failed.Add(writeCtx, 1, attrs)
		p.emit(writeCtx, logger, t, events.TypeTaskFailed, string(StatusFailed), msg, nil)
		return nil
	}

	rec.Log(writeCtx, LevelSuccess, "Task completed", nil)
	if completeErr := p.store.Complete(writeCtx, t.ID, raw); completeErr != nil {
		logger.ErrorContext(ctx, "failed to record task completion", slog.String("error", completeErr.Error()))
		return fmt.Errorf("failed to mark task %s completed: %w", t.ID, completeErr)
	}
	p.completed.Add(writeCtx, 1, attrs)
	p.emit(writeCtx, logger, t, events.TypeTaskCompleted, string(StatusCompleted), "", raw)

	logger.InfoContext(ctx, "task completed", slog.Duration("duration", time.Since(start)))
	return nil
}

// execute dispatches to the handler and converts panics into errors.
func (p *Processor) execute(ctx context.Context, t *Task, rec Recorder) (result any, stack string, err error) {
	p.mu.RLock()
	h, ok := p.handlers[t.Action]
	p.mu.RUnlock()
	if !ok {
		err = fmt.Errorf("%w: %s", ErrUnsupportedAction, t.Action)
		return nil, errorChain(err), err
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			stack = string(debug.Stack())
		}
	}()

	result, err = h.Handle(ctx, t, rec)
	if err != nil {
		return nil, errorChain(err), err
	}
	return result, "", nil
}

func (p *Processor) emit(ctx context.Context, logger *slog.Logger, t *Task, eventType, status, errMsg string, payload json.RawMessage) {
	event, err := events.NewTaskEvent(eventType, t.ID, string(t.Action), status, nil)
	if err != nil {
		return
	}
	event.DedupKey = t.DedupKey
	event.Error = errMsg
	event.Payload = payload
	event.Source = p.source
	if err := p.emitter.EmitEvent(ctx, event); err != nil {
		logger.WarnContext(ctx, "failed to emit task event",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()))
	}
}

// errorChain renders the wrap chain of err, outermost first, one per line.
func errorChain(err error) string {
	var lines []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		lines = append(lines, fmt.Sprintf("%T: %s", e, e.Error()))
	}
	return strings.Join(lines, "\n")
}

// storeRecorder appends entries straight to the store so observers see
// progress while the task runs. Append failures are logged and swallowed:
// the terminal transition is what must not be lost.
type storeRecorder struct {
	store  Store
	taskID uuid.UUID
	logger *slog.Logger
}

func (r *storeRecorder) Log(ctx context.Context, level Level, message string, data any) {
	if err := r.store.AppendLog(ctx, r.taskID, NewLogEntry(level, message, data)); err != nil {
		r.logger.WarnContext(ctx, "failed to append task log",
			slog.String("message", message),
			slog.String("error", err.Error()))
	}
}
