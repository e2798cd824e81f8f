package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Lifecycle event types.
const (
	TypeTaskEnqueued  = "task.enqueued"
	TypeTaskClaimed   = "task.claimed"
	TypeTaskCompleted = "task.completed"
	TypeTaskFailed    = "task.failed"
	TypeTaskReset     = "task.reset"
)

// TaskEvent describes one task lifecycle transition. It carries plain
// values only so that transports and handlers do not depend on the task
// package.
type TaskEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is one of the Type* constants
	Type string `json:"type"`

	TaskID   uuid.UUID `json:"task_id"`
	Action   string    `json:"action"`
	DedupKey string    `json:"dedup_key,omitempty"`
	Status   string    `json:"status"`
	Error    string    `json:"error,omitempty"`

	// Payload contains event-specific data serialized as JSON, e.g. the
	// task result on completion
	Payload json.RawMessage `json:"payload,omitempty"`

	// Source identifies the emitting process instance
	Source string `json:"source,omitempty"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *TaskEvent) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// NewTaskEvent creates a TaskEvent with a fresh ID and timestamp.
func NewTaskEvent(eventType string, taskID uuid.UUID, action, status string, payload interface{}) (*TaskEvent, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	return &TaskEvent{
		ID:        uuid.New(),
		Type:      eventType,
		TaskID:    taskID,
		Action:    action,
		Status:    status,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Decode parses a JSON encoded event received from a transport.
func Decode(data []byte) (*TaskEvent, error) {
	var e TaskEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// EventHandler defines an interface for components that can handle events.
// Handlers are responsible for processing events and taking appropriate actions.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *TaskEvent) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *TaskEvent) error

// HandleEvent implements EventHandler.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *TaskEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *TaskEvent) error
}

// NopEmitter discards every event.
type NopEmitter struct{}

// EmitEvent implements EventEmitter.
func (NopEmitter) EmitEvent(context.Context, *TaskEvent) error { return nil }
