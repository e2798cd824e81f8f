package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a task
type Status string

// Possible task status values
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Active reports whether the status blocks another task with the same
// dedup key.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusInProgress
}

// Terminal reports whether the status is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Action names the workflow a task runs.
type Action string

// ActionSelectWinner selects the winner of an ended lottery.
const ActionSelectWinner Action = "selectWinner"

// Level is the severity of a log entry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// LogEntry is one line of a task's audit trail.
type LogEntry struct {
	Timestamp time.Time       `json:"timestamp" bson:"timestamp"`
	Message   string          `json:"message" bson:"message"`
	Level     Level           `json:"level" bson:"level"`
	Data      json.RawMessage `json:"data,omitempty" bson:"data,omitempty"`
}

// NewLogEntry builds an entry stamped with the current time. data may be nil.
func NewLogEntry(level Level, message string, data any) LogEntry {
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Message:   message,
		Level:     level,
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			entry.Data = raw
		}
	}
	return entry
}

// Task is the durable record of one orchestration request.
type Task struct {
	ID         uuid.UUID       `json:"id"`
	Action     Action          `json:"action"`
	Params     json.RawMessage `json:"params"`
	Status     Status          `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	ErrorStack string          `json:"errorStack,omitempty"`
	Logs       []LogEntry      `json:"logs"`
	DedupKey   string          `json:"dedupKey"`

	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
	ProcessingStartedAt *time.Time `json:"processingStartedAt,omitempty"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
	FailedAt            *time.Time `json:"failedAt,omitempty"`
}

// SelectWinnerParams are the params of a selectWinner task.
type SelectWinnerParams struct {
	LotteryID string `json:"lotteryId" validate:"required"`
	Requester string `json:"requester,omitempty"`
}

// DedupKey derives "<action>:<requester or '*'>:<lotteryId>".
func DedupKey(action Action, requester, lotteryID string) string {
	if requester == "" {
		requester = "*"
	}
	return fmt.Sprintf("%s:%s:%s", action, requester, lotteryID)
}

// NewTask creates a pending task. params must already be validated.
func NewTask(action Action, params json.RawMessage, dedupKey string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:        uuid.New(),
		Action:    action,
		Params:    params,
		Status:    StatusPending,
		Logs:      []LogEntry{},
		DedupKey:  dedupKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so that callers cannot mutate stored records.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Params = cloneRaw(t.Params)
	cp.Result = cloneRaw(t.Result)
	cp.Logs = make([]LogEntry, len(t.Logs))
	for i, l := range t.Logs {
		l.Data = cloneRaw(l.Data)
		cp.Logs[i] = l
	}
	cp.ProcessingStartedAt = cloneTime(t.ProcessingStartedAt)
	cp.CompletedAt = cloneTime(t.CompletedAt)
	cp.FailedAt = cloneTime(t.FailedAt)
	return &cp
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return append(json.RawMessage(nil), r...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Store defines the task record store. Every mutating operation is a single
// atomic conditional update; callers never read-then-write.
type Store interface {
	// Insert persists a new pending task unless an active task with the same
	// dedup key exists, in which case it returns store.ErrDuplicateTask.
	Insert(ctx context.Context, t *Task) error

	// ClaimNextPending moves the oldest pending task to in-progress and
	// returns it. Returns (nil, nil) when nothing is pending.
	ClaimNextPending(ctx context.Context) (*Task, error)

	// ClaimByID claims one specific task. Returns store.ErrTaskNotClaimable
	// if the task is not pending.
	ClaimByID(ctx context.Context, id uuid.UUID) (*Task, error)

	// AppendLog appends an entry to the task's logs.
	AppendLog(ctx context.Context, id uuid.UUID, entry LogEntry) error

	// Complete moves an in-progress task to completed.
	Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) error

	// Fail moves an in-progress task to failed.
	Fail(ctx context.Context, id uuid.UUID, message, stack string) error

	// Get returns store.ErrTaskNotFound if the task does not exist.
	Get(ctx context.Context, id uuid.UUID) (*Task, error)

	// Reset moves a failed task back to pending and clears its error
	// fields and processing timestamps.
	Reset(ctx context.Context, id uuid.UUID) error

	// ListPending returns pending tasks, oldest first. Backends may leave
	// Logs empty on the listed tasks.
	ListPending(ctx context.Context) ([]*Task, error)

	// FailStale fails in-progress tasks whose processing started more than
	// olderThan ago and returns their ids.
	FailStale(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error)
}
