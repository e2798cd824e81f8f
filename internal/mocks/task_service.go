package mocks

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/phrazzld/lottery-keeper/internal/store"
	"github.com/phrazzld/lottery-keeper/internal/task"
)

// MockTaskService mocks the task API consumed by the HTTP handlers. Methods
// without a function field report store.ErrTaskNotFound.
type MockTaskService struct {
	EnqueueFn      func(ctx context.Context, action task.Action, params json.RawMessage) (*task.Task, error)
	StatusFn       func(ctx context.Context, id uuid.UUID) (*task.Task, error)
	DebugFn        func(ctx context.Context, id uuid.UUID) (*task.Diagnostic, error)
	ForceProcessFn func(ctx context.Context, id uuid.UUID) error
	ResetFn        func(ctx context.Context, id uuid.UUID) error
	SweepFn        func(ctx context.Context) (*task.SweepResult, error)
}

// Enqueue calls EnqueueFn.
func (m *MockTaskService) Enqueue(ctx context.Context, action task.Action, params json.RawMessage) (*task.Task, error) {
	if m.EnqueueFn != nil {
		return m.EnqueueFn(ctx, action, params)
	}
	return nil, task.ErrValidation
}

// Status calls StatusFn.
func (m *MockTaskService) Status(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	if m.StatusFn != nil {
		return m.StatusFn(ctx, id)
	}
	return nil, store.ErrTaskNotFound
}

// Debug calls DebugFn.
func (m *MockTaskService) Debug(ctx context.Context, id uuid.UUID) (*task.Diagnostic, error) {
	if m.DebugFn != nil {
		return m.DebugFn(ctx, id)
	}
	return nil, store.ErrTaskNotFound
}

// ForceProcess calls ForceProcessFn.
func (m *MockTaskService) ForceProcess(ctx context.Context, id uuid.UUID) error {
	if m.ForceProcessFn != nil {
		return m.ForceProcessFn(ctx, id)
	}
	return store.ErrTaskNotFound
}

// Reset calls ResetFn.
func (m *MockTaskService) Reset(ctx context.Context, id uuid.UUID) error {
	if m.ResetFn != nil {
		return m.ResetFn(ctx, id)
	}
	return store.ErrTaskNotFound
}

// EnqueueEndedLotteries calls SweepFn.
func (m *MockTaskService) EnqueueEndedLotteries(ctx context.Context) (*task.SweepResult, error) {
	if m.SweepFn != nil {
		return m.SweepFn(ctx)
	}
	return &task.SweepResult{Enqueued: []uuid.UUID{}}, nil
}
