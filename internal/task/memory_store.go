package task

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lottery-keeper/internal/store"
)

// StaleTaskError is the error recorded on tasks failed by FailStale.
const StaleTaskError = "task processing exceeded the stale threshold; worker presumed dead"

// MemoryStore is a mutex-guarded Store. It backs tests and the
// store.driver=memory mode. A single mutex makes every operation atomic.
type MemoryStore struct {
	mutex  sync.RWMutex
	tasks  map[uuid.UUID]*Task
	active map[string]uuid.UUID
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:  make(map[uuid.UUID]*Task),
		active: make(map[string]uuid.UUID),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the store clock.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.now = now
}

// Insert implements Store.
func (s *MemoryStore) Insert(ctx context.Context, t *Task) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.active[t.DedupKey]; exists {
		return store.ErrDuplicateTask
	}
	if _, exists := s.tasks[t.ID]; exists {
		return store.NewStoreError("task", "insert", "task id already exists", store.ErrDuplicate)
	}

	cp := t.Clone()
	cp.Status = StatusPending
	if cp.Logs == nil {
		cp.Logs = []LogEntry{}
	}
	s.tasks[cp.ID] = cp
	s.active[cp.DedupKey] = cp.ID
	return nil
}

// ClaimNextPending implements Store.
func (s *MemoryStore) ClaimNextPending(ctx context.Context) (*Task, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var oldest *Task
	for _, t := range s.tasks {
		if t.Status != StatusPending {
			continue
		}
		if oldest == nil || t.CreatedAt.Before(oldest.CreatedAt) {
			oldest = t
		}
	}
	if oldest == nil {
		return nil, nil
	}
	s.claimLocked(oldest)
	return oldest.Clone(), nil
}

// ClaimByID implements Store.
func (s *MemoryStore) ClaimByID(ctx context.Context, id uuid.UUID) (*Task, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if t.Status != StatusPending {
		return nil, store.ErrTaskNotClaimable
	}
	s.claimLocked(t)
	return t.Clone(), nil
}

func (s *MemoryStore) claimLocked(t *Task) {
	now := s.now()
	t.Status = StatusInProgress
	t.ProcessingStartedAt = &now
	t.UpdatedAt = now
}

// AppendLog implements Store.
func (s *MemoryStore) AppendLog(ctx context.Context, id uuid.UUID, entry LogEntry) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	entry.Data = cloneRaw(entry.Data)
	t.Logs = append(t.Logs, entry)
	t.UpdatedAt = s.now()
	return nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, err := s.inProgressLocked(id)
	if err != nil {
		return err
	}
	now := s.now()
	t.Status = StatusCompleted
	t.Result = cloneRaw(result)
	t.CompletedAt = &now
	t.UpdatedAt = now
	delete(s.active, t.DedupKey)
	return nil
}

// Fail implements Store.
func (s *MemoryStore) Fail(ctx context.Context, id uuid.UUID, message, stack string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, err := s.inProgressLocked(id)
	if err != nil {
		return err
	}
	s.failLocked(t, message, stack)
	return nil
}

func (s *MemoryStore) failLocked(t *Task, message, stack string) {
	now := s.now()
	t.Status = StatusFailed
	t.Error = message
	t.ErrorStack = stack
	t.FailedAt = &now
	t.UpdatedAt = now
	delete(s.active, t.DedupKey)
}

func (s *MemoryStore) inProgressLocked(id uuid.UUID) (*Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if t.Status != StatusInProgress {
		return nil, store.ErrInvalidTransition
	}
	return t, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return t.Clone(), nil
}

// Reset implements Store. A reset is refused with store.ErrDuplicateTask if
// another active task has taken the dedup key in the meantime.
func (s *MemoryStore) Reset(ctx context.Context, id uuid.UUID) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	if t.Status != StatusFailed {
		return store.ErrInvalidTransition
	}
	if _, taken := s.active[t.DedupKey]; taken {
		return store.ErrDuplicateTask
	}

	now := s.now()
	t.Status = StatusPending
	t.Error = ""
	t.ErrorStack = ""
	t.ProcessingStartedAt = nil
	t.FailedAt = nil
	t.UpdatedAt = now
	entry := NewLogEntry(LevelInfo, "Task reset to pending by operator", nil)
	entry.Timestamp = now
	t.Logs = append(t.Logs, entry)
	s.active[t.DedupKey] = t.ID
	return nil
}

// ListPending implements Store.
func (s *MemoryStore) ListPending(ctx context.Context) ([]*Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var pending []*Task
	for _, t := range s.tasks {
		if t.Status == StatusPending {
			pending = append(pending, t.Clone())
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

// FailStale implements Store.
func (s *MemoryStore) FailStale(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	cutoff := now.Add(-olderThan)
	var ids []uuid.UUID
	for _, t := range s.tasks {
		if t.Status != StatusInProgress || t.ProcessingStartedAt == nil {
			continue
		}
		if !t.ProcessingStartedAt.Before(cutoff) {
			continue
		}
		entry := NewLogEntry(LevelError, StaleTaskError, nil)
		entry.Timestamp = now
		t.Logs = append(t.Logs, entry)
		s.failLocked(t, StaleTaskError, "")
		ids = append(ids, t.ID)
	}
	return ids, nil
}
