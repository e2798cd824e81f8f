package task

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/lottery-keeper/internal/events"
	"github.com/phrazzld/lottery-keeper/internal/ledger"
	"github.com/phrazzld/lottery-keeper/internal/store"
)

// SchedulerControl is the part of the scheduler the service drives.
type SchedulerControl interface {
	Wake()
	Running() bool
	Busy() bool
}

// ServiceConfig holds the service options.
type ServiceConfig struct {
	// InlineProcessing makes Enqueue claim and process the new task before
	// returning. The scheduler remains the authoritative path.
	InlineProcessing bool

	// AdminAddress restricts the ended-lottery sweep to lotteries
	// administered by this address. Empty means no restriction.
	AdminAddress string

	// Source identifies this process in emitted events.
	Source string
}

// ServiceDeps are the collaborators of Service.
type ServiceDeps struct {
	Store     Store
	Processor *Processor
	Scheduler SchedulerControl
	// Program is required by EnqueueEndedLotteries only.
	Program ledger.Program
	Emitter events.EventEmitter
	// BaseCtx is the parent context of forced runs, which outlive the
	// request that triggered them.
	BaseCtx context.Context
}

// SchedulerState is the scheduler snapshot included in diagnostics.
type SchedulerState struct {
	Running bool `json:"running"`
	Busy    bool `json:"busy"`
}

// Diagnostic is the read-only operational view of one task.
type Diagnostic struct {
	Task         *Task          `json:"task"`
	Scheduler    SchedulerState `json:"scheduler"`
	PendingCount int            `json:"pendingCount"`
	CheckedAt    time.Time      `json:"checkedAt"`
}

// SweepError records a lottery the sweep could not enqueue.
type SweepError struct {
	LotteryID string `json:"lotteryId"`
	Error     string `json:"error"`
}

// SweepResult summarizes one ended-lottery sweep.
type SweepResult struct {
	Checked  int          `json:"checked"`
	Eligible int          `json:"eligible"`
	Enqueued []uuid.UUID  `json:"enqueued"`
	Skipped  int          `json:"skipped"`
	Errors   []SweepError `json:"errors,omitempty"`
}

// Service is the task API: enqueue, status and the operator actions.
type Service struct {
	store     Store
	processor *Processor
	scheduler SchedulerControl
	program   ledger.Program
	emitter   events.EventEmitter
	baseCtx   context.Context
	config    ServiceConfig
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time

	forced sync.WaitGroup
}

// NewService creates the task service.
func NewService(deps ServiceDeps, config ServiceConfig, logger *slog.Logger) (*Service, error) {
	if deps.Store == nil || deps.Processor == nil || deps.Scheduler == nil {
		return nil, errors.New("task service requires store, processor and scheduler")
	}
	if deps.Emitter == nil {
		deps.Emitter = events.NopEmitter{}
	}
	if deps.BaseCtx == nil {
		deps.BaseCtx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store:     deps.Store,
		processor: deps.Processor,
		scheduler: deps.Scheduler,
		program:   deps.Program,
		emitter:   deps.Emitter,
		baseCtx:   deps.BaseCtx,
		config:    config,
		validate:  validator.New(),
		logger:    logger.With("component", "task_service"),
		now:       time.Now,
	}, nil
}

// Enqueue validates and persists a new task. In inline mode the task is
// processed before returning and the terminal task is returned.
func (s *Service) Enqueue(ctx context.Context, action Action, params json.RawMessage) (*Task, error) {
	return s.enqueue(ctx, action, params, s.config.InlineProcessing)
}

func (s *Service) enqueue(ctx context.Context, action Action, params json.RawMessage, inline bool) (*Task, error) {
	if action == "" {
		return nil, fmt.Errorf("%w: action is required", ErrValidation)
	}
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: params are required", ErrValidation)
	}
	if !s.processor.Supports(action) {
		return nil, fmt.Errorf("%w: %w: %s", ErrValidation, ErrUnsupportedAction, action)
	}

	normalized, dedupKey, err := s.normalizeParams(action, trimmed)
	if err != nil {
		return nil, err
	}

	t := NewTask(action, normalized, dedupKey)
	if err := s.store.Insert(ctx, t); err != nil {
		if store.IsDuplicateError(err) {
			s.logger.InfoContext(ctx, "duplicate task rejected", slog.String("dedup_key", dedupKey))
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "task enqueued",
		slog.String("task_id", t.ID.String()),
		slog.String("action", string(action)),
		slog.String("dedup_key", dedupKey))
	s.emit(ctx, t, events.TypeTaskEnqueued, StatusPending)

	if !inline {
		s.scheduler.Wake()
		return t, nil
	}

	claimed, err := s.store.ClaimByID(ctx, t.ID)
	switch {
	case errors.Is(err, store.ErrTaskNotClaimable):
		// a scheduler got there first
		return s.store.Get(ctx, t.ID)
	case err != nil:
		return nil, err
	}

	// The pipeline must not stop halfway because the caller went away.
	workCtx := context.WithoutCancel(ctx)
	if err := s.processor.Process(workCtx, claimed); err != nil {
		return nil, err
	}
	return s.store.Get(workCtx, t.ID)
}

// normalizeParams validates action params and returns their canonical
// encoding together with the dedup key.
func (s *Service) normalizeParams(action Action, raw json.RawMessage) (json.RawMessage, string, error) {
	switch action {
	case ActionSelectWinner:
		var p SelectWinnerParams
		dec := json.NewDecoder(bytes.NewReader(raw))
		if err := dec.Decode(&p); err != nil {
			return nil, "", fmt.Errorf("%w: invalid params: %v", ErrValidation, err)
		}
		if err := s.validate.Struct(p); err != nil {
			return nil, "", fmt.Errorf("%w: lotteryId is required", ErrValidation)
		}
		normalized, err := json.Marshal(p)
		if err != nil {
			return nil, "", err
		}
		return normalized, DedupKey(action, p.Requester, p.LotteryID), nil
	default:
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, "", fmt.Errorf("%w: params must be an object: %v", ErrValidation, err)
		}
		return raw, fmt.Sprintf("%s:*:%s", action, uuid.NewString()), nil
	}
}

// Status returns the task or store.ErrTaskNotFound.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (*Task, error) {
	return s.store.Get(ctx, id)
}

// Debug returns a diagnostic snapshot of the task and the scheduler.
func (s *Service) Debug(ctx context.Context, id uuid.UUID) (*Diagnostic, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	return &Diagnostic{
		Task: t,
		Scheduler: SchedulerState{
			Running: s.scheduler.Running(),
			Busy:    s.scheduler.Busy(),
		},
		PendingCount: len(pending),
		CheckedAt:    s.now().UTC(),
	}, nil
}

// ForceProcess runs the task now instead of waiting for the scheduler. A
// failed task is reset first. The run happens in the background; use Wait
// to block until forced runs finish.
func (s *Service) ForceProcess(ctx context.Context, id uuid.UUID) error {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	switch t.Status {
	case StatusInProgress:
		return ErrTaskInProgress
	case StatusCompleted:
		return fmt.Errorf("%w: task already completed", store.ErrInvalidTransition)
	case StatusFailed:
		if err := s.store.Reset(ctx, id); err != nil {
			return err
		}
		s.emit(ctx, t, events.TypeTaskReset, StatusPending)
	}

	claimed, err := s.store.ClaimByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotClaimable) {
			return ErrTaskInProgress
		}
		return err
	}

	s.logger.InfoContext(ctx, "force processing task", slog.String("task_id", id.String()))

	s.forced.Add(1)
	go func() {
		defer s.forced.Done()
		if err := s.processor.Process(s.baseCtx, claimed); err != nil {
			s.logger.Error("forced run ended without terminal state",
				slog.String("task_id", id.String()),
				slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Wait blocks until every forced run has finished.
func (s *Service) Wait() {
	s.forced.Wait()
}

// Reset returns a failed task to pending and wakes the scheduler.
func (s *Service) Reset(ctx context.Context, id uuid.UUID) error {
	if err := s.store.Reset(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "task reset", slog.String("task_id", id.String()))

	if t, err := s.store.Get(ctx, id); err == nil {
		s.emit(ctx, t, events.TypeTaskReset, StatusPending)
	}
	s.scheduler.Wake()
	return nil
}

// EnqueueEndedLotteries enqueues winner selection for every lottery that
// has ended, has participants and has no winner. Lotteries that already
// have an active task count as skipped. Sweep-enqueued tasks always go to
// the scheduler.
func (s *Service) EnqueueEndedLotteries(ctx context.Context) (*SweepResult, error) {
	if s.program == nil {
		return nil, errors.New("ended lottery sweep requires a ledger program")
	}

	lotteries, err := s.program.ListLotteries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list lotteries: %w", err)
	}

	now := s.now()
	result := &SweepResult{Checked: len(lotteries), Enqueued: []uuid.UUID{}}

	for _, l := range lotteries {
		if s.config.AdminAddress != "" && l.Admin != s.config.AdminAddress {
			continue
		}
		if !l.HasEnded(now) || len(l.Participants) == 0 || l.CheckEligible(now) != nil {
			continue
		}
		result.Eligible++

		params, err := json.Marshal(SelectWinnerParams{LotteryID: l.ID})
		if err != nil {
			return nil, err
		}

		t, err := s.enqueue(ctx, ActionSelectWinner, params, false)
		switch {
		case store.IsDuplicateError(err):
			result.Skipped++
		case err != nil:
			s.logger.ErrorContext(ctx, "failed to enqueue ended lottery",
				slog.String("lottery_id", l.ID),
				slog.String("error", err.Error()))
			result.Errors = append(result.Errors, SweepError{LotteryID: l.ID, Error: err.Error()})
		default:
			result.Enqueued = append(result.Enqueued, t.ID)
		}
	}

	s.logger.InfoContext(ctx, "ended lottery sweep finished",
		slog.Int("checked", result.Checked),
		slog.Int("eligible", result.Eligible),
		slog.Int("enqueued", len(result.Enqueued)),
		slog.Int("skipped", result.Skipped))
	return result, nil
}

func (s *Service) emit(ctx context.Context, t *Task, eventType string, status Status) {
	event, err := events.NewTaskEvent(eventType, t.ID, string(t.Action), string(status), nil)
	if err != nil {
		return
	}
	event.DedupKey = t.DedupKey
	event.Source = s.config.Source
	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit task event",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()))
	}
}
