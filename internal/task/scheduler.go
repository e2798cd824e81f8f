package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// SchedulerConfig holds configuration for the queue scheduler
type SchedulerConfig struct {
	// TickInterval is the pause between ticks when the queue is idle
	TickInterval time.Duration

	// StaleTaskAge defines how long a task can be in-progress before it is
	// presumed abandoned and failed
	StaleTaskAge time.Duration

	// StaleCheckInterval defines how often to check for stale tasks.
	// Zero disables the monitor.
	StaleCheckInterval time.Duration

	// DrainTimeout is how long Stop lets an in-flight task keep running
	// before its context is cancelled. Zero cancels it immediately.
	DrainTimeout time.Duration
}

// DefaultSchedulerConfig returns a SchedulerConfig with reasonable defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TickInterval:       5 * time.Second,
		StaleTaskAge:       30 * time.Minute,
		StaleCheckInterval: 5 * time.Minute,
	}
}

// ErrSchedulerStopped is returned by Start when the base context is done.
var ErrSchedulerStopped = errors.New("scheduler base context is done")

// Scheduler is the single logical worker. It claims and processes at most
// one task at a time, guarded by a reentrancy flag, so that the tick cadence
// never causes overlapping runs in this process. Cross-process exclusion
// comes from the store's atomic claim.
type Scheduler struct {
	store     Store
	processor *Processor
	config    SchedulerConfig
	logger    *slog.Logger

	busy atomic.Bool
	wake chan struct{}

	mu         sync.Mutex
	running    bool
	baseCtx    context.Context
	cancelFunc context.CancelFunc
	cancelWork context.CancelFunc
	wg         sync.WaitGroup
}

// NewScheduler creates a stopped scheduler. baseCtx is the parent of the
// loop context; cancelling it stops the loop as well.
func NewScheduler(baseCtx context.Context, store Store, processor *Processor, config SchedulerConfig, logger *slog.Logger) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.TickInterval <= 0 {
		config.TickInterval = defaults.TickInterval
	}
	if config.StaleTaskAge <= 0 {
		config.StaleTaskAge = defaults.StaleTaskAge
	}
	if logger == nil {
		logger = slog.Default()
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	return &Scheduler{
		store:     store,
		processor: processor,
		config:    config,
		logger:    logger.With("component", "task_scheduler"),
		wake:      make(chan struct{}, 1),
		baseCtx:   baseCtx,
	}
}

// Tick claims and processes at most one task. It returns false without
// touching the store if another tick is already in flight, and otherwise
// reports whether a task was claimed.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.busy.CompareAndSwap(false, true) {
		s.logger.DebugContext(ctx, "tick skipped, worker busy")
		return false
	}
	defer s.busy.Store(false)

	t, err := s.store.ClaimNextPending(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to claim next pending task", slog.String("error", err.Error()))
		return false
	}
	if t == nil {
		return false
	}

	if err := s.processor.Process(ctx, t); err != nil {
		s.logger.ErrorContext(ctx, "task processing ended without terminal state",
			slog.String("task_id", t.ID.String()),
			slog.String("error", err.Error()))
	}
	return true
}

// Start launches the loop and the stale task monitor. Calling Start on a
// running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if err := s.baseCtx.Err(); err != nil {
		return ErrSchedulerStopped
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(s.baseCtx))
	s.cancelFunc = cancel
	s.cancelWork = cancelWork
	s.running = true

	s.wg.Add(1)
	go s.loop(ctx, workCtx)

	if s.config.StaleCheckInterval > 0 {
		s.wg.Add(1)
		go s.staleTaskMonitor(ctx)
	}

	s.logger.Info("scheduler started",
		slog.Duration("tick_interval", s.config.TickInterval),
		slog.Duration("stale_task_age", s.config.StaleTaskAge))
	return nil
}

// Stop cancels the loop, waits for an in-flight task to finish and clears
// the reentrancy flag. An in-flight task gets DrainTimeout to reach its
// terminal state before its context is cancelled. Stop on a stopped
// scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancelFunc()
	cancelWork := s.cancelWork
	s.running = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if s.config.DrainTimeout > 0 {
		timer := time.NewTimer(s.config.DrainTimeout)
		select {
		case <-done:
		case <-timer.C:
			s.logger.Warn("drain timeout reached, cancelling in-flight task")
		}
		timer.Stop()
	}
	cancelWork()
	<-done

	s.busy.Store(false)
	s.logger.Info("scheduler stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Busy reports whether a tick is in flight.
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}

// Wake requests an early tick. It never blocks; requests made while one is
// already queued are merged.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// loop waits on ctx and runs ticks with workCtx, so that stopping the loop
// does not abort a pipeline that is mid-flight.
func (s *Scheduler) loop(ctx, workCtx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-s.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		if ctx.Err() != nil {
			return
		}

		// drain the queue before sleeping again
		for s.Tick(workCtx) {
			if ctx.Err() != nil {
				return
			}
		}

		timer.Reset(s.config.TickInterval)
	}
}

// staleTaskMonitor periodically fails tasks that have been in-progress for
// too long, which happens when a worker dies mid-pipeline. Failed tasks stay
// visible to operators, who can reset them once the ledger state has been
// inspected.
func (s *Scheduler) staleTaskMonitor(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.StaleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.FailStaleTasks(ctx)
		}
	}
}

// FailStaleTasks runs one stale task sweep and returns the number of tasks
// failed.
func (s *Scheduler) FailStaleTasks(ctx context.Context) int {
	ids, err := s.store.FailStale(ctx, s.config.StaleTaskAge)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to check for stale tasks", slog.String("error", err.Error()))
		return 0
	}
	for _, id := range ids {
		s.logger.WarnContext(ctx, "failed stale in-progress task",
			slog.String("task_id", id.String()),
			slog.Duration("stale_task_age", s.config.StaleTaskAge))
	}
	return len(ids)
}
