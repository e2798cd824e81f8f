package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, s Store, h Handler, cfg SchedulerConfig) *Scheduler {
	t.Helper()
	p, _ := newTestProcessor(t, s)
	p.Register(ActionSelectWinner, h)
	sched := NewScheduler(context.Background(), s, p, cfg, testLogger())
	t.Cleanup(sched.Stop)
	return sched
}

func okHandler() Handler {
	return HandlerFunc(func(ctx context.Context, task *Task, rec Recorder) (any, error) {
		return map[string]bool{"ok": true}, nil
	})
}

func TestScheduler_TickEmptyQueue(t *testing.T) {
	t.Parallel()
	sched := newTestScheduler(t, NewMemoryStore(), okHandler(), SchedulerConfig{})
	assert.False(t, sched.Tick(context.Background()))
	assert.False(t, sched.Busy())
}

func TestScheduler_TickProcessesOneTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	sched := newTestScheduler(t, s, okHandler(), SchedulerConfig{})

	first := newPendingTask(t, "L1")
	second := newPendingTask(t, "L2")
	first.CreatedAt = time.Now().Add(-time.Minute)
	require.NoError(t, s.Insert(ctx, first))
	require.NoError(t, s.Insert(ctx, second))

	assert.True(t, sched.Tick(ctx))

	got, err := s.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	got, err = s.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestScheduler_TickReentrancyGuard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	entered := make(chan struct{})
	release := make(chan struct{})
	sched := newTestScheduler(t, s, HandlerFunc(func(ctx context.Context, task *Task, rec Recorder) (any, error) {
		close(entered)
		<-release
		return nil, nil
	}), SchedulerConfig{})

	require.NoError(t, s.Insert(ctx, newPendingTask(t, "L1")))
	require.NoError(t, s.Insert(ctx, newPendingTask(t, "L2")))

	done := make(chan bool, 1)
	go func() { done <- sched.Tick(ctx) }()
	<-entered

	assert.True(t, sched.Busy())
	assert.False(t, sched.Tick(ctx), "second tick must not run while the first is in flight")

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "the skipped tick must not claim")

	close(release)
	assert.True(t, <-done)
	assert.False(t, sched.Busy())
}

func TestScheduler_StartStop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	sched := newTestScheduler(t, s, okHandler(), SchedulerConfig{TickInterval: 10 * time.Millisecond})

	require.NoError(t, sched.Start())
	require.NoError(t, sched.Start(), "Start is idempotent")
	assert.True(t, sched.Running())

	task := newPendingTask(t, "L1")
	require.NoError(t, s.Insert(ctx, task))

	require.Eventually(t, func() bool {
		got, err := s.Get(ctx, task.ID)
		return err == nil && got.Status == StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	sched.Stop()
	assert.False(t, sched.Running())
	assert.False(t, sched.Busy())
	sched.Stop()

	// a stopped scheduler leaves new work alone
	idle := newPendingTask(t, "L2")
	require.NoError(t, s.Insert(ctx, idle))
	time.Sleep(50 * time.Millisecond)
	got, err := s.Get(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestScheduler_WakeTicksEarly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	sched := newTestScheduler(t, s, okHandler(), SchedulerConfig{TickInterval: time.Hour})

	require.NoError(t, sched.Start())
	// let the initial tick find an empty queue
	time.Sleep(20 * time.Millisecond)

	task := newPendingTask(t, "L1")
	require.NoError(t, s.Insert(ctx, task))
	sched.Wake()
	sched.Wake()

	require.Eventually(t, func() bool {
		got, err := s.Get(ctx, task.ID)
		return err == nil && got.Status == StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_StopDrainsInFlightTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	var cancelled atomic.Bool
	entered := make(chan struct{})
	sched := newTestScheduler(t, s, HandlerFunc(func(ctx context.Context, task *Task, rec Recorder) (any, error) {
		close(entered)
		<-ctx.Done()
		cancelled.Store(true)
		return nil, ctx.Err()
	}), SchedulerConfig{TickInterval: 10 * time.Millisecond, DrainTimeout: 20 * time.Millisecond})

	task := newPendingTask(t, "L1")
	require.NoError(t, s.Insert(ctx, task))
	require.NoError(t, sched.Start())
	<-entered

	sched.Stop()
	assert.True(t, cancelled.Load())

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status, "the in-flight task still reaches a terminal state")
}

func TestScheduler_FailStaleTasks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	base := time.Now().UTC()
	now := base
	s.SetClock(func() time.Time { return now })

	sched := newTestScheduler(t, s, okHandler(), SchedulerConfig{StaleTaskAge: time.Minute})

	task := newPendingTask(t, "L1")
	require.NoError(t, s.Insert(ctx, task))
	_, err := s.ClaimByID(ctx, task.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, sched.FailStaleTasks(ctx))
	now = base.Add(2 * time.Minute)
	assert.Equal(t, 1, sched.FailStaleTasks(ctx))

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestScheduler_StartAfterBaseContextDone(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, _ := newTestProcessor(t, NewMemoryStore())
	sched := NewScheduler(ctx, NewMemoryStore(), p, SchedulerConfig{}, testLogger())
	assert.ErrorIs(t, sched.Start(), ErrSchedulerStopped)
	assert.False(t, sched.Running())
}

func TestDefaultSchedulerConfig(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	assert.Equal(t, 5*time.Second, cfg.TickInterval)
	assert.Equal(t, 30*time.Minute, cfg.StaleTaskAge)
	assert.Equal(t, 5*time.Minute, cfg.StaleCheckInterval)
}
