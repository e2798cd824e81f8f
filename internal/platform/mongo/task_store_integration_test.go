//go:build integration

package mongo_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lottery-keeper/internal/ciutil"
	mongostore "github.com/phrazzld/lottery-keeper/internal/platform/mongo"
	"github.com/phrazzld/lottery-keeper/internal/store"
	"github.com/phrazzld/lottery-keeper/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *mongostore.MongoTaskStore {
	t.Helper()
	uri := ciutil.TestMongoURI(nil)
	if uri == "" {
		t.Skip("no MongoDB configured for integration tests")
	}

	ctx := context.Background()
	client, err := mongostore.Connect(ctx, uri)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	db := client.Database("taskQueue_test_" + uuid.NewString()[:8])
	t.Cleanup(func() { _ = db.Drop(context.Background()) })

	s := mongostore.NewMongoTaskStore(db, nil)
	require.NoError(t, s.EnsureIndexes(ctx))
	return s
}

func newTask(lotteryID string) *task.Task {
	return task.NewTask(
		task.ActionSelectWinner,
		[]byte(`{"lotteryId":"`+lotteryID+`"}`),
		task.DedupKey(task.ActionSelectWinner, "", lotteryID),
	)
}

func TestMongoTaskStore_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := newTask("L1")
	require.NoError(t, s.Insert(ctx, tk))
	assert.ErrorIs(t, s.Insert(ctx, newTask("L1")), store.ErrDuplicateTask)

	claimed, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, tk.ID, claimed.ID)
	assert.Equal(t, task.StatusInProgress, claimed.Status)

	_, err = s.ClaimByID(ctx, tk.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotClaimable)

	require.NoError(t, s.AppendLog(ctx, tk.ID, task.NewLogEntry(task.LevelInfo, "first", nil)))
	require.NoError(t, s.Fail(ctx, tk.ID, "boom", ""))
	assert.ErrorIs(t, s.Fail(ctx, tk.ID, "again", ""), store.ErrInvalidTransition)

	other := newTask("L1")
	require.NoError(t, s.Insert(ctx, other))
	assert.ErrorIs(t, s.Reset(ctx, tk.ID), store.ErrDuplicateTask)

	_, err = s.ClaimByID(ctx, other.ID)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, other.ID, []byte(`{"winner":"bob"}`)))

	done, err := s.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"winner":"bob"}`, string(done.Result))
	require.NotNil(t, done.CompletedAt)

	require.NoError(t, s.Reset(ctx, tk.ID))
	reset, err := s.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, reset.Status)
	assert.Empty(t, reset.Error)
	assert.Nil(t, reset.FailedAt)
	require.Len(t, reset.Logs, 2)
	assert.Equal(t, "Task reset to pending by operator", reset.Logs[1].Message)

	_, err = s.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestMongoTaskStore_ConcurrentClaims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const tasks, claimers = 4, 10
	for i := 0; i < tasks; i++ {
		require.NoError(t, s.Insert(ctx, newTask(uuid.NewString())))
	}

	var (
		mu      sync.Mutex
		claimed = map[uuid.UUID]int{}
		wg      sync.WaitGroup
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.ClaimNextPending(ctx)
			assert.NoError(t, err)
			if got != nil {
				mu.Lock()
				claimed[got.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, tasks)
	for _, n := range claimed {
		assert.Equal(t, 1, n)
	}
}

func TestMongoTaskStore_FailStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := newTask("L2")
	require.NoError(t, s.Insert(ctx, tk))
	s.SetClock(func() time.Time { return time.Now().UTC().Add(-time.Hour) })
	_, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	s.SetClock(func() time.Time { return time.Now().UTC() })

	ids, err := s.FailStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{tk.ID}, ids)

	got, err := s.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, task.StaleTaskError, got.Error)
}
