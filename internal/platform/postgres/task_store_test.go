package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/lottery-keeper/internal/store"
	"github.com/phrazzld/lottery-keeper/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var taskColumnNames = []string{
	"id", "action", "params", "status", "result", "error", "error_stack", "dedup_key",
	"created_at", "updated_at", "processing_started_at", "completed_at", "failed_at",
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*PostgresTaskStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := NewPostgresTaskStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.SetClock(func() time.Time { return fixedNow })
	return s, mock
}

func q(fragment string) string {
	return regexp.QuoteMeta(fragment)
}

func taskRow(id uuid.UUID, status string, startedAt any) []driver.Value {
	return []driver.Value{
		id.String(), "selectWinner", []byte(`{"lotteryId":"L1"}`), status, nil, nil, nil,
		"selectWinner:*:L1", fixedNow.Add(-time.Minute), fixedNow, startedAt, nil, nil,
	}
}

func TestInsert(t *testing.T) {
	t.Parallel()

	tk := task.NewTask(task.ActionSelectWinner, []byte(`{"lotteryId":"L1"}`), "selectWinner:*:L1")

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		mock.ExpectExec(q("INSERT INTO tasks")).
			WithArgs(tk.ID, "selectWinner", `{"lotteryId":"L1"}`, "pending", "selectWinner:*:L1", tk.CreatedAt, tk.UpdatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.Insert(context.Background(), tk))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate active task", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		mock.ExpectExec(q("INSERT INTO tasks")).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "tasks_active_dedup_key_idx"})

		err := s.Insert(context.Background(), tk)
		assert.ErrorIs(t, err, store.ErrDuplicateTask)
		assert.False(t, store.IsStoreError(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("connection failure is a store error", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		mock.ExpectExec(q("INSERT INTO tasks")).WillReturnError(errors.New("connection reset"))

		err := s.Insert(context.Background(), tk)
		assert.True(t, store.IsStoreError(err))
		assert.NotErrorIs(t, err, store.ErrDuplicateTask)
	})
}

func TestClaimNextPending(t *testing.T) {
	t.Parallel()

	t.Run("nothing pending", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		mock.ExpectQuery(q("FOR UPDATE SKIP LOCKED")).
			WithArgs(fixedNow).
			WillReturnRows(sqlmock.NewRows(taskColumnNames))

		claimed, err := s.ClaimNextPending(context.Background())
		require.NoError(t, err)
		assert.Nil(t, claimed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("claims with logs", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		id := uuid.New()
		mock.ExpectQuery(q("FOR UPDATE SKIP LOCKED")).
			WithArgs(fixedNow).
			WillReturnRows(sqlmock.NewRows(taskColumnNames).AddRow(taskRow(id, "in-progress", fixedNow)...))
		mock.ExpectQuery(q("FROM task_logs")).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"timestamp", "message", "level", "data"}).
				AddRow(fixedNow, "Task reset to pending by operator", "info", nil))

		claimed, err := s.ClaimNextPending(context.Background())
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, id, claimed.ID)
		assert.Equal(t, task.StatusInProgress, claimed.Status)
		assert.Equal(t, task.ActionSelectWinner, claimed.Action)
		require.NotNil(t, claimed.ProcessingStartedAt)
		assert.True(t, fixedNow.Equal(*claimed.ProcessingStartedAt))
		assert.Nil(t, claimed.CompletedAt)
		require.Len(t, claimed.Logs, 1)
		assert.Equal(t, task.LevelInfo, claimed.Logs[0].Level)
		assert.Nil(t, claimed.Logs[0].Data)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestClaimByID_NoMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		exists bool
		want   error
	}{
		{name: "not pending", exists: true, want: store.ErrTaskNotClaimable},
		{name: "missing", exists: false, want: store.ErrTaskNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, mock := newMockStore(t)
			id := uuid.New()
			mock.ExpectQuery(q("WHERE id = $1 AND status = 'pending'")).
				WithArgs(id, fixedNow).
				WillReturnRows(sqlmock.NewRows(taskColumnNames))
			mock.ExpectQuery(q("SELECT EXISTS")).
				WithArgs(id).
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.exists))

			claimed, err := s.ClaimByID(context.Background(), id)
			assert.Nil(t, claimed)
			assert.ErrorIs(t, err, tt.want)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAppendLog(t *testing.T) {
	t.Parallel()

	entry := task.NewLogEntry(task.LevelSuccess, "Randomness committed", map[string]string{"step": "commit"})

	t.Run("appends", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		id := uuid.New()
		mock.ExpectExec(q("INSERT INTO task_logs")).
			WithArgs(id, fixedNow, entry.Timestamp, "Randomness committed", "success", `{"step":"commit"}`).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, s.AppendLog(context.Background(), id, entry))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown task", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		mock.ExpectExec(q("INSERT INTO task_logs")).WillReturnResult(sqlmock.NewResult(0, 0))

		err := s.AppendLog(context.Background(), uuid.New(), entry)
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})
}

func TestCompleteAndFail(t *testing.T) {
	t.Parallel()

	t.Run("complete stores result", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		id := uuid.New()
		mock.ExpectExec(q("SET status = 'completed'")).
			WithArgs(id, `{"winner":"bob"}`, fixedNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.Complete(context.Background(), id, []byte(`{"winner":"bob"}`)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("complete on a non in-progress task", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		id := uuid.New()
		mock.ExpectExec(q("SET status = 'completed'")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q("SELECT EXISTS")).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		err := s.Complete(context.Background(), id, nil)
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fail without stack stores NULL", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		id := uuid.New()
		mock.ExpectExec(q("SET status = 'failed'")).
			WithArgs(id, "boom", nil, fixedNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.Fail(context.Background(), id, "boom", ""))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGet(t *testing.T) {
	t.Parallel()

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		mock.ExpectQuery(q("FROM tasks WHERE id = $1")).WillReturnRows(sqlmock.NewRows(taskColumnNames))

		_, err := s.Get(context.Background(), uuid.New())
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})

	t.Run("failed task", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		id := uuid.New()
		row := taskRow(id, "failed", fixedNow.Add(-time.Second))
		row[5] = "no participants in the lottery"
		row[12] = fixedNow
		mock.ExpectQuery(q("FROM tasks WHERE id = $1")).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(taskColumnNames).AddRow(row...))
		mock.ExpectQuery(q("FROM task_logs")).
			WillReturnRows(sqlmock.NewRows([]string{"timestamp", "message", "level", "data"}))

		got, err := s.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, task.StatusFailed, got.Status)
		assert.Equal(t, "no participants in the lottery", got.Error)
		assert.Empty(t, got.ErrorStack)
		require.NotNil(t, got.FailedAt)
		assert.NotNil(t, got.Logs)
		assert.Empty(t, got.Logs)
	})
}

func TestReset(t *testing.T) {
	t.Parallel()

	t.Run("writes status and log in one transaction", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		id := uuid.New()
		mock.ExpectBegin()
		mock.ExpectExec(q("SET status = 'pending'")).
			WithArgs(id, fixedNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(q("INSERT INTO task_logs")).
			WithArgs(id, fixedNow, "Task reset to pending by operator", "info", nil).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		require.NoError(t, s.Reset(context.Background(), id))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("dedup key taken", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(q("SET status = 'pending'")).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "tasks_active_dedup_key_idx"})
		mock.ExpectRollback()

		err := s.Reset(context.Background(), uuid.New())
		assert.ErrorIs(t, err, store.ErrDuplicateTask)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not failed", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		id := uuid.New()
		mock.ExpectBegin()
		mock.ExpectExec(q("SET status = 'pending'")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q("SELECT EXISTS")).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		err := s.Reset(context.Background(), id)
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListPending(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	first, second := uuid.New(), uuid.New()
	mock.ExpectQuery(q("WHERE status = 'pending'")).
		WillReturnRows(sqlmock.NewRows(taskColumnNames).
			AddRow(taskRow(first, "pending", nil)...).
			AddRow(taskRow(second, "pending", nil)...))

	pending, err := s.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first, pending[0].ID)
	assert.Equal(t, second, pending[1].ID)
	assert.Nil(t, pending[0].ProcessingStartedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailStale(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	a, b := uuid.New(), uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(q("processing_started_at < $3")).
		WithArgs(fixedNow, task.StaleTaskError, fixedNow.Add(-30*time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(a.String()).AddRow(b.String()))
	mock.ExpectExec(q("INSERT INTO task_logs")).
		WithArgs(a, fixedNow, task.StaleTaskError, "error", nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(q("INSERT INTO task_logs")).
		WithArgs(b, fixedNow, task.StaleTaskError, "error", nil).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	ids, err := s.FailStale(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
