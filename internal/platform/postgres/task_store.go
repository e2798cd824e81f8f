package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lottery-keeper/internal/store"
	"github.com/phrazzld/lottery-keeper/internal/task"
)

const taskColumns = `id, action, params, status, result, error, error_stack, dedup_key,
	created_at, updated_at, processing_started_at, completed_at, failed_at`

// PostgresTaskStore implements task.Store on PostgreSQL.
type PostgresTaskStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ task.Store = (*PostgresTaskStore)(nil)

// NewPostgresTaskStore creates a store over an open pgx-backed *sql.DB.
func NewPostgresTaskStore(db *sql.DB, logger *slog.Logger) *PostgresTaskStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTaskStore{
		db:     db,
		logger: logger.With("component", "postgres_task_store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the store clock.
func (s *PostgresTaskStore) SetClock(now func() time.Time) {
	s.now = now
}

// Insert implements task.Store. The partial unique index on dedup_key turns
// a concurrent duplicate into store.ErrDuplicateTask.
func (s *PostgresTaskStore) Insert(ctx context.Context, t *task.Task) error {
	insert := func(ctx context.Context, db store.DBTX) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO tasks (id, action, params, status, dedup_key, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			t.ID,
			string(t.Action),
			jsonParam(t.Params, "{}"),
			string(task.StatusPending),
			t.DedupKey,
			t.CreatedAt,
			t.UpdatedAt,
		)
		if err != nil {
			return wrapStoreError("insert", err)
		}
		for _, entry := range t.Logs {
			if err := insertLog(ctx, db, t.ID, entry); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if len(t.Logs) == 0 {
		err = insert(ctx, s.db)
	} else {
		err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
			return insert(ctx, tx)
		})
	}
	if err != nil {
		if errors.Is(err, store.ErrDuplicateTask) {
			s.logger.Debug("duplicate active task", "dedup_key", t.DedupKey)
		} else {
			s.logger.Error("failed to insert task", "task_id", t.ID, "error", err)
		}
		return err
	}
	return nil
}

// ClaimNextPending implements task.Store. SKIP LOCKED lets concurrent
// claimers pass over a row another transaction is already claiming.
func (s *PostgresTaskStore) ClaimNextPending(ctx context.Context) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET status = 'in-progress', processing_started_at = $1, updated_at = $1
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = 'pending'
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		s.now(),
	)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("failed to claim next pending task", "error", err)
		return nil, wrapStoreError("claim", err)
	}
	if err := s.attachLogs(ctx, s.db, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ClaimByID implements task.Store.
func (s *PostgresTaskStore) ClaimByID(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET status = 'in-progress', processing_started_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING `+taskColumns,
		id,
		s.now(),
	)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.transitionError(ctx, s.db, id, store.ErrTaskNotClaimable)
	}
	if err != nil {
		return nil, wrapStoreError("claim_by_id", err)
	}
	if err := s.attachLogs(ctx, s.db, t); err != nil {
		return nil, err
	}
	return t, nil
}

// AppendLog implements task.Store.
func (s *PostgresTaskStore) AppendLog(ctx context.Context, id uuid.UUID, entry task.LogEntry) error {
	res, err := s.db.ExecContext(ctx, `
		WITH touched AS (
			UPDATE tasks SET updated_at = $2 WHERE id = $1 RETURNING id
		)
		INSERT INTO task_logs (task_id, timestamp, message, level, data)
		SELECT id, $3, $4, $5, $6 FROM touched
	`,
		id,
		s.now(),
		entry.Timestamp,
		entry.Message,
		string(entry.Level),
		jsonParam(entry.Data, ""),
	)
	if err != nil {
		return wrapStoreError("append_log", err)
	}
	n, err := rowsAffected(res, "append_log")
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}

// Complete implements task.Store.
func (s *PostgresTaskStore) Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'completed', result = $2, completed_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'in-progress'
	`, id, jsonParam(result, ""), s.now())
	if err != nil {
		return wrapStoreError("complete", err)
	}
	return s.checkTransition(ctx, res, id, "complete")
}

// Fail implements task.Store.
func (s *PostgresTaskStore) Fail(ctx context.Context, id uuid.UUID, message, stack string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'failed', error = $2, error_stack = $3, failed_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'in-progress'
	`, id, message, nullString(stack), s.now())
	if err != nil {
		return wrapStoreError("fail", err)
	}
	return s.checkTransition(ctx, res, id, "fail")
}

// Get implements task.Store.
func (s *PostgresTaskStore) Get(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, wrapStoreError("get", err)
	}
	if err := s.attachLogs(ctx, s.db, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Reset implements task.Store. The status change and its audit entry are
// written in one transaction.
func (s *PostgresTaskStore) Reset(ctx context.Context, id uuid.UUID) error {
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		now := s.now()
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET status = 'pending', error = NULL, error_stack = NULL,
				processing_started_at = NULL, failed_at = NULL, updated_at = $2
			WHERE id = $1 AND status = 'failed'
		`, id, now)
		if err != nil {
			return wrapStoreError("reset", err)
		}
		n, err := rowsAffected(res, "reset")
		if err != nil {
			return err
		}
		if n == 0 {
			return s.transitionError(ctx, tx, id, store.ErrInvalidTransition)
		}
		entry := task.NewLogEntry(task.LevelInfo, "Task reset to pending by operator", nil)
		entry.Timestamp = now
		return insertLog(ctx, tx, id, entry)
	})
}

// ListPending implements task.Store. Logs are not loaded.
func (s *PostgresTaskStore) ListPending(ctx context.Context) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status = 'pending'
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, wrapStoreError("list_pending", err)
	}
	defer func() { _ = rows.Close() }()

	var pending []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, wrapStoreError("list_pending", err)
		}
		pending = append(pending, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError("list_pending", err)
	}
	return pending, nil
}

// FailStale implements task.Store.
func (s *PostgresTaskStore) FailStale(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		now := s.now()
		rows, err := tx.QueryContext(ctx, `
			UPDATE tasks
			SET status = 'failed', error = $2, failed_at = $1, updated_at = $1
			WHERE status = 'in-progress' AND processing_started_at < $3
			RETURNING id
		`, now, task.StaleTaskError, now.Add(-olderThan))
		if err != nil {
			return wrapStoreError("fail_stale", err)
		}
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return wrapStoreError("fail_stale", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Close(); err != nil {
			return wrapStoreError("fail_stale", err)
		}
		if err := rows.Err(); err != nil {
			return wrapStoreError("fail_stale", err)
		}

		for _, id := range ids {
			entry := task.NewLogEntry(task.LevelError, task.StaleTaskError, nil)
			entry.Timestamp = now
			if err := insertLog(ctx, tx, id, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *PostgresTaskStore) checkTransition(ctx context.Context, res sql.Result, id uuid.UUID, operation string) error {
	n, err := rowsAffected(res, operation)
	if err != nil {
		return err
	}
	if n == 0 {
		return s.transitionError(ctx, s.db, id, store.ErrInvalidTransition)
	}
	return nil
}

// transitionError resolves a conditional update that matched no row into
// ErrTaskNotFound or the given transition error.
func (s *PostgresTaskStore) transitionError(ctx context.Context, db store.DBTX, id uuid.UUID, transitionErr error) error {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return wrapStoreError("exists", err)
	}
	if !exists {
		return store.ErrTaskNotFound
	}
	return transitionErr
}

func (s *PostgresTaskStore) attachLogs(ctx context.Context, db store.DBTX, t *task.Task) error {
	rows, err := db.QueryContext(ctx, `
		SELECT timestamp, message, level, data
		FROM task_logs
		WHERE task_id = $1
		ORDER BY id ASC
	`, t.ID)
	if err != nil {
		return wrapStoreError("load_logs", err)
	}
	defer func() { _ = rows.Close() }()

	logs := []task.LogEntry{}
	for rows.Next() {
		var (
			entry task.LogEntry
			level string
			data  []byte
		)
		if err := rows.Scan(&entry.Timestamp, &entry.Message, &level, &data); err != nil {
			return wrapStoreError("load_logs", err)
		}
		entry.Level = task.Level(level)
		if len(data) > 0 {
			entry.Data = json.RawMessage(data)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return wrapStoreError("load_logs", err)
	}
	t.Logs = logs
	return nil
}

func insertLog(ctx context.Context, db store.DBTX, id uuid.UUID, entry task.LogEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO task_logs (task_id, timestamp, message, level, data)
		VALUES ($1, $2, $3, $4, $5)
	`, id, entry.Timestamp, entry.Message, string(entry.Level), jsonParam(entry.Data, ""))
	if err != nil {
		return wrapStoreError("append_log", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t                                task.Task
		action, status                   string
		params, result                   []byte
		errMsg, errStack                 sql.NullString
		startedAt, completedAt, failedAt sql.NullTime
	)
	err := row.Scan(
		&t.ID,
		&action,
		&params,
		&status,
		&result,
		&errMsg,
		&errStack,
		&t.DedupKey,
		&t.CreatedAt,
		&t.UpdatedAt,
		&startedAt,
		&completedAt,
		&failedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Action = task.Action(action)
	t.Status = task.Status(status)
	t.Params = json.RawMessage(params)
	if len(result) > 0 {
		t.Result = json.RawMessage(result)
	}
	t.Error = errMsg.String
	t.ErrorStack = errStack.String
	t.ProcessingStartedAt = timePtr(startedAt)
	t.CompletedAt = timePtr(completedAt)
	t.FailedAt = timePtr(failedAt)
	t.Logs = []task.LogEntry{}
	return &t, nil
}

// jsonParam passes JSON as text so the driver casts it into jsonb. Empty
// input becomes fallback, or NULL when fallback is empty.
func jsonParam(raw json.RawMessage, fallback string) any {
	if len(raw) == 0 {
		if fallback == "" {
			return nil
		}
		return fallback
	}
	return string(raw)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
