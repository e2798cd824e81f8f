package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/lottery-keeper/internal/store"
)

// SQLSTATE codes the task store cares about.
const (
	sqlStateUniqueViolation  = "23505"
	sqlStateCheckViolation   = "23514"
	sqlStateNotNullViolation = "23502"
)

// activeDedupIndex is the partial unique index that enforces one active
// task per dedup key.
const activeDedupIndex = "tasks_active_dedup_key_idx"

// MapError translates a driver error into the store's sentinel errors. The
// driver error stays in the message; errors it does not recognize are
// returned unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case sqlStateUniqueViolation:
		if pgErr.ConstraintName == activeDedupIndex {
			return fmt.Errorf("%w: %v", store.ErrDuplicateTask, err)
		}
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	case sqlStateCheckViolation:
		return fmt.Errorf("%w: check %s: %v", store.ErrInvalidEntity, pgErr.ConstraintName, err)
	case sqlStateNotNullViolation:
		return fmt.Errorf("%w: column %s is required: %v", store.ErrInvalidEntity, pgErr.ColumnName, err)
	default:
		return err
	}
}

// wrapStoreError passes domain outcomes through and wraps everything else,
// connection loss and timeouts included, in a StoreError.
func wrapStoreError(operation string, err error) error {
	mapped := MapError(err)
	if errors.Is(mapped, store.ErrDuplicate) || errors.Is(mapped, store.ErrInvalidEntity) {
		return mapped
	}
	return store.NewStoreError("task", operation, "database error", mapped)
}

func rowsAffected(result sql.Result, operation string) (int64, error) {
	if result == nil {
		return 0, store.NewStoreError("task", operation, "nil result", nil)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, store.NewStoreError("task", operation, "rows affected", err)
	}
	return n, nil
}
