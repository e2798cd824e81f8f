package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/phrazzld/lottery-keeper/internal/platform/logger"
	"github.com/phrazzld/lottery-keeper/internal/redact"
)

// TxFn runs inside a transaction opened by RunInTransaction.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// TxBeginner is implemented by *sql.DB.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// RunInTransaction commits when fn returns nil and rolls back otherwise.
// A panic in fn rolls back and is re-raised. Begin and commit failures wrap
// ErrTransactionFailed; an error from fn is returned as is unless the
// rollback also fails.
func RunInTransaction(ctx context.Context, db TxBeginner, fn TxFn) (err error) {
	log := logger.FromContext(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		log.ErrorContext(ctx, "begin transaction", redact.ErrorAttr(err))
		return fmt.Errorf("%w: begin: %v", ErrTransactionFailed, err)
	}

	done := false
	defer func() {
		if done {
			return
		}
		p := recover()
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.ErrorContext(ctx, "roll back transaction", redact.ErrorAttr(rbErr), "panicked", p != nil)
			if p == nil {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
		if p != nil {
			// ALLOW-PANIC: re-raise after rollback
			panic(p)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		log.ErrorContext(ctx, "commit transaction", redact.ErrorAttr(err))
		return fmt.Errorf("%w: commit: %v", ErrTransactionFailed, err)
	}
	done = true
	return nil
}
