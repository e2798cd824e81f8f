// Package store holds the persistence primitives shared by every task store
// backend: the DBTX abstraction over *sql.DB and *sql.Tx, transaction
// helpers, and the error vocabulary (ErrTaskNotFound, ErrDuplicateTask,
// ErrInvalidTransition, StoreError) that the rest of the service matches on.
package store
