// Package postgres provides the PostgreSQL implementation of task.Store and
// the embedded goose migrations that create its schema.
//
// Tasks live in the tasks table; their audit trail lives in task_logs, one
// row per entry, read back in insertion order. At most one active (pending or
// in-progress) task per dedup key is enforced by a partial unique index, and
// claims use FOR UPDATE SKIP LOCKED so that concurrent pollers never receive
// the same task.
package postgres
