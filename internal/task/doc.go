// Package task is the background task orchestrator: the task record model
// and store contract, the processor that runs a claimed task to exactly one
// terminal state, the single-worker scheduler that claims pending tasks on
// a fixed cadence, and the service behind the task API.
//
// Coordination between processes happens only through atomic store
// operations (insert-if-no-active-duplicate, claim, guarded terminal
// transitions); the in-process reentrancy flag only keeps this worker from
// overlapping with itself.
package task
