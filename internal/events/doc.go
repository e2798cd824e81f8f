// Package events carries task lifecycle events (enqueued, claimed,
// completed, failed, reset) from the task package to any number of
// handlers without the task package knowing about transports.
//
// The primary components are:
// - TaskEvent: one lifecycle transition of one task
// - EventHandler: interface for components that consume events
// - EventEmitter: interface for components that publish events
// - InMemoryEventEmitter: synchronous in-process fan-out
package events
