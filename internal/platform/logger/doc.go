// Package logger provides structured logging functionality for the service.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels, and carries request- or task-scoped loggers through
// context.Context so that store and pipeline code log with the caller's attributes.
package logger
