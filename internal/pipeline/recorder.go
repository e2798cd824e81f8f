package pipeline

import "context"

// Level is the severity of a progress entry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Recorder receives progress entries as the pipeline runs. Implementations
// must persist entries in call order.
type Recorder interface {
	Record(ctx context.Context, level Level, message string, data map[string]any)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, level Level, message string, data map[string]any)

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, level Level, message string, data map[string]any) {
	f(ctx, level, message, data)
}

// Discard drops every entry.
var Discard Recorder = RecorderFunc(func(context.Context, Level, string, map[string]any) {})
