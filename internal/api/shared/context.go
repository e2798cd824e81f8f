package shared

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"go.opentelemetry.io/otel/trace"
)

// ContextKey is the type of request context keys set by the api packages.
type ContextKey string

const (
	// OperatorContextKey holds the operator name of an authenticated request
	OperatorContextKey ContextKey = "operator"

	// TraceIDKey is the key for the trace ID in the request context
	TraceIDKey ContextKey = "traceID"

	// TraceIDLength is the number of random bytes in a generated trace ID
	TraceIDLength = 16
)

// SetTraceID adds a trace ID to the context. The OpenTelemetry trace ID of
// the active span is reused when there is one, so that error responses can
// be matched with exported spans.
func SetTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceIDFor(ctx))
}

// GetTraceID retrieves the trace ID from the context.
// If no trace ID exists, it returns an empty string.
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}

// WithOperator stores the authenticated operator name.
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, OperatorContextKey, operator)
}

// GetOperator returns the authenticated operator, if any.
func GetOperator(ctx context.Context) (string, bool) {
	operator, ok := ctx.Value(OperatorContextKey).(string)
	return operator, ok && operator != ""
}

func traceIDFor(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	b := make([]byte, TraceIDLength)
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
