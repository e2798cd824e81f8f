package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func TestSetTraceID(t *testing.T) {
	t.Run("random when no span", func(t *testing.T) {
		a := GetTraceID(SetTraceID(context.Background()))
		b := GetTraceID(SetTraceID(context.Background()))
		assert.Len(t, a, 2*TraceIDLength)
		assert.NotEqual(t, a, b)
	})

	t.Run("reuses span trace id", func(t *testing.T) {
		tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
		sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
		sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid})
		ctx := trace.ContextWithSpanContext(context.Background(), sc)

		assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", GetTraceID(SetTraceID(ctx)))
	})

	assert.Empty(t, GetTraceID(context.Background()))
}

func TestOperatorContext(t *testing.T) {
	_, ok := GetOperator(context.Background())
	assert.False(t, ok)

	_, ok = GetOperator(WithOperator(context.Background(), ""))
	assert.False(t, ok)

	op, ok := GetOperator(WithOperator(context.Background(), "alice"))
	assert.True(t, ok)
	assert.Equal(t, "alice", op)
}
