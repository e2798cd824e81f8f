package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetup_ExportsSpansOnShutdown(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Setup(context.Background(), Options{ServiceName: "lottery-keeper-test", Writer: &buf})
	require.NoError(t, err)

	_, span := otel.Tracer("telemetry_test").Start(context.Background(), "pipeline.test")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "pipeline.test")
	assert.Contains(t, buf.String(), "lottery-keeper-test")

	// A second shutdown is a no-op.
	assert.NoError(t, shutdown(context.Background()))
}
