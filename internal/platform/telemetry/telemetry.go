// Package telemetry installs the OpenTelemetry SDK providers used by the
// pipeline spans, processor counters and HTTP instrumentation.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ShutdownFunc flushes and stops the installed providers.
type ShutdownFunc func(ctx context.Context) error

// Options configure Setup.
type Options struct {
	ServiceName    string
	Writer         io.Writer
	MetricInterval time.Duration
}

// Setup installs global tracer and meter providers that export to Writer
// (stdout when nil) and returns a function that shuts them down. Errors from
// the individual shutdowns are joined.
func Setup(ctx context.Context, opts Options) (ShutdownFunc, error) {
	var shutdownFuncs []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		shutdownFuncs = nil
		return err
	}

	if opts.MetricInterval <= 0 {
		opts.MetricInterval = time.Minute
	}

	res := resource.NewSchemaless(attribute.String("service.name", opts.ServiceName))

	traceOpts := []stdouttrace.Option{}
	metricOpts := []stdoutmetric.Option{}
	if opts.Writer != nil {
		traceOpts = append(traceOpts, stdouttrace.WithWriter(opts.Writer))
		metricOpts = append(metricOpts, stdoutmetric.WithWriter(opts.Writer))
	}

	traceExporter, err := stdouttrace.New(traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	shutdownFuncs = append(shutdownFuncs, tracerProvider.Shutdown)
	otel.SetTracerProvider(tracerProvider)

	metricExporter, err := stdoutmetric.New(metricOpts...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create metric exporter: %w", err), shutdown(ctx))
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(opts.MetricInterval))),
		sdkmetric.WithResource(res),
	)
	shutdownFuncs = append(shutdownFuncs, meterProvider.Shutdown)
	otel.SetMeterProvider(meterProvider)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return shutdown, nil
}
