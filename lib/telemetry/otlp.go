package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// grpc is preferred when both endpoints are configured.
func (c OtlpConnConfig) transport() (kind, endpoint string) {
	if c.GrpcEndpoint != "" {
		return "grpc", c.GrpcEndpoint
	}
	return "http", c.HttpEndpoint
}

func newTraceProvider(ctx context.Context, r *resource.Resource, config Config) (*trace.TracerProvider, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*3)
	defer cancel()

	conn := config.Otlp.Traces
	kind, endpoint := conn.transport()

	var (
		exporter trace.SpanExporter
		err      error
	)
	if kind == "grpc" {
		exporter, err = otlptracegrpc.New(
			ctx,
			otlptracegrpc.WithEndpointURL(endpoint),
			otlptracegrpc.WithHeaders(conn.Headers),
		)
	} else {
		exporter, err = otlptracehttp.New(
			ctx,
			otlptracehttp.WithEndpointURL(endpoint),
			otlptracehttp.WithHeaders(conn.Headers),
		)
	}
	if err != nil {
		return nil, err
	}
	slog.Info(
		"tracer export initialized",
		"type", kind,
		"endpoint", endpoint,
		"headers", len(conn.Headers) > 0,
	)

	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(r),
	), nil
}

func newMetricProvider(ctx context.Context, r *resource.Resource, config Config) (*metric.MeterProvider, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*3)
	defer cancel()

	conn := config.Otlp.Metrics
	kind, endpoint := conn.transport()

	var (
		exporter metric.Exporter
		err      error
	)
	if kind == "grpc" {
		exporter, err = otlpmetricgrpc.New(
			ctx,
			otlpmetricgrpc.WithEndpointURL(endpoint),
			otlpmetricgrpc.WithHeaders(conn.Headers),
		)
	} else {
		exporter, err = otlpmetrichttp.New(
			ctx,
			otlpmetrichttp.WithEndpointURL(endpoint),
			otlpmetrichttp.WithHeaders(conn.Headers),
		)
	}
	if err != nil {
		return nil, err
	}
	slog.Info(
		"metric exporter initialized",
		"type", kind,
		"endpoint", endpoint,
		"headers", len(conn.Headers) > 0,
	)

	return metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(time.Second*15))),
		metric.WithResource(r),
	), nil
}
