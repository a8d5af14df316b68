package telemetry

import (
	"context"
	"errors"
	"os"
	"time"
	"solwatch/lib/configutil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Telemetry holds the otel providers, a zero Telemetry (no config found) is
// valid and its Shutdown is a no-op.
type Telemetry struct {
	TracerProvider *trace.TracerProvider
	MeterProvider  *metric.MeterProvider
}

func (t Telemetry) Shutdown(ctx context.Context) error {
	errlist := []error{}
	if t.TracerProvider != nil {
		err := t.TracerProvider.Shutdown(ctx)
		if err != nil {
			errlist = append(errlist, err)
		}
	}
	if t.MeterProvider != nil {
		err := t.MeterProvider.Shutdown(ctx)
		if err != nil {
			errlist = append(errlist, err)
		}
	}
	return errors.Join(errlist...)
}

type OtlpConnConfig struct {
	GrpcEndpoint string            `json:"grpc_endpoint"`
	HttpEndpoint string            `json:"http_endpoint"`
	Headers      map[string]string `json:"headers"`
}

type OtlpConfig struct {
	Traces  OtlpConnConfig `json:"traces"`
	Metrics OtlpConnConfig `json:"metrics"`
}

type Config struct {
	Otlp OtlpConfig `json:"otlp"`
}

// SetupFromEnv searches up the filesystem from the cwd to find a file called
// telemetry.json5, once found it will then use it as a config to setup
// telemetry. When there is no such file, exporting is disabled and the global
// no-op providers stay in place.
func SetupFromEnv(ctx context.Context, serviceName string) (Telemetry, error) {
	config, err := configutil.ReadRecursively[Config]("telemetry.json5")
	if errors.Is(err, os.ErrNotExist) {
		return Telemetry{}, nil
	}
	if err != nil {
		return Telemetry{}, err
	}
	return Setup(ctx, serviceName, config)
}

func Setup(ctx context.Context, serviceName string, config Config) (Telemetry, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*15)
	defer cancel()

	r, err := newResource(serviceName)
	if err != nil {
		return Telemetry{}, err
	}

	tel := Telemetry{}
	if config.Otlp.Traces.GrpcEndpoint != "" || config.Otlp.Traces.HttpEndpoint != "" {
		tel.TracerProvider, err = newTraceProvider(ctx, r, config)
		if err != nil {
			return Telemetry{}, err
		}
		otel.SetTracerProvider(tel.TracerProvider)
	}
	if config.Otlp.Metrics.GrpcEndpoint != "" || config.Otlp.Metrics.HttpEndpoint != "" {
		tel.MeterProvider, err = newMetricProvider(ctx, r, config)
		if err != nil {
			tel.Shutdown(context.Background())
			return Telemetry{}, err
		}
		otel.SetMeterProvider(tel.MeterProvider)
	}

	return tel, nil
}

func newResource(serviceName string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
}
