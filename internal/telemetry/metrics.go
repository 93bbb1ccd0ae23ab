package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// SetupMeterProvider installs a global OTel meter provider backed by an
// OTLP/gRPC exporter when endpoint is non-empty. When endpoint is empty
// the global default (no-op) meter provider is left in place, so callers
// that create instruments via otel.Meter(...) pay no cost and emit
// nothing — this is the common case for tests and for operators who
// haven't configured a metrics backend.
//
// The returned shutdown func must be called on process exit; it is a
// no-op when no provider was installed.
func SetupMeterProvider(ctx context.Context, endpoint string) (shutdown func(context.Context) error, err error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("telemetry: build otlp metric exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(provider)

	return provider.Shutdown, nil
}

// Meter returns the named meter from whatever global provider is
// currently installed (real or no-op).
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}
