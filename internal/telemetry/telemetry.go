// Package telemetry wires OpenTelemetry tracing and metrics, grounded on
// zkoranges-go-claw's internal/otel package: when disabled, every
// operation is a no-op with zero overhead; when enabled, spans/metrics
// export via the stdout exporter (no collector required to observe the
// service locally).
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const (
	TracerName = "opencodemem"
	MeterName  = "opencodemem"
)

// Config controls telemetry export.
type Config struct {
	Enabled     bool   `json:"enabled" env:"OTEL_ENABLED"`
	ServiceName string `json:"service_name" env:"OTEL_SERVICE_NAME"`
}

// Provider wraps a tracer, meter, and their instruments.
type Provider struct {
	Tracer     trace.Tracer
	Meter      metric.Meter
	Metrics    *Metrics
	RouteStats *RouteStats
	shutdown   func(context.Context) error
}

// Init builds a Provider. With cfg.Enabled false it returns a no-op
// provider so instrumented code pays no cost when telemetry is off.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		meter := noop.NewMeterProvider().Meter(MeterName)
		m, _ := NewMetrics(meter)
		return &Provider{
			Tracer:     nooptrace.NewTracerProvider().Tracer(TracerName),
			Meter:      meter,
			Metrics:    m,
			RouteStats: NewRouteStats(),
			shutdown:   func(context.Context) error { return nil },
		}, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "opencodemem"
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	meter := mp.Meter(MeterName)
	m, err := NewMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create metrics: %w", err)
	}

	return &Provider{
		Tracer:     tp.Tracer(TracerName),
		Meter:      meter,
		Metrics:    m,
		RouteStats: NewRouteStats(),
		shutdown: func(ctx context.Context) error {
			tErr := tp.Shutdown(ctx)
			mErr := mp.Shutdown(ctx)
			if tErr != nil {
				return tErr
			}
			return mErr
		},
	}, nil
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}
