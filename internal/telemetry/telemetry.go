// Package telemetry wires OpenTelemetry metrics and traces for dataset
// generation. With no endpoint configured the global no-op providers are used.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

const (
	scopeName          = "github.com/dwsmith1983/tokamaksim"
	defaultServiceName = "tokamaksim"
	exportInterval     = 15 * time.Second
)

// Provider owns the SDK providers created by Setup.
type Provider struct {
	shutdown []func(context.Context) error
	inst     *Instruments
}

// Setup creates OTLP gRPC exporters when cfg.Endpoint is set and registers
// them globally. Without an endpoint it returns no-op instruments.
func Setup(ctx context.Context, cfg types.TelemetryConfig) (*Provider, error) {
	if cfg.Endpoint == "" {
		return &Provider{inst: Noop()}, nil
	}

	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	res := resource.NewSchemaless(attribute.String("service.name", name))

	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
	}

	mexp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	texp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		_ = mexp.Shutdown(ctx)
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(mexp, sdkmetric.WithInterval(exportInterval))),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(texp),
	)
	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	inst, err := NewInstruments(mp, tp)
	if err != nil {
		_ = mp.Shutdown(ctx)
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	return &Provider{
		shutdown: []func(context.Context) error{tp.Shutdown, mp.Shutdown},
		inst:     inst,
	}, nil
}

// Instruments returns the instruments bound to this provider.
func (p *Provider) Instruments() *Instruments { return p.inst }

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

// Instruments records generator metrics and spans. A nil *Instruments is
// valid and records nothing.
type Instruments struct {
	tracer            trace.Tracer
	scenarios         metric.Int64Counter
	stageDuration     metric.Float64Histogram
	snapshots         metric.Int64Counter
	handoffRejections metric.Int64Counter
	retries           metric.Int64Counter
}

// Noop returns instruments backed by no-op providers.
func Noop() *Instruments {
	inst, _ := NewInstruments(metricnoop.NewMeterProvider(), tracenoop.NewTracerProvider())
	return inst
}

// NewInstruments creates the generator instruments on the given providers.
func NewInstruments(mp metric.MeterProvider, tp trace.TracerProvider) (*Instruments, error) {
	meter := mp.Meter(scopeName)
	var err error
	i := &Instruments{tracer: tp.Tracer(scopeName)}

	if i.scenarios, err = meter.Int64Counter("tokamaksim.scenarios",
		metric.WithDescription("Scenarios finished, by outcome"),
	); err != nil {
		return nil, fmt.Errorf("scenarios counter: %w", err)
	}
	if i.stageDuration, err = meter.Float64Histogram("tokamaksim.stage.duration",
		metric.WithDescription("Stage run wall time"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("stage duration histogram: %w", err)
	}
	if i.snapshots, err = meter.Int64Counter("tokamaksim.stage.snapshots",
		metric.WithDescription("Snapshots captured from stage backends"),
	); err != nil {
		return nil, fmt.Errorf("snapshots counter: %w", err)
	}
	if i.handoffRejections, err = meter.Int64Counter("tokamaksim.handoff.rejections",
		metric.WithDescription("Handoff records rejected by validation"),
	); err != nil {
		return nil, fmt.Errorf("handoff rejections counter: %w", err)
	}
	if i.retries, err = meter.Int64Counter("tokamaksim.stage.retries",
		metric.WithDescription("Stage re-runs scheduled by the retry policy"),
	); err != nil {
		return nil, fmt.Errorf("retries counter: %w", err)
	}
	return i, nil
}

// ScenarioFinished counts one scenario outcome.
func (i *Instruments) ScenarioFinished(ctx context.Context, outcome types.Outcome) {
	if i == nil {
		return
	}
	i.scenarios.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

// StageFinished records a stage run's duration and snapshot count.
func (i *Instruments) StageFinished(ctx context.Context, r types.StageResult) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("stage", string(r.Stage)),
		attribute.String("status", string(r.Status)),
	)
	i.stageDuration.Record(ctx, r.Duration.Seconds(), attrs)
	i.snapshots.Add(ctx, int64(len(r.Series)), metric.WithAttributes(attribute.String("stage", string(r.Stage))))
}

// HandoffRejected counts a rejected handoff.
func (i *Instruments) HandoffRejected(ctx context.Context) {
	if i == nil {
		return
	}
	i.handoffRejections.Add(ctx, 1)
}

// Retry counts a scheduled stage retry.
func (i *Instruments) Retry(ctx context.Context, stage types.StageName, category types.FailureCategory) {
	if i == nil {
		return
	}
	i.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.String("category", string(category)),
	))
}

// Start opens a span. The returned span is never nil.
func (i *Instruments) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if i == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return i.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
