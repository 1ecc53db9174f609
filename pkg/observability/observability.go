// Package observability wires OpenTelemetry traces and metrics into PILGRIM.
//
// Every submission, receipt verification and ledger check runs inside
// TrackOperation, which yields one span plus RED counters. With export
// disabled the Provider binds to the global no-op providers, so a zero
// configuration is always safe to use.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scope = "pilgrim.attest"

// Config selects the OTLP collector and sampling. The zero value disables export.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // gRPC host:port
	SampleRate     float64 // clamped to [0, 1]
	FlushInterval  time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig has export switched off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "pilgrim",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		FlushInterval:  5 * time.Second,
	}
}

// ForEndpoint enables plaintext export to endpoint. An empty endpoint keeps
// the defaults.
func ForEndpoint(endpoint string) *Config {
	c := DefaultConfig()
	if endpoint == "" {
		return c
	}
	c.OTLPEndpoint = endpoint
	c.Enabled = true
	c.Insecure = true
	return c
}

// instruments are the counters the attestation path reports into.
type instruments struct {
	operations metric.Int64Counter
	errors     metric.Int64Counter
	inflight   metric.Int64UpDownCounter
	latency    metric.Float64Histogram
	runs       metric.Int64Counter
	drift      metric.Int64Counter
	appends    metric.Int64Counter
}

// Provider owns the tracer and meter. Providers created by New are flushed
// by Shutdown; those passed to NewWithProviders belong to the caller.
type Provider struct {
	cfg    *Config
	tp     *sdktrace.TracerProvider
	mp     *sdkmetric.MeterProvider
	tracer trace.Tracer
	meter  metric.Meter
	inst   instruments
	log    *slog.Logger
}

// New builds a Provider from config. A nil config means DefaultConfig.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{cfg: config, log: slog.Default().With("component", "observability")}

	if !config.Enabled {
		p.log.DebugContext(ctx, "observability: export disabled")
		return p, p.bind(otel.GetTracerProvider(), otel.GetMeterProvider())
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		semconv.DeploymentEnvironment(config.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}
	if err := p.startExporters(ctx, res); err != nil {
		return nil, err
	}
	if err := p.bind(p.tp, p.mp); err != nil {
		_ = p.Shutdown(ctx)
		return nil, fmt.Errorf("observability: instruments: %w", err)
	}

	otel.SetTracerProvider(p.tp)
	otel.SetMeterProvider(p.mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	p.log.InfoContext(ctx, "observability: exporting",
		"endpoint", config.OTLPEndpoint,
		"environment", config.Environment,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

// NewWithProviders binds to caller-owned providers, typically SDK providers
// with in-memory readers in tests.
func NewWithProviders(tp trace.TracerProvider, mp metric.MeterProvider) (*Provider, error) {
	p := &Provider{cfg: DefaultConfig(), log: slog.Default().With("component", "observability")}
	return p, p.bind(tp, mp)
}

func (p *Provider) startExporters(ctx context.Context, res *resource.Resource) error {
	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.cfg.OTLPEndpoint)}
	if p.cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	spans, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return fmt.Errorf("observability: trace exporter: %w", err)
	}
	points, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = spans.Shutdown(ctx)
		return fmt.Errorf("observability: metric exporter: %w", err)
	}

	flush := p.cfg.FlushInterval
	if flush <= 0 {
		flush = 5 * time.Second
	}
	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(p.cfg.SampleRate)),
		sdktrace.WithBatcher(spans, sdktrace.WithBatchTimeout(flush)),
	)
	p.mp = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(points, sdkmetric.WithInterval(3*flush))),
	)
	return nil
}

func sampler(rate float64) sdktrace.Sampler {
	if rate >= 1 {
		return sdktrace.AlwaysSample()
	}
	if rate <= 0 {
		return sdktrace.NeverSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

func (p *Provider) bind(tp trace.TracerProvider, mp metric.MeterProvider) error {
	p.tracer = tp.Tracer(scope, trace.WithInstrumentationVersion(p.cfg.ServiceVersion))
	p.meter = mp.Meter(scope, metric.WithInstrumentationVersion(p.cfg.ServiceVersion))

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&p.inst.operations, "pilgrim.requests.total", "Tracked operations started", "{operation}"},
		{&p.inst.errors, "pilgrim.errors.total", "Tracked operations that returned an error", "{error}"},
		{&p.inst.runs, "pilgrim.runs.total", "Submissions by response status", "{run}"},
		{&p.inst.drift, "pilgrim.drift.total", "Drift events recorded by the sentinel", "{event}"},
		{&p.inst.appends, "pilgrim.ledger.appends.total", "Ledger records committed", "{record}"},
	}
	for _, c := range counters {
		inst, err := p.meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
		*c.dst = inst
	}

	var err error
	if p.inst.inflight, err = p.meter.Int64UpDownCounter("pilgrim.operations.active",
		metric.WithDescription("Tracked operations in flight"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return err
	}
	p.inst.latency, err = p.meter.Float64Histogram("pilgrim.operation.duration",
		metric.WithDescription("Tracked operation latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	)
	return err
}

// Shutdown flushes providers created by New.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tp != nil {
		errs = append(errs, p.tp.Shutdown(ctx))
	}
	if p.mp != nil {
		errs = append(errs, p.mp.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func (p *Provider) Tracer() trace.Tracer { return p.tracer }

func (p *Provider) Meter() metric.Meter { return p.meter }

// StartSpan starts a span on the pilgrim tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, opts...)
}

// RecordRun counts a finished submission by response status.
func (p *Provider) RecordRun(ctx context.Context, status string) {
	p.inst.runs.Add(ctx, 1, metric.WithAttributes(AttrStatus.String(status)))
}

func (p *Provider) RecordDrift(ctx context.Context, domain, invariantID string) {
	p.inst.drift.Add(ctx, 1, metric.WithAttributes(DriftAttributes(domain, invariantID)...))
}

func (p *Provider) RecordLedgerAppend(ctx context.Context, kind string) {
	p.inst.appends.Add(ctx, 1, metric.WithAttributes(AttrLedgerKind.String(kind)))
}

// TrackOperation opens a span named name and returns its finisher. The
// finisher must be called exactly once with the operation's error.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	begun := time.Now()
	ctx, span := p.StartSpan(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))

	labels := metric.WithAttributes(append(attrs, AttrOperation.String(name))...)
	p.inst.operations.Add(ctx, 1, labels)
	p.inst.inflight.Add(ctx, 1, labels)

	return ctx, func(err error) {
		defer span.End()
		p.inst.inflight.Add(ctx, -1, labels)
		p.inst.latency.Record(ctx, time.Since(begun).Seconds(), labels)
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.inst.errors.Add(ctx, 1, labels, metric.WithAttributes(AttrErrorCode.String(errorCode(err))))
	}
}

// errorCode prefers a stable PILGRIM code over the Go type name.
func errorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return fmt.Sprintf("%T", err)
}
