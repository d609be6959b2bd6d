// Package observability provides OpenTelemetry tracing and metrics for the
// BotNode services, exported over OTLP/gRPC.
//
// A disabled Provider is fully usable: spans go to the global no-op tracer
// and metric calls are dropped, so callers never nil-check.
package observability

import (
	"context"
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

const instrumentationName = "github.com/Renator13/botnode-public"

func init() {
	// Trace context crosses the gateway → Law V / CRI hop even when this
	// process does not export spans itself.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // host:port of the collector's gRPC receiver
	SampleRate     float64       // 0.0 to 1.0
	BatchTimeout   time.Duration // span batch flush interval
	MetricInterval time.Duration // metric export interval
	Enabled        bool
	Insecure       bool // plaintext gRPC, dev only
}

// DefaultConfig returns the defaults used when OTEL_ENABLED is set.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "botnode",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		MetricInterval: 15 * time.Second,
		Enabled:        true,
		Insecure:       false,
	}
}

// Provider owns the trace and metric providers and the BotNode instruments.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	operations   metric.Int64Counter
	failures     metric.Int64Counter
	duration     metric.Float64Histogram
	inFlight     metric.Int64UpDownCounter
	validations  metric.Int64Counter
	scoreChanges metric.Float64Histogram
	fallbacks    metric.Int64Counter
}

// Disabled returns a provider that records nothing.
func Disabled() *Provider {
	return &Provider{
		config: &Config{Enabled: false},
		logger: slog.Default().With("component", "observability"),
	}
}

// New creates a provider. With Enabled unset it behaves like Disabled.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
			attribute.String("botnode.layer", "trust"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	if err := p.startTracing(ctx, res); err != nil {
		return nil, err
	}
	if err := p.startMetrics(ctx, res); err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}

	p.tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(config.ServiceVersion))
	if err := p.createInstruments(); err != nil {
		_ = p.Shutdown(ctx)
		return nil, fmt.Errorf("create instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
		"insecure", config.Insecure,
	)
	return p, nil
}

func (p *Provider) startTracing(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(p.config.SampleRate))),
	)
	otel.SetTracerProvider(p.tracerProvider)
	return nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

func (p *Provider) startMetrics(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}

	interval := p.config.MetricInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) createInstruments() error {
	var err error
	if p.operations, err = p.meter.Int64Counter("botnode.operations",
		metric.WithDescription("Tracked operations started"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return err
	}
	if p.failures, err = p.meter.Int64Counter("botnode.operations.failed",
		metric.WithDescription("Tracked operations that returned an error"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return err
	}
	if p.duration, err = p.meter.Float64Histogram("botnode.operation.duration",
		metric.WithDescription("Operation and request latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 3, 10),
	); err != nil {
		return err
	}
	if p.inFlight, err = p.meter.Int64UpDownCounter("botnode.operations.in_flight",
		metric.WithDescription("Operations currently running"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return err
	}
	if p.validations, err = p.meter.Int64Counter("botnode.lawv.validations",
		metric.WithDescription("Law V validations by schema and outcome"),
		metric.WithUnit("{validation}"),
	); err != nil {
		return err
	}
	if p.scoreChanges, err = p.meter.Float64Histogram("botnode.cri.score_change",
		metric.WithDescription("CRI score change per applied event"),
		metric.WithExplicitBucketBoundaries(-0.3, -0.2, -0.1, 0, 0.05, 0.1, 0.15),
	); err != nil {
		return err
	}
	p.fallbacks, err = p.meter.Int64Counter("botnode.gateway.fallbacks",
		metric.WithDescription("Skill executions served by the local fallback"),
		metric.WithUnit("{execution}"),
	)
	return err
}

// Shutdown flushes and stops the providers. Errors are logged, not returned.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "metric provider shutdown failed", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer, or the global one when disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// Meter returns the configured meter, or the global one when disabled.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter(instrumentationName)
	}
	return p.meter
}

// StartSpan starts a span on the provider's tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordDuration records a latency sample.
func (p *Provider) RecordDuration(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	if p.duration != nil {
		p.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
	}
}

// RecordError counts a failed operation, tagged with the error's Go type.
func (p *Provider) RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	if p.failures != nil {
		attrs = append(attrs[:len(attrs):len(attrs)], attribute.String("error.type", fmt.Sprintf("%T", err)))
		p.failures.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordValidation counts one Law V validation.
func (p *Provider) RecordValidation(ctx context.Context, schemaID string, valid bool) {
	if p.validations != nil {
		p.validations.Add(ctx, 1, metric.WithAttributes(AttrSchemaID.String(schemaID), AttrValid.Bool(valid)))
	}
}

// RecordScoreChange records the change applied by one CRI event.
func (p *Provider) RecordScoreChange(ctx context.Context, kind string, change float64) {
	if p.scoreChanges != nil {
		p.scoreChanges.Record(ctx, change, metric.WithAttributes(AttrEventKind.String(kind)))
	}
}

// RecordFallback counts a skill execution answered by the local fallback.
func (p *Provider) RecordFallback(ctx context.Context, skillID string) {
	if p.fallbacks != nil {
		p.fallbacks.Add(ctx, 1, metric.WithAttributes(AttrSkillID.String(skillID)))
	}
}

// TrackOperation starts a span and the operation metrics. The returned
// function ends both and must be called exactly once.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)

	opAttrs := append([]attribute.KeyValue{attribute.String("botnode.operation", name)}, attrs...)
	if p.operations != nil {
		p.operations.Add(ctx, 1, metric.WithAttributes(opAttrs...))
		p.inFlight.Add(ctx, 1, metric.WithAttributes(opAttrs...))
	}

	return ctx, func(err error) {
		if p.inFlight != nil {
			p.inFlight.Add(ctx, -1, metric.WithAttributes(opAttrs...))
		}
		p.RecordDuration(ctx, time.Since(start), opAttrs...)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.RecordError(ctx, err, opAttrs...)
		}
		span.End()
	}
}
