// Package telemetry wires the server's OpenTelemetry tracing/metrics and
// structured logging into one Provider, handed to every component that
// needs to open a span or write a log line instead of each one reaching
// for package-level globals (§9 redesign hint: avoid global singletons).
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
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

const instrumentationName = "contentmesh.server"

// Config configures the Provider.
type Config struct {
	ServiceName  string
	OTLPEndpoint string // empty disables export entirely
	LogLevel     slog.Level
}

// Provider owns the tracer, meter, and logger the rest of the server
// shares for one process lifetime.
type Provider struct {
	config         Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	deploysTotal  metric.Int64Counter
	deployErrors  metric.Int64Counter
	deployLatency metric.Float64Histogram
}

// New creates a Provider. If config.OTLPEndpoint is empty, tracing and
// metrics are no-ops (callers still get a usable logger).
func New(ctx context.Context, config Config) (*Provider, error) {
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "contentmesh"),
	}

	if config.OTLPEndpoint == "" {
		p.logger.InfoContext(ctx, "telemetry export disabled, no OTLP endpoint configured")
		p.tracer = otel.Tracer(instrumentationName)
		p.meter = otel.Meter(instrumentationName)
		return p, p.initMetrics()
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(config.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("telemetry: trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("telemetry: metric provider: %w", err)
	}

	p.tracer = otel.Tracer(instrumentationName)
	p.meter = otel.Meter(instrumentationName)
	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "telemetry initialized", "service", config.ServiceName, "endpoint", config.OTLPEndpoint)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return err
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint), otlpmetricgrpc.WithInsecure())
	if err != nil {
		return err
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initMetrics() error {
	var err error
	p.deploysTotal, err = p.meter.Int64Counter("contentmesh.deploys.total",
		metric.WithDescription("Total number of deploy attempts processed"))
	if err != nil {
		return err
	}
	p.deployErrors, err = p.meter.Int64Counter("contentmesh.deploys.errors",
		metric.WithDescription("Total number of deploy attempts that failed"))
	if err != nil {
		return err
	}
	p.deployLatency, err = p.meter.Float64Histogram("contentmesh.deploys.duration",
		metric.WithDescription("Deploy pipeline duration in seconds"), metric.WithUnit("s"))
	return err
}

// Shutdown flushes and stops the underlying providers, if any were started.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "shutting down trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "shutting down metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the shared tracer, always non-nil.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// Logger returns the shared structured logger, always non-nil.
func (p *Provider) Logger() *slog.Logger {
	if p == nil || p.logger == nil {
		return slog.Default()
	}
	return p.logger
}

// TrackDeploy starts a span and RED-style metrics around one deploy call,
// returning a function to call with the outcome when it finishes.
func (p *Provider) TrackDeploy(ctx context.Context, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.Tracer().Start(ctx, "deploy", trace.WithAttributes(attrs...))

	if p != nil && p.deploysTotal != nil {
		p.deploysTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	return ctx, func(err error) {
		if p != nil && p.deployLatency != nil {
			p.deployLatency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		}
		if err != nil {
			span.RecordError(err)
			if p != nil && p.deployErrors != nil {
				p.deployErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
			}
		}
		span.End()
	}
}
