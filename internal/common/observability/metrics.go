package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"query-orchestrator/internal/common/logger"
)

// Observability holds the OpenTelemetry meter and tracer used by the orchestrator.
type Observability struct {
	meterProvider *metric.MeterProvider
	tracing       *Tracing
	tracer        trace.Tracer
	queryCounter  otelmetric.Int64Counter
	queryDuration otelmetric.Float64Histogram
	genDuration   otelmetric.Float64Histogram
	genTokens     otelmetric.Int64Counter
}

// New builds a meter exported through the Prometheus registry. tracing may be nil.
func New(serviceName string, tracing *Tracing, log logger.Logger) *Observability {
	o := &Observability{tracing: tracing, tracer: noop.NewTracerProvider().Tracer(serviceName)}
	if tracing != nil {
		o.tracer = tracing.Tracer(serviceName)
	}

	exporter, err := prometheus.New()
	if err != nil {
		log.Warn("failed to create prometheus exporter", map[string]interface{}{"error": err.Error()})
		return o
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter(serviceName)

	o.meterProvider = provider
	o.queryCounter, _ = meter.Int64Counter(
		"queries.processed",
		otelmetric.WithDescription("Number of queries processed"),
	)
	o.queryDuration, _ = meter.Float64Histogram(
		"queries.duration",
		otelmetric.WithDescription("End-to-end query duration"),
		otelmetric.WithUnit("ms"),
	)
	o.genDuration, _ = meter.Float64Histogram(
		"llm.generation.duration",
		otelmetric.WithDescription("LLM generation latency"),
		otelmetric.WithUnit("ms"),
	)
	o.genTokens, _ = meter.Int64Counter(
		"llm.generation.tokens",
		otelmetric.WithDescription("Tokens produced by LLM generations"),
	)
	return o
}

// StartSpan starts a span named name under ctx.
func (o *Observability) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if o == nil || o.tracer == nil {
		return noop.NewTracerProvider().Tracer("").Start(ctx, name)
	}
	return o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (o *Observability) RecordQuery(ctx context.Context, category, state string, duration time.Duration) {
	if o == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("category", category),
		attribute.String("state", state),
	)
	if o.queryCounter != nil {
		o.queryCounter.Add(ctx, 1, attrs)
	}
	if o.queryDuration != nil {
		o.queryDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

func (o *Observability) RecordGeneration(ctx context.Context, model, backend string, success bool, latency time.Duration, tokens int) {
	if o == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("model", model),
		attribute.String("backend", backend),
		attribute.Bool("success", success),
	)
	if o.genDuration != nil {
		o.genDuration.Record(ctx, float64(latency.Milliseconds()), attrs)
	}
	if o.genTokens != nil {
		o.genTokens.Add(ctx, int64(tokens), attrs)
	}
}

func (o *Observability) Shutdown(ctx context.Context) {
	if o == nil {
		return
	}
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
	}
	if o.tracing != nil {
		_ = o.tracing.Shutdown(ctx)
	}
}
