// Package observability provides OpenTelemetry tracing, an in-process metrics
// registry and a JSONL audit log for skillmatch runs.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name used for the skillmatch tracer.
	TracerName = "github.com/efebarandurmaz/skillmatch"
)

// TracingConfig configures the OpenTelemetry tracing.
type TracingConfig struct {
	// ServiceName is the name of the service (default: "skillmatch")
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317")
	// If empty, tracing is disabled.
	OTLPEndpoint string

	// SampleRate is the trace sampling rate (0.0 to 1.0, default: 1.0)
	SampleRate float64
}

// DefaultTracingConfig returns a default tracing configuration.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "skillmatch",
		ServiceVersion: "0.1.0",
		SampleRate:     1.0,
	}
}

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing initializes OpenTelemetry tracing.
// Returns a no-op tracer if OTLPEndpoint is empty.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}

	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{
			tracer: otel.Tracer(TracerName),
		}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRate)),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(TracerName),
	}, nil
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Shutdown flushes pending spans and shuts down the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the underlying tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Span kinds recorded under the "skillmatch.span.kind" attribute.
const (
	SpanKindRound  = "round"
	SpanKindLLM    = "llm"
	SpanKindFilter = "filter"
	SpanKindStore  = "store"
)

// LLM operations.
const (
	OpComplete = "complete"
	OpEmbed    = "embed"
)

// StartRoundSpan starts a span covering one embed-search-filter round.
func StartRoundSpan(ctx context.Context, round, leftCount, rightCount int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, fmt.Sprintf("round.%d", round),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("skillmatch.span.kind", SpanKindRound),
			attribute.Int("round.number", round),
			attribute.Int("round.left_count", leftCount),
			attribute.Int("round.right_count", rightCount),
		),
	)
}

// RecordRoundResult records the outcome of a round on its span.
func RecordRoundResult(span trace.Span, matches, remaining int) {
	span.SetAttributes(
		attribute.Int("round.matches", matches),
		attribute.Int("round.remaining", remaining),
	)
}

// StartLLMSpan starts a span for one request to an LLM endpoint.
// op is OpComplete or OpEmbed.
func StartLLMSpan(ctx context.Context, op, endpoint string, items int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "llm."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("skillmatch.span.kind", SpanKindLLM),
			attribute.String("llm.endpoint", endpoint),
			attribute.Int("llm.items", items),
		),
	)
}

// RecordLLMUsage records token usage on the LLM span carried by ctx.
func RecordLLMUsage(ctx context.Context, inputTokens, outputTokens int) {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("llm.input_tokens", inputTokens),
		attribute.Int("llm.output_tokens", outputTokens),
	)
}

// RecordLLMDuration records the latency of an LLM request on its span.
func RecordLLMDuration(span trace.Span, duration time.Duration) {
	span.SetAttributes(attribute.Int64("llm.duration_ms", duration.Milliseconds()))
}

// StartFilterSpan starts a span for disambiguating a set of candidates.
func StartFilterSpan(ctx context.Context, candidates int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "filter.choose",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("skillmatch.span.kind", SpanKindFilter),
			attribute.Int("filter.candidates", candidates),
		),
	)
}

// RecordFilterResult records how many candidates found a winner.
func RecordFilterResult(span trace.Span, winners, belowThreshold int) {
	span.SetAttributes(
		attribute.Int("filter.winners", winners),
		attribute.Int("filter.below_threshold", belowThreshold),
	)
}

// StartStoreSpan starts a span for persisting one batch.
func StartStoreSpan(ctx context.Context, writer string, rows int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "store."+writer,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("skillmatch.span.kind", SpanKindStore),
			attribute.Int("store.rows", rows),
		),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
