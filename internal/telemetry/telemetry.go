// Package telemetry wraps goa.design/clue and OpenTelemetry so library code
// never imports a concrete logging/metrics/tracing backend directly. Every
// dispatcher effect, workflow step, and tool-loop iteration logs, traces, and
// emits duration metrics through these interfaces.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

type (
	// Logger is the structured, context-scoped logging contract used
	// throughout the engine.
	Logger interface {
		Debug(ctx context.Context, msg string, kv ...any)
		Info(ctx context.Context, msg string, kv ...any)
		Error(ctx context.Context, msg string, kv ...any)
	}

	// Metrics records counters and durations for engine operations.
	Metrics interface {
		IncCounter(ctx context.Context, name string, attrs ...attribute.KeyValue)
		RecordDuration(ctx context.Context, name string, d time.Duration, attrs ...attribute.KeyValue)
	}

	// Tracer starts spans for engine operations.
	Tracer interface {
		StartSpan(ctx context.Context, name string) (context.Context, Span)
	}

	// Span is a minimal handle over an OTEL span.
	Span interface {
		End()
		RecordError(err error)
	}
)

// clueLogger delegates to goa.design/clue/log, matching the teacher's
// ClueLogger: formatting and debug settings are read from the context via
// log.Context/log.WithFormat/log.WithDebug, set once at process start.
type clueLogger struct{}

// NewLogger returns a Logger backed by goa.design/clue/log.
func NewLogger() Logger { return clueLogger{} }

func (clueLogger) Debug(ctx context.Context, msg string, kv ...any) {
	log.Debug(ctx, msg, toKeyVals(kv)...)
}

func (clueLogger) Info(ctx context.Context, msg string, kv ...any) {
	log.Print(ctx, msg, toKeyVals(kv)...)
}

func (clueLogger) Error(ctx context.Context, msg string, kv ...any) {
	log.Error(ctx, nil, msg, toKeyVals(kv)...)
}

func toKeyVals(kv []any) []log.Fielder {
	fields := make([]log.Fielder, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		fields = append(fields, log.KV{K: key, V: kv[i+1]})
	}
	return fields
}

type otelMetrics struct {
	meter metric.Meter
}

// NewMetrics returns a Metrics recorder backed by the global OTEL meter
// provider, scoped to the given instrumentation name.
func NewMetrics(instrumentationName string) Metrics {
	return &otelMetrics{meter: otel.Meter(instrumentationName)}
}

func (m *otelMetrics) IncCounter(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	c, err := m.meter.Int64Counter(name)
	if err != nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *otelMetrics) RecordDuration(ctx context.Context, name string, d time.Duration, attrs ...attribute.KeyValue) {
	h, err := m.meter.Float64Histogram(name, metric.WithUnit("ms"))
	if err != nil {
		return
	}
	h.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(attrs...))
}

type otelTracer struct {
	tracer trace.Tracer
}

// NewTracer returns a Tracer backed by the global OTEL tracer provider.
func NewTracer(instrumentationName string) Tracer {
	return &otelTracer{tracer: otel.Tracer(instrumentationName)}
}

func (t *otelTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}
