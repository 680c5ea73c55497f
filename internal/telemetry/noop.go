package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

type (
	noopLogger  struct{}
	noopMetrics struct{}
	noopTracer  struct{}
	noopSpan    struct{}
)

// NewNoopLogger returns a Logger that discards everything; useful in tests
// and CLI dry-runs where no telemetry backend is wired up.
func NewNoopLogger() Logger { return noopLogger{} }

// NewNoopMetrics returns a Metrics recorder that discards everything.
func NewNoopMetrics() Metrics { return noopMetrics{} }

// NewNoopTracer returns a Tracer that discards everything.
func NewNoopTracer() Tracer { return noopTracer{} }

func (noopLogger) Debug(context.Context, string, ...any) {}
func (noopLogger) Info(context.Context, string, ...any)  {}
func (noopLogger) Error(context.Context, string, ...any) {}

func (noopMetrics) IncCounter(context.Context, string, ...attribute.KeyValue)                   {}
func (noopMetrics) RecordDuration(context.Context, string, time.Duration, ...attribute.KeyValue) {}

func (noopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (noopSpan) End()              {}
func (noopSpan) RecordError(error) {}
