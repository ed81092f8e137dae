package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// discard drops log entries and measurements. Components fall back to it when
// their options leave Logger or Metrics unset.
type discard struct{}

// unsampled is the Tracer of runs without tracing. Its spans keep no state so
// a single value serves every attempt and interrupt dispatch.
type unsampled struct{}

type unsampledSpan struct{}

var (
	_ Logger  = discard{}
	_ Metrics = discard{}
	_ Tracer  = unsampled{}
	_ Span    = unsampledSpan{}
)

// NewNoopLogger returns a Logger that drops every entry.
func NewNoopLogger() Logger { return discard{} }

// NewNoopMetrics returns a Metrics that drops every measurement.
func NewNoopMetrics() Metrics { return discard{} }

// NewNoopTracer returns a Tracer whose spans record nothing and leave the
// context untouched.
func NewNoopTracer() Tracer { return unsampled{} }

func (discard) Debug(context.Context, string, ...any) {}
func (discard) Info(context.Context, string, ...any) {}
func (discard) Warn(context.Context, string, ...any) {}
func (discard) Error(context.Context, string, ...any) {}
func (discard) IncCounter(string, float64, ...string) {}
func (discard) RecordTimer(string, time.Duration, ...string) {}
func (discard) RecordGauge(string, float64, ...string) {}
func (unsampled) Span(context.Context) Span { return unsampledSpan{} }
func (unsampledSpan) End(...trace.SpanEndOption) {}
func (unsampledSpan) AddEvent(string, ...any) {}
func (unsampledSpan) SetStatus(codes.Code, string) {}
func (unsampledSpan) RecordError(error, ...trace.EventOption) {}

func (unsampled) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, Span) {
	return ctx, unsampledSpan{}
}
