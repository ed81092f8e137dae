// Package telemetry defines the logging, metrics and tracing seams used by the
// AG-UI runtime. Clue-backed implementations delegate to goa.design/clue/log
// and OpenTelemetry; no-op implementations serve tests.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Metric names recorded by the runtime.
const (
	// MetricRunsStarted counts stream attempts (initial requests and resumes).
	MetricRunsStarted = "agui.runs.started"
	// MetricInterrupts counts interrupts observed by the orchestrator, tagged
	// with the interrupt reason.
	MetricInterrupts = "agui.interrupts"
	// MetricToolsExecuted counts frontend tool executions, tagged with the tool
	// name and outcome.
	MetricToolsExecuted = "agui.tools.executed"
	// MetricToolBatchDuration times a frontend tool batch from start to join.
	MetricToolBatchDuration = "agui.tools.batch_duration"
)

type (
	// Logger captures structured logging used throughout the runtime.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics exposes counter and histogram helpers.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer abstracts span creation so runtime code stays agnostic of the
	// OpenTelemetry provider.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span represents an in-flight tracing span.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)
