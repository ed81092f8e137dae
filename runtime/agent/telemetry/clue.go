package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

const instrumentationName = "github.com/umbraco/Umbraco.AI-sub013/runtime/agent"

type (
	// ClueLogger delegates to goa.design/clue/log. Formatting and debug
	// settings come from the context (log.Context, log.WithFormat,
	// log.WithDebug).
	ClueLogger struct{}

	// ClueMetrics records OTEL metrics using the global MeterProvider.
	// Instruments are created once per name and reused.
	ClueMetrics struct {
		meter      metric.Meter
		counters   sync.Map // name -> metric.Float64Counter
		histograms sync.Map // name -> metric.Float64Histogram
	}

	// ClueTracer creates spans from the global TracerProvider.
	ClueTracer struct {
		tracer trace.Tracer
	}

	clueSpan struct {
		span trace.Span
	}
)

// NewClueLogger returns a Logger backed by Clue.
func NewClueLogger() Logger {
	return ClueLogger{}
}

// NewClueMetrics returns a Metrics recorder backed by the global OTEL
// MeterProvider. Configure the provider (for example with
// clue.ConfigureOpenTelemetry) before recording.
func NewClueMetrics() Metrics {
	return &ClueMetrics{meter: otel.Meter(instrumentationName)}
}

// NewClueTracer returns a Tracer backed by the global OTEL TracerProvider.
func NewClueTracer() Tracer {
	return &ClueTracer{tracer: otel.Tracer(instrumentationName)}
}

// Debug emits a debug-level log entry.
func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, fielders(msg, keyvals)...)
}

// Info emits an info-level log entry.
func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, fielders(msg, keyvals)...)
}

// Warn emits a warning-level log entry.
func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Warn(ctx, fielders(msg, keyvals)...)
}

// Error emits an error-level log entry. An "err" key in keyvals is passed to
// Clue as the error value.
func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	var err error
	for i := 0; i+1 < len(keyvals); i += 2 {
		if k, ok := keyvals[i].(string); ok && k == "err" {
			err, _ = keyvals[i+1].(error)
		}
	}
	log.Error(ctx, err, fielders(msg, keyvals)...)
}

// IncCounter increments counter name by value.
func (m *ClueMetrics) IncCounter(name string, value float64, tags ...string) {
	c, ok := m.counters.Load(name)
	if !ok {
		counter, err := m.meter.Float64Counter(name)
		if err != nil {
			return
		}
		c, _ = m.counters.LoadOrStore(name, counter)
	}
	c.(metric.Float64Counter).Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// RecordTimer records duration in seconds on histogram name.
func (m *ClueMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	m.record(name, duration.Seconds(), tags)
}

// RecordGauge records value on histogram name_gauge. OTEL has no synchronous
// gauge.
func (m *ClueMetrics) RecordGauge(name string, value float64, tags ...string) {
	m.record(name+"_gauge", value, tags)
}

func (m *ClueMetrics) record(name string, value float64, tags []string) {
	h, ok := m.histograms.Load(name)
	if !ok {
		histogram, err := m.meter.Float64Histogram(name)
		if err != nil {
			return
		}
		h, _ = m.histograms.LoadOrStore(name, histogram)
	}
	h.(metric.Float64Histogram).Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// Start creates a span named name.
func (t *ClueTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, opts...)
	return ctx, &clueSpan{span: span}
}

// Span returns the span carried by ctx.
func (t *ClueTracer) Span(ctx context.Context) Span {
	return &clueSpan{span: trace.SpanFromContext(ctx)}
}

func (s *clueSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s *clueSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvToAttrs(attrs)...))
}

func (s *clueSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s *clueSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

// fielders converts msg and alternating key/value pairs into Clue fielders.
// Pairs with a non-string key are skipped; a trailing key is paired with nil.
func fielders(msg string, keyvals []any) []log.Fielder {
	out := make([]log.Fielder, 0, 1+len(keyvals)/2)
	out = append(out, log.KV{K: "msg", V: msg})
	for i := 0; i < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		if err, isErr := v.(error); isErr {
			v = err.Error()
		}
		out = append(out, log.KV{K: k, V: v})
	}
	return out
}

func tagsToAttrs(tags []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, (len(tags)+1)/2)
	for i := 0; i < len(tags); i += 2 {
		v := ""
		if i+1 < len(tags) {
			v = tags[i+1]
		}
		attrs = append(attrs, attribute.String(tags[i], v))
	}
	return attrs
}

func kvToAttrs(keyvals []any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		k, _ := keyvals[i].(string)
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		case nil:
			attrs = append(attrs, attribute.String(k, ""))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return attrs
}
