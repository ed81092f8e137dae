package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"goa.design/clue/log"
)

func TestFieldersSkipNonStringKeys(t *testing.T) {
	got := fielders("tool finished", []any{"tool", "search", 42, "ignored", "err", errors.New("boom"), "dangling"})
	require.Equal(t, []log.Fielder{
		log.KV{K: "msg", V: "tool finished"},
		log.KV{K: "tool", V: "search"},
		log.KV{K: "err", V: "boom"},
		log.KV{K: "dangling", V: nil},
	}, got)
}

func TestAttributeConversion(t *testing.T) {
	require.Equal(t, []attribute.KeyValue{
		attribute.String("tool", "search"),
		attribute.String("outcome", ""),
	}, tagsToAttrs([]string{"tool", "search", "outcome"}))

	require.Equal(t, []attribute.KeyValue{
		attribute.Int("n", 3),
		attribute.Bool("ok", true),
		attribute.String("other", "[1 2]"),
	}, kvToAttrs([]any{"n", 3, "ok", true, "other", []int{1, 2}}))
}

func TestClueLoggerWritesStructuredEntries(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.Context(context.Background(), log.WithOutput(&buf), log.WithFormat(log.FormatJSON))
	NewClueLogger().Info(ctx, "run started", "thread_id", "t1")
	require.Contains(t, buf.String(), `"thread_id":"t1"`)
	require.Contains(t, buf.String(), `"msg":"run started"`)
}

type ctxKey struct{}

func TestNoopsAreSilent(t *testing.T) {
	parent := context.WithValue(context.Background(), ctxKey{}, "run")
	ctx, span := NewNoopTracer().Start(parent, "noop")
	require.Equal(t, parent, ctx)
	require.Equal(t, span, NewNoopTracer().Span(ctx))
	span.AddEvent("ignored")
	span.End()
	NewNoopMetrics().IncCounter(MetricRunsStarted, 1)
	NewNoopLogger().Error(ctx, "ignored")
}
