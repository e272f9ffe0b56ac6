package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"goa.design/clue/log"
)

func TestNoopImplementations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logger := NewNoopLogger()
	logger.Debug(ctx, "debug", "node", "plan")
	logger.Error(ctx, "error", "err", errors.New("boom"))

	metrics := NewNoopMetrics()
	metrics.IncCounter(MetricToolCalls, 1, "tool", "flights")
	metrics.RecordTimer(MetricNodeDuration, time.Second, "node", "plan")

	newCtx, span := NewNoopTracer().Start(ctx, SpanTurn)
	require.Equal(t, ctx, newCtx)
	span.AddEvent("event", "k", "v")
	span.SetStatus(codes.Error, "failed")
	span.RecordError(errors.New("boom"))
	span.End()
}

func TestClueLoggerWritesFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := log.Context(context.Background(),
		log.WithOutput(&buf),
		log.WithFormat(log.FormatJSON),
		log.WithDisableBuffering(func(context.Context) bool { return true }))

	NewClueLogger().Info(ctx, "node completed", "node", "verify", "violations", 2)

	out := buf.String()
	require.Contains(t, out, "node completed")
	require.Contains(t, out, `"node":"verify"`)
	require.Contains(t, out, `"violations":2`)
}

func TestClueLoggerErrorKey(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := log.Context(context.Background(), log.WithOutput(&buf), log.WithFormat(log.FormatJSON))

	NewClueLogger().Error(ctx, "turn failed", "err", errors.New("store unavailable"), "node", "plan")

	out := buf.String()
	require.Contains(t, out, "store unavailable")
	require.Contains(t, out, `"node":"plan"`)
}

func TestAttributeConversion(t *testing.T) {
	t.Parallel()

	attrs := kvAttrs([]any{"s", "x", "i", 3, "f", 1.5, "b", true, 7, "skipped", "d", time.Second})
	require.Equal(t, []attribute.KeyValue{
		attribute.String("s", "x"),
		attribute.Int("i", 3),
		attribute.Float64("f", 1.5),
		attribute.Bool("b", true),
		attribute.String("d", "1s"),
	}, attrs)

	require.Equal(t, []attribute.KeyValue{
		attribute.String("tool", "flights"),
		attribute.String("status", ""),
	}, tagAttrs([]string{"tool", "flights", "status"}))
}

func TestOTELRecordersUseGlobalProviders(t *testing.T) {
	t.Parallel()

	m := NewOTELMetrics()
	m.IncCounter(MetricRepairAttempts, 1)
	m.IncCounter(MetricRepairAttempts, 1)
	m.RecordTimer(MetricNodeDuration, 10*time.Millisecond, "node", "router")
	require.Len(t, m.(*OTELMetrics).counters, 1)

	ctx, span := NewOTELTracer().Start(context.Background(), NodeSpan("plan"))
	require.NotNil(t, ctx)
	span.AddEvent("planned", "steps", 3)
	span.End()
}
