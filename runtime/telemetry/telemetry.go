// Package telemetry defines the logging, metrics and tracing seams of the
// planner runtime. Production code delegates to Clue and OpenTelemetry; tests
// and library defaults use the noop implementations.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Instrument and span names.
const (
	// MetricNodeDuration is a histogram of node durations tagged by node.
	MetricNodeDuration = "tripgraph.node.duration"
	// MetricToolCalls counts tool calls tagged by tool and status.
	MetricToolCalls = "tripgraph.tool.calls"
	// MetricRepairAttempts counts repair cycles.
	MetricRepairAttempts = "tripgraph.repair.attempts"
	// MetricTurnDegraded counts turns that exhausted their repair budget.
	MetricTurnDegraded = "tripgraph.turn.degraded"

	// SpanTurn is the name of the span covering one turn.
	SpanTurn = "tripgraph.turn"
)

type (
	// Logger captures structured logging. Keyvals alternate string keys and
	// values.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters and timers. Tags alternate keys and values.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
	}

	// Tracer starts spans.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	}

	// Span is an in-flight tracing span.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)

// NodeSpan returns the name of the span covering one execution of node.
func NodeSpan(node string) string {
	return "tripgraph.node." + node
}
