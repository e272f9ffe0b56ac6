// Package tools declares the callable tools available to plans. Each tool has
// a name, an argument schema, a result schema and a handler. The Registry
// validates arguments before invoking a handler, enforces per-tool timeouts,
// and validates the handler output before returning it.
package tools

import (
	"context"
	"encoding/json"
	"time"
)

// Ident is the strong type for tool names (for example "flights"). Use it in
// maps and plan steps to avoid mixing tool names with free-form strings.
type Ident string

// String returns the string representation of the identifier.
func (id Ident) String() string {
	return string(id)
}

// Well-known tool names.
const (
	Flights            Ident = "flights"
	Lodging            Ident = "lodging"
	Events             Ident = "events"
	Transit            Ident = "transit"
	CurrencyRates      Ident = "currency_rates"
	Weather            Ident = "weather"
	Geocoding          Ident = "geocoding"
	KnowledgeRetrieval Ident = "knowledge_retrieval"
)

type (
	// Spec describes a tool to planners and to the registry.
	Spec struct {
		// Name is the unique tool identifier.
		Name Ident `json:"name"`
		// Description is shown to the planner model.
		Description string `json:"description"`
		// Tags carries optional labels (for example "fixture", "network").
		Tags []string `json:"tags,omitempty"`
		// Payload is the JSON Schema of the tool arguments.
		Payload json.RawMessage `json:"payload_schema"`
		// Result is the JSON Schema of the tool output. Optional.
		Result json.RawMessage `json:"result_schema,omitempty"`
		// Timeout overrides the registry default timeout when positive.
		Timeout time.Duration `json:"-"`
	}

	// Handler executes a tool. Handlers receive arguments that already
	// conform to the payload schema and must return the same output for the
	// same arguments within a planning horizon. Handlers never see session
	// state.
	Handler interface {
		Call(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
	}

	// HandlerFunc adapts a function to the Handler interface.
	HandlerFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

	// Middleware decorates a handler. The Spec of the tool being wrapped is
	// provided so middleware can key caches or metrics by tool name.
	Middleware func(spec Spec, next Handler) Handler

	// Caller invokes tools by name. Registry implements it; the orchestrator
	// depends on this interface only.
	Caller interface {
		Call(ctx context.Context, name Ident, args json.RawMessage) (Output, error)
		Specs() []Spec
		Has(name Ident) bool
	}

	// Output is a successful tool result.
	Output struct {
		// Result is the validated JSON output.
		Result json.RawMessage
		// CacheHit is true when the result was served by a caching middleware.
		CacheHit bool
	}
)

// Call implements Handler.
func (f HandlerFunc) Call(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return f(ctx, args)
}

type cacheHitKey struct{}

// WithCacheHitRecorder returns a context in which caching middleware can
// report hits through MarkCacheHit.
func WithCacheHitRecorder(ctx context.Context) (context.Context, *bool) {
	hit := new(bool)
	return context.WithValue(ctx, cacheHitKey{}, hit), hit
}

// MarkCacheHit records that the current call was served from a cache. It is a
// no-op when the context carries no recorder.
func MarkCacheHit(ctx context.Context) {
	if hit, ok := ctx.Value(cacheHitKey{}).(*bool); ok && hit != nil {
		*hit = true
	}
}
