package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tripgraph/tripgraph/runtime/schema"
	"github.com/tripgraph/tripgraph/runtime/toolerrors"
)

// DefaultTimeout bounds a tool call when neither the tool Spec nor the registry
// options set a timeout.
const DefaultTimeout = 30 * time.Second

var (
	// ErrUnknownTool indicates no tool is registered under the requested name.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrDuplicateTool indicates a tool name was registered twice.
	ErrDuplicateTool = errors.New("tool already registered")
)

type (
	// Registry holds registered tools. It is safe for concurrent use; calls
	// may run in parallel with each other and with registration.
	Registry struct {
		mu         sync.RWMutex
		entries    map[Ident]*entry
		order      []Ident
		timeout    time.Duration
		middleware []Middleware
	}

	// RegistryOption configures a Registry.
	RegistryOption func(*Registry)

	handlerResult struct {
		res json.RawMessage
		err error
	}

	entry struct {
		spec    Spec
		payload *schema.Schema
		result  *schema.Schema
		handler Handler
	}
)

// WithDefaultTimeout sets the timeout applied to tools whose spec does not set
// one.
func WithDefaultTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMiddleware appends handler middleware applied to every tool registered
// afterwards. The first middleware is the outermost.
func WithMiddleware(mw ...Middleware) RegistryOption {
	return func(r *Registry) {
		r.middleware = append(r.middleware, mw...)
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[Ident]*entry),
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a tool. The payload schema is required; the result schema is
// optional. Both are compiled eagerly so malformed schemas fail at startup.
func (r *Registry) Register(spec Spec, h Handler) error {
	if spec.Name == "" {
		return errors.New("tool name is required")
	}
	if h == nil {
		return fmt.Errorf("tool %q: handler is required", spec.Name)
	}
	payload, err := schema.Compile(string(spec.Name)+".payload", spec.Payload)
	if err != nil {
		return fmt.Errorf("tool %q: %w", spec.Name, err)
	}
	var result *schema.Schema
	if len(spec.Result) > 0 {
		if result, err = schema.Compile(string(spec.Name)+".result", spec.Result); err != nil {
			return fmt.Errorf("tool %q: %w", spec.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[spec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, spec.Name)
	}
	wrapped := h
	for i := len(r.middleware) - 1; i >= 0; i-- {
		wrapped = r.middleware[i](spec, wrapped)
	}
	r.entries[spec.Name] = &entry{spec: spec, payload: payload, result: result, handler: wrapped}
	r.order = append(r.order, spec.Name)
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(spec Spec, h Handler) {
	if err := r.Register(spec, h); err != nil {
		panic(err)
	}
}

// Specs returns the registered tool specs in registration order.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		spec := r.entries[name].spec
		spec.Tags = slices.Clone(spec.Tags)
		out = append(out, spec)
	}
	return out
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name Ident) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Call validates args, invokes the tool under its timeout and validates the
// result. Every failure is returned as a *toolerrors.ToolError so callers can
// record it verbatim.
func (r *Registry) Call(ctx context.Context, name Ident, args json.RawMessage) (Output, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	timeout := r.timeout
	r.mu.RUnlock()
	if !ok {
		return Output{}, toolerrors.WithCode(toolerrors.CodeUnknownTool, fmt.Sprintf("unknown tool %q", name), ErrUnknownTool)
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := e.payload.Validate(args); err != nil {
		return Output{}, toolerrors.WithCode(toolerrors.CodeInvalidArgs, fmt.Sprintf("%s: invalid arguments: %v", name, err), err)
	}
	if e.spec.Timeout > 0 {
		timeout = e.spec.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	callCtx, hit := WithCacheHitRecorder(callCtx)

	// Handlers that ignore their context must not hold the batch past the
	// deadline; the goroutine is abandoned and its result discarded.
	done := make(chan handlerResult, 1)
	go func() {
		res, err := e.handler.Call(callCtx, args)
		done <- handlerResult{res: res, err: err}
	}()
	var res json.RawMessage
	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return Output{}, toolerrors.WithCode(toolerrors.CodeTimeout, fmt.Sprintf("%s: timed out after %s", name, timeout), out.err)
			}
			return Output{}, toolerrors.FromError(out.err)
		}
		res = out.res
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Output{}, toolerrors.WithCode(toolerrors.CodeTimeout, fmt.Sprintf("%s: timed out after %s", name, timeout), callCtx.Err())
		}
		return Output{}, toolerrors.FromError(callCtx.Err())
	}
	if e.result != nil {
		if err := e.result.Validate(res); err != nil {
			return Output{}, toolerrors.WithCode(toolerrors.CodeInvalidResult, fmt.Sprintf("%s: invalid result: %v", name, err), err)
		}
	}
	return Output{Result: res, CacheHit: *hit}, nil
}
