package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tripgraph/tripgraph/runtime/toolerrors"
)

const echoPayload = `{
  "type": "object",
  "properties": {"city": {"type": "string"}},
  "required": ["city"]
}`

const echoResult = `{
  "type": "object",
  "properties": {"city": {"type": "string"}},
  "required": ["city"]
}`

func echoSpec() Spec {
	return Spec{
		Name:        "echo",
		Description: "Echoes the city.",
		Payload:     json.RawMessage(echoPayload),
		Result:      json.RawMessage(echoResult),
	}
}

func echoHandler() Handler {
	return HandlerFunc(func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
		return args, nil
	})
}

func TestRegistryCall(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(echoSpec(), echoHandler()))
	require.True(t, r.Has("echo"))
	require.False(t, r.Has("missing"))

	out, err := r.Call(context.Background(), "echo", json.RawMessage(`{"city":"Tokyo"}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"city":"Tokyo"}`, string(out.Result))
	require.False(t, out.CacheHit)
}

func TestRegistryRejectsInvalidArgs(t *testing.T) {
	t.Parallel()

	called := false
	r := NewRegistry()
	require.NoError(t, r.Register(echoSpec(), HandlerFunc(func(context.Context, json.RawMessage) (json.RawMessage, error) {
		called = true
		return nil, nil
	})))

	_, err := r.Call(context.Background(), "echo", json.RawMessage(`{"town":"Tokyo"}`))
	var te *toolerrors.ToolError
	require.ErrorAs(t, err, &te)
	require.Equal(t, toolerrors.CodeInvalidArgs, te.Code)
	require.False(t, called)
}

func TestRegistryRejectsInvalidResult(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(echoSpec(), HandlerFunc(func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"nope":1}`), nil
	})))

	_, err := r.Call(context.Background(), "echo", json.RawMessage(`{"city":"Tokyo"}`))
	var te *toolerrors.ToolError
	require.ErrorAs(t, err, &te)
	require.Equal(t, toolerrors.CodeInvalidResult, te.Code)
}

func TestRegistryUnknownTool(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry().Call(context.Background(), "nope", nil)
	require.ErrorIs(t, err, ErrUnknownTool)
}

func TestRegistryTimeoutWithUncooperativeHandler(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	spec := echoSpec()
	spec.Timeout = 20 * time.Millisecond
	r := NewRegistry()
	require.NoError(t, r.Register(spec, HandlerFunc(func(context.Context, json.RawMessage) (json.RawMessage, error) {
		<-release
		return nil, nil
	})))

	start := time.Now()
	_, err := r.Call(context.Background(), "echo", json.RawMessage(`{"city":"Tokyo"}`))
	require.Less(t, time.Since(start), 2*time.Second)

	var te *toolerrors.ToolError
	require.ErrorAs(t, err, &te)
	require.True(t, te.Timeout())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegistryDuplicate(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(echoSpec(), echoHandler()))
	require.ErrorIs(t, r.Register(echoSpec(), echoHandler()), ErrDuplicateTool)
}

func TestRegistryMiddlewareOrderAndCacheHit(t *testing.T) {
	t.Parallel()

	var trace []string
	mw := func(label string, markHit bool) Middleware {
		return func(spec Spec, next Handler) Handler {
			return HandlerFunc(func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
				trace = append(trace, label+":"+string(spec.Name))
				if markHit {
					MarkCacheHit(ctx)
				}
				return next.Call(ctx, args)
			})
		}
	}
	r := NewRegistry(WithMiddleware(mw("outer", false), mw("inner", true)))
	require.NoError(t, r.Register(echoSpec(), echoHandler()))

	out, err := r.Call(context.Background(), "echo", json.RawMessage(`{"city":"Kyoto"}`))
	require.NoError(t, err)
	require.True(t, out.CacheHit)
	require.Equal(t, []string{"outer:echo", "inner:echo"}, trace)
}

func TestRegistryHandlerErrorIsToolError(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(echoSpec(), HandlerFunc(func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("upstream 503")
	})))

	_, err := r.Call(context.Background(), "echo", json.RawMessage(`{"city":"Tokyo"}`))
	var te *toolerrors.ToolError
	require.ErrorAs(t, err, &te)
	require.Equal(t, toolerrors.CodeHandler, te.Code)
	require.Equal(t, "upstream 503", te.Message)
}

func TestSpecsPreserveRegistrationOrder(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, name := range []Ident{"b", "a", "c"} {
		spec := echoSpec()
		spec.Name = name
		require.NoError(t, r.Register(spec, echoHandler()))
	}
	var names []Ident
	for _, s := range r.Specs() {
		names = append(names, s.Name)
	}
	require.Equal(t, []Ident{"b", "a", "c"}, names)
}
