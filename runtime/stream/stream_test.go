package stream

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tripgraph/tripgraph/runtime/hooks"
)

type recordingSink struct {
	mu     sync.Mutex
	events []hooks.Event
}

func (s *recordingSink) Send(_ context.Context, e hooks.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Close(context.Context) error { return nil }

func TestSubscriberForwardsThroughBus(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	sub, err := NewSubscriber(sink)
	require.NoError(t, err)
	bus := hooks.NewBus()
	_, err = bus.Register(sub)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, hooks.Event{Type: hooks.TypeNode, Node: "plan", Status: hooks.StatusStarted}))
	require.NoError(t, bus.Publish(ctx, hooks.Event{Type: hooks.TypeTool, Node: "flights", Status: hooks.StatusCompleted}))

	require.Len(t, sink.events, 2)
	require.Equal(t, "flights", sink.events[1].Node)
}

func TestSubscriberFiltersTypes(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	sub, err := NewSubscriber(sink, WithTypes(hooks.TypeTurn))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sub.HandleEvent(ctx, hooks.Event{Type: hooks.TypeNode}))
	require.NoError(t, sub.HandleEvent(ctx, hooks.Event{Type: hooks.TypeTurn, Status: hooks.StatusCompleted}))

	require.Len(t, sink.events, 1)
	require.Equal(t, hooks.TypeTurn, sink.events[0].Type)
}

func TestNewSubscriberRequiresSink(t *testing.T) {
	t.Parallel()

	_, err := NewSubscriber(nil)
	require.Error(t, err)
}
