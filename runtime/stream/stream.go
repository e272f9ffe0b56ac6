// Package stream delivers progress events to callers over a transport. The
// Subscriber bridges the orchestrator's hook bus to a Sink; transports such as
// features/stream/pulse implement Sink.
package stream

import (
	"context"
	"errors"

	"github.com/tripgraph/tripgraph/runtime/hooks"
)

type (
	// Sink publishes progress events to a transport. Implementations must be
	// safe for concurrent use.
	Sink interface {
		// Send publishes one event.
		Send(ctx context.Context, event hooks.Event) error
		// Close releases transport resources. It is idempotent.
		Close(ctx context.Context) error
	}

	// Subscriber forwards hook events to a Sink.
	Subscriber struct {
		sink  Sink
		types map[hooks.Type]bool
	}

	// SubscriberOption configures a Subscriber.
	SubscriberOption func(*Subscriber)
)

// WithTypes restricts forwarding to the given event types. All types are
// forwarded by default.
func WithTypes(types ...hooks.Type) SubscriberOption {
	return func(s *Subscriber) {
		s.types = make(map[hooks.Type]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}
}

// NewSubscriber returns a hooks.Subscriber that forwards events to sink.
func NewSubscriber(sink Sink, opts ...SubscriberOption) (*Subscriber, error) {
	if sink == nil {
		return nil, errors.New("stream sink is required")
	}
	s := &Subscriber{sink: sink}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// HandleEvent implements hooks.Subscriber.
func (s *Subscriber) HandleEvent(ctx context.Context, event hooks.Event) error {
	if s.types != nil && !s.types[event.Type] {
		return nil
	}
	return s.sink.Send(ctx, event)
}
