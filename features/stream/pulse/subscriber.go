package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/tripgraph/tripgraph/features/stream/pulse/clients/pulse"
	"github.com/tripgraph/tripgraph/runtime/hooks"
)

type (
	// SubscriberOptions configures a Pulse-backed subscriber.
	SubscriberOptions struct {
		// Client reads the streams. Required.
		Client clientspulse.Client
		// SinkName names the consumer group. Defaults to "tripgraph_watch".
		SinkName string
		// Buffer is the event channel capacity. Defaults to 64.
		Buffer int
	}

	// Subscriber follows thread streams.
	Subscriber struct {
		client clientspulse.Client
		name   string
		buffer int
	}
)

// NewSubscriber returns a Subscriber.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	s := &Subscriber{client: opts.Client, name: opts.SinkName, buffer: opts.Buffer}
	if s.name == "" {
		s.name = "tripgraph_watch"
	}
	if s.buffer <= 0 {
		s.buffer = 64
	}
	return s, nil
}

// Subscribe follows the stream of threadID. Events are delivered on the
// first channel; a decode or ack failure is sent on the second and ends the
// subscription. Both channels close when ctx is done, the returned cancel
// function is called or the stream sink closes.
func (s *Subscriber) Subscribe(ctx context.Context, threadID string, opts ...streamopts.Sink) (<-chan hooks.Event, <-chan error, context.CancelFunc, error) {
	if threadID == "" {
		return nil, nil, nil, errors.New("thread id is required")
	}
	str, err := s.client.Stream(StreamID(threadID))
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	events := make(chan hooks.Event, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, sink, events, errs)
	return events, errs, func() {
		cancel()
		sink.Close(context.Background())
	}, nil
}

func (s *Subscriber) consume(ctx context.Context, sink clientspulse.Sink, out chan<- hooks.Event, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal(evt.Payload, &env); err != nil {
				errs <- fmt.Errorf("pulse decode payload: %w", err)
				return
			}
			select {
			case out <- env.Payload:
			case <-ctx.Done():
				return
			}
			if err := sink.Ack(ctx, evt); err != nil {
				errs <- fmt.Errorf("pulse ack: %w", err)
				return
			}
		}
	}
}
