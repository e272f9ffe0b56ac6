// Package pulse publishes progress events to Pulse (Redis) streams and reads
// them back. Each thread gets its own stream, "thread/<thread id>" by
// default, so a client can follow a turn from another process.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	clientspulse "github.com/tripgraph/tripgraph/features/stream/pulse/clients/pulse"
	"github.com/tripgraph/tripgraph/runtime/hooks"
)

type (
	// Options configures the Pulse sink.
	Options struct {
		// Client publishes the events. Required.
		Client clientspulse.Client
		// StreamID derives the target stream from an event. Defaults to
		// StreamID(event.ThreadID).
		StreamID func(hooks.Event) (string, error)
		// Now defaults to time.Now.
		Now func() time.Time
	}

	// Sink implements stream.Sink on Pulse. It is safe for concurrent use.
	Sink struct {
		client   clientspulse.Client
		streamID func(hooks.Event) (string, error)
		now      func() time.Time
	}

	// envelope is the wire format of a published event.
	envelope struct {
		Type      string      `json:"type"`
		ThreadID  string      `json:"thread_id"`
		TurnID    string      `json:"turn_id"`
		Timestamp time.Time   `json:"timestamp"`
		Payload   hooks.Event `json:"payload"`
	}
)

// StreamID returns the name of the stream carrying the events of a thread.
func StreamID(threadID string) string {
	return fmt.Sprintf("thread/%s", threadID)
}

// NewSink returns a Pulse-backed stream sink.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	s := &Sink{client: opts.Client, streamID: opts.StreamID, now: opts.Now}
	if s.streamID == nil {
		s.streamID = defaultStreamID
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Send publishes event to its thread stream.
func (s *Sink) Send(ctx context.Context, event hooks.Event) error {
	name, err := s.streamID(event)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(name)
	if err != nil {
		return err
	}
	env := envelope{
		Type:      string(event.Type),
		ThreadID:  event.ThreadID,
		TurnID:    event.TurnID,
		Timestamp: s.now().UTC(),
		Payload:   event,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	_, err = handle.Add(ctx, env.Type, payload)
	return err
}

// Close releases the Pulse client.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func defaultStreamID(event hooks.Event) (string, error) {
	if event.ThreadID == "" {
		return "", errors.New("stream event missing thread id")
	}
	return StreamID(event.ThreadID), nil
}
