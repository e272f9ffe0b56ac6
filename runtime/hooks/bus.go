package hooks

import (
	"context"
	"errors"
	"slices"
	"sync"
)

type (
	// Bus publishes progress events to registered subscribers.
	//
	// Events are delivered synchronously in the publisher's goroutine, in
	// registration order, and iteration stops at the first subscriber error.
	Bus interface {
		// Publish delivers the event to every currently registered
		// subscriber.
		Publish(ctx context.Context, event Event) error
		// Register adds a subscriber and returns a Subscription that can be
		// closed to unregister it.
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published events.
	Subscriber interface {
		HandleEvent(ctx context.Context, event Event) error
	}

	// SubscriberFunc adapts a function to Subscriber.
	SubscriberFunc func(ctx context.Context, event Event) error

	// Subscription is an active registration. Close is idempotent.
	Subscription interface {
		Close() error
	}

	bus struct {
		mu   sync.RWMutex
		subs []*subscription
	}

	subscription struct {
		bus  *bus
		sub  Subscriber
		once sync.Once
	}
)

// NewBus returns an empty in-memory Bus.
//
//	bus := hooks.NewBus()
//	s, _ := bus.Register(hooks.SubscriberFunc(func(ctx context.Context, e hooks.Event) error {
//	    fmt.Println(e.Node, e.Status)
//	    return nil
//	}))
//	defer s.Close()
func NewBus() Bus {
	return &bus{}
}

// HandleEvent calls f.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Publish delivers event to a snapshot of the subscribers taken before
// delivery starts.
func (b *bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()
	for _, s := range subs {
		if err := s.sub.HandleEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Register implements Bus.
func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	s := &subscription{bus: b, sub: sub}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s, nil
}

// Close removes the subscriber from the bus.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		s.bus.subs = slices.DeleteFunc(s.bus.subs, func(x *subscription) bool { return x == s })
		s.bus.mu.Unlock()
	})
	return nil
}
