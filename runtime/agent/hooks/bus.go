// Package hooks publishes run lifecycle events to in-process subscribers. The
// run controller publishes on a Bus; subscribers persist run records, mirror
// events to a UI stream or collect metrics.
package hooks

import (
	"context"
	"errors"
	"slices"
	"sync"
)

type (
	// Bus fans events out to registered subscribers. It is safe for
	// concurrent use.
	//
	// Events are delivered synchronously in the publisher's goroutine, in
	// registration order, and delivery stops at the first subscriber error.
	Bus interface {
		// Publish delivers event to every registered subscriber.
		Publish(ctx context.Context, event Event) error
		// Register adds sub and returns a Subscription that unregisters it.
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published events. HandleEvent should only return
	// an error for failures that must halt the run; the bus stops delivery at
	// the first error.
	Subscriber interface {
		HandleEvent(ctx context.Context, event Event) error
	}

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

// NewBus returns an empty in-memory bus.
//
//	bus := hooks.NewBus()
//	s, _ := bus.Register(hooks.SubscriberFunc(func(ctx context.Context, evt hooks.Event) error {
//	    log.Printf("%s %s", evt.RunID(), evt.Type())
//	    return nil
//	}))
//	defer s.Close()
func NewBus() Bus {
	return &bus{}
}

// Publish delivers event to a snapshot of the current subscribers, so
// registrations made during delivery only see later events.
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

// Register adds sub. It returns an error if sub is nil.
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

// Close unregisters the subscriber. Events being delivered concurrently may
// still reach it.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		s.bus.subs = slices.DeleteFunc(s.bus.subs, func(x *subscription) bool { return x == s })
	})
	return nil
}
