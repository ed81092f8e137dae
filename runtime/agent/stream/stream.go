// Package stream delivers AG-UI events to consumers. A Sink is the write side
// of a transport: the SSE response of a server, a Pulse journal, or an
// in-memory recorder in tests.
package stream

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("stream: sink closed")

type (
	// Sink delivers events over a transport. Implementations must be safe for
	// concurrent use.
	Sink interface {
		// Send publishes evt. It returns an error when delivery fails; callers
		// stop streaming on the first error.
		Send(ctx context.Context, evt agui.Event) error
		// Close releases the resources of the sink. It is idempotent; Send
		// fails with ErrClosed afterwards.
		Close(ctx context.Context) error
	}

	// SinkFunc adapts a function to Sink. Close is a no-op.
	SinkFunc func(ctx context.Context, evt agui.Event) error

	// Fanout sends every event to several sinks in order.
	Fanout struct {
		sinks []Sink
	}

	// Recorder keeps every event in memory.
	Recorder struct {
		mu     sync.Mutex
		events []agui.Event
		closed bool
		notify chan struct{}
	}
)

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, evt agui.Event) error { return f(ctx, evt) }

// Close does nothing.
func (SinkFunc) Close(context.Context) error { return nil }

// NewFanout returns a sink writing to each non-nil sink of sinks.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Send delivers evt to every sink and stops at the first error.
func (f *Fanout) Send(ctx context.Context, evt agui.Event) error {
	for _, s := range f.sinks {
		if err := s.Send(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (f *Fanout) Close(ctx context.Context) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{})}
}

// Send appends evt.
func (r *Recorder) Send(_ context.Context, evt agui.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.events = append(r.events, evt)
	close(r.notify)
	r.notify = make(chan struct{})
	return nil
}

// Close marks the recorder closed.
func (r *Recorder) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.notify)
	}
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []agui.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Types returns the types of the recorded events.
func (r *Recorder) Types() []agui.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]agui.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type()
	}
	return out
}

// WaitFor blocks until an event of type t was recorded, the recorder closed
// or ctx is done.
func (r *Recorder) WaitFor(ctx context.Context, t agui.EventType) (agui.Event, error) {
	for {
		r.mu.Lock()
		for _, e := range r.events {
			if e.Type() == t {
				r.mu.Unlock()
				return e, nil
			}
		}
		if r.closed {
			r.mu.Unlock()
			return nil, ErrClosed
		}
		ch := r.notify
		r.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
