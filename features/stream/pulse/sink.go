// Package pulse journals AG-UI events in goa.design/pulse streams. Each thread
// gets its own stream; entries are named after the event type and carry the
// JSON event as produced by agui.Encode, so a subscriber can replay a run to a
// late or reconnecting client.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/umbraco/Umbraco.AI-sub013/features/stream/pulse/clients/pulse"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/stream"
)

type (
	// PublishedEvent describes an event appended to a journal stream.
	PublishedEvent struct {
		Event    agui.Event
		StreamID string
		EntryID  string
	}

	// SinkOptions configures a thread Sink.
	SinkOptions struct {
		// Client opens the journal stream. Required.
		Client pulse.Client
		// StreamID is the name of the journal stream. Required.
		StreamID string
		// OnPublished is called after each successful append. An error fails
		// the Send.
		OnPublished func(context.Context, PublishedEvent) error
	}

	// Sink appends the events of one thread to its journal stream. It is safe
	// for concurrent use.
	Sink struct {
		streamID    string
		handle      pulse.Stream
		onPublished func(context.Context, PublishedEvent) error

		mu     sync.Mutex
		closed bool
	}
)

var _ stream.Sink = (*Sink)(nil)

// NewSink opens the journal stream named opts.StreamID.
func NewSink(opts SinkOptions) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	if opts.StreamID == "" {
		return nil, errors.New("stream id is required")
	}
	h, err := opts.Client.Stream(opts.StreamID)
	if err != nil {
		return nil, err
	}
	return &Sink{streamID: opts.StreamID, handle: h, onPublished: opts.OnPublished}, nil
}

// Send appends evt to the journal.
func (s *Sink) Send(ctx context.Context, evt agui.Event) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return stream.ErrClosed
	}
	frame, err := agui.Encode(evt)
	if err != nil {
		return err
	}
	id, err := s.handle.Add(ctx, string(evt.Type()), frame)
	if err != nil {
		return fmt.Errorf("journal %s: %w", evt.Type(), err)
	}
	if s.onPublished != nil {
		return s.onPublished(ctx, PublishedEvent{Event: evt, StreamID: s.streamID, EntryID: id})
	}
	return nil
}

// Close stops the sink. The stream and the Redis connection stay open.
func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
