package pulse

import (
	"context"
	"errors"
	"fmt"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/umbraco/Umbraco.AI-sub013/features/stream/pulse/clients/pulse"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
)

type (
	// SubscriberOptions configures a journal subscriber.
	SubscriberOptions struct {
		// Client is the Pulse client used to consume events. Required.
		Client clientspulse.Client
		// SinkName identifies the Pulse consumer group. Defaults to
		// "agui_journal".
		SinkName string
		// Buffer is the capacity of the event channel. Defaults to 64.
		Buffer int
	}

	// Subscriber reads journal streams back into AG-UI events.
	Subscriber struct {
		client clientspulse.Client
		buffer int
		name   string
	}
)

// NewSubscriber returns a subscriber reading with opts.Client.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = "agui_journal"
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	return &Subscriber{client: opts.Client, buffer: buffer, name: name}, nil
}

// Subscribe opens a consumer group on streamID and emits the decoded events in
// journal order. The returned cancel function stops consumption, closes the
// consumer group and closes both channels. Consumption stops at the first
// decode or ack error, which is sent on the error channel.
//
//	events, errs, cancel, err := sub.Subscribe(ctx, "thread/t1", options.WithSinkStartAtOldest())
//	defer cancel()
//	for evt := range events {
//	    // replay evt
//	}
func (s *Subscriber) Subscribe(ctx context.Context, streamID string, opts ...streamopts.Sink) (<-chan agui.Event, <-chan error, context.CancelFunc, error) {
	str, err := s.client.Stream(streamID)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	events := make(chan agui.Event, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.consume(runCtx, sink, events, errs)
	}()
	stop := func() {
		cancel()
		<-done
		sink.Close(context.WithoutCancel(ctx))
	}
	return events, errs, stop, nil
}

func (s *Subscriber) consume(ctx context.Context, sink clientspulse.Sink, out chan<- agui.Event, errs chan<- error) {
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
			decoded, err := agui.Decode(evt.Payload)
			if err != nil {
				errs <- fmt.Errorf("journal entry %s: %w", evt.ID, err)
				return
			}
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
			if err := sink.Ack(ctx, evt); err != nil {
				errs <- fmt.Errorf("journal ack %s: %w", evt.ID, err)
				return
			}
		}
	}
}
