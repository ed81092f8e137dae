package pulse

import (
	"context"
	"errors"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/umbraco/Umbraco.AI-sub013/features/stream/pulse/clients/pulse"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/stream"
)

type (
	// JournalOptions configures a Journal.
	JournalOptions struct {
		// Client is shared by the sinks and subscribers of the journal.
		// Required.
		Client clientspulse.Client
		// StreamID maps a thread to its stream name. Defaults to
		// "thread/<threadID>".
		StreamID func(threadID string) string
		// Subscriber holds the consumer options. Client is ignored.
		Subscriber SubscriberOptions
	}

	// Journal records the AG-UI events of every thread and replays them.
	Journal struct {
		client   clientspulse.Client
		streamID func(string) string
		sub      *Subscriber
	}
)

// NewJournal returns a journal using opts.Client for both writing and reading.
func NewJournal(opts JournalOptions) (*Journal, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	subOpts := opts.Subscriber
	subOpts.Client = opts.Client
	sub, err := NewSubscriber(subOpts)
	if err != nil {
		return nil, err
	}
	streamID := opts.StreamID
	if streamID == nil {
		streamID = DefaultStreamID
	}
	return &Journal{client: opts.Client, streamID: streamID, sub: sub}, nil
}

// DefaultStreamID returns "thread/<threadID>".
func DefaultStreamID(threadID string) string {
	return "thread/" + threadID
}

// Sink returns the sink appending to the stream of threadID. Its signature
// matches the journal hook of the SSE handler.
func (j *Journal) Sink(_ context.Context, threadID string) (stream.Sink, error) {
	if threadID == "" {
		return nil, errors.New("thread id is required")
	}
	return NewSink(SinkOptions{Client: j.client, StreamID: j.streamID(threadID)})
}

// Subscribe replays the stream of threadID. See Subscriber.Subscribe.
func (j *Journal) Subscribe(ctx context.Context, threadID string, opts ...streamopts.Sink) (<-chan agui.Event, <-chan error, context.CancelFunc, error) {
	return j.sub.Subscribe(ctx, j.streamID(threadID), opts...)
}

// Name implements health.Pinger.
func (j *Journal) Name() string { return j.client.Name() }

// Ping implements health.Pinger.
func (j *Journal) Ping(ctx context.Context) error { return j.client.Ping(ctx) }
