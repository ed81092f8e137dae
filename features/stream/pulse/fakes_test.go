package pulse

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/umbraco/Umbraco.AI-sub013/features/stream/pulse/clients/pulse"
)

// fakeClient keeps streams in memory. Sinks replay every entry added before
// and after they were created.
type fakeClient struct {
	mu        sync.Mutex
	streams   map[string]*fakeStream
	streamErr error
	pingErr   error
}

type fakeStream struct {
	mu      sync.Mutex
	name    string
	entries []*streaming.Event
	names   []string
	addErr  error
	sinks   []*fakeSink
}

type fakeSink struct {
	name   string
	ch     chan *streaming.Event
	mu     sync.Mutex
	acked  []string
	ackErr error
	closed bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{streams: make(map[string]*fakeStream)}
}

func (c *fakeClient) Name() string { return "fake-pulse" }
func (c *fakeClient) Ping(context.Context) error { return c.pingErr }

func (c *fakeClient) Stream(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
	if c.streamErr != nil {
		return nil, c.streamErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[name]
	if !ok {
		s = &fakeStream{name: name}
		c.streams[name] = s
	}
	return s, nil
}

func (c *fakeClient) stream(name string) *fakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[name]
}

func (s *fakeStream) Add(_ context.Context, event string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return "", s.addErr
	}
	evt := &streaming.Event{ID: fmt.Sprintf("%d-0", len(s.entries)+1), Payload: payload}
	s.entries = append(s.entries, evt)
	s.names = append(s.names, event)
	for _, sk := range s.sinks {
		sk.ch <- evt
	}
	return evt.ID, nil
}

func (s *fakeStream) NewSink(_ context.Context, name string, _ ...streamopts.Sink) (clientspulse.Sink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk := &fakeSink{name: name, ch: make(chan *streaming.Event, 128)}
	for _, e := range s.entries {
		sk.ch <- e
	}
	s.sinks = append(s.sinks, sk)
	return sk, nil
}

func (s *fakeStream) Destroy(context.Context) error {
	return errors.New("not supported")
}

func (s *fakeStream) entryNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

func (s *fakeStream) payloads() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Payload
	}
	return out
}

func (k *fakeSink) Subscribe() <-chan *streaming.Event { return k.ch }

func (k *fakeSink) Ack(_ context.Context, evt *streaming.Event) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.ackErr != nil {
		return k.ackErr
	}
	k.acked = append(k.acked, evt.ID)
	return nil
}

func (k *fakeSink) Close(context.Context) {
	k.mu.Lock()
	k.closed = true
	k.mu.Unlock()
}
