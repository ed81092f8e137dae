package pulse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/stream"
)

func runEvents() []agui.Event {
	return []agui.Event{
		&agui.RunStartedEvent{ThreadID: "t1", RunID: "r1"},
		&agui.TextMessageChunkEvent{MessageID: "m1", Role: agui.RoleAssistant, Delta: "hi"},
		&agui.RunFinishedEvent{ThreadID: "t1", RunID: "r1", Outcome: agui.OutcomeSuccess},
	}
}

func TestSinkAppendsEncodedEvents(t *testing.T) {
	cli := newFakeClient()
	var published []PublishedEvent
	sink, err := NewSink(SinkOptions{
		Client:   cli,
		StreamID: "thread/t1",
		OnPublished: func(_ context.Context, ev PublishedEvent) error {
			published = append(published, ev)
			return nil
		},
	})
	require.NoError(t, err)
	for _, evt := range runEvents() {
		require.NoError(t, sink.Send(context.Background(), evt))
	}

	str := cli.stream("thread/t1")
	require.Equal(t, []string{"RUN_STARTED", "TEXT_MESSAGE_CHUNK", "RUN_FINISHED"}, str.entryNames())
	first, err := agui.Decode(str.payloads()[0])
	require.NoError(t, err)
	require.Equal(t, "r1", first.(*agui.RunStartedEvent).RunID)
	require.Len(t, published, 3)
	require.Equal(t, "3-0", published[2].EntryID)
	require.Equal(t, "thread/t1", published[2].StreamID)

	require.NoError(t, sink.Close(context.Background()))
	require.ErrorIs(t, sink.Send(context.Background(), runEvents()[0]), stream.ErrClosed)
}

func TestSinkErrors(t *testing.T) {
	_, err := NewSink(SinkOptions{StreamID: "s"})
	require.EqualError(t, err, "pulse client is required")
	_, err = NewSink(SinkOptions{Client: newFakeClient()})
	require.EqualError(t, err, "stream id is required")

	cli := newFakeClient()
	cli.streamErr = errors.New("boom")
	_, err = NewSink(SinkOptions{Client: cli, StreamID: "s"})
	require.EqualError(t, err, "boom")

	cli = newFakeClient()
	sink, err := NewSink(SinkOptions{Client: cli, StreamID: "s"})
	require.NoError(t, err)
	cli.stream("s").addErr = errors.New("add failed")
	require.ErrorContains(t, sink.Send(context.Background(), runEvents()[0]), "add failed")

	require.Error(t, sink.Send(context.Background(), &agui.RunStartedEvent{}), "invalid events are not journaled")

	cli = newFakeClient()
	sink, err = NewSink(SinkOptions{Client: cli, StreamID: "s", OnPublished: func(context.Context, PublishedEvent) error {
		return errors.New("after publish")
	}})
	require.NoError(t, err)
	require.EqualError(t, sink.Send(context.Background(), runEvents()[0]), "after publish")
}

func TestJournalReplaysThread(t *testing.T) {
	cli := newFakeClient()
	j, err := NewJournal(JournalOptions{Client: cli, Subscriber: SubscriberOptions{Buffer: 1}})
	require.NoError(t, err)
	require.Equal(t, "fake-pulse", j.Name())
	require.NoError(t, j.Ping(context.Background()))

	sink, err := j.Sink(context.Background(), "t1")
	require.NoError(t, err)
	for _, evt := range runEvents() {
		require.NoError(t, sink.Send(context.Background(), evt))
	}
	require.NotNil(t, cli.stream("thread/t1"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events, errs, stop, err := j.Subscribe(ctx, "t1")
	require.NoError(t, err)
	var types []agui.EventType
	for range runEvents() {
		select {
		case evt := <-events:
			types = append(types, evt.Type())
		case err := <-errs:
			t.Fatalf("unexpected error: %v", err)
		case <-ctx.Done():
			t.Fatal("timed out")
		}
	}
	stop()
	require.Equal(t, []agui.EventType{agui.EventRunStarted, agui.EventTextMessageChunk, agui.EventRunFinished}, types)
	sk := cli.stream("thread/t1").sinks[0]
	require.Equal(t, "agui_journal", sk.name)
	require.True(t, sk.closed)
	_, open := <-events
	require.False(t, open)

	_, err = j.Sink(context.Background(), "")
	require.Error(t, err)
}

func TestSubscribeStopsOnDecodeError(t *testing.T) {
	cli := newFakeClient()
	str, err := cli.Stream("thread/t1")
	require.NoError(t, err)
	_, err = str.Add(context.Background(), "BROKEN", []byte(`{"type":"RUN_STARTED"}`))
	require.NoError(t, err)

	sub, err := NewSubscriber(SubscriberOptions{Client: cli, SinkName: "replay"})
	require.NoError(t, err)
	events, errs, stop, err := sub.Subscribe(context.Background(), "thread/t1")
	require.NoError(t, err)
	defer stop()

	err = <-errs
	var de *agui.DecodeError
	require.ErrorAs(t, err, &de)
	require.ErrorContains(t, err, "journal entry 1-0")
	_, open := <-events
	require.False(t, open)
}

func TestNewJournalRequiresClient(t *testing.T) {
	_, err := NewJournal(JournalOptions{})
	require.EqualError(t, err, "pulse client is required")
	_, err = NewSubscriber(SubscriberOptions{})
	require.EqualError(t, err, "pulse client is required")
}
