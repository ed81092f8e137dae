package sse

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/interrupt"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/run"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/runtime"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/server"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/stream"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/tools"
)

func greeter() server.Agent {
	return server.AgentFunc(func(ctx context.Context, req server.AgentRequest, yield func(server.Update) error) error {
		for _, part := range []string{"Hello", ", ", "world"} {
			if err := yield(server.TextDelta{Text: part}); err != nil {
				return err
			}
		}
		return nil
	})
}

func newServer(t *testing.T, agent server.Agent, opts ...HandlerOption) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHandler(server.NewService(agent), opts...))
	t.Cleanup(srv.Close)
	return srv
}

func input(thread, runID string) agui.RunAgentInput {
	return agui.RunAgentInput{
		ThreadID: thread,
		RunID:    runID,
		Messages: []agui.Message{{ID: "u1", Role: agui.RoleUser, Content: "hi"}},
	}
}

func collect(t *testing.T, c *Client, in agui.RunAgentInput) ([]agui.Event, error) {
	t.Helper()
	var events []agui.Event
	err := c.Run(context.Background(), in, func(evt agui.Event) error {
		events = append(events, evt)
		return nil
	})
	return events, err
}

func TestClientReceivesRunEvents(t *testing.T) {
	srv := newServer(t, greeter())
	events, err := collect(t, NewClient(srv.URL), input("t1", "r1"))
	require.NoError(t, err)
	require.Len(t, events, 5)
	require.Equal(t, agui.EventRunStarted, events[0].Type())
	var text strings.Builder
	for _, evt := range events[1:4] {
		chunk := evt.(*agui.TextMessageChunkEvent)
		text.WriteString(chunk.Delta)
	}
	require.Equal(t, "Hello, world", text.String())
	fin := events[4].(*agui.RunFinishedEvent)
	require.Equal(t, agui.OutcomeSuccess, fin.Outcome)
	require.Equal(t, "t1", fin.ThreadID)
}

func TestHandlerWritesSSEFrames(t *testing.T) {
	srv := newServer(t, greeter())
	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(`{"threadId":"t1","runId":"r1","messages":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(body), "event:RUN_STARTED\ndata:{"))
	require.Contains(t, string(body), "event:RUN_FINISHED\n")
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	srv := newServer(t, greeter())

	_, err := collect(t, NewClient(srv.URL), input("", "r1"))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadRequest, se.StatusCode)
	require.Contains(t, se.Body, "threadId is required")

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	bad := input("t1", "r1")
	bad.Resume = &agui.Resume{InterruptID: "i1", Payload: []byte(`"not an object"`)}
	_, err = collect(t, NewClient(srv.URL), bad)
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadRequest, se.StatusCode)
}

func TestHandlerRateLimitsPerThread(t *testing.T) {
	srv := newServer(t, greeter(), WithRateLimit(rate.Every(time.Hour), 1))
	c := NewClient(srv.URL)

	_, err := collect(t, c, input("t1", "r1"))
	require.NoError(t, err)
	_, err = collect(t, c, input("t1", "r2"))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusTooManyRequests, se.StatusCode)

	_, err = collect(t, c, input("t2", "r1"))
	require.NoError(t, err, "limits are per thread")
}

func TestThreadLimitersPruneIdleThreads(t *testing.T) {
	now := time.Unix(1000, 0)
	l := &threadLimiters{limit: rate.Every(time.Hour), burst: 1, entries: map[string]*limiterEntry{}, now: func() time.Time { return now }}
	ok, _ := l.allow("t1")
	require.True(t, ok)
	ok, retry := l.allow("t1")
	require.False(t, ok)
	require.Positive(t, retry)

	now = now.Add(2 * limiterIdleTTL)
	ok, _ = l.allow("t2")
	require.True(t, ok)
	require.NotContains(t, l.entries, "t1")
}

func TestHandlerCopiesEventsToJournal(t *testing.T) {
	rec := stream.NewRecorder()
	var thread string
	srv := newServer(t, greeter(), WithJournal(func(_ context.Context, threadID string) (stream.Sink, error) {
		thread = threadID
		return rec, nil
	}))
	events, err := collect(t, NewClient(srv.URL), input("t1", "r1"))
	require.NoError(t, err)
	require.Equal(t, "t1", thread)
	require.Len(t, rec.Events(), len(events))
	_, err = rec.WaitFor(context.Background(), agui.EventRunFinished)
	require.NoError(t, err)
	require.ErrorIs(t, rec.Send(context.Background(), events[0]), stream.ErrClosed)
}

func TestHandlerJournalFailure(t *testing.T) {
	srv := newServer(t, greeter(), WithJournal(func(context.Context, string) (stream.Sink, error) {
		return nil, errors.New("redis down")
	}))
	_, err := collect(t, NewClient(srv.URL), input("t1", "r1"))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
}

func TestClientSendsHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, ": keep-alive\n\n")
	}))
	defer srv.Close()
	events, err := collect(t, NewClient(srv.URL, WithHeader("Authorization", "Bearer token"), WithHTTPClient(srv.Client())), input("t1", "r1"))
	require.NoError(t, err)
	require.Empty(t, events)
	require.Equal(t, "Bearer token", got.Get("Authorization"))
	require.Equal(t, "text/event-stream", got.Get("Accept"))
}

func TestClientRejectsMalformedFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event:RUN_STARTED\ndata:{\"type\":\"RUN_STARTED\"}\n\n")
	}))
	defer srv.Close()
	_, err := collect(t, NewClient(srv.URL), input("t1", "r1"))
	var de *agui.DecodeError
	require.ErrorAs(t, err, &de)
}

func TestClientRejectsNonStreamResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()
	_, err := collect(t, NewClient(srv.URL), input("t1", "r1"))
	require.ErrorContains(t, err, "unexpected content type")
}

func TestControllerOverSSE(t *testing.T) {
	agent := server.AgentFunc(func(ctx context.Context, req server.AgentRequest, yield func(server.Update) error) error {
		if req.Resume == nil {
			return yield(server.ToolCallUpdate{ID: "tc1", Name: "get_time", Arguments: map[string]any{}})
		}
		last := req.Messages[len(req.Messages)-1]
		return yield(server.TextDelta{Text: "It is " + strings.Trim(last.Content, `"`)})
	})
	srv := newServer(t, agent)

	toolReg := tools.NewRegistry()
	require.NoError(t, toolReg.Register(tools.Tool{Name: "get_time"}, tools.ImplementationFunc(func(context.Context, map[string]any) (any, error) {
		return "noon", nil
	})))
	reg := interrupt.NewRegistry()
	ctrl, err := runtime.New(runtime.Options{Transport: NewClient(srv.URL), Interrupts: reg, Tools: toolReg})
	require.NoError(t, err)
	require.NoError(t, interrupt.Register(reg, nil, tools.NewExecutor(toolReg, tools.WithStatusFunc(ctrl.ToolStatus))))

	require.NoError(t, ctrl.Start(context.Background(), runtime.RunRequest{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{{ID: "u1", Role: agui.RoleUser, Content: "what time is it?"}},
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := ctrl.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, run.StatusFinished, status)
	msgs := ctrl.Messages()
	require.Equal(t, "It is noon", msgs[len(msgs)-1].Content)
}
