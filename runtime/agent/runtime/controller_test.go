package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/hooks"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/interrupt"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/run"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/run/inmem"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/stream"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/tools"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/transcript"
)

// scriptedTransport replays one script per stream attempt and records the
// requests it received.
type scriptedTransport struct {
	mu      sync.Mutex
	scripts [][]agui.Event
	inputs  []agui.RunAgentInput
}

func (s *scriptedTransport) Run(ctx context.Context, input agui.RunAgentInput, yield func(agui.Event) error) error {
	s.mu.Lock()
	i := len(s.inputs)
	s.inputs = append(s.inputs, input)
	var script []agui.Event
	if i < len(s.scripts) {
		script = s.scripts[i]
	}
	s.mu.Unlock()
	for _, evt := range script {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := yield(evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *scriptedTransport) requests() []agui.RunAgentInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]agui.RunAgentInput(nil), s.inputs...)
}

func interruptFinish(id, reason string) *agui.RunFinishedEvent {
	return &agui.RunFinishedEvent{
		ThreadID:  "t1",
		RunID:     "r1",
		Outcome:   agui.OutcomeInterrupt,
		Interrupt: &agui.Interrupt{ID: id, Reason: reason},
	}
}

func finish() *agui.RunFinishedEvent {
	return &agui.RunFinishedEvent{ThreadID: "t1", RunID: "r1", Outcome: agui.OutcomeSuccess}
}

func bookFlightScript() []agui.Event {
	return []agui.Event{
		&agui.RunStartedEvent{ThreadID: "t1", RunID: "r1"},
		&agui.TextMessageStartEvent{MessageID: "m1", Role: agui.RoleAssistant},
		&agui.ToolCallStartEvent{ToolCallID: "tc1", ToolCallName: "book_flight", ParentMessageID: "m1"},
		&agui.ToolCallArgsEvent{ToolCallID: "tc1", Delta: `{"dest`},
		&agui.ToolCallArgsEvent{ToolCallID: "tc1", Delta: `":"NYC"}`},
		&agui.ToolCallEndEvent{ToolCallID: "tc1"},
		interruptFinish("i1", agui.ReasonToolExecution),
	}
}

func userRequest() RunRequest {
	return RunRequest{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{{ID: "u1", Role: agui.RoleUser, Content: "book a flight"}},
	}
}

type harness struct {
	ctrl      *Controller
	transport *scriptedTransport
	toolReg   *tools.Registry
	recorder  *stream.Recorder
	store     *inmem.Store
}

func newHarness(t *testing.T, scripts ...[]agui.Event) *harness {
	t.Helper()
	h := &harness{
		transport: &scriptedTransport{scripts: scripts},
		toolReg:   tools.NewRegistry(),
		recorder:  stream.NewRecorder(),
		store:     inmem.New(),
	}
	reg := interrupt.NewRegistry()
	ctrl, err := New(Options{Transport: h.transport, Interrupts: reg, Tools: h.toolReg, Store: h.store})
	require.NoError(t, err)
	sub, err := stream.NewSubscriber(h.recorder)
	require.NoError(t, err)
	_, err = ctrl.Bus().Register(sub)
	require.NoError(t, err)
	exec := tools.NewExecutor(h.toolReg, tools.WithStatusFunc(ctrl.ToolStatus))
	require.NoError(t, interrupt.Register(reg, nil, exec))
	h.ctrl = ctrl
	return h
}

func (h *harness) wait(t *testing.T) (run.Status, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := h.ctrl.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return status, err
}

func TestBookFlightEndToEnd(t *testing.T) {
	h := newHarness(t, bookFlightScript(), []agui.Event{
		&agui.RunStartedEvent{ThreadID: "t1", RunID: "r1"},
		&agui.TextMessageStartEvent{MessageID: "m2", Role: agui.RoleAssistant},
		&agui.TextMessageContentEvent{MessageID: "m2", Delta: "Booked."},
		&agui.TextMessageEndEvent{MessageID: "m2"},
		finish(),
	})
	var got map[string]any
	require.NoError(t, h.toolReg.Register(tools.Tool{
		Name:       "book_flight",
		Parameters: json.RawMessage(`{"type":"object","required":["dest"]}`),
	}, tools.ImplementationFunc(func(_ context.Context, args map[string]any) (any, error) {
		got = args
		return map[string]string{"confirmation": "ABC123"}, nil
	})))

	require.NoError(t, h.ctrl.Start(context.Background(), userRequest()))
	status, err := h.wait(t)
	require.NoError(t, err)
	require.Equal(t, run.StatusFinished, status)
	require.Equal(t, map[string]any{"dest": "NYC"}, got)

	reqs := h.transport.requests()
	require.Len(t, reqs, 2)
	require.Nil(t, reqs[0].Resume)
	require.Equal(t, "r1", reqs[1].RunID)
	require.Equal(t, "t1", reqs[1].ThreadID)
	require.NotNil(t, reqs[1].Resume)
	require.Equal(t, "i1", reqs[1].Resume.InterruptID)
	payload, err := reqs[1].Resume.Decode()
	require.NoError(t, err)
	require.Equal(t, []agui.ToolResult{{ToolCallID: "tc1", Result: `{"confirmation":"ABC123"}`}}, payload.ToolResults)

	var toolMsg *agui.Message
	for i, m := range reqs[1].Messages {
		if m.Role == agui.RoleTool {
			toolMsg = &reqs[1].Messages[i]
		}
	}
	require.NotNil(t, toolMsg, "resume request must carry the tool result message")
	require.Equal(t, "tc1", toolMsg.ToolCallID)

	snap := h.ctrl.Snapshot()
	require.Nil(t, snap.AgentState)
	require.Nil(t, snap.Interrupt)
	call, ok := snap.ToolCall("tc1")
	require.True(t, ok)
	require.Equal(t, `{"dest":"NYC"}`, call.Arguments)
	require.Equal(t, transcript.ToolCompleted, call.Status)
	last := snap.Messages[len(snap.Messages)-1]
	require.Equal(t, "m2", last.ID)
	require.Equal(t, "Booked.", last.Content)
	require.Equal(t, 2, snap.Record.Attempts)

	rec, err := h.store.Load(context.Background(), "t1", "r1")
	require.NoError(t, err)
	require.Equal(t, run.StatusFinished, rec.Status)
	require.Equal(t, 2, rec.Attempts)
	require.Empty(t, rec.PendingInterruptID)
}

func TestToolExecutionSkipsBackendTools(t *testing.T) {
	h := newHarness(t, []agui.Event{
		&agui.TextMessageStartEvent{MessageID: "m1"},
		&agui.ToolCallStartEvent{ToolCallID: "tc1", ToolCallName: "book_flight"},
		&agui.ToolCallEndEvent{ToolCallID: "tc1"},
		&agui.ToolCallStartEvent{ToolCallID: "tc2", ToolCallName: "search_web"},
		&agui.ToolCallEndEvent{ToolCallID: "tc2"},
		interruptFinish("i1", agui.ReasonToolExecution),
	}, []agui.Event{finish()})
	var ran []string
	var mu sync.Mutex
	require.NoError(t, h.toolReg.Register(tools.Tool{Name: "book_flight"}, tools.ImplementationFunc(func(context.Context, map[string]any) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		ran = append(ran, "book_flight")
		return "ok", nil
	})))

	require.NoError(t, h.ctrl.Start(context.Background(), userRequest()))
	status, err := h.wait(t)
	require.NoError(t, err)
	require.Equal(t, run.StatusFinished, status)
	require.Equal(t, []string{"book_flight"}, ran)

	payload, err := h.transport.requests()[1].Resume.Decode()
	require.NoError(t, err)
	require.Len(t, payload.ToolResults, 1)
	require.Equal(t, "tc1", payload.ToolResults[0].ToolCallID)
}

func TestToolFailureIsResumedAsData(t *testing.T) {
	h := newHarness(t, bookFlightScript(), []agui.Event{finish()})
	require.NoError(t, h.toolReg.Register(tools.Tool{Name: "book_flight"}, tools.ImplementationFunc(func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("no seats left")
	})))

	require.NoError(t, h.ctrl.Start(context.Background(), userRequest()))
	status, err := h.wait(t)
	require.NoError(t, err)
	require.Equal(t, run.StatusFinished, status)

	payload, err := h.transport.requests()[1].Resume.Decode()
	require.NoError(t, err)
	require.Len(t, payload.ToolResults, 1)
	require.True(t, payload.ToolResults[0].IsError)
	require.JSONEq(t, `{"error":"no seats left"}`, payload.ToolResults[0].Result)
}

func TestDuplicateInterruptErrorsRun(t *testing.T) {
	h := newHarness(t, []agui.Event{
		&agui.RunStartedEvent{ThreadID: "t1", RunID: "r1"},
		interruptFinish("i1", "custom"),
		interruptFinish("i2", "custom"),
	})
	require.NoError(t, h.ctrl.Start(context.Background(), userRequest()))
	status, err := h.wait(t)
	require.Equal(t, run.StatusErrored, status)
	require.ErrorIs(t, err, ErrDuplicateInterrupt)
	require.Nil(t, h.ctrl.PendingInterrupt())
	require.Nil(t, h.ctrl.AgentState())

	evt, werr := h.recorder.WaitFor(context.Background(), agui.EventRunError)
	require.NoError(t, werr)
	require.Equal(t, CodeProtocolError, evt.(*agui.RunErrorEvent).Code)
}

func TestRunErrorIsTerminal(t *testing.T) {
	h := newHarness(t, []agui.Event{
		&agui.RunStartedEvent{ThreadID: "t1", RunID: "r1"},
		&agui.RunErrorEvent{Message: "model overloaded", Code: "OVERLOADED"},
		&agui.TextMessageStartEvent{MessageID: "late"},
	})
	require.NoError(t, h.ctrl.Start(context.Background(), userRequest()))
	status, err := h.wait(t)
	require.Equal(t, run.StatusErrored, status)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.Equal(t, "OVERLOADED", runErr.Code)
	require.Len(t, h.transport.requests(), 1)
	_, ok := transcriptMessage(h.ctrl.Messages(), "late")
	require.False(t, ok, "events after RUN_ERROR must not be applied")
	require.Nil(t, h.ctrl.AgentState())
}

func TestRunFinishedWithErrorOutcome(t *testing.T) {
	h := newHarness(t, []agui.Event{
		&agui.RunFinishedEvent{ThreadID: "t1", RunID: "r1", Outcome: "Error", Error: "quota exceeded"},
	})
	require.NoError(t, h.ctrl.Start(context.Background(), userRequest()))
	status, err := h.wait(t)
	require.Equal(t, run.StatusErrored, status)
	require.ErrorContains(t, err, "quota exceeded")
}

func TestStreamEndedBeforeFinish(t *testing.T) {
	h := newHarness(t, []agui.Event{
		&agui.RunStartedEvent{ThreadID: "t1", RunID: "r1"},
		&agui.TextMessageChunkEvent{MessageID: "m1", Delta: "partial"},
	})
	require.NoError(t, h.ctrl.Start(context.Background(), userRequest()))
	status, err := h.wait(t)
	require.Equal(t, run.StatusErrored, status)
	require.ErrorIs(t, err, ErrStreamEnded)
	m, ok := transcriptMessage(h.ctrl.Messages(), "m1")
	require.True(t, ok)
	require.True(t, m.Closed)
}

func TestProtocolViolationErrorsRun(t *testing.T) {
	h := newHarness(t, []agui.Event{
		&agui.ToolCallArgsEvent{ToolCallID: "ghost", Delta: "{}"},
		finish(),
	})
	require.NoError(t, h.ctrl.Start(context.Background(), userRequest()))
	status, err := h.wait(t)
	require.Equal(t, run.StatusErrored, status)
	require.ErrorIs(t, err, transcript.ErrUnknownToolCall)
	var pe *transcript.ProtocolError
	require.ErrorAs(t, err, &pe)
}

func TestAbortDiscardsToolResults(t *testing.T) {
	h := newHarness(t, bookFlightScript(), []agui.Event{finish()})
	started := make(chan struct{})
	require.NoError(t, h.toolReg.Register(tools.Tool{Name: "book_flight"}, tools.ImplementationFunc(func(ctx context.Context, _ map[string]any) (any, error) {
		close(started)
		<-ctx.Done()
		return "too late", nil
	})))

	require.NoError(t, h.ctrl.Start(context.Background(), userRequest()))
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("tool never started")
	}
	require.Equal(t, run.StatusInterrupted, h.ctrl.Status())
	require.Equal(t, agent.StatusExecuting, h.ctrl.AgentState().Status)

	h.ctrl.Abort(errors.New("user navigated away"))
	status, err := h.wait(t)
	require.Equal(t, run.StatusErrored, status)
	require.ErrorIs(t, err, ErrCanceled)
	require.ErrorContains(t, err, "user navigated away")
	require.Len(t, h.transport.requests(), 1, "aborted runs are never resumed")
	for _, m := range h.ctrl.Messages() {
		require.NotEqual(t, agui.RoleTool, m.Role)
	}
	require.ErrorIs(t, h.ctrl.Resume(context.Background(), "i1", nil), ErrNotInterrupted)
}

func TestHumanApprovalWaitsForResume(t *testing.T) {
	h := newHarness(t,
		[]agui.Event{interruptFinish("a1", agui.ReasonHumanApproval)},
		[]agui.Event{finish()},
	)
	req := userRequest()
	req.Labels = map[string]string{"surface": "copilot"}
	require.NoError(t, h.ctrl.Start(context.Background(), req))
	status, err := h.wait(t)
	require.NoError(t, err)
	require.Equal(t, run.StatusInterrupted, status)
	require.Equal(t, "a1", h.ctrl.PendingInterrupt().ID)
	require.Equal(t, agent.StatusAwaitingInput, h.ctrl.AgentState().Status)

	rec, err := h.store.Load(context.Background(), "t1", "r1")
	require.NoError(t, err)
	require.Equal(t, run.StatusInterrupted, rec.Status)
	require.Equal(t, "a1", rec.PendingInterruptID)
	require.Equal(t, agui.ReasonHumanApproval, rec.PendingReason)
	require.Equal(t, "copilot", rec.Labels["surface"])

	require.ErrorIs(t, h.ctrl.Start(context.Background(), userRequest()), ErrRunActive)
	require.ErrorIs(t, h.ctrl.Resume(context.Background(), "other", nil), ErrUnknownInterrupt)

	payload, err := agui.ResponsePayload(map[string]any{"approved": true})
	require.NoError(t, err)
	require.NoError(t, h.ctrl.Resume(context.Background(), "a1", payload))
	status, err = h.wait(t)
	require.NoError(t, err)
	require.Equal(t, run.StatusFinished, status)

	decoded, err := h.transport.requests()[1].Resume.Decode()
	require.NoError(t, err)
	require.JSONEq(t, `{"approved":true}`, string(decoded.Response))

	rec, err = h.store.Load(context.Background(), "t1", "r1")
	require.NoError(t, err)
	require.Equal(t, run.StatusFinished, rec.Status)
	require.Empty(t, rec.PendingInterruptID)
}

func TestUnknownReasonFallsBackToDefault(t *testing.T) {
	h := newHarness(t, []agui.Event{
		&agui.StepStartedEvent{StepName: "plan"},
		interruptFinish("x1", "something_new"),
	})
	require.NoError(t, h.ctrl.Start(context.Background(), userRequest()))
	status, err := h.wait(t)
	require.NoError(t, err)
	require.Equal(t, run.StatusInterrupted, status)
	require.Nil(t, h.ctrl.AgentState(), "wildcard handler clears the agent state")
}

func TestStateAndSteps(t *testing.T) {
	h := newHarness(t, []agui.Event{
		&agui.StateSnapshotEvent{Snapshot: json.RawMessage(`{"count":1,"items":[]}`)},
		&agui.StepStartedEvent{StepName: "search"},
		&agui.StateDeltaEvent{Delta: json.RawMessage(`[{"op":"replace","path":"/count","value":2},{"op":"add","path":"/items/-","value":"a"}]`)},
		&agui.StepFinishedEvent{StepName: "search"},
		finish(),
	})
	var mu sync.Mutex
	var steps []string
	_, err := h.ctrl.Bus().Register(hooks.SubscriberFunc(func(_ context.Context, evt hooks.Event) error {
		if e, ok := evt.(*hooks.AgentStateChangedEvent); ok && e.State != nil {
			mu.Lock()
			steps = append(steps, e.State.CurrentStep)
			mu.Unlock()
		}
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, h.ctrl.Start(context.Background(), userRequest()))
	status, err := h.wait(t)
	require.NoError(t, err)
	require.Equal(t, run.StatusFinished, status)
	require.JSONEq(t, `{"count":2,"items":["a"]}`, string(h.ctrl.State()))
	require.Equal(t, []string{"", "search", ""}, steps)
}

func TestInvalidStateDeltaErrorsRun(t *testing.T) {
	h := newHarness(t, []agui.Event{
		&agui.StateDeltaEvent{Delta: json.RawMessage(`{"op":"add"}`)},
		finish(),
	})
	require.NoError(t, h.ctrl.Start(context.Background(), userRequest()))
	status, err := h.wait(t)
	require.Equal(t, run.StatusErrored, status)
	require.ErrorIs(t, err, ErrInvalidStateDelta)
}

func TestRequestCarriesToolsAndMetadata(t *testing.T) {
	h := newHarness(t, []agui.Event{finish()})
	require.NoError(t, h.toolReg.Register(tools.Tool{Name: "delete_page", Scope: "content", Destructive: true}, tools.ImplementationFunc(func(context.Context, map[string]any) (any, error) {
		return nil, nil
	})))
	req := userRequest()
	req.ForwardedProps = json.RawMessage(`{"culture":"en-US"}`)
	require.NoError(t, h.ctrl.Start(context.Background(), req))
	_, err := h.wait(t)
	require.NoError(t, err)

	in := h.transport.requests()[0]
	require.Len(t, in.Tools, 1)
	require.Equal(t, "delete_page", in.Tools[0].Name)
	require.Equal(t, []agui.Message{{ID: "u1", Role: agui.RoleUser, Content: "book a flight"}}, in.Messages)
	props, err := in.Forwarded()
	require.NoError(t, err)
	require.Equal(t, []agui.ToolMetadata{{ToolName: "delete_page", Scope: "content", IsDestructive: true}}, props.ToolMetadata)
	require.JSONEq(t, `{"culture":"en-US","toolMetadata":[{"toolName":"delete_page","scope":"content","isDestructive":true}]}`, string(in.ForwardedProps))
}

func TestStartValidatesAndRestarts(t *testing.T) {
	h := newHarness(t, []agui.Event{finish()}, []agui.Event{finish()})
	require.ErrorIs(t, h.ctrl.Start(context.Background(), RunRequest{ThreadID: "t1"}), agui.ErrInvalidInput)

	require.NoError(t, h.ctrl.Start(context.Background(), userRequest()))
	_, err := h.wait(t)
	require.NoError(t, err)

	next := userRequest()
	next.RunID = "r2"
	require.NoError(t, h.ctrl.Start(context.Background(), next))
	status, err := h.wait(t)
	require.NoError(t, err)
	require.Equal(t, run.StatusFinished, status)
	require.Equal(t, "r2", h.transport.requests()[1].RunID)

	records, err := h.store.ListThread(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, records, 2)
}

// sequenceTransport serves each stream attempt with the next function.
type sequenceTransport struct {
	mu    sync.Mutex
	calls int
	runs  []TransportFunc
}

func (s *sequenceTransport) Run(ctx context.Context, input agui.RunAgentInput, yield func(agui.Event) error) error {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()
	if i >= len(s.runs) {
		return nil
	}
	return s.runs[i](ctx, input, yield)
}

// blockUntilCanceled keeps the stream open until the run is canceled.
func blockUntilCanceled(ctx context.Context, _ agui.RunAgentInput, _ func(agui.Event) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestLateErrorOfAbortedRunKeepsNextRunStreaming(t *testing.T) {
	release := make(chan struct{})
	transport := &sequenceTransport{runs: []TransportFunc{
		func(ctx context.Context, _ agui.RunAgentInput, _ func(agui.Event) error) error {
			<-ctx.Done()
			<-release
			return ctx.Err()
		},
		blockUntilCanceled,
	}}
	ctrl, err := New(Options{Transport: transport})
	require.NoError(t, err)

	require.NoError(t, ctrl.Start(context.Background(), RunRequest{ThreadID: "t1", RunID: "a"}))
	ctrl.Abort(nil)
	require.Equal(t, run.StatusErrored, ctrl.Status())

	require.NoError(t, ctrl.Start(context.Background(), RunRequest{ThreadID: "t1", RunID: "b"}))
	close(release)
	require.Never(t, func() bool { return ctrl.Status() != run.StatusStreaming }, 200*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, ctrl.Err())
	require.Equal(t, 1, ctrl.Snapshot().Record.Attempts)

	ctrl.Abort(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := ctrl.Wait(ctx)
	require.Equal(t, run.StatusErrored, status)
	require.ErrorIs(t, err, ErrCanceled)
}

func TestLateErrorOfResumedAttemptIsIgnored(t *testing.T) {
	release := make(chan struct{})
	transport := &sequenceTransport{runs: []TransportFunc{
		func(_ context.Context, _ agui.RunAgentInput, yield func(agui.Event) error) error {
			if err := yield(interruptFinish("a1", agui.ReasonHumanApproval)); err != nil {
				return err
			}
			<-release
			return errors.New("connection reset by peer")
		},
		blockUntilCanceled,
	}}
	ctrl, err := New(Options{Transport: transport})
	require.NoError(t, err)

	require.NoError(t, ctrl.Start(context.Background(), userRequest()))
	require.Eventually(t, func() bool { return ctrl.Status() == run.StatusInterrupted }, 5*time.Second, 5*time.Millisecond)

	payload, err := agui.ResponsePayload("approve")
	require.NoError(t, err)
	require.NoError(t, ctrl.Resume(context.Background(), "a1", payload))
	close(release)
	require.Never(t, func() bool { return ctrl.Status() != run.StatusStreaming }, 200*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, 2, ctrl.Snapshot().Record.Attempts)

	ctrl.Abort(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = ctrl.Wait(ctx)
	require.ErrorIs(t, err, ErrCanceled)
}

func TestNewRequiresTransport(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func transcriptMessage(msgs []transcript.Message, id string) (transcript.Message, bool) {
	for _, m := range msgs {
		if m.ID == id {
			return m, true
		}
	}
	return transcript.Message{}, false
}
