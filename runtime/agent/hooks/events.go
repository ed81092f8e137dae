package hooks

import (
	"context"
	"time"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/run"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/transcript"
)

// EventType identifies a hook event.
type EventType string

const (
	// RunStatusChanged fires on every run status transition.
	RunStatusChanged EventType = "run_status_changed"
	// EventApplied fires after a protocol event was applied to the run.
	EventApplied EventType = "event_applied"
	// InterruptObserved fires when the run pauses on an interrupt, before the
	// handler is dispatched.
	InterruptObserved EventType = "interrupt_observed"
	// ToolCallStatusChanged fires when a frontend tool call changes status.
	ToolCallStatusChanged EventType = "tool_call_status_changed"
	// AgentStateChanged fires when the agent state is replaced or cleared.
	AgentStateChanged EventType = "agent_state_changed"
)

type (
	// Event is implemented by all hook events. Subscribers use a type switch
	// to access event-specific fields:
	//
	//	switch e := evt.(type) {
	//	case *hooks.RunStatusChangedEvent:
	//	    log.Printf("%s → %s", e.From, e.To)
	//	case *hooks.InterruptObservedEvent:
	//	    log.Printf("paused on %s", e.Interrupt.Reason)
	//	}
	Event interface {
		Type() EventType
		// ThreadID and RunID identify the run that produced the event.
		ThreadID() string
		RunID() string
		// Timestamp is the Unix time in milliseconds at creation.
		Timestamp() int64
	}

	// SubscriberFunc adapts a function to Subscriber.
	SubscriberFunc func(ctx context.Context, event Event) error

	baseEvent struct {
		threadID  string
		runID     string
		timestamp int64
	}

	// RunStatusChangedEvent reports a run status transition.
	RunStatusChangedEvent struct {
		baseEvent
		From run.Status
		To   run.Status
		// Attempt is the number of streams opened so far.
		Attempt int
		// Err is set when the run errored.
		Err error
	}

	// EventAppliedEvent carries a protocol event after it was applied.
	EventAppliedEvent struct {
		baseEvent
		Event agui.Event
	}

	// InterruptObservedEvent reports the interrupt the run paused on.
	InterruptObservedEvent struct {
		baseEvent
		Interrupt agui.Interrupt
	}

	// ToolCallStatusChangedEvent reports a frontend tool call status change.
	ToolCallStatusChangedEvent struct {
		baseEvent
		ToolCallID string
		Status     transcript.ToolCallStatus
	}

	// AgentStateChangedEvent carries the new agent state; State is nil when
	// the state was cleared.
	AgentStateChangedEvent struct {
		baseEvent
		State *agent.State
	}
)

// HandleEvent calls f.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

func newBase(threadID, runID string) baseEvent {
	return baseEvent{threadID: threadID, runID: runID, timestamp: time.Now().UnixMilli()}
}

func (e baseEvent) ThreadID() string { return e.threadID }
func (e baseEvent) RunID() string    { return e.runID }
func (e baseEvent) Timestamp() int64 { return e.timestamp }

func (*RunStatusChangedEvent) Type() EventType      { return RunStatusChanged }
func (*EventAppliedEvent) Type() EventType          { return EventApplied }
func (*InterruptObservedEvent) Type() EventType     { return InterruptObserved }
func (*ToolCallStatusChangedEvent) Type() EventType { return ToolCallStatusChanged }
func (*AgentStateChangedEvent) Type() EventType     { return AgentStateChanged }

// NewRunStatusChangedEvent constructs a RunStatusChangedEvent.
func NewRunStatusChangedEvent(threadID, runID string, from, to run.Status, attempt int, err error) *RunStatusChangedEvent {
	return &RunStatusChangedEvent{baseEvent: newBase(threadID, runID), From: from, To: to, Attempt: attempt, Err: err}
}

// NewEventAppliedEvent constructs an EventAppliedEvent.
func NewEventAppliedEvent(threadID, runID string, evt agui.Event) *EventAppliedEvent {
	return &EventAppliedEvent{baseEvent: newBase(threadID, runID), Event: evt}
}

// NewInterruptObservedEvent constructs an InterruptObservedEvent.
func NewInterruptObservedEvent(threadID, runID string, in agui.Interrupt) *InterruptObservedEvent {
	return &InterruptObservedEvent{baseEvent: newBase(threadID, runID), Interrupt: in}
}

// NewToolCallStatusChangedEvent constructs a ToolCallStatusChangedEvent.
func NewToolCallStatusChangedEvent(threadID, runID, toolCallID string, status transcript.ToolCallStatus) *ToolCallStatusChangedEvent {
	return &ToolCallStatusChangedEvent{baseEvent: newBase(threadID, runID), ToolCallID: toolCallID, Status: status}
}

// NewAgentStateChangedEvent constructs an AgentStateChangedEvent. The state is
// cloned.
func NewAgentStateChangedEvent(threadID, runID string, s *agent.State) *AgentStateChangedEvent {
	return &AgentStateChangedEvent{baseEvent: newBase(threadID, runID), State: s.Clone()}
}
