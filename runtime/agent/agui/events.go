// Package agui defines the AG-UI event vocabulary exchanged between an agent
// server and a UI runtime, together with the wire types of a run request and a
// codec that maps events to and from discriminated JSON frames.
//
// The set of event kinds is closed: every kind has a concrete struct in this
// package and the discriminator is derived from the Go type, never from a
// settable field. Frames whose discriminator is not recognized decode to a
// RawEvent so newer servers remain readable by older clients.
package agui

import "encoding/json"

// EventType is the value of the "type" discriminator of an AG-UI frame.
type EventType string

const (
	// EventRunStarted opens a run.
	EventRunStarted EventType = "RUN_STARTED"
	// EventRunFinished closes a run, optionally with an interrupt outcome.
	EventRunFinished EventType = "RUN_FINISHED"
	// EventRunError closes a run with an error.
	EventRunError EventType = "RUN_ERROR"
	// EventStepStarted marks the beginning of a named step.
	EventStepStarted EventType = "STEP_STARTED"
	// EventStepFinished marks the end of a named step.
	EventStepFinished EventType = "STEP_FINISHED"
	// EventTextMessageStart opens a streamed message.
	EventTextMessageStart EventType = "TEXT_MESSAGE_START"
	// EventTextMessageContent appends text to an open message.
	EventTextMessageContent EventType = "TEXT_MESSAGE_CONTENT"
	// EventTextMessageEnd closes a streamed message.
	EventTextMessageEnd EventType = "TEXT_MESSAGE_END"
	// EventTextMessageChunk is the compact form of start, content and end.
	EventTextMessageChunk EventType = "TEXT_MESSAGE_CHUNK"
	// EventToolCallStart opens a tool call.
	EventToolCallStart EventType = "TOOL_CALL_START"
	// EventToolCallArgs appends a raw argument fragment to a tool call.
	EventToolCallArgs EventType = "TOOL_CALL_ARGS"
	// EventToolCallEnd freezes the arguments of a tool call.
	EventToolCallEnd EventType = "TOOL_CALL_END"
	// EventToolCallResult carries the result of a server executed tool call.
	EventToolCallResult EventType = "TOOL_CALL_RESULT"
	// EventToolCallChunk is the compact form of start, args and end.
	EventToolCallChunk EventType = "TOOL_CALL_CHUNK"
	// EventStateSnapshot replaces the shared run state.
	EventStateSnapshot EventType = "STATE_SNAPSHOT"
	// EventStateDelta patches the shared run state (RFC 6902).
	EventStateDelta EventType = "STATE_DELTA"
	// EventMessagesSnapshot replaces the conversation transcript.
	EventMessagesSnapshot EventType = "MESSAGES_SNAPSHOT"
	// EventActivitySnapshot creates or replaces an activity message.
	EventActivitySnapshot EventType = "ACTIVITY_SNAPSHOT"
	// EventActivityDelta patches an activity message (RFC 6902).
	EventActivityDelta EventType = "ACTIVITY_DELTA"
	// EventCustom carries an application defined event.
	EventCustom EventType = "CUSTOM"
	// EventRaw carries an opaque upstream event.
	EventRaw EventType = "RAW"
)

// EventTypes lists every known discriminator in protocol order.
var EventTypes = []EventType{
	EventRunStarted, EventRunFinished, EventRunError,
	EventStepStarted, EventStepFinished,
	EventTextMessageStart, EventTextMessageContent, EventTextMessageEnd, EventTextMessageChunk,
	EventToolCallStart, EventToolCallArgs, EventToolCallEnd, EventToolCallResult, EventToolCallChunk,
	EventStateSnapshot, EventStateDelta, EventMessagesSnapshot,
	EventActivitySnapshot, EventActivityDelta,
	EventCustom, EventRaw,
}

type (
	// Event is implemented by every AG-UI event struct of this package. The
	// interface is sealed: Type is fixed per struct and the unexported validate
	// method keeps foreign types out of the union.
	Event interface {
		// Type returns the discriminator of the event.
		Type() EventType
		// Base returns the fields shared by all events.
		Base() *BaseEvent

		validate() error
	}

	// BaseEvent holds the optional fields every event may carry.
	BaseEvent struct {
		// Timestamp is a Unix time in milliseconds. Zero means unset.
		Timestamp int64 `json:"timestamp,omitempty"`
		// RawEvent is an opaque passthrough of the upstream event, if any.
		RawEvent json.RawMessage `json:"rawEvent,omitempty"`
	}

	// RunStartedEvent opens the run identified by ThreadID and RunID.
	RunStartedEvent struct {
		BaseEvent
		ThreadID    string `json:"threadId"`
		RunID       string `json:"runId"`
		ParentRunID string `json:"parentRunId,omitempty"`
	}

	// RunFinishedEvent closes a run. When Outcome is OutcomeInterrupt the run is
	// paused and Interrupt describes what the client must provide to resume.
	RunFinishedEvent struct {
		BaseEvent
		ThreadID  string          `json:"threadId"`
		RunID     string          `json:"runId"`
		Result    json.RawMessage `json:"result,omitempty"`
		Outcome   Outcome         `json:"outcome,omitempty"`
		Interrupt *Interrupt      `json:"interrupt,omitempty"`
		// Error carries the failure message when Outcome is OutcomeError.
		Error string `json:"error,omitempty"`
	}

	// RunErrorEvent terminates a run with an error.
	RunErrorEvent struct {
		BaseEvent
		Message string `json:"message"`
		Code    string `json:"code,omitempty"`
	}

	// StepStartedEvent marks the start of a named step.
	StepStartedEvent struct {
		BaseEvent
		StepName string `json:"stepName"`
	}

	// StepFinishedEvent marks the end of a named step.
	StepFinishedEvent struct {
		BaseEvent
		StepName string `json:"stepName"`
	}

	// TextMessageStartEvent opens message MessageID. An empty Role means
	// assistant.
	TextMessageStartEvent struct {
		BaseEvent
		MessageID string `json:"messageId"`
		Role      Role   `json:"role,omitempty"`
	}

	// TextMessageContentEvent appends Delta to message MessageID.
	TextMessageContentEvent struct {
		BaseEvent
		MessageID string `json:"messageId"`
		Delta     string `json:"delta"`
	}

	// TextMessageEndEvent closes message MessageID.
	TextMessageEndEvent struct {
		BaseEvent
		MessageID string `json:"messageId"`
	}

	// TextMessageChunkEvent is expanded by ChunkExpander into start, content
	// and end events. The first chunk of a message must carry MessageID.
	TextMessageChunkEvent struct {
		BaseEvent
		MessageID string `json:"messageId,omitempty"`
		Role      Role   `json:"role,omitempty"`
		Delta     string `json:"delta,omitempty"`
	}

	// ToolCallStartEvent opens tool call ToolCallID.
	ToolCallStartEvent struct {
		BaseEvent
		ToolCallID      string `json:"toolCallId"`
		ToolCallName    string `json:"toolCallName"`
		ParentMessageID string `json:"parentMessageId,omitempty"`
	}

	// ToolCallArgsEvent appends a raw argument fragment. Fragments are not valid
	// JSON on their own.
	ToolCallArgsEvent struct {
		BaseEvent
		ToolCallID string `json:"toolCallId"`
		Delta      string `json:"delta"`
	}

	// ToolCallEndEvent freezes the argument buffer of ToolCallID.
	ToolCallEndEvent struct {
		BaseEvent
		ToolCallID string `json:"toolCallId"`
	}

	// ToolCallResultEvent carries the result of a tool call executed by the
	// server. MessageID identifies the tool message holding the result.
	ToolCallResultEvent struct {
		BaseEvent
		MessageID  string `json:"messageId"`
		ToolCallID string `json:"toolCallId"`
		Content    string `json:"content"`
		Role       Role   `json:"role,omitempty"`
	}

	// ToolCallChunkEvent is expanded by ChunkExpander into start, args and end
	// events. The first chunk of a call must carry ToolCallID and ToolCallName.
	ToolCallChunkEvent struct {
		BaseEvent
		ToolCallID      string `json:"toolCallId,omitempty"`
		ToolCallName    string `json:"toolCallName,omitempty"`
		ParentMessageID string `json:"parentMessageId,omitempty"`
		Delta           string `json:"delta,omitempty"`
	}

	// StateSnapshotEvent replaces the shared run state with Snapshot.
	StateSnapshotEvent struct {
		BaseEvent
		Snapshot json.RawMessage `json:"snapshot"`
	}

	// StateDeltaEvent carries a JSON Patch document applied to the run state.
	StateDeltaEvent struct {
		BaseEvent
		Delta json.RawMessage `json:"delta"`
	}

	// MessagesSnapshotEvent replaces the conversation transcript.
	MessagesSnapshotEvent struct {
		BaseEvent
		Messages []Message `json:"messages"`
	}

	// ActivitySnapshotEvent creates or replaces the activity message MessageID.
	ActivitySnapshotEvent struct {
		BaseEvent
		MessageID    string          `json:"messageId"`
		ActivityType string          `json:"activityType"`
		Content      json.RawMessage `json:"content"`
	}

	// ActivityDeltaEvent carries a JSON Patch document applied to the content
	// of activity message MessageID.
	ActivityDeltaEvent struct {
		BaseEvent
		MessageID    string          `json:"messageId"`
		ActivityType string          `json:"activityType"`
		Patch        json.RawMessage `json:"patch"`
	}

	// CustomEvent carries an application defined value.
	CustomEvent struct {
		BaseEvent
		Name  string          `json:"name"`
		Value json.RawMessage `json:"value,omitempty"`
	}

	// RawEvent carries an opaque event. Decode also produces a RawEvent holding
	// the whole frame when the discriminator is unknown.
	RawEvent struct {
		BaseEvent
		Event  json.RawMessage `json:"event"`
		Source string          `json:"source,omitempty"`
	}
)

// Base returns b. It is promoted to every event struct.
func (b *BaseEvent) Base() *BaseEvent { return b }

func (*RunStartedEvent) Type() EventType         { return EventRunStarted }
func (*RunFinishedEvent) Type() EventType        { return EventRunFinished }
func (*RunErrorEvent) Type() EventType           { return EventRunError }
func (*StepStartedEvent) Type() EventType        { return EventStepStarted }
func (*StepFinishedEvent) Type() EventType       { return EventStepFinished }
func (*TextMessageStartEvent) Type() EventType   { return EventTextMessageStart }
func (*TextMessageContentEvent) Type() EventType { return EventTextMessageContent }
func (*TextMessageEndEvent) Type() EventType     { return EventTextMessageEnd }
func (*TextMessageChunkEvent) Type() EventType   { return EventTextMessageChunk }
func (*ToolCallStartEvent) Type() EventType      { return EventToolCallStart }
func (*ToolCallArgsEvent) Type() EventType       { return EventToolCallArgs }
func (*ToolCallEndEvent) Type() EventType        { return EventToolCallEnd }
func (*ToolCallResultEvent) Type() EventType     { return EventToolCallResult }
func (*ToolCallChunkEvent) Type() EventType      { return EventToolCallChunk }
func (*StateSnapshotEvent) Type() EventType      { return EventStateSnapshot }
func (*StateDeltaEvent) Type() EventType         { return EventStateDelta }
func (*MessagesSnapshotEvent) Type() EventType   { return EventMessagesSnapshot }
func (*ActivitySnapshotEvent) Type() EventType   { return EventActivitySnapshot }
func (*ActivityDeltaEvent) Type() EventType      { return EventActivityDelta }
func (*CustomEvent) Type() EventType             { return EventCustom }
func (*RawEvent) Type() EventType                { return EventRaw }

// IsTerminal reports whether an event of type t ends a stream attempt.
func (t EventType) IsTerminal() bool {
	return t == EventRunFinished || t == EventRunError
}

// Known reports whether t is one of the protocol discriminators.
func (t EventType) Known() bool {
	_, ok := constructors[t]
	return ok
}
