package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
)

// GeneratedIDPrefix prefixes the ids generated for tool calls that arrive
// without one.
const GeneratedIDPrefix = "generated-"

// CodeStreamingError is the RUN_ERROR code emitted when the agent fails
// mid-stream.
const CodeStreamingError = "STREAMING_ERROR"

// Emitter builds the AG-UI events of one run and keeps message and tool call
// ids consistent across them. It is not safe for concurrent use.
//
// Text is emitted as TEXT_MESSAGE_CHUNK and tool calls as TOOL_CALL_CHUNK
// events. A new message id is generated after every server tool result, and
// before text that follows a tool call, so each text block is its own
// message. Results of frontend tool calls are never emitted: the client runs
// those tools and the run finishes with a tool_execution interrupt instead.
type Emitter struct {
	threadID string
	runID    string

	messageID     string
	hasText       bool
	toolAfterText bool
	lastGenerated string
	emitted       map[string]struct{}
	frontend      map[string]struct{}
	interrupt     *agui.Interrupt
	now           func() time.Time
}

// NewEmitter returns an emitter for the run. Empty ids are generated.
func NewEmitter(threadID, runID string) *Emitter {
	if threadID == "" {
		threadID = uuid.NewString()
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Emitter{
		threadID:  threadID,
		runID:     runID,
		messageID: uuid.NewString(),
		emitted:   make(map[string]struct{}),
		frontend:  make(map[string]struct{}),
		now:       time.Now,
	}
}

// ThreadID returns the thread id of the run.
func (e *Emitter) ThreadID() string { return e.threadID }

// RunID returns the run id.
func (e *Emitter) RunID() string { return e.runID }

// MessageID returns the id of the current assistant message.
func (e *Emitter) MessageID() string { return e.messageID }

// HasFrontendToolCalls reports whether a frontend tool call was emitted.
func (e *Emitter) HasFrontendToolCalls() bool { return len(e.frontend) > 0 }

// IsFrontendToolCall reports whether id was emitted as a frontend tool call.
func (e *Emitter) IsFrontendToolCall(id string) bool {
	_, ok := e.frontend[id]
	return ok
}

// RunStarted returns the RUN_STARTED event.
func (e *Emitter) RunStarted() *agui.RunStartedEvent {
	return &agui.RunStartedEvent{BaseEvent: e.base(), ThreadID: e.threadID, RunID: e.runID}
}

// TextChunk returns a chunk appending delta to the current message.
func (e *Emitter) TextChunk(delta string) *agui.TextMessageChunkEvent {
	if e.toolAfterText {
		e.RegenerateMessageID()
	}
	e.hasText = true
	return &agui.TextMessageChunkEvent{
		BaseEvent: e.base(),
		MessageID: e.messageID,
		Role:      agui.RoleAssistant,
		Delta:     delta,
	}
}

// ToolCall returns the chunk announcing a tool call with its complete
// arguments, or nil when id was already emitted. An empty id is replaced by
// a generated one that the next ToolResult without id refers to.
func (e *Emitter) ToolCall(id, name string, args any, frontend bool) (*agui.ToolCallChunkEvent, error) {
	if id == "" {
		id = GeneratedIDPrefix + uuid.NewString()
		e.lastGenerated = id
	}
	if _, ok := e.emitted[id]; ok {
		return nil, nil
	}
	delta := "{}"
	if args != nil {
		b, err := marshalArgs(args)
		if err != nil {
			return nil, fmt.Errorf("encode arguments of tool call %q: %w", id, err)
		}
		delta = b
	}
	e.emitted[id] = struct{}{}
	if frontend {
		e.frontend[id] = struct{}{}
	}
	if e.hasText {
		e.toolAfterText = true
	}
	return &agui.ToolCallChunkEvent{
		BaseEvent:       e.base(),
		ToolCallID:      id,
		ToolCallName:    name,
		ParentMessageID: e.messageID,
		Delta:           delta,
	}, nil
}

// ToolResult returns the TOOL_CALL_RESULT of a server executed tool, or nil
// for frontend tool calls and results that cannot be correlated. An empty id
// refers to the last generated tool call id.
func (e *Emitter) ToolResult(id string, result any) (*agui.ToolCallResultEvent, error) {
	if id == "" {
		id = e.lastGenerated
		e.lastGenerated = ""
	}
	if id == "" || e.IsFrontendToolCall(id) {
		return nil, nil
	}
	content, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result of tool call %q: %w", id, err)
	}
	evt := &agui.ToolCallResultEvent{
		BaseEvent:  e.base(),
		MessageID:  uuid.NewString(),
		ToolCallID: id,
		Content:    string(content),
		Role:       agui.RoleTool,
	}
	e.RegenerateMessageID()
	return evt, nil
}

// Interrupt records an interrupt raised by the agent. It takes precedence
// over the tool_execution interrupt of frontend tool calls. An empty id is
// generated and an empty reason defaults to human_approval.
func (e *Emitter) Interrupt(in agui.Interrupt) agui.Interrupt {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Reason == "" {
		in.Reason = agui.ReasonHumanApproval
	}
	e.interrupt = &in
	return in
}

// Error returns a RUN_ERROR event.
func (e *Emitter) Error(message, code string) *agui.RunErrorEvent {
	return &agui.RunErrorEvent{BaseEvent: e.base(), Message: message, Code: code}
}

// RunFinished returns the RUN_FINISHED event. The outcome is error when err
// is not nil, interrupt when the agent raised an interrupt or a frontend tool
// call was emitted, success otherwise.
func (e *Emitter) RunFinished(err error) *agui.RunFinishedEvent {
	evt := &agui.RunFinishedEvent{BaseEvent: e.base(), ThreadID: e.threadID, RunID: e.runID}
	switch {
	case err != nil:
		evt.Outcome = agui.OutcomeError
		evt.Error = err.Error()
	case e.interrupt != nil:
		in := *e.interrupt
		evt.Outcome = agui.OutcomeInterrupt
		evt.Interrupt = &in
	case e.HasFrontendToolCalls():
		evt.Outcome = agui.OutcomeInterrupt
		evt.Interrupt = &agui.Interrupt{ID: uuid.NewString(), Reason: agui.ReasonToolExecution}
	default:
		evt.Outcome = agui.OutcomeSuccess
	}
	return evt
}

// RegenerateMessageID starts a new assistant message.
func (e *Emitter) RegenerateMessageID() {
	e.messageID = uuid.NewString()
	e.hasText = false
	e.toolAfterText = false
}

func (e *Emitter) base() agui.BaseEvent {
	return agui.BaseEvent{Timestamp: e.now().UnixMilli()}
}

func marshalArgs(args any) (string, error) {
	switch a := args.(type) {
	case string:
		return a, nil
	case json.RawMessage:
		return string(a), nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
