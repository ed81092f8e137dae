// Package transcript folds an ordered AG-UI event stream into the messages and
// tool calls of a run. The Ledger is the single owner of those records: tool
// calls live in an arena keyed by id and messages reference them by id, so a
// record never outlives or escapes the run that produced it.
//
// The ledger is strict. Events that reference unknown ids, continue a closed
// message or tool call, or deliver argument fragments out of order are
// protocol violations and are reported as *ProtocolError values; nothing is
// reordered or guessed.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/google/uuid"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
)

var (
	// ErrUnknownMessage indicates an event referencing a message that was never
	// started.
	ErrUnknownMessage = errors.New("unknown message id")
	// ErrDuplicateMessage indicates a start event for an existing message.
	ErrDuplicateMessage = errors.New("duplicate message id")
	// ErrMessageClosed indicates content for a message that already ended.
	ErrMessageClosed = errors.New("message already ended")
	// ErrUnknownToolCall indicates an event referencing a tool call that was
	// never started.
	ErrUnknownToolCall = errors.New("unknown tool call id")
	// ErrDuplicateToolCall indicates a start event for an existing tool call.
	ErrDuplicateToolCall = errors.New("duplicate tool call id")
	// ErrToolCallClosed indicates arguments for a tool call that already ended.
	ErrToolCallClosed = errors.New("tool call arguments already ended")
	// ErrOutOfOrderDelta indicates an argument fragment older than the previous
	// fragment of the same tool call.
	ErrOutOfOrderDelta = errors.New("out of order argument delta")
	// ErrInvalidTransition indicates a tool call status moving backwards.
	ErrInvalidTransition = errors.New("invalid tool call status transition")
	// ErrInvalidPatch indicates an activity delta that cannot be applied.
	ErrInvalidPatch = errors.New("invalid activity patch")
)

type (
	// ProtocolError reports an event that violates the ordering rules of the
	// stream. It wraps one of the sentinel errors of this package or of agui.
	ProtocolError struct {
		// Event is the type of the offending event.
		Event agui.EventType
		// ID is the message or tool call id the event referenced.
		ID string
		// Err is the violated rule.
		Err error
	}

	// Message is a materialized conversation message.
	Message struct {
		ID      string
		Role    agui.Role
		Content string
		Name    string
		// ToolCallIDs references the tool calls requested by this message in
		// start order.
		ToolCallIDs []string
		// ToolCallID links a tool message to the call it answers.
		ToolCallID string
		// Error holds the failure text of a tool message.
		Error        string
		ActivityType string
		Activity     json.RawMessage
		// Closed is set once no more content may be appended.
		Closed bool
	}

	// ToolCall is a materialized tool call.
	ToolCall struct {
		ID              string
		Name            string
		ParentMessageID string
		// Arguments is the concatenation of all argument fragments in arrival
		// order.
		Arguments string
		// Args holds the parsed arguments once the call ended and parsing
		// succeeded.
		Args map[string]any
		// ParseError records why Arguments could not be parsed. Parse failures
		// never fail the run.
		ParseError string
		Result     string
		IsError    bool
		Status     ToolCallStatus
		// Ended is set by TOOL_CALL_END; Arguments is final afterwards.
		Ended bool
	}

	// Ledger accumulates the transcript of a single run. It is not safe for
	// concurrent use: events are applied one at a time by the run's consumer.
	Ledger struct {
		order     []string
		messages  map[string]*message
		calls     map[string]*ToolCall
		lastDelta map[string]int64
		lastAsst  string
		chunks    *agui.ChunkExpander
	}

	message struct {
		Message
		// implicit marks an assistant placeholder created to hold tool calls
		// whose parent message was not started.
		implicit bool
	}
)

// Error implements error.
func (e *ProtocolError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("transcript: %s: %v", e.Event, e.Err)
	}
	return fmt.Sprintf("transcript: %s %q: %v", e.Event, e.ID, e.Err)
}

// Unwrap returns the violated rule.
func (e *ProtocolError) Unwrap() error { return e.Err }

// NewLedger returns a ledger seeded with the given history. History messages
// are closed; their tool calls are ended and marked completed when a matching
// tool message is present.
func NewLedger(history ...agui.Message) *Ledger {
	l := &Ledger{}
	l.Restore(history)
	return l
}

// Restore replaces the transcript with msgs.
func (l *Ledger) Restore(msgs []agui.Message) {
	l.order = make([]string, 0, len(msgs))
	l.messages = make(map[string]*message, len(msgs))
	l.calls = make(map[string]*ToolCall)
	l.lastDelta = make(map[string]int64)
	l.lastAsst = ""
	l.chunks = agui.NewChunkExpander()

	results := make(map[string]agui.Message)
	for _, m := range msgs {
		if m.Role == agui.RoleTool && m.ToolCallID != "" {
			results[m.ToolCallID] = m
		}
	}
	for _, m := range msgs {
		rec := &message{Message: Message{
			ID:           m.ID,
			Role:         m.Role,
			Content:      m.Content,
			Name:         m.Name,
			ToolCallID:   m.ToolCallID,
			Error:        m.Error,
			ActivityType: m.ActivityType,
			Activity:     slices.Clone(m.Activity),
			Closed:       true,
		}}
		for _, tc := range m.ToolCalls {
			call := &ToolCall{
				ID:              tc.ID,
				Name:            tc.Function.Name,
				ParentMessageID: m.ID,
				Arguments:       tc.Function.Arguments,
				Status:          ToolPending,
				Ended:           true,
			}
			call.Args, call.ParseError = parseArguments(call.Arguments)
			if res, ok := results[tc.ID]; ok {
				call.Result = res.Content
				call.IsError = res.Error != ""
				call.Status = ToolCompleted
				if call.IsError {
					call.Status = ToolError
				}
			}
			l.calls[tc.ID] = call
			rec.ToolCallIDs = append(rec.ToolCallIDs, tc.ID)
		}
		l.insert(rec)
	}
}

// Apply folds evt into the transcript. Chunk events are expanded first so they
// behave exactly like the corresponding start, content and end events. Events
// that do not affect messages or tool calls are ignored.
func (l *Ledger) Apply(evt agui.Event) error {
	expanded, err := l.chunks.Expand(evt)
	if err != nil {
		return &ProtocolError{Event: evt.Type(), Err: err}
	}
	for _, e := range expanded {
		if err := l.apply(e); err != nil {
			return err
		}
	}
	return nil
}

// Flush closes any open chunk sequence. Call it when the stream ends.
func (l *Ledger) Flush() error {
	for _, e := range l.chunks.Flush() {
		if err := l.apply(e); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) apply(evt agui.Event) error {
	switch e := evt.(type) {
	case *agui.TextMessageStartEvent:
		return l.startMessage(e)
	case *agui.TextMessageContentEvent:
		m, err := l.openMessage(e.Type(), e.MessageID)
		if err != nil {
			return err
		}
		m.Content += e.Delta
	case *agui.TextMessageEndEvent:
		m, err := l.openMessage(e.Type(), e.MessageID)
		if err != nil {
			return err
		}
		m.Closed = true
	case *agui.ToolCallStartEvent:
		return l.startToolCall(e)
	case *agui.ToolCallArgsEvent:
		return l.appendArgs(e)
	case *agui.ToolCallEndEvent:
		call, err := l.openCall(e.Type(), e.ToolCallID)
		if err != nil {
			return err
		}
		call.Ended = true
		call.Args, call.ParseError = parseArguments(call.Arguments)
	case *agui.ToolCallResultEvent:
		return l.serverResult(e)
	case *agui.MessagesSnapshotEvent:
		l.Restore(e.Messages)
	case *agui.ActivitySnapshotEvent:
		return l.activitySnapshot(e)
	case *agui.ActivityDeltaEvent:
		return l.activityDelta(e)
	}
	return nil
}

func (l *Ledger) startMessage(e *agui.TextMessageStartEvent) error {
	role := e.Role
	if role == "" {
		role = agui.RoleAssistant
	}
	if m, ok := l.messages[e.MessageID]; ok {
		if !m.implicit {
			return &ProtocolError{Event: e.Type(), ID: e.MessageID, Err: ErrDuplicateMessage}
		}
		m.implicit = false
		m.Closed = false
		m.Role = role
		return nil
	}
	l.insert(&message{Message: Message{ID: e.MessageID, Role: role}})
	return nil
}

func (l *Ledger) openMessage(t agui.EventType, id string) (*message, error) {
	m, ok := l.messages[id]
	if !ok {
		return nil, &ProtocolError{Event: t, ID: id, Err: ErrUnknownMessage}
	}
	if m.Closed {
		return nil, &ProtocolError{Event: t, ID: id, Err: ErrMessageClosed}
	}
	return m, nil
}

func (l *Ledger) startToolCall(e *agui.ToolCallStartEvent) error {
	if _, ok := l.calls[e.ToolCallID]; ok {
		return &ProtocolError{Event: e.Type(), ID: e.ToolCallID, Err: ErrDuplicateToolCall}
	}
	parentID := e.ParentMessageID
	if parentID == "" {
		parentID = l.lastAsst
	}
	parent, ok := l.messages[parentID]
	if !ok {
		if parentID == "" {
			parentID = uuid.NewString()
		}
		parent = &message{
			Message:  Message{ID: parentID, Role: agui.RoleAssistant, Closed: true},
			implicit: true,
		}
		l.insert(parent)
	}
	parent.ToolCallIDs = append(parent.ToolCallIDs, e.ToolCallID)
	l.calls[e.ToolCallID] = &ToolCall{
		ID:              e.ToolCallID,
		Name:            e.ToolCallName,
		ParentMessageID: parentID,
		Status:          ToolPending,
	}
	return nil
}

func (l *Ledger) openCall(t agui.EventType, id string) (*ToolCall, error) {
	call, ok := l.calls[id]
	if !ok {
		return nil, &ProtocolError{Event: t, ID: id, Err: ErrUnknownToolCall}
	}
	if call.Ended {
		return nil, &ProtocolError{Event: t, ID: id, Err: ErrToolCallClosed}
	}
	return call, nil
}

func (l *Ledger) appendArgs(e *agui.ToolCallArgsEvent) error {
	call, err := l.openCall(e.Type(), e.ToolCallID)
	if err != nil {
		return err
	}
	if ts := e.Timestamp; ts != 0 {
		if prev := l.lastDelta[e.ToolCallID]; ts < prev {
			return &ProtocolError{Event: e.Type(), ID: e.ToolCallID, Err: ErrOutOfOrderDelta}
		}
		l.lastDelta[e.ToolCallID] = ts
	}
	if call.Status == ToolPending {
		call.Status = ToolStreaming
	}
	call.Arguments += e.Delta
	return nil
}

func (l *Ledger) serverResult(e *agui.ToolCallResultEvent) error {
	call, ok := l.calls[e.ToolCallID]
	if !ok {
		return &ProtocolError{Event: e.Type(), ID: e.ToolCallID, Err: ErrUnknownToolCall}
	}
	if _, ok := l.messages[e.MessageID]; ok {
		return &ProtocolError{Event: e.Type(), ID: e.MessageID, Err: ErrDuplicateMessage}
	}
	if !CanTransition(call.Status, ToolCompleted) {
		return &ProtocolError{Event: e.Type(), ID: e.ToolCallID, Err: ErrInvalidTransition}
	}
	call.Ended = true
	call.Result = e.Content
	call.Status = ToolCompleted
	role := e.Role
	if role == "" {
		role = agui.RoleTool
	}
	l.insert(&message{Message: Message{
		ID:         e.MessageID,
		Role:       role,
		Content:    e.Content,
		ToolCallID: e.ToolCallID,
		Closed:     true,
	}})
	return nil
}

func (l *Ledger) activitySnapshot(e *agui.ActivitySnapshotEvent) error {
	if m, ok := l.messages[e.MessageID]; ok {
		if m.Role != agui.RoleActivity {
			return &ProtocolError{Event: e.Type(), ID: e.MessageID, Err: ErrDuplicateMessage}
		}
		m.ActivityType = e.ActivityType
		m.Activity = slices.Clone(e.Content)
		return nil
	}
	l.insert(&message{Message: Message{
		ID:           e.MessageID,
		Role:         agui.RoleActivity,
		ActivityType: e.ActivityType,
		Activity:     slices.Clone(e.Content),
		Closed:       true,
	}})
	return nil
}

func (l *Ledger) activityDelta(e *agui.ActivityDeltaEvent) error {
	m, ok := l.messages[e.MessageID]
	if !ok || m.Role != agui.RoleActivity {
		return &ProtocolError{Event: e.Type(), ID: e.MessageID, Err: ErrUnknownMessage}
	}
	doc, err := ApplyPatch(m.Activity, e.Patch)
	if err != nil {
		return &ProtocolError{Event: e.Type(), ID: e.MessageID, Err: fmt.Errorf("%w: %v", ErrInvalidPatch, err)}
	}
	m.Activity = doc
	m.ActivityType = e.ActivityType
	return nil
}

// ApplyPatch applies the RFC 6902 document patch to doc. An empty doc is
// treated as an empty object.
func ApplyPatch(doc, patch json.RawMessage) (json.RawMessage, error) {
	if len(doc) == 0 {
		doc = json.RawMessage(`{}`)
	}
	p, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return nil, err
	}
	out, err := p.Apply(doc)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Ledger) insert(m *message) {
	l.order = append(l.order, m.ID)
	l.messages[m.ID] = m
	if m.Role == agui.RoleAssistant {
		l.lastAsst = m.ID
	}
}

// SetToolCallStatus moves tool call id to status. Moving to the current
// status is a no-op; moving backwards fails with ErrInvalidTransition.
func (l *Ledger) SetToolCallStatus(id string, status ToolCallStatus) error {
	call, ok := l.calls[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownToolCall, id)
	}
	if call.Status == status {
		return nil
	}
	if !CanTransition(call.Status, status) {
		return fmt.Errorf("%w: %s → %s for %q", ErrInvalidTransition, call.Status, status, id)
	}
	call.Status = status
	return nil
}

// RecordToolResult stores the result of a tool call executed outside the
// server, moves the call to completed or error and appends the matching tool
// message. It returns the id of the tool message.
func (l *Ledger) RecordToolResult(res agui.ToolResult) (string, error) {
	call, ok := l.calls[res.ToolCallID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownToolCall, res.ToolCallID)
	}
	if call.Status.Terminal() {
		return "", fmt.Errorf("%w: %q already has a result", ErrInvalidTransition, res.ToolCallID)
	}
	status := ToolCompleted
	if res.IsError {
		status = ToolError
	}
	if err := l.SetToolCallStatus(res.ToolCallID, status); err != nil {
		return "", err
	}
	call.Result = res.Result
	call.IsError = res.IsError
	msg := &message{Message: Message{
		ID:         uuid.NewString(),
		Role:       agui.RoleTool,
		Content:    res.Result,
		ToolCallID: res.ToolCallID,
		Closed:     true,
	}}
	if res.IsError {
		msg.Error = res.Result
	}
	l.insert(msg)
	return msg.ID, nil
}

// Messages returns a copy of the transcript in insertion order.
func (l *Ledger) Messages() []Message {
	out := make([]Message, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.messages[id].clone())
	}
	return out
}

// Message returns a copy of message id.
func (l *Ledger) Message(id string) (Message, bool) {
	m, ok := l.messages[id]
	if !ok {
		return Message{}, false
	}
	return m.clone(), true
}

// ToolCall returns a copy of tool call id.
func (l *Ledger) ToolCall(id string) (ToolCall, bool) {
	call, ok := l.calls[id]
	if !ok {
		return ToolCall{}, false
	}
	return call.clone(), true
}

// ToolCalls returns copies of the tool calls requested by message id.
func (l *Ledger) ToolCalls(messageID string) []ToolCall {
	m, ok := l.messages[messageID]
	if !ok {
		return nil
	}
	out := make([]ToolCall, 0, len(m.ToolCallIDs))
	for _, id := range m.ToolCallIDs {
		out = append(out, l.calls[id].clone())
	}
	return out
}

// LastAssistantMessageID returns the id of the most recent assistant message,
// or "" when there is none.
func (l *Ledger) LastAssistantMessageID() string {
	return l.lastAsst
}

// WireMessages projects the transcript onto the message list of the next run
// request. Activity messages are UI only and are left out.
func (l *Ledger) WireMessages() []agui.Message {
	out := make([]agui.Message, 0, len(l.order))
	for _, id := range l.order {
		m := l.messages[id]
		if m.Role == agui.RoleActivity {
			continue
		}
		wm := agui.Message{
			ID:         m.ID,
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
			Error:      m.Error,
		}
		for _, cid := range m.ToolCallIDs {
			call := l.calls[cid]
			args := call.Arguments
			if strings.TrimSpace(args) == "" {
				args = "{}"
			}
			wm.ToolCalls = append(wm.ToolCalls, agui.ToolCall{
				ID:       call.ID,
				Type:     "function",
				Function: agui.FunctionCall{Name: call.Name, Arguments: args},
			})
		}
		out = append(out, wm)
	}
	return out
}

func (m *message) clone() Message {
	c := m.Message
	c.ToolCallIDs = slices.Clone(m.ToolCallIDs)
	c.Activity = slices.Clone(m.Activity)
	return c
}

func (c *ToolCall) clone() ToolCall {
	out := *c
	if c.Args != nil {
		out.Args = make(map[string]any, len(c.Args))
		for k, v := range c.Args {
			out.Args[k] = v
		}
	}
	return out
}

// parseArguments parses a complete argument buffer. An empty buffer is an
// empty object.
func parseArguments(raw string) (map[string]any, string) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, ""
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err.Error()
	}
	if args == nil {
		return nil, "arguments are not a JSON object"
	}
	return args, ""
}
