package agui

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
	RoleDeveloper Role = "developer"
	RoleActivity  Role = "activity"
)

// Valid reports whether r is one of the protocol roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool, RoleDeveloper, RoleActivity:
		return true
	}
	return false
}

// Outcome qualifies how a run finished.
type Outcome string

const (
	// OutcomeSuccess means the run completed normally.
	OutcomeSuccess Outcome = "success"
	// OutcomeInterrupt means the run is paused on an interrupt.
	OutcomeInterrupt Outcome = "interrupt"
	// OutcomeError means the run failed.
	OutcomeError Outcome = "error"
)

// InterruptType tells the UI what kind of input an interrupt expects.
type InterruptType string

const (
	InterruptApproval InterruptType = "approval"
	InterruptInput    InterruptType = "input"
	InterruptChoice   InterruptType = "choice"
	InterruptCustom   InterruptType = "custom"
)

const (
	// ReasonToolExecution is the interrupt reason used when frontend tools must
	// run before the agent can continue.
	ReasonToolExecution = "tool_execution"
	// ReasonHumanApproval is the interrupt reason used when a human must approve
	// or answer before the agent can continue.
	ReasonHumanApproval = "human_approval"
	// ReasonToolApproval is the interrupt reason raised by the frontend tool
	// executor for tools gated on approval.
	ReasonToolApproval = "tool_approval"
)

type (
	// Message is a conversation message as carried by run requests and
	// MESSAGES_SNAPSHOT events. Activity messages carry a JSON object in
	// Activity instead of text Content.
	Message struct {
		ID           string          `json:"id"`
		Role         Role            `json:"role"`
		Content      string          `json:"content,omitempty"`
		Name         string          `json:"name,omitempty"`
		ToolCalls    []ToolCall      `json:"toolCalls,omitempty"`
		ToolCallID   string          `json:"toolCallId,omitempty"`
		Error        string          `json:"error,omitempty"`
		ActivityType string          `json:"activityType,omitempty"`
		Activity     json.RawMessage `json:"-"`
	}

	// ToolCall is an assistant request to invoke a tool.
	ToolCall struct {
		ID       string       `json:"id"`
		Type     string       `json:"type"`
		Function FunctionCall `json:"function"`
	}

	// FunctionCall names the tool and holds its complete JSON arguments.
	FunctionCall struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	}

	// Tool describes a tool the client makes available to the agent.
	Tool struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	}

	// ContextItem is an opaque piece of context forwarded to the agent.
	ContextItem struct {
		Description string `json:"description"`
		Value       string `json:"value"`
	}

	// RunAgentInput is the body of a run request.
	RunAgentInput struct {
		ThreadID       string          `json:"threadId"`
		RunID          string          `json:"runId"`
		ParentRunID    string          `json:"parentRunId,omitempty"`
		State          json.RawMessage `json:"state,omitempty"`
		Messages       []Message       `json:"messages"`
		Tools          []Tool          `json:"tools"`
		Context        []ContextItem   `json:"context"`
		ForwardedProps json.RawMessage `json:"forwardedProps,omitempty"`
		Resume         *Resume         `json:"resume,omitempty"`
	}

	// Resume resolves the interrupt InterruptID. Payload is a ResumePayload
	// document.
	Resume struct {
		InterruptID string          `json:"interruptId"`
		Payload     json.RawMessage `json:"payload,omitempty"`
	}

	// ResumePayload is the decoded payload of a Resume. Tool execution
	// interrupts are resolved with ToolResults, approval and input interrupts
	// with Response.
	ResumePayload struct {
		ToolResults []ToolResult    `json:"toolResults,omitempty"`
		Response    json.RawMessage `json:"response,omitempty"`
	}

	// ToolResult is the outcome of a frontend tool call.
	ToolResult struct {
		ToolCallID string `json:"toolCallId"`
		Result     string `json:"result"`
		IsError    bool   `json:"isError,omitempty"`
	}

	// Interrupt describes why a run paused and what the UI should collect.
	Interrupt struct {
		ID          string            `json:"id"`
		Reason      string            `json:"reason,omitempty"`
		Type        InterruptType     `json:"type,omitempty"`
		Title       string            `json:"title,omitempty"`
		Message     string            `json:"message,omitempty"`
		Options     []InterruptOption `json:"options,omitempty"`
		InputConfig *InputConfig      `json:"inputConfig,omitempty"`
		Payload     map[string]any    `json:"payload,omitempty"`
		Metadata    map[string]any    `json:"metadata,omitempty"`
	}

	// InterruptOption is one choice offered by an approval or choice
	// interrupt.
	InterruptOption struct {
		Value   string `json:"value"`
		Label   string `json:"label"`
		Variant string `json:"variant,omitempty"`
	}

	// InputConfig hints how an input interrupt should be rendered.
	InputConfig struct {
		Placeholder string `json:"placeholder,omitempty"`
		Multiline   bool   `json:"multiline,omitempty"`
	}

	// ToolMetadata is forwarded by clients in forwardedProps.toolMetadata so the
	// server knows how frontend tools are scoped.
	ToolMetadata struct {
		ToolName      string `json:"toolName"`
		Scope         string `json:"scope,omitempty"`
		IsDestructive bool   `json:"isDestructive,omitempty"`
	}

	// ForwardedProps is the part of forwardedProps this package understands.
	ForwardedProps struct {
		ToolMetadata []ToolMetadata `json:"toolMetadata,omitempty"`
	}
)

// ErrInvalidInput is returned by RunAgentInput.Validate.
var ErrInvalidInput = errors.New("invalid run input")

// Validate checks the fields a server requires before starting a run.
func (in *RunAgentInput) Validate() error {
	if in.ThreadID == "" {
		return fmt.Errorf("%w: threadId is required", ErrInvalidInput)
	}
	if in.RunID == "" {
		return fmt.Errorf("%w: runId is required", ErrInvalidInput)
	}
	for i, m := range in.Messages {
		if !m.Role.Valid() {
			return fmt.Errorf("%w: messages[%d] has invalid role %q", ErrInvalidInput, i, m.Role)
		}
	}
	if in.Resume != nil && in.Resume.InterruptID == "" {
		return fmt.Errorf("%w: resume.interruptId is required", ErrInvalidInput)
	}
	return nil
}

// Forwarded decodes the forwarded props. Unknown members are ignored.
func (in *RunAgentInput) Forwarded() (ForwardedProps, error) {
	var props ForwardedProps
	if len(in.ForwardedProps) == 0 {
		return props, nil
	}
	if err := json.Unmarshal(in.ForwardedProps, &props); err != nil {
		return props, fmt.Errorf("decode forwardedProps: %w", err)
	}
	return props, nil
}

// Decode parses the payload of r.
func (r *Resume) Decode() (ResumePayload, error) {
	var p ResumePayload
	if len(r.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(r.Payload, &p); err != nil {
		return p, fmt.Errorf("decode resume payload: %w", err)
	}
	return p, nil
}

// ToolResultsPayload encodes tool results as a resume payload.
func ToolResultsPayload(results []ToolResult) (json.RawMessage, error) {
	return json.Marshal(ResumePayload{ToolResults: results})
}

// ResponsePayload encodes an approval or input response as a resume payload.
func ResponsePayload(v any) (json.RawMessage, error) {
	resp, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode resume response: %w", err)
	}
	return json.Marshal(ResumePayload{Response: resp})
}

// NormalizeOutcome lowercases o. Servers are allowed to send PascalCase
// outcome values.
func NormalizeOutcome(o Outcome) Outcome {
	return Outcome(strings.ToLower(string(o)))
}

// messageWire is the JSON shape of a Message: the alias drops the methods and
// the outer Content captures either a string or, for activity messages, an
// object.
type messageWire struct {
	messageAlias
	Content json.RawMessage `json:"content,omitempty"`
}

type messageAlias Message

// MarshalJSON encodes activity content as an object and any other content as
// a string.
func (m Message) MarshalJSON() ([]byte, error) {
	w := messageWire{messageAlias: messageAlias(m)}
	if err := m.validateContent(); err != nil {
		return nil, fmt.Errorf("message %q: %w", m.ID, err)
	}
	if m.Role == RoleActivity {
		w.Content = m.Activity
		return marshal(w)
	}
	if m.Content != "" {
		c, err := marshal(m.Content)
		if err != nil {
			return nil, err
		}
		w.Content = c
	}
	return marshal(w)
}

// validateContent rejects text content on activity messages and activity
// content on any other message: the wire has a single content member.
func (m Message) validateContent() error {
	if m.Role == RoleActivity && m.Content != "" {
		return fmt.Errorf("%w: content of activity message must be Activity", ErrInvalidField)
	}
	if m.Role != RoleActivity && len(m.Activity) > 0 {
		return fmt.Errorf("%w: activity content on %s message", ErrInvalidField, m.Role)
	}
	return nil
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Message(w.messageAlias)
	m.Content = ""
	m.Activity = nil
	if m.Role == RoleActivity {
		if len(w.Content) > 0 {
			m.Activity = w.Content
		}
		return nil
	}
	if len(w.Content) == 0 || string(w.Content) == "null" {
		return nil
	}
	if err := json.Unmarshal(w.Content, &m.Content); err != nil {
		return fmt.Errorf("message %q content: %w", m.ID, err)
	}
	return nil
}
