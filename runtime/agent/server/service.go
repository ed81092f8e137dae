// Package server produces AG-UI event streams from an agent. A Service
// validates run requests, folds resumed tool results into the history, drives
// the Agent and writes the resulting events to a stream.Sink.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/stream"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/telemetry"
)

type (
	// Agent is the model-backed collaborator that produces a run. Stream
	// calls yield for every update in order and returns when the turn is
	// complete. It must stop and return the error of yield when yield fails.
	Agent interface {
		Stream(ctx context.Context, req AgentRequest, yield func(Update) error) error
	}

	// AgentFunc adapts a function to Agent.
	AgentFunc func(ctx context.Context, req AgentRequest, yield func(Update) error) error

	// AgentRequest is the input of one agent turn.
	AgentRequest struct {
		ThreadID string
		RunID    string
		// Messages is the conversation history including the results of
		// resumed frontend tool calls.
		Messages []agui.Message
		// FrontendTools are the tools the client executes.
		FrontendTools []agui.Tool
		// ToolMetadata describes the scope of the frontend tools.
		ToolMetadata []agui.ToolMetadata
		Context      []agui.ContextItem
		State        json.RawMessage
		// Resume is set when the request resolves an interrupt.
		Resume *agui.Resume
	}

	// Update is a unit of agent output. It is one of TextDelta,
	// ToolCallUpdate, ToolResultUpdate, StepUpdate, StateUpdate,
	// ActivityUpdate or InterruptUpdate.
	Update interface {
		update()
	}

	// TextDelta appends text to the current assistant message.
	TextDelta struct {
		Text string
	}

	// ToolCallUpdate announces a tool call with its complete arguments. ID
	// may be empty for providers that do not assign call ids.
	ToolCallUpdate struct {
		ID        string
		Name      string
		Arguments any
	}

	// ToolResultUpdate carries the result of a server executed tool.
	ToolResultUpdate struct {
		ID     string
		Result any
	}

	// StepUpdate marks the start or end of a named step.
	StepUpdate struct {
		Name     string
		Finished bool
	}

	// StateUpdate replaces (Snapshot) or patches (Delta) the shared state.
	StateUpdate struct {
		Snapshot json.RawMessage
		Delta    json.RawMessage
	}

	// ActivityUpdate creates (Content) or patches (Patch) an activity message.
	ActivityUpdate struct {
		MessageID    string
		ActivityType string
		Content      json.RawMessage
		Patch        json.RawMessage
	}

	// InterruptUpdate pauses the run on an interrupt raised by the agent,
	// typically a human approval.
	InterruptUpdate struct {
		Interrupt agui.Interrupt
	}

	// Service streams agent runs.
	Service struct {
		agent  Agent
		logger telemetry.Logger
	}

	// Option configures a Service.
	Option func(*Service)

	// sinkError marks failures of the sink so they are not reported to the
	// client that can no longer receive them.
	sinkError struct{ err error }
)

func (TextDelta) update()        {}
func (ToolCallUpdate) update()   {}
func (ToolResultUpdate) update() {}
func (StepUpdate) update()       {}
func (StateUpdate) update()      {}
func (ActivityUpdate) update()   {}
func (InterruptUpdate) update()  {}

// Stream calls f.
func (f AgentFunc) Stream(ctx context.Context, req AgentRequest, yield func(Update) error) error {
	return f(ctx, req, yield)
}

func (e *sinkError) Error() string { return e.err.Error() }
func (e *sinkError) Unwrap() error { return e.err }

// WithLogger sets the logger.
func WithLogger(l telemetry.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService returns a service running agent.
func NewService(agent Agent, opts ...Option) *Service {
	s := &Service{agent: agent, logger: telemetry.NewNoopLogger()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Stream runs the agent for input and writes the events of the run to sink:
// RUN_STARTED, the agent output, then RUN_FINISHED. An agent failure emits
// RUN_ERROR with code STREAMING_ERROR before RUN_FINISHED. Invalid input is
// returned before anything is written. Sink failures and cancellation stop
// the run and are returned without further events.
func (s *Service) Stream(ctx context.Context, input agui.RunAgentInput, sink stream.Sink) error {
	if err := input.Validate(); err != nil {
		return err
	}
	req, err := buildRequest(input)
	if err != nil {
		return err
	}
	em := NewEmitter(input.ThreadID, input.RunID)
	send := func(evt agui.Event) error {
		if err := sink.Send(ctx, evt); err != nil {
			return &sinkError{err: err}
		}
		return nil
	}
	if err := send(em.RunStarted()); err != nil {
		return err
	}
	s.logger.Debug(ctx, "agent stream started", "thread_id", req.ThreadID, "run_id", req.RunID,
		"messages", len(req.Messages), "frontend_tools", len(req.FrontendTools))

	streamErr := s.agent.Stream(ctx, req, func(u Update) error {
		evts, err := translate(em, req, u)
		if err != nil {
			return err
		}
		for _, evt := range evts {
			if err := send(evt); err != nil {
				return err
			}
		}
		return nil
	})
	var se *sinkError
	if errors.As(streamErr, &se) {
		return se.err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if streamErr != nil {
		s.logger.Error(ctx, "agent streaming failed", "thread_id", req.ThreadID, "run_id", req.RunID, "err", streamErr)
		if err := send(em.Error(streamErr.Error(), CodeStreamingError)); err != nil {
			return errors.Unwrap(err)
		}
	}
	if err := send(em.RunFinished(streamErr)); err != nil {
		return errors.Unwrap(err)
	}
	return nil
}

func translate(em *Emitter, req AgentRequest, u Update) ([]agui.Event, error) {
	switch u := u.(type) {
	case TextDelta:
		if u.Text == "" {
			return nil, nil
		}
		return []agui.Event{em.TextChunk(u.Text)}, nil
	case ToolCallUpdate:
		evt, err := em.ToolCall(u.ID, u.Name, u.Arguments, isFrontend(req.FrontendTools, u.Name))
		if err != nil || evt == nil {
			return nil, err
		}
		return []agui.Event{evt}, nil
	case ToolResultUpdate:
		evt, err := em.ToolResult(u.ID, u.Result)
		if err != nil || evt == nil {
			return nil, err
		}
		return []agui.Event{evt}, nil
	case StepUpdate:
		if u.Finished {
			return []agui.Event{&agui.StepFinishedEvent{BaseEvent: em.base(), StepName: u.Name}}, nil
		}
		return []agui.Event{&agui.StepStartedEvent{BaseEvent: em.base(), StepName: u.Name}}, nil
	case StateUpdate:
		if len(u.Snapshot) > 0 {
			snap, err := agui.CompactJSON(u.Snapshot)
			if err != nil {
				return nil, fmt.Errorf("state snapshot: %w", err)
			}
			return []agui.Event{&agui.StateSnapshotEvent{BaseEvent: em.base(), Snapshot: snap}}, nil
		}
		delta, err := agui.CompactJSON(u.Delta)
		if err != nil {
			return nil, fmt.Errorf("state delta: %w", err)
		}
		return []agui.Event{&agui.StateDeltaEvent{BaseEvent: em.base(), Delta: delta}}, nil
	case ActivityUpdate:
		if len(u.Patch) > 0 {
			patch, err := agui.CompactJSON(u.Patch)
			if err != nil {
				return nil, fmt.Errorf("activity %q patch: %w", u.MessageID, err)
			}
			return []agui.Event{&agui.ActivityDeltaEvent{BaseEvent: em.base(), MessageID: u.MessageID, ActivityType: u.ActivityType, Patch: patch}}, nil
		}
		content, err := agui.CompactJSON(u.Content)
		if err != nil {
			return nil, fmt.Errorf("activity %q content: %w", u.MessageID, err)
		}
		return []agui.Event{&agui.ActivitySnapshotEvent{BaseEvent: em.base(), MessageID: u.MessageID, ActivityType: u.ActivityType, Content: content}}, nil
	case InterruptUpdate:
		em.Interrupt(u.Interrupt)
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported agent update %T", u)
}

// buildRequest maps a run request to an agent request. Tool results carried by
// a resume are appended as tool messages unless the history already answers
// the same tool call.
func buildRequest(input agui.RunAgentInput) (AgentRequest, error) {
	props, err := input.Forwarded()
	if err != nil {
		return AgentRequest{}, err
	}
	req := AgentRequest{
		ThreadID:      input.ThreadID,
		RunID:         input.RunID,
		Messages:      append([]agui.Message(nil), input.Messages...),
		FrontendTools: input.Tools,
		ToolMetadata:  props.ToolMetadata,
		Context:       input.Context,
		State:         input.State,
		Resume:        input.Resume,
	}
	if input.Resume == nil {
		return req, nil
	}
	payload, err := input.Resume.Decode()
	if err != nil {
		return AgentRequest{}, fmt.Errorf("%w: %w", agui.ErrInvalidInput, err)
	}
	answered := make(map[string]struct{})
	for _, m := range req.Messages {
		if m.Role == agui.RoleTool && m.ToolCallID != "" {
			answered[m.ToolCallID] = struct{}{}
		}
	}
	for _, res := range payload.ToolResults {
		if res.ToolCallID == "" {
			continue
		}
		if _, ok := answered[res.ToolCallID]; ok {
			continue
		}
		answered[res.ToolCallID] = struct{}{}
		msg := agui.Message{ID: uuid.NewString(), Role: agui.RoleTool, Content: res.Result, ToolCallID: res.ToolCallID}
		if res.IsError {
			msg.Error = res.Result
		}
		req.Messages = append(req.Messages, msg)
	}
	return req, nil
}

// isFrontend matches names exactly, as tools.Registry does on the client.
func isFrontend(tools []agui.Tool, name string) bool {
	return slices.ContainsFunc(tools, func(t agui.Tool) bool { return t.Name == name })
}
