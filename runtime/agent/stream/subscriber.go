package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/hooks"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/transcript"
)

const (
	// CustomAgentState is the name of the CUSTOM event carrying the agent
	// state. The value is the JSON encoded agent.State or null when cleared.
	CustomAgentState = "agent_state"
	// CustomToolCallStatus is the name of the CUSTOM event carrying a
	// frontend tool call status change.
	CustomToolCallStatus = "tool_call_status"
)

type (
	// Subscriber forwards run hook events to a Sink. It is the bridge between
	// the in-process hook bus of a run controller and an external stream such
	// as a Pulse journal.
	//
	// The following hook events are streamed:
	//   - EventApplied           → the applied AG-UI event, unchanged
	//   - AgentStateChanged      → CUSTOM "agent_state"
	//   - ToolCallStatusChanged  → CUSTOM "tool_call_status"
	//
	// Run status and interrupt events are already visible through the
	// forwarded RUN_* events and are ignored.
	Subscriber struct {
		sink Sink
	}

	// ToolCallStatusValue is the value of a CUSTOM "tool_call_status" event.
	ToolCallStatusValue struct {
		ToolCallID string                    `json:"toolCallId"`
		Status     transcript.ToolCallStatus `json:"status"`
	}
)

// NewSubscriber returns a subscriber writing to sink.
//
//	sub, err := stream.NewSubscriber(sink)
//	if err != nil {
//	    return err
//	}
//	subscription, _ := bus.Register(sub)
//	defer subscription.Close()
func NewSubscriber(sink Sink) (*Subscriber, error) {
	if sink == nil {
		return nil, errors.New("stream sink is required")
	}
	return &Subscriber{sink: sink}, nil
}

// HandleEvent translates event and sends the result to the sink. Sink errors
// are returned so the bus stops delivery.
func (s *Subscriber) HandleEvent(ctx context.Context, event hooks.Event) error {
	switch evt := event.(type) {
	case *hooks.EventAppliedEvent:
		return s.sink.Send(ctx, evt.Event)
	case *hooks.AgentStateChangedEvent:
		return s.custom(ctx, CustomAgentState, evt.Timestamp(), evt.State)
	case *hooks.ToolCallStatusChangedEvent:
		return s.custom(ctx, CustomToolCallStatus, evt.Timestamp(), ToolCallStatusValue{
			ToolCallID: evt.ToolCallID,
			Status:     evt.Status,
		})
	}
	return nil
}

func (s *Subscriber) custom(ctx context.Context, name string, ts int64, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return s.sink.Send(ctx, &agui.CustomEvent{
		BaseEvent: agui.BaseEvent{Timestamp: ts},
		Name:      name,
		Value:     value,
	})
}

// DecodeAgentState extracts the agent state from a CUSTOM "agent_state"
// event. It returns false for any other event. A nil state means cleared.
func DecodeAgentState(evt agui.Event) (*agent.State, bool, error) {
	c, ok := evt.(*agui.CustomEvent)
	if !ok || c.Name != CustomAgentState {
		return nil, false, nil
	}
	var s *agent.State
	if err := json.Unmarshal(c.Value, &s); err != nil {
		return nil, true, fmt.Errorf("decode %s: %w", CustomAgentState, err)
	}
	return s, true, nil
}
