package run

import (
	"encoding/json"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/transcript"
)

// Snapshot is a point-in-time view of a run held by a client. Snapshots are
// derived from the event stream and never stored.
type Snapshot struct {
	Record Record
	// Messages is the materialized transcript.
	Messages []transcript.Message
	// ToolCalls lists every tool call of the transcript in request order.
	ToolCalls []transcript.ToolCall
	// AgentState is the UI projection; nil once the run is terminal.
	AgentState *agent.State
	// State is the shared state document maintained by STATE_SNAPSHOT and
	// STATE_DELTA events.
	State json.RawMessage
	// Interrupt is the outstanding interrupt, if any.
	Interrupt *agui.Interrupt
}

// ToolCall returns the tool call id of s.
func (s Snapshot) ToolCall(id string) (transcript.ToolCall, bool) {
	for _, c := range s.ToolCalls {
		if c.ID == id {
			return c, true
		}
	}
	return transcript.ToolCall{}, false
}
