// Package agent holds the UI-facing projection of a running agent. The
// sub-packages implement the AG-UI protocol (agui), the transcript accumulator
// (transcript), interrupt dispatch (interrupt), frontend tool execution
// (tools) and the run orchestrator (runtime).
package agent

import "maps"

// Status is the coarse activity indicator shown by a UI while a run is live.
type Status string

const (
	// StatusIdle means nothing is happening.
	StatusIdle Status = "idle"
	// StatusThinking means the agent is producing output.
	StatusThinking Status = "thinking"
	// StatusExecuting means frontend tools are running.
	StatusExecuting Status = "executing"
	// StatusAwaitingInput means a human must respond before the run continues.
	StatusAwaitingInput Status = "awaiting_input"
)

type (
	// State is the ephemeral projection a UI renders next to the transcript.
	// It is rebuilt for every run and never persisted. A nil *State means the
	// state is cleared.
	State struct {
		Status      Status         `json:"status"`
		CurrentStep string         `json:"currentStep,omitempty"`
		Progress    *Progress      `json:"progress,omitempty"`
		Custom      map[string]any `json:"custom,omitempty"`
	}

	// Progress reports how far a multi-part operation has advanced.
	Progress struct {
		Current int    `json:"current"`
		Total   int    `json:"total"`
		Label   string `json:"label,omitempty"`
	}
)

// NewState returns a state with the given status.
func NewState(status Status) *State {
	return &State{Status: status}
}

// Clone returns a deep copy of s. Clone of nil is nil.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	if s.Progress != nil {
		p := *s.Progress
		c.Progress = &p
	}
	c.Custom = maps.Clone(s.Custom)
	return &c
}

// WithStep returns a copy of s with CurrentStep set to step.
func (s *State) WithStep(step string) *State {
	c := s.Clone()
	if c == nil {
		c = NewState(StatusThinking)
	}
	c.CurrentStep = step
	return c
}

// WithProgress returns a copy of s with the given progress counters.
func (s *State) WithProgress(current, total int, label string) *State {
	c := s.Clone()
	if c == nil {
		c = NewState(StatusExecuting)
	}
	c.Progress = &Progress{Current: current, Total: total, Label: label}
	return c
}
