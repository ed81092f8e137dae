// Package interrupt routes run interrupts to handlers. Each interrupt reason is
// claimed by at most one handler; a wildcard handler is always installed and
// receives every interrupt whose reason has no dedicated handler.
package interrupt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/transcript"
)

// Wildcard is the reason of the fallback handler.
const Wildcard = "*"

var (
	// ErrDuplicateHandler indicates a second handler registered for a reason.
	ErrDuplicateHandler = errors.New("interrupt handler already registered")
	// ErrInvalidHandler indicates a registration with an empty reason or a nil
	// handler.
	ErrInvalidHandler = errors.New("invalid interrupt handler")
)

type (
	// Handler reacts to an interrupt. Handlers run outside the event stream;
	// a returned error aborts the run.
	Handler interface {
		Handle(ctx context.Context, in agui.Interrupt, c *Context) error
	}

	// HandlerFunc adapts a function to Handler.
	HandlerFunc func(ctx context.Context, in agui.Interrupt, c *Context) error

	// Context is the view of the run given to a handler.
	Context struct {
		// ThreadID and RunID identify the interrupted run.
		ThreadID string
		RunID    string
		// Messages is a snapshot of the transcript when the interrupt arrived.
		Messages []transcript.Message
		// LastAssistantMessageID is the most recent assistant message id.
		LastAssistantMessageID string
		// ToolCalls are the tool calls requested by the last assistant
		// message.
		ToolCalls []transcript.ToolCall
		// SetAgentState replaces the agent state. Nil clears it.
		SetAgentState func(*agent.State)
		// Resume continues the run with payload, a ResumePayload document.
		Resume func(ctx context.Context, payload json.RawMessage) error
	}

	// Registry maps interrupt reasons to handlers. It is safe for concurrent
	// use.
	Registry struct {
		mu       sync.RWMutex
		handlers map[string]Handler
	}
)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, in agui.Interrupt, c *Context) error {
	return f(ctx, in, c)
}

// NewRegistry returns a registry holding only the default wildcard handler.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{Wildcard: DefaultHandler()}}
}

// Register installs h for reason. Registering a reason twice fails with
// ErrDuplicateHandler, except for Wildcard whose default handler may be
// replaced once.
func (r *Registry) Register(reason string, h Handler) error {
	if reason == "" || h == nil {
		return fmt.Errorf("%w: reason and handler are required", ErrInvalidHandler)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.handlers[reason]; ok {
		if _, isDefault := existing.(defaultHandler); !(reason == Wildcard && isDefault) {
			return fmt.Errorf("%w: %q", ErrDuplicateHandler, reason)
		}
	}
	r.handlers[reason] = h
	return nil
}

// Reasons returns the registered reasons, sorted.
func (r *Registry) Reasons() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for reason := range r.handlers {
		out = append(out, reason)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the handler selected for reason: the handler registered for
// exactly that reason, else the wildcard.
func (r *Registry) Lookup(reason string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[reason]; ok && reason != "" {
		return h
	}
	return r.handlers[Wildcard]
}

// Dispatch runs the handler selected for in.Reason.
func (r *Registry) Dispatch(ctx context.Context, in agui.Interrupt, c *Context) error {
	return r.Lookup(in.Reason).Handle(ctx, in, c)
}

func (c *Context) setState(s *agent.State) {
	if c.SetAgentState != nil {
		c.SetAgentState(s)
	}
}

func (c *Context) resume(ctx context.Context, payload json.RawMessage) error {
	if c.Resume == nil {
		return errors.New("interrupt: resume is not available")
	}
	return c.Resume(ctx, payload)
}
