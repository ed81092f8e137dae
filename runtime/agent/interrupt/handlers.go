package interrupt

import (
	"context"
	"fmt"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/tools"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/transcript"
)

// ApprovalSurface presents an approval or input request to a human. The run is
// resumed by whoever collects the response, never by the surface itself.
type ApprovalSurface interface {
	Show(ctx context.Context, in agui.Interrupt) error
}

type (
	defaultHandler struct{}

	approvalHandler struct {
		surface ApprovalSurface
	}

	toolExecutionHandler struct {
		exec *tools.Executor
	}
)

// DefaultHandler returns the wildcard handler: it clears the agent state and
// does nothing else.
func DefaultHandler() Handler { return defaultHandler{} }

// NewApprovalHandler returns the human_approval handler. It marks the agent
// as awaiting input and shows the interrupt on surface.
func NewApprovalHandler(surface ApprovalSurface) Handler {
	return &approvalHandler{surface: surface}
}

// NewToolExecutionHandler returns the tool_execution handler. It runs the
// frontend tool calls of the last assistant message with exec and resumes the
// run with their results once every call finished.
func NewToolExecutionHandler(exec *tools.Executor) Handler {
	return &toolExecutionHandler{exec: exec}
}

// Register installs the built-in handlers for human_approval and
// tool_execution on r.
func Register(r *Registry, surface ApprovalSurface, exec *tools.Executor) error {
	if err := r.Register(agui.ReasonHumanApproval, NewApprovalHandler(surface)); err != nil {
		return err
	}
	return r.Register(agui.ReasonToolExecution, NewToolExecutionHandler(exec))
}

func (defaultHandler) Handle(_ context.Context, _ agui.Interrupt, c *Context) error {
	c.setState(nil)
	return nil
}

func (h *approvalHandler) Handle(ctx context.Context, in agui.Interrupt, c *Context) error {
	c.setState(agent.NewState(agent.StatusAwaitingInput))
	if h.surface == nil {
		return nil
	}
	if err := h.surface.Show(ctx, in); err != nil {
		return fmt.Errorf("show interrupt %q: %w", in.ID, err)
	}
	return nil
}

func (h *toolExecutionHandler) Handle(ctx context.Context, _ agui.Interrupt, c *Context) error {
	calls := FrontendCalls(h.exec.Registry(), c.ToolCalls)
	if len(calls) == 0 {
		// Nothing to run here; the server resolves the interrupt another way.
		c.setState(nil)
		return nil
	}
	c.setState(agent.NewState(agent.StatusExecuting).WithProgress(0, len(calls), "Running tools"))
	results, err := h.exec.Execute(ctx, calls)
	if err != nil {
		return err
	}
	payload, err := agui.ToolResultsPayload(tools.ToolResults(results))
	if err != nil {
		return fmt.Errorf("encode tool results: %w", err)
	}
	return c.resume(ctx, payload)
}

// FrontendCalls returns the calls that name a tool of reg and have not
// finished yet.
func FrontendCalls(reg *tools.Registry, calls []transcript.ToolCall) []transcript.ToolCall {
	var out []transcript.ToolCall
	for _, call := range calls {
		if call.Status.Terminal() || !reg.IsFrontend(call.Name) {
			continue
		}
		out = append(out, call)
	}
	return out
}
