package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/telemetry"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/toolerrors"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/transcript"
)

type (
	// Result is the outcome of one frontend tool call. Err is set when the
	// tool failed; Content then holds the JSON failure payload.
	Result struct {
		ToolCallID string
		Content    string
		Err        *toolerrors.ToolError
	}

	// StatusFunc observes tool call status changes. It is called from the
	// goroutine running the tool and must be safe for concurrent use.
	StatusFunc func(toolCallID string, status transcript.ToolCallStatus)

	// Executor runs batches of frontend tool calls.
	Executor struct {
		registry *Registry
		approver Approver
		onStatus StatusFunc
		limit    int
		logger   telemetry.Logger
		metrics  telemetry.Metrics
	}

	// ExecutorOption configures an Executor.
	ExecutorOption func(*Executor)
)

// WithApprover sets the approver consulted for approval-gated tools. Without
// one, gated tools fail.
func WithApprover(a Approver) ExecutorOption {
	return func(e *Executor) { e.approver = a }
}

// WithStatusFunc sets the status observer.
func WithStatusFunc(f StatusFunc) ExecutorOption {
	return func(e *Executor) { e.onStatus = f }
}

// WithConcurrency caps the number of tools running at once. Zero or negative
// means no cap.
func WithConcurrency(n int) ExecutorOption {
	return func(e *Executor) { e.limit = n }
}

// WithLogger sets the logger.
func WithLogger(l telemetry.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor returns an executor for the tools of reg.
func NewExecutor(reg *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: reg,
		logger:   telemetry.NewNoopLogger(),
		metrics:  telemetry.NewNoopMetrics(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Registry returns the registry the executor runs tools from.
func (e *Executor) Registry() *Registry { return e.registry }

// Execute runs calls concurrently and returns once every call reached a
// terminal status. Results are in the order of calls. Tool failures are
// reported in the results, never as the returned error; the error is non-nil
// only when ctx is done, in which case any results already obtained are
// discarded.
func (e *Executor) Execute(ctx context.Context, calls []transcript.ToolCall) ([]Result, error) {
	if len(calls) == 0 {
		return nil, ctx.Err()
	}
	start := time.Now()
	results := make([]Result, len(calls))
	var g errgroup.Group
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.run(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	e.metrics.RecordTimer(telemetry.MetricToolBatchDuration, time.Since(start), "size", fmt.Sprint(len(calls)))
	if err := ctx.Err(); err != nil {
		e.logger.Warn(ctx, "tool batch canceled", "calls", len(calls), "err", err)
		return nil, err
	}
	return results, nil
}

func (e *Executor) run(ctx context.Context, call transcript.ToolCall) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = e.fail(ctx, call, toolerrors.FromPanic(r))
		}
	}()

	ent, ok := e.registry.entry(call.Name)
	if !ok {
		return e.fail(ctx, call, toolerrors.FromError(fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)))
	}
	args := Arguments(call)
	if call.ParseError == "" {
		if err := e.registry.Validate(call.Name, args); err != nil {
			return e.fail(ctx, call, toolerrors.FromError(err))
		}
	}

	if ent.tool.Approval != nil {
		e.status(call.ID, transcript.ToolAwaitingApproval)
		if e.approver == nil {
			return e.fail(ctx, call, toolerrors.Errorf("tool %q requires approval but no approver is configured", call.Name))
		}
		resp, err := e.approver.Approve(ctx, ApprovalInterrupt(call, ent.tool, args))
		if err != nil {
			return e.fail(ctx, call, toolerrors.NewWithCause("approval failed", err))
		}
		v, approved := NormalizeApproval(resp)
		if !approved {
			return e.fail(ctx, call, toolerrors.New(CancelledMessage))
		}
		args[ApprovalArg] = v
	}

	e.status(call.ID, transcript.ToolExecuting)
	out, err := ent.impl.Execute(ctx, args)
	if err != nil {
		return e.fail(ctx, call, toolerrors.FromError(err))
	}
	content, err := encodeResult(out)
	if err != nil {
		return e.fail(ctx, call, toolerrors.NewWithCause("encode tool result", err))
	}
	e.status(call.ID, transcript.ToolCompleted)
	e.metrics.IncCounter(telemetry.MetricToolsExecuted, 1, "tool", call.Name, "outcome", "success")
	e.logger.Debug(ctx, "frontend tool completed", "tool", call.Name, "tool_call_id", call.ID)
	return Result{ToolCallID: call.ID, Content: content}
}

func (e *Executor) fail(ctx context.Context, call transcript.ToolCall, te *toolerrors.ToolError) Result {
	e.status(call.ID, transcript.ToolError)
	e.metrics.IncCounter(telemetry.MetricToolsExecuted, 1, "tool", call.Name, "outcome", "error")
	e.logger.Warn(ctx, "frontend tool failed", "tool", call.Name, "tool_call_id", call.ID, "err", te)
	return Result{ToolCallID: call.ID, Content: toolerrors.Payload(te), Err: te}
}

func (e *Executor) status(id string, s transcript.ToolCallStatus) {
	if e.onStatus != nil {
		e.onStatus(id, s)
	}
}

// Arguments returns the arguments passed to the implementation of call: a copy
// of the parsed arguments, or {"raw": <buffer>} when the buffer could not be
// parsed as a JSON object.
func Arguments(call transcript.ToolCall) map[string]any {
	if call.ParseError != "" || (call.Args == nil && strings.TrimSpace(call.Arguments) != "") {
		return map[string]any{"raw": call.Arguments}
	}
	if call.Args == nil {
		return map[string]any{}
	}
	return maps.Clone(call.Args)
}

// IsError reports whether the tool failed.
func (r Result) IsError() bool { return r.Err != nil }

// ToolResult converts r to its wire form.
func (r Result) ToolResult() agui.ToolResult {
	return agui.ToolResult{ToolCallID: r.ToolCallID, Result: r.Content, IsError: r.IsError()}
}

// ToolResults converts a batch of results to their wire form.
func ToolResults(results []Result) []agui.ToolResult {
	out := make([]agui.ToolResult, 0, len(results))
	for _, r := range results {
		out = append(out, r.ToolResult())
	}
	return out
}

func encodeResult(v any) (string, error) {
	switch out := v.(type) {
	case nil:
		return "null", nil
	case string:
		return out, nil
	case json.RawMessage:
		return string(out), nil
	case []byte:
		return string(out), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
