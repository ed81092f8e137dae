// Package runtime drives AG-UI runs from the client side. A Controller owns the
// runs of one thread: it sends run requests through a Transport, applies the
// returned events to the transcript in arrival order, pauses on interrupts,
// dispatches them to the interrupt registry and reopens the stream for the same
// (threadId, runId) when the interrupt is resolved.
//
//	idle → streaming → interrupted → streaming → … → finished | errored
//
// Example:
//
//	reg := interrupt.NewRegistry()
//	ctrl, err := runtime.New(runtime.Options{Transport: sse.NewClient(url), Interrupts: reg, Tools: toolReg})
//	if err != nil {
//	    return err
//	}
//	exec := tools.NewExecutor(toolReg, tools.WithStatusFunc(ctrl.ToolStatus))
//	if err := interrupt.Register(reg, surface, exec); err != nil {
//	    return err
//	}
//	if err := ctrl.Start(ctx, runtime.RunRequest{ThreadID: "t1", RunID: "r1", Messages: msgs}); err != nil {
//	    return err
//	}
//	status, err := ctrl.Wait(ctx)
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/hooks"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/interrupt"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/run"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/telemetry"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/tools"
)

var (
	// ErrDuplicateInterrupt indicates an interrupt observed while another one is
	// outstanding. It is fatal to the run.
	ErrDuplicateInterrupt = errors.New("interrupt already pending")
	// ErrCanceled is the cause of runs stopped by Abort.
	ErrCanceled = errors.New("run canceled")
	// ErrRunActive is returned by Start while a run is in progress.
	ErrRunActive = errors.New("run already in progress")
	// ErrNotInterrupted is returned by Resume when the run is not paused.
	ErrNotInterrupted = errors.New("run is not interrupted")
	// ErrUnknownInterrupt is returned by Resume for an id that does not match
	// the pending interrupt.
	ErrUnknownInterrupt = errors.New("unknown interrupt id")
	// ErrStreamEnded indicates a stream that closed before RUN_FINISHED or
	// RUN_ERROR.
	ErrStreamEnded = errors.New("stream ended before the run finished")
	// ErrInvalidStateDelta indicates a STATE_DELTA that cannot be applied.
	ErrInvalidStateDelta = errors.New("invalid state delta")
)

// Error codes of the RUN_ERROR events synthesized for client-side failures.
const (
	CodeProtocolError = "PROTOCOL_ERROR"
	CodeCanceled      = "CANCELED"
	CodeClientError   = "CLIENT_ERROR"
)

type (
	// Transport opens run streams. Run sends input and calls yield for every
	// decoded event in order. It returns nil when the server closed the stream
	// and the error of yield when yield fails; it must return promptly once ctx
	// is done.
	Transport interface {
		Run(ctx context.Context, input agui.RunAgentInput, yield func(agui.Event) error) error
	}

	// TransportFunc adapts a function to Transport.
	TransportFunc func(ctx context.Context, input agui.RunAgentInput, yield func(agui.Event) error) error

	// Options configures a Controller.
	Options struct {
		// Transport opens run streams. Required.
		Transport Transport
		// Interrupts routes interrupts to handlers. Defaults to a registry
		// holding only the wildcard handler.
		Interrupts *interrupt.Registry
		// Tools lists the frontend tools advertised in run requests.
		Tools *tools.Registry
		// Bus receives run hook events. Defaults to a new bus.
		Bus hooks.Bus
		// Store persists run records when set.
		Store   run.Store
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
	}

	// RunRequest describes a new run.
	RunRequest struct {
		ThreadID    string
		RunID       string
		ParentRunID string
		// Messages is the conversation history sent with the request.
		Messages []agui.Message
		// State is the initial shared state document.
		State json.RawMessage
		// Context is forwarded verbatim.
		Context []agui.ContextItem
		// ForwardedProps is merged with the frontend tool metadata.
		ForwardedProps json.RawMessage
		// Labels are stored on the run record.
		Labels map[string]string
	}

	// RunError is the error of a run that ended with RUN_ERROR or with
	// RUN_FINISHED and an error outcome.
	RunError struct {
		Code    string
		Message string
	}
)

// Run calls f.
func (f TransportFunc) Run(ctx context.Context, input agui.RunAgentInput, yield func(agui.Event) error) error {
	return f(ctx, input, yield)
}

// Error implements error.
func (e *RunError) Error() string {
	if e.Code == "" {
		return "run error: " + e.Message
	}
	return fmt.Sprintf("run error %s: %s", e.Code, e.Message)
}
