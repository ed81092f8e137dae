package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/hooks"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/interrupt"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/run"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/runtime"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/telemetry"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/tools"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/transcript"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/transport/sse"
)

type clientOptions struct {
	Endpoint  string
	Config    *Config
	Prompt    string
	Approve   bool
	Store     run.Store
	Timeout   time.Duration
	Out       io.Writer
	Transport runtime.Transport
}

// consoleSurface prints approval prompts. Decisions are taken by the run
// loop.
type consoleSurface struct {
	out io.Writer
}

func (s consoleSurface) Show(_ context.Context, in agui.Interrupt) error {
	_, err := fmt.Fprintf(s.out, "? %s\n  %s\n", in.Title, in.Message)
	return err
}

// runDemoClient sends one run to the endpoint, executes the frontend tools,
// answers approval interrupts and prints the transcript.
func runDemoClient(ctx context.Context, opts clientOptions) error {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	toolReg, err := opts.Config.Registry()
	if err != nil {
		return err
	}
	transport := opts.Transport
	if transport == nil {
		transport = sse.NewClient(opts.Endpoint)
	}
	reg := interrupt.NewRegistry()
	ctrl, err := runtime.New(runtime.Options{
		Transport:  transport,
		Interrupts: reg,
		Tools:      toolReg,
		Store:      opts.Store,
		Logger:     telemetry.NewClueLogger(),
		Metrics:    telemetry.NewClueMetrics(),
		Tracer:     telemetry.NewClueTracer(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = ctrl.Close() }()

	approver := tools.ApproverFunc(func(context.Context, agui.Interrupt) (any, error) {
		if opts.Approve {
			return "approve", nil
		}
		return "deny", nil
	})
	exec := tools.NewExecutor(toolReg, tools.WithStatusFunc(ctrl.ToolStatus), tools.WithApprover(approver))
	if err := interrupt.Register(reg, consoleSurface{out: opts.Out}, exec); err != nil {
		return err
	}
	sub, err := ctrl.Bus().Register(hooks.SubscriberFunc(func(_ context.Context, evt hooks.Event) error {
		switch e := evt.(type) {
		case *hooks.RunStatusChangedEvent:
			_, err := fmt.Fprintf(opts.Out, "[run %s] %s -> %s\n", e.RunID(), e.From, e.To)
			return err
		case *hooks.ToolCallStatusChangedEvent:
			_, err := fmt.Fprintf(opts.Out, "[tool %s] %s\n", e.ToolCallID, e.Status)
			return err
		}
		return nil
	}))
	if err != nil {
		return err
	}
	defer func() { _ = sub.Close() }()

	req := runtime.RunRequest{
		ThreadID: uuid.NewString(),
		RunID:    uuid.NewString(),
		Messages: []agui.Message{{ID: uuid.NewString(), Role: agui.RoleUser, Content: opts.Prompt}},
		Labels:   map[string]string{"client": "agui-demo"},
	}
	if err := ctrl.Start(ctx, req); err != nil {
		return err
	}
	for {
		status, err := ctrl.Wait(ctx)
		if err != nil {
			return err
		}
		if status != run.StatusInterrupted {
			break
		}
		pending := ctrl.PendingInterrupt()
		if pending == nil {
			return errors.New("run interrupted without a pending interrupt")
		}
		decision := "deny"
		if opts.Approve {
			decision = "approve"
		}
		fmt.Fprintf(opts.Out, "> %s\n", decision)
		payload, err := agui.ResponsePayload(map[string]any{"approved": opts.Approve})
		if err != nil {
			return err
		}
		if err := ctrl.Resume(ctx, pending.ID, payload); err != nil {
			return err
		}
	}
	printTranscript(opts.Out, ctrl.Messages())
	if rec, err := opts.Store.Load(ctx, req.ThreadID, req.RunID); err == nil {
		fmt.Fprintf(opts.Out, "run %s: %s after %d attempt(s)\n", rec.RunID, rec.Status, rec.Attempts)
	}
	return ctrl.Err()
}

func printTranscript(w io.Writer, msgs []transcript.Message) {
	for _, m := range msgs {
		switch {
		case m.Role == agui.RoleTool:
			fmt.Fprintf(w, "%-9s %s\n", m.Role, m.Content)
		case len(m.ToolCallIDs) > 0 && strings.TrimSpace(m.Content) == "":
			fmt.Fprintf(w, "%-9s (calls %s)\n", m.Role, strings.Join(m.ToolCallIDs, ", "))
		default:
			fmt.Fprintf(w, "%-9s %s\n", m.Role, m.Content)
		}
	}
}
