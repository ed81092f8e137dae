package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/server"
)

const approvalInterruptPrefix = "approve-"

// scriptedAgent replays AgentConfig. A run goes through up to three requests:
// the initial one requests the tool calls, the tool results resume raises the
// approval interrupt and the approval resume closes the run.
type scriptedAgent struct {
	cfg AgentConfig
}

func newScriptedAgent(cfg AgentConfig) *scriptedAgent {
	return &scriptedAgent{cfg: cfg}
}

func (a *scriptedAgent) Stream(ctx context.Context, req server.AgentRequest, yield func(server.Update) error) error {
	if req.Resume == nil {
		if err := a.say(ctx, a.cfg.Greeting, yield); err != nil {
			return err
		}
		if len(a.cfg.ToolCalls) > 0 {
			if err := yield(server.StepUpdate{Name: "tools"}); err != nil {
				return err
			}
			for _, call := range a.cfg.ToolCalls {
				if err := yield(server.ToolCallUpdate{Name: call.Name, Arguments: call.Arguments}); err != nil {
					return err
				}
			}
			return yield(server.StepUpdate{Name: "tools", Finished: true})
		}
		return a.approveOrClose(ctx, req, yield)
	}

	payload, err := req.Resume.Decode()
	if err != nil {
		return err
	}
	if strings.HasPrefix(req.Resume.InterruptID, approvalInterruptPrefix) {
		if !approved(payload.Response) {
			return a.say(ctx, "Okay, I will not go ahead.", yield)
		}
		return a.say(ctx, a.cfg.Closing, yield)
	}
	if err := a.summarize(ctx, req.Messages, yield); err != nil {
		return err
	}
	return a.approveOrClose(ctx, req, yield)
}

func (a *scriptedAgent) approveOrClose(ctx context.Context, req server.AgentRequest, yield func(server.Update) error) error {
	if a.cfg.Approval == nil {
		return a.say(ctx, a.cfg.Closing, yield)
	}
	return yield(server.InterruptUpdate{Interrupt: agui.Interrupt{
		ID:      approvalInterruptPrefix + req.RunID,
		Reason:  agui.ReasonHumanApproval,
		Type:    agui.InterruptApproval,
		Title:   a.cfg.Approval.Title,
		Message: a.cfg.Approval.Message,
		Options: []agui.InterruptOption{
			{Value: "approve", Label: "Approve", Variant: "positive"},
			{Value: "deny", Label: "Deny", Variant: "danger"},
		},
	}})
}

// summarize reports the number of tool results received since the last
// assistant message.
func (a *scriptedAgent) summarize(ctx context.Context, msgs []agui.Message, yield func(server.Update) error) error {
	var ok, failed int
	for i := len(msgs) - 1; i >= 0 && msgs[i].Role == agui.RoleTool; i-- {
		if msgs[i].Error != "" {
			failed++
			continue
		}
		ok++
	}
	text := fmt.Sprintf("Got %d tool result(s).", ok)
	if failed > 0 {
		text = fmt.Sprintf("Got %d tool result(s), %d failed.", ok, failed)
	}
	return a.say(ctx, text, yield)
}

func (a *scriptedAgent) say(ctx context.Context, text string, yield func(server.Update) error) error {
	if text == "" {
		return nil
	}
	words := strings.SplitAfter(text, " ")
	for i, w := range words {
		if i > 0 && a.cfg.Delay > 0 {
			select {
			case <-time.After(a.cfg.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := yield(server.TextDelta{Text: w}); err != nil {
			return err
		}
	}
	return nil
}

// approved interprets an approval response: "approve", true or an object with
// approved=true.
func approved(resp json.RawMessage) bool {
	var v any
	if len(resp) == 0 || json.Unmarshal(resp, &v) != nil {
		return false
	}
	switch r := v.(type) {
	case bool:
		return r
	case string:
		return r == "approve" || r == "yes"
	case map[string]any:
		b, _ := r["approved"].(bool)
		return b
	}
	return false
}
