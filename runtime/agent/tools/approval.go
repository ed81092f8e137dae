package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/transcript"
)

// ApprovalArg is the synthetic argument carrying the human response to an
// approval-gated tool.
const ApprovalArg = "__approval"

// CancelledMessage is the error result of a tool whose approval was denied.
const CancelledMessage = "User cancelled the operation"

type (
	// Approver asks a human to approve a gated tool call. Approve blocks until
	// the human responds or ctx is done. A nil response, a response of "deny"
	// or "no", or an object with approved=false or cancelled=true is a denial;
	// any other response is injected into the tool arguments as ApprovalArg.
	Approver interface {
		Approve(ctx context.Context, req agui.Interrupt) (any, error)
	}

	// ApproverFunc adapts a function to Approver.
	ApproverFunc func(ctx context.Context, req agui.Interrupt) (any, error)
)

// Approve calls f.
func (f ApproverFunc) Approve(ctx context.Context, req agui.Interrupt) (any, error) {
	return f(ctx, req)
}

// ApprovalInterrupt builds the approval prompt for call.
func ApprovalInterrupt(call transcript.ToolCall, tool Tool, args map[string]any) agui.Interrupt {
	label := tool.Label
	if label == "" {
		label = tool.Name
	}
	config := map[string]any{}
	if tool.Approval != nil && tool.Approval.Config != nil {
		config = tool.Approval.Config
	}
	return agui.Interrupt{
		ID:      "approval-" + call.ID,
		Reason:  agui.ReasonToolApproval,
		Type:    agui.InterruptApproval,
		Title:   "Approve " + label,
		Message: fmt.Sprintf("The tool %q requires your approval to proceed.", label),
		Options: []agui.InterruptOption{
			{Value: "approve", Label: "Approve", Variant: "positive"},
			{Value: "deny", Label: "Deny", Variant: "danger"},
		},
		Payload: map[string]any{
			"toolCallId": call.ID,
			"toolName":   call.Name,
			"args":       args,
			"config":     config,
		},
	}
}

// NormalizeApproval interprets a human response. It returns the value to
// inject as ApprovalArg and whether the response approves the call. String
// responses holding JSON are decoded first.
func NormalizeApproval(resp any) (any, bool) {
	switch v := resp.(type) {
	case nil:
		return nil, false
	case json.RawMessage:
		if len(v) == 0 {
			return nil, false
		}
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return nil, false
		}
		return NormalizeApproval(decoded)
	case string:
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			if _, isString := decoded.(string); !isString {
				return NormalizeApproval(decoded)
			}
		}
		if v == "deny" || v == "no" {
			return nil, false
		}
		return v, true
	case map[string]any:
		if approved, ok := v["approved"].(bool); ok && !approved {
			return nil, false
		}
		if cancelled, ok := v["cancelled"].(bool); ok && cancelled {
			return nil, false
		}
		return v, true
	}
	return resp, true
}
