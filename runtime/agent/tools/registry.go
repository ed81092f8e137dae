// Package tools registers frontend tools (tools whose implementation runs in
// the client rather than on the agent server) and executes batches of their
// calls. A failing tool never fails the batch: its error becomes a structured
// payload in that tool's result.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
)

var (
	// ErrInvalidTool indicates a tool definition that cannot be registered.
	ErrInvalidTool = errors.New("invalid tool definition")
	// ErrDuplicateTool indicates a second registration for the same tool name.
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrUnknownTool indicates a call to a tool that is not registered.
	ErrUnknownTool = errors.New("unknown frontend tool")
)

type (
	// Tool describes a frontend tool advertised to the agent.
	Tool struct {
		// Name is the unique tool name the model calls.
		Name string
		// Label is a human-friendly name used in approval prompts. Defaults to
		// Name.
		Label       string
		Description string
		// Parameters is the JSON Schema of the tool arguments. Empty means any
		// object is accepted.
		Parameters json.RawMessage
		// Scope groups tools for permission filtering on the server.
		Scope string
		// Destructive marks tools that modify or delete data.
		Destructive bool
		// Approval, when set, gates execution on a human response.
		Approval *ApprovalConfig
	}

	// ApprovalConfig configures the approval prompt of a gated tool.
	ApprovalConfig struct {
		// Config is forwarded verbatim in the approval interrupt payload.
		Config map[string]any
	}

	// Implementation runs a frontend tool. The returned value becomes the tool
	// result: strings and json.RawMessage are used verbatim, anything else is
	// JSON encoded.
	Implementation interface {
		Execute(ctx context.Context, args map[string]any) (any, error)
	}

	// ImplementationFunc adapts a function to Implementation.
	ImplementationFunc func(ctx context.Context, args map[string]any) (any, error)

	// Registry holds frontend tool definitions and implementations. It is safe
	// for concurrent use.
	Registry struct {
		mu      sync.RWMutex
		order   []string
		entries map[string]*entry
	}

	entry struct {
		tool   Tool
		impl   Implementation
		schema *jsonschema.Schema
	}
)

// Execute calls f.
func (f ImplementationFunc) Execute(ctx context.Context, args map[string]any) (any, error) {
	return f(ctx, args)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds tool with its implementation. The parameter schema is compiled
// once here; an invalid schema fails registration.
func (r *Registry) Register(tool Tool, impl Implementation) error {
	if tool.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTool)
	}
	if impl == nil {
		return fmt.Errorf("%w: tool %q has no implementation", ErrInvalidTool, tool.Name)
	}
	schema, err := compileSchema(tool.Name, tool.Parameters)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTool, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[tool.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateTool, tool.Name)
	}
	r.entries[tool.Name] = &entry{tool: tool, impl: impl, schema: schema}
	r.order = append(r.order, tool.Name)
	return nil
}

// Lookup returns the definition of tool name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	e, ok := r.entry(name)
	if !ok {
		return Tool{}, false
	}
	return e.tool, true
}

// IsFrontend reports whether name is a registered frontend tool.
func (r *Registry) IsFrontend(name string) bool {
	_, ok := r.entry(name)
	return ok
}

// Tools returns the registered definitions in registration order.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].tool)
	}
	return out
}

// Definitions returns the tool list sent in a run request.
func (r *Registry) Definitions() []agui.Tool {
	tools := r.Tools()
	out := make([]agui.Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object"}`)
		}
		out = append(out, agui.Tool{Name: t.Name, Description: t.Description, Parameters: params})
	}
	return out
}

// Metadata returns the scope and destructiveness of every tool, forwarded to
// the server in forwardedProps.toolMetadata.
func (r *Registry) Metadata() []agui.ToolMetadata {
	tools := r.Tools()
	out := make([]agui.ToolMetadata, 0, len(tools))
	for _, t := range tools {
		out = append(out, agui.ToolMetadata{ToolName: t.Name, Scope: t.Scope, IsDestructive: t.Destructive})
	}
	return out
}

// Validate checks args against the parameter schema of tool name. It returns a
// *ValidationError listing every failing field.
func (r *Registry) Validate(name string, args map[string]any) error {
	e, ok := r.entry(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	if e.schema == nil {
		return nil
	}
	if err := e.schema.Validate(toInstance(args)); err != nil {
		return &ValidationError{Tool: name, Issues: issuesFrom(err)}
	}
	return nil
}

func (r *Registry) entry(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("tool %q: parse schema: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("tool %q: add schema resource: %w", name, err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("tool %q: compile schema: %w", name, err)
	}
	return schema, nil
}

// toInstance converts args into a value the validator accepts. A nil map
// validates as an empty object.
func toInstance(args map[string]any) any {
	if args == nil {
		return map[string]any{}
	}
	return args
}
