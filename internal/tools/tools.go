// Package tools defines the operations the assistant may invoke on a
// user's behalf and the registry that dispatches them.
//
// Every tool is a function of validated arguments and a read-only
// [Caller] snapshot to a human-readable result string. Tools report
// domain problems (bad dates, unknown codes) in that string; the error
// return is reserved for failures the caller should log.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Caller is the identity snapshot a tool runs for. It carries only
// strings so it can be handed to tools without leaking live state.
type Caller struct {
	UserID string
	Name   string
	Phone  string
	Email  string
	Status string
	Plan   string
}

// Tool is a callable operation offered to the model.
type Tool interface {
	Name() string
	Description() string
	// Parameters is a JSON Schema object describing the arguments.
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any, caller Caller) (string, error)
}

// Handler is the function form of [Tool.Execute].
type Handler func(ctx context.Context, args map[string]any, caller Caller) (string, error)

// Func adapts a plain function into a [Tool].
type Func struct {
	ToolName    string
	Desc        string
	Params      map[string]any
	HandlerFunc Handler
}

// Name implements Tool.
func (f *Func) Name() string { return f.ToolName }

// Description implements Tool.
func (f *Func) Description() string { return f.Desc }

// Parameters implements Tool.
func (f *Func) Parameters() map[string]any { return f.Params }

// Execute implements Tool.
func (f *Func) Execute(ctx context.Context, args map[string]any, caller Caller) (string, error) {
	return f.HandlerFunc(ctx, args, caller)
}

// Registry holds available tools.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) Tool {
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// List returns all tools for the LLM in OpenAI function format, sorted
// by name so the prompt is stable across calls.
func (r *Registry) List() []map[string]any {
	result := make([]map[string]any, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name(),
				"description": t.Description(),
				"parameters":  t.Parameters(),
			},
		})
	}
	return result
}

// Execute runs a tool by name. Unknown names return
// *ErrToolUnavailable. When a required argument is missing the tool is
// not invoked and a corrective message is returned instead.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, caller Caller) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}
	if args == nil {
		args = map[string]any{}
	}
	if missing := missingRequired(tool.Parameters(), args); len(missing) > 0 {
		return fmt.Sprintf("❌ Erro: Por favor, informe %s.", strings.Join(missing, ", ")), nil
	}
	return tool.Execute(ctx, args, caller)
}

// missingRequired lists required parameters that are absent, null or
// blank strings.
func missingRequired(schema map[string]any, args map[string]any) []string {
	var required []string
	switch req := schema["required"].(type) {
	case []string:
		required = req
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
	}

	var missing []string
	for _, key := range required {
		v, ok := args[key]
		if !ok || v == nil {
			missing = append(missing, key)
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// object builds a JSON Schema object with the given properties.
func object(required []string, props map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func enumProp(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}

func numberProp(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}
