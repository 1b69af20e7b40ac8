// Package tooling defines the tool interface the execution core drives:
// a registry of named tools, typed parameter validation, and the workspace
// path contract every file-touching tool honors.
package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ErrorKind classifies tool failures. They are surfaced to the model as
// structured error results so it can self-correct.
type ErrorKind string

const (
	ErrInvalidParams ErrorKind = "invalid_parameters"
	ErrExecution     ErrorKind = "execution_error"
	ErrNotFound      ErrorKind = "not_found"
)

// Error is a typed tool failure.
type Error struct {
	Kind    ErrorKind
	Tool    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Tool, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Tool, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// TypedParams holds validated tool arguments.
type TypedParams map[string]interface{}

// String returns the string value for key, or "" when absent.
func (p TypedParams) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Int returns the integer value for key, or 0 when absent.
func (p TypedParams) Int(key string) int {
	switch n := p[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}

// Bool returns the boolean value for key, or false when absent.
func (p TypedParams) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Result is the outcome of a tool invocation.
type Result struct {
	Content string // sent back to the model
	Display string // optional shorter text for progress output
}

// Definition describes a tool for the model.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Tool pairs a definition with validation metadata and an invoke function.
type Tool struct {
	Definition Definition

	// Required lists parameter names that must be present and non-empty.
	Required []string

	// Mutating marks tools that modify files; the orchestrator uses it with
	// PathParam to decide which calls may run concurrently.
	Mutating bool

	// PathParam names the argument carrying the target file path, if any.
	PathParam string

	Invoke func(ctx context.Context, params TypedParams) (*Result, error)
}

// Name returns the tool name.
func (t *Tool) Name() string { return t.Definition.Name }

// Validate parses raw arguments and checks required parameters.
func (t *Tool) Validate(raw json.RawMessage) (TypedParams, error) {
	var params TypedParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, &Error{Kind: ErrInvalidParams, Tool: t.Name(), Message: "arguments are not valid JSON", Cause: err}
		}
	}
	if params == nil {
		params = TypedParams{}
	}
	for _, name := range t.Required {
		v, ok := params[name]
		if !ok {
			return nil, &Error{Kind: ErrInvalidParams, Tool: t.Name(), Message: fmt.Sprintf("missing required parameter %q", name)}
		}
		if s, isStr := v.(string); isStr && s == "" {
			return nil, &Error{Kind: ErrInvalidParams, Tool: t.Name(), Message: fmt.Sprintf("parameter %q is empty", name)}
		}
	}
	return params, nil
}

// TargetPath extracts the mutation target path from validated params, or ""
// when the tool does not declare one.
func (t *Tool) TargetPath(params TypedParams) string {
	if t.PathParam == "" {
		return ""
	}
	return params.String(t.PathParam)
}

// Registry manages tool registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Definitions returns all tool definitions for sending to the model.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition)
	}
	return defs
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
