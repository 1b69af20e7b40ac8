package tooling

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ToolWriteTodos is special-cased by the orchestrator's stall handling.
const ToolWriteTodos = "write_todos"

func schema(props map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		req := make([]interface{}, len(required))
		for i, r := range required {
			req[i] = r
		}
		s["required"] = req
	}
	return s
}

func strProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func intProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": desc}
}

// RegisterBuiltins registers the standard tool set over a workspace.
func RegisterBuiltins(r *Registry, ws *Workspace) {
	r.Register(&Tool{
		Definition: Definition{
			Name:        "read_file",
			Description: "Read a file from the workspace. Supports optional 1-based line offset and line limit.",
			Parameters: schema(map[string]interface{}{
				"path":   strProp("Workspace-relative file path"),
				"offset": intProp("1-based first line to read"),
				"limit":  intProp("Maximum number of lines to read"),
			}, "path"),
		},
		Required:  []string{"path"},
		PathParam: "path",
		Invoke: func(ctx context.Context, params TypedParams) (*Result, error) {
			content, err := ws.ReadFile(params.String("path"), params.Int("offset"), params.Int("limit"))
			if err != nil {
				return nil, &Error{Kind: ErrNotFound, Tool: "read_file", Message: "cannot read file", Cause: err}
			}
			return &Result{Content: content, Display: fmt.Sprintf("read %s", params.String("path"))}, nil
		},
	})

	r.Register(&Tool{
		Definition: Definition{
			Name:        "write_file",
			Description: "Create or overwrite a file in the workspace with the given content.",
			Parameters: schema(map[string]interface{}{
				"path":    strProp("Workspace-relative file path"),
				"content": strProp("Full file content"),
			}, "path", "content"),
		},
		Required:  []string{"path"},
		Mutating:  true,
		PathParam: "path",
		Invoke: func(ctx context.Context, params TypedParams) (*Result, error) {
			path := params.String("path")
			if err := ws.WriteFile(path, params.String("content")); err != nil {
				return nil, &Error{Kind: ErrExecution, Tool: "write_file", Message: "cannot write file", Cause: err}
			}
			return &Result{
				Content: fmt.Sprintf("Wrote %d bytes to %s", len(params.String("content")), path),
				Display: fmt.Sprintf("wrote %s", path),
			}, nil
		},
	})

	r.Register(&Tool{
		Definition: Definition{
			Name:        "edit_file",
			Description: "Replace an exact text fragment in a workspace file. The fragment must occur exactly once.",
			Parameters: schema(map[string]interface{}{
				"path":     strProp("Workspace-relative file path"),
				"old_text": strProp("Exact text to replace"),
				"new_text": strProp("Replacement text"),
			}, "path", "old_text"),
		},
		Required:  []string{"path", "old_text"},
		Mutating:  true,
		PathParam: "path",
		Invoke: func(ctx context.Context, params TypedParams) (*Result, error) {
			path := params.String("path")
			content, err := ws.ReadFile(path, 0, 0)
			if err != nil {
				return nil, &Error{Kind: ErrNotFound, Tool: "edit_file", Message: "cannot read file", Cause: err}
			}
			oldText := params.String("old_text")
			switch strings.Count(content, oldText) {
			case 0:
				return nil, &Error{Kind: ErrExecution, Tool: "edit_file", Message: "old_text not found in file"}
			case 1:
			default:
				return nil, &Error{Kind: ErrExecution, Tool: "edit_file", Message: "old_text occurs more than once; provide more context"}
			}
			updated := strings.Replace(content, oldText, params.String("new_text"), 1)
			if err := ws.WriteFile(path, updated); err != nil {
				return nil, &Error{Kind: ErrExecution, Tool: "edit_file", Message: "cannot write file", Cause: err}
			}
			return &Result{Content: fmt.Sprintf("Edited %s", path), Display: fmt.Sprintf("edited %s", path)}, nil
		},
	})

	r.Register(&Tool{
		Definition: Definition{
			Name:        "list_files",
			Description: "List files in the workspace, honoring ignore rules.",
			Parameters:  schema(map[string]interface{}{}),
		},
		Invoke: func(ctx context.Context, params TypedParams) (*Result, error) {
			files, err := ws.ListFiles()
			if err != nil {
				return nil, &Error{Kind: ErrExecution, Tool: "list_files", Message: "cannot list workspace", Cause: err}
			}
			return &Result{Content: strings.Join(files, "\n"), Display: fmt.Sprintf("%d files", len(files))}, nil
		},
	})

	r.Register(&Tool{
		Definition: Definition{
			Name:        "shell",
			Description: "Run a shell command in the workspace root. Output is combined stdout and stderr.",
			Parameters: schema(map[string]interface{}{
				"command":    strProp("Command to run with /bin/sh -c"),
				"timeout_ms": intProp("Timeout in milliseconds (default 30000)"),
			}, "command"),
		},
		Required: []string{"command"},
		Invoke: func(ctx context.Context, params TypedParams) (*Result, error) {
			timeoutMs := params.Int("timeout_ms")
			if timeoutMs <= 0 {
				timeoutMs = 30000
			}
			ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
			defer cancel()

			cmd := exec.CommandContext(ctx, "/bin/sh", "-c", params.String("command"))
			cmd.Dir = ws.Root()
			var out bytes.Buffer
			cmd.Stdout = &out
			cmd.Stderr = &out
			err := cmd.Run()
			if ctx.Err() == context.DeadlineExceeded {
				return nil, &Error{Kind: ErrExecution, Tool: "shell", Message: fmt.Sprintf("command timed out after %dms", timeoutMs)}
			}
			if err != nil {
				if _, ok := err.(*exec.ExitError); !ok {
					return nil, &Error{Kind: ErrExecution, Tool: "shell", Message: "cannot run command", Cause: err}
				}
				// Nonzero exit: surface output so the model can react.
			}
			return &Result{Content: out.String(), Display: params.String("command")}, nil
		},
	})

	r.Register(&Tool{
		Definition: Definition{
			Name:        ToolWriteTodos,
			Description: "Record the current task plan as a todo list.",
			Parameters: schema(map[string]interface{}{
				"todos": strProp("Newline-separated todo items"),
			}, "todos"),
		},
		Invoke: func(ctx context.Context, params TypedParams) (*Result, error) {
			items := strings.Split(strings.TrimSpace(params.String("todos")), "\n")
			return &Result{
				Content: fmt.Sprintf("Recorded %d todo items.", len(items)),
				Display: fmt.Sprintf("%d todos", len(items)),
			}, nil
		},
	})
}
