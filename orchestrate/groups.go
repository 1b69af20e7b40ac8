package orchestrate

import (
	"github.com/forgekit/forge/llmkit"
	"github.com/forgekit/forge/tooling"
)

// Group is a set of tool calls that can run concurrently. Order within the
// group mirrors input order so results can be reassembled deterministically.
type Group struct {
	Calls   []llmkit.ToolCall
	Indexes []int
}

// PartitionCalls splits proposed calls into maximal independent groups,
// scanning in input order. Two calls conflict only when both mutate files
// at the same workspace path; read-only calls and calls of different kinds
// never conflict. Groups execute sequentially, members concurrently.
func PartitionCalls(registry *tooling.Registry, calls []llmkit.ToolCall) []Group {
	var groups []Group
	var open Group
	openPaths := map[string]bool{}

	flush := func() {
		if len(open.Calls) > 0 {
			groups = append(groups, open)
			open = Group{}
			openPaths = map[string]bool{}
		}
	}

	for i, call := range calls {
		path := mutatedPath(registry, call)
		if path != "" && openPaths[path] {
			flush()
		}
		open.Calls = append(open.Calls, call)
		open.Indexes = append(open.Indexes, i)
		if path != "" {
			openPaths[path] = true
		}
	}
	flush()
	return groups
}

// mutatedPath returns the workspace path a call writes to, or "" when the
// call is read-only, targets no path, or names an unknown tool.
func mutatedPath(registry *tooling.Registry, call llmkit.ToolCall) string {
	tool := registry.Get(call.Name)
	if tool == nil || !tool.Mutating {
		return ""
	}
	params, err := tool.Validate(call.Arguments)
	if err != nil {
		return ""
	}
	return tool.TargetPath(params)
}
