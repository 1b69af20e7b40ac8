package upgrade

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forgekit/forge/blueprint"
	"github.com/forgekit/forge/llmkit"
	"github.com/forgekit/forge/metrics"
	"github.com/forgekit/forge/orchestrate"
	"github.com/forgekit/forge/progress"
	"github.com/forgekit/forge/tooling"
)

// maxErrorContexts bounds how many parsed error locations get context
// reads.
const maxErrorContexts = 5

// maxPlannedReads bounds the model's file-read plan.
const maxPlannedReads = 10

// errorContextRadius is the ± line window read around an error location.
const errorContextRadius = 10

// ReadPlanEntry is one entry of the model's minimal file-read plan.
type ReadPlanEntry struct {
	Path   string `json:"path"`
	Offset int    `json:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Pipeline drives the upgrade/debug flow over an existing project.
type Pipeline struct {
	Client       *llmkit.Client
	Workspace    *tooling.Workspace
	Registry     *tooling.Registry
	Orchestrator *orchestrate.Orchestrator
	Emitter      *progress.Emitter
	Index        *blueprint.Index
	Model        string
}

// Run classifies the task, gathers context, and executes a targeted edit
// loop. Low classification confidence aborts with a clarification request
// instead of editing anything.
func (p *Pipeline) Run(ctx context.Context, task string) (string, error) {
	intent, confidence := Classify(task)
	p.emit(progress.EventPhase, fmt.Sprintf("intent: %s (confidence %.2f)", intent, confidence), nil)
	if confidence < ConfidenceThreshold {
		return "I'm not sure whether you want something fixed or something added. " +
			"Could you describe the problem or the change you have in mind in more detail?", nil
	}

	errorContexts := p.readErrorContexts(task)
	planned := p.readPlannedFiles(ctx, task, errorContexts)

	prompt := editPrompt(task, intent, errorContexts, planned)
	req := llmkit.Request{
		Model:    p.Model,
		Messages: []llmkit.Message{llmkit.UserMessage(prompt)},
		Tools:    toolDefinitions(p.Registry),
	}

	resp, err := p.Client.Complete(ctx, req)
	if err != nil {
		return "", err
	}

	// Redirect a proposed full rewrite before executing anything.
	if proposesRewrite(resp.Text) {
		p.emit(progress.EventWarning, "model proposed a rewrite; redirecting to targeted edits", nil)
		req.Messages = append(req.Messages,
			llmkit.Message{Role: llmkit.RoleAssistant, Text: resp.Text, ToolCalls: resp.ToolCalls},
			llmkit.UserMessage("Do not rewrite files from scratch. Make the smallest targeted edits that solve the problem, using edit_file where possible."),
		)
		if resp, err = p.Client.Complete(ctx, req); err != nil {
			return "", err
		}
	}

	if !resp.HasToolCalls() {
		return resp.TrimmedText(), nil
	}

	outcome, err := p.Orchestrator.Run(ctx, req, resp)
	if outcome != nil {
		for _, path := range p.touchedPaths(outcome.Messages) {
			if p.Index != nil {
				p.Index.Touch(path, nil)
			}
			metrics.ObservePipelineFile("upgrade", "touched")
			p.emit(progress.EventFileOutcome, path, map[string]interface{}{"status": "modified"})
		}
	}
	if err != nil {
		return "", err
	}
	return outcome.Final.TrimmedText(), nil
}

// readErrorContexts reads a bounded window around each parsed error
// location.
func (p *Pipeline) readErrorContexts(task string) []string {
	var out []string
	for i, loc := range ParseErrorLocations(task) {
		if i >= maxErrorContexts {
			break
		}
		start := loc.Line - errorContextRadius
		if start < 1 {
			start = 1
		}
		content, err := p.Workspace.ReadFile(loc.Path, start, 2*errorContextRadius+1)
		if err != nil {
			continue
		}
		out = append(out, fmt.Sprintf("=== %s around line %d ===\n%s", loc.Path, loc.Line, content))
	}
	return out
}

// readPlannedFiles asks the model for a minimal read plan, then reads
// exactly those files.
func (p *Pipeline) readPlannedFiles(ctx context.Context, task string, errorContexts []string) []string {
	files, err := p.Workspace.ListFiles()
	if err != nil || len(files) == 0 {
		return nil
	}
	if len(files) > 50 {
		files = files[:50]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n\nProject files:\n%s\n", task, strings.Join(files, "\n"))
	if len(errorContexts) > 0 {
		fmt.Fprintf(&sb, "\nKnown error context:\n%s\n", strings.Join(errorContexts, "\n"))
	}
	sb.WriteString(`
Which files do you need to read before making changes? Respond with only a JSON array:
[{"path": "...", "offset": 1, "limit": 40, "reason": "..."}]
Request as few files as possible. No prose.`)

	resp, err := p.Client.Complete(ctx, llmkit.Request{
		Model:    p.Model,
		Messages: []llmkit.Message{llmkit.UserMessage(sb.String())},
	})
	if err != nil {
		return nil
	}

	plan, err := parseReadPlan(resp.Text)
	if err != nil {
		p.emit(progress.EventWarning, "unusable read plan: "+err.Error(), nil)
		return nil
	}

	var out []string
	reads := 0
	for _, entry := range plan {
		if reads >= maxPlannedReads {
			break
		}
		if p.Workspace.Ignored(entry.Path) {
			continue
		}
		reads++
		content, err := p.Workspace.ReadFile(entry.Path, entry.Offset, entry.Limit)
		if err != nil {
			continue
		}
		out = append(out, fmt.Sprintf("=== %s ===\n%s", entry.Path, content))
	}
	return out
}

// parseReadPlan decodes the JSON array between the first `[` and last `]`.
func parseReadPlan(raw string) ([]ReadPlanEntry, error) {
	start := strings.IndexByte(raw, '[')
	end := strings.LastIndexByte(raw, ']')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in response")
	}
	var plan []ReadPlanEntry
	if err := json.Unmarshal([]byte(raw[start:end+1]), &plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func editPrompt(task string, intent Intent, errorContexts, planned []string) string {
	var sb strings.Builder
	switch intent {
	case IntentFix:
		sb.WriteString("Fix the following problem in this existing project.\n")
	case IntentUpgrade:
		sb.WriteString("Make the following change to this existing project.\n")
	default:
		sb.WriteString("Fix the problem and make the requested change in this existing project.\n")
	}
	fmt.Fprintf(&sb, "\n%s\n", task)
	if len(errorContexts) > 0 {
		fmt.Fprintf(&sb, "\nError context:\n%s\n", strings.Join(errorContexts, "\n\n"))
	}
	if len(planned) > 0 {
		fmt.Fprintf(&sb, "\nRelevant files:\n%s\n", strings.Join(planned, "\n\n"))
	}
	sb.WriteString("\nMake targeted edits with the available tools. Prefer edit_file over rewriting whole files. Do not recreate the project.")
	return sb.String()
}

var rewriteKeywords = []string{
	"rewrite", "re-write", "from scratch", "recreate the", "start over", "replace the entire",
}

func proposesRewrite(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range rewriteKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// touchedPaths extracts the workspace paths mutated by executed calls.
func (p *Pipeline) touchedPaths(messages []llmkit.Message) []string {
	var out []string
	seen := map[string]bool{}
	for _, msg := range messages {
		for _, call := range msg.ToolCalls {
			tool := p.Registry.Get(call.Name)
			if tool == nil || !tool.Mutating {
				continue
			}
			params, err := tool.Validate(call.Arguments)
			if err != nil {
				continue
			}
			if path := tool.TargetPath(params); path != "" && !seen[path] {
				seen[path] = true
				out = append(out, path)
			}
		}
	}
	return out
}

func toolDefinitions(registry *tooling.Registry) []llmkit.ToolDefinition {
	if registry == nil {
		return nil
	}
	defs := registry.Definitions()
	out := make([]llmkit.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = llmkit.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return out
}

func (p *Pipeline) emit(kind progress.Kind, msg string, data map[string]interface{}) {
	if p.Emitter != nil {
		p.Emitter.Emit(kind, msg, data)
	}
}
