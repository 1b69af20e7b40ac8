package blueprint

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forgekit/forge/checkpoint"
	"github.com/forgekit/forge/llmkit"
	"github.com/forgekit/forge/metrics"
	"github.com/forgekit/forge/progress"
	"github.com/forgekit/forge/tooling"
)

// MaxFileRetries bounds empty-response retries for one file.
const MaxFileRetries = 20

// retryBaseDelay is the linear backoff unit between empty-response
// retries.
const retryBaseDelay = 250 * time.Millisecond

// Pipeline generates a new project from a natural-language task.
type Pipeline struct {
	Client    *llmkit.Client
	Workspace *tooling.Workspace
	Emitter   *progress.Emitter
	Store     *checkpoint.Store
	Model     string

	// Index, when set, is the shared file index progress is recorded in;
	// a private one is used otherwise. Sharing it lets the orchestrator's
	// stall gate see how much of the plan is still unwritten.
	Index *Index

	// OperationID resumes a checkpointed run when set; a fresh id is
	// minted otherwise.
	OperationID string

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Run executes both phases and returns a user-facing summary.
func (p *Pipeline) Run(ctx context.Context, task string) (string, error) {
	p.emitPhase("designing project blueprint")

	bp, warnings, err := p.designManifest(ctx, task)
	if err != nil {
		return "", err
	}
	for _, w := range warnings {
		p.warn(w)
	}

	ordered, cyclic := Order(bp.Files)
	if cyclic {
		p.warn("code dependency cycle; affected files generated in manifest order")
	}

	opID := p.OperationID
	completed := map[string]bool{}
	if opID != "" && p.Store != nil {
		if rec, ok, err := p.Store.Take(opID); err == nil && ok {
			for _, f := range rec.CompletedFiles {
				completed[f] = true
			}
			p.emitPhase(fmt.Sprintf("resuming at step %d of %d", rec.Step, rec.TotalSteps))
		}
	}
	if opID == "" {
		opID = uuid.NewString()
	}

	idx := p.Index
	if idx == nil {
		idx = NewIndex(nil)
	}
	for _, spec := range ordered {
		idx.Add(spec)
	}
	tx := NewTransaction(p.Workspace)
	var failed []string

	p.emitPhase(fmt.Sprintf("generating %d files", len(ordered)))
	for i, spec := range ordered {
		if completed[spec.Path] {
			idx.MarkWritten(spec.Path)
			continue
		}

		content, err := p.generateFile(ctx, task, bp, spec, idx)
		if err == nil {
			err = p.Workspace.WriteFile(spec.Path, content)
		}
		if err != nil {
			metrics.ObservePipelineFile("blueprint", "failed")
			if len(tx.Created()) == 0 {
				// Nothing useful exists yet; undo and abort.
				tx.Rollback()
				return "", fmt.Errorf("generate %s: %w", spec.Path, err)
			}
			p.warn(fmt.Sprintf("skipping %s: %v", spec.Path, err))
			failed = append(failed, spec.Path)
			continue
		}

		tx.Record(spec.Path)
		idx.MarkWritten(spec.Path)
		metrics.ObservePipelineFile("blueprint", "written")
		p.emit(progress.EventFileOutcome, spec.Path, map[string]interface{}{"status": "written"})

		if p.Store != nil {
			err := p.Store.Save(checkpoint.Record{
				OperationID:    opID,
				Step:           i + 1,
				TotalSteps:     len(ordered),
				CompletedFiles: idx.WrittenPaths(),
				State:          map[string]interface{}{"projectType": bp.ProjectType, "task": task},
			})
			if err != nil {
				p.warn(fmt.Sprintf("checkpoint save failed at step %d: %v", i+1, err))
			}
		}
	}

	if p.Store != nil {
		p.Store.Delete(opID)
	}

	summary := fmt.Sprintf("Created %d files for a %s project: %s",
		len(tx.Created()), orUnknown(bp.ProjectType), strings.Join(tx.Created(), ", "))
	if len(failed) > 0 {
		summary += fmt.Sprintf(" (failed: %s)", strings.Join(failed, ", "))
	}
	return summary, nil
}

// designManifest is Phase 1: one tools-disabled call producing strict
// JSON, with exactly one regeneration on parse failure.
func (p *Pipeline) designManifest(ctx context.Context, task string) (*Blueprint, []string, error) {
	prompt := manifestPrompt(task)
	raw, err := p.plainCall(ctx, prompt)
	if err != nil {
		return nil, nil, err
	}

	bp, parseErr := ParseManifest(raw)
	if parseErr != nil {
		p.warn("manifest parse failed; regenerating once")
		raw, err = p.plainCall(ctx, prompt+"\n\nYour previous response was not valid JSON. Respond with only the JSON object, no prose and no markdown fences.")
		if err != nil {
			return nil, nil, err
		}
		if bp, parseErr = ParseManifest(raw); parseErr != nil {
			return nil, nil, fmt.Errorf("manifest: %w", parseErr)
		}
	}
	return Validate(bp, p.Workspace)
}

// generateFile is one Phase 2 unit: a dedicated tools-disabled call with
// bounded retries for empty output and one retry when the model answers
// with tool calls anyway.
func (p *Pipeline) generateFile(ctx context.Context, task string, bp *Blueprint, spec FileSpec, idx *Index) (string, error) {
	noToolsRetried := false

	for attempt := 1; attempt <= MaxFileRetries; attempt++ {
		prompt := filePrompt(task, bp, spec, idx, attempt)
		resp, err := p.Client.Complete(ctx, llmkit.Request{
			Model:    p.Model,
			Messages: []llmkit.Message{llmkit.UserMessage(prompt)},
		})
		if err != nil {
			return "", err
		}

		if resp.HasToolCalls() {
			if noToolsRetried {
				return "", fmt.Errorf("model kept answering with tool calls")
			}
			noToolsRetried = true
			p.warn(spec.Path + ": structured call despite disabled tools; retrying")
			continue
		}

		content := cleanFileContent(resp.Text)
		if content == "" {
			if err := p.wait(ctx, time.Duration(attempt)*retryBaseDelay); err != nil {
				return "", err
			}
			continue
		}

		if strings.HasSuffix(strings.ToLower(spec.Path), ".json") {
			fixed, err := normalizeJSONFile(spec, content, bp)
			if err != nil {
				p.warn(fmt.Sprintf("%s: invalid JSON on attempt %d", spec.Path, attempt))
				if err := p.wait(ctx, time.Duration(attempt)*retryBaseDelay); err != nil {
					return "", err
				}
				continue
			}
			content = fixed
		}
		return content, nil
	}
	return "", fmt.Errorf("empty content after %d attempts", MaxFileRetries)
}

func (p *Pipeline) plainCall(ctx context.Context, prompt string) (string, error) {
	resp, err := p.Client.Complete(ctx, llmkit.Request{
		Model:    p.Model,
		Messages: []llmkit.Message{llmkit.UserMessage(prompt)},
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func manifestPrompt(task string) string {
	return fmt.Sprintf(`Design the complete file layout for this project:

%s

Respond with only a JSON object of this exact shape:
{"projectType": "...", "projectDescription": "...", "files": [{"path": "...", "type": "code|config|style|markup", "description": "...", "dependencies": [], "exports": [], "imports": [], "packageDependencies": [], "relatedFiles": []}]}

Rules:
- every path is relative to the project root
- dependencies list other paths from this manifest that the file imports
- include every file the project needs to run
- no prose, no markdown fences, JSON only`, task)
}

// filePrompt grows more literal as attempts accumulate; late retries drop
// all nuance and demand raw source.
func filePrompt(task string, bp *Blueprint, spec FileSpec, idx *Index, attempt int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Project: %s\nTask: %s\n\n", orUnknown(bp.ProjectType), task)
	fmt.Fprintf(&sb, "Write the complete contents of %s.\n", spec.Path)
	if spec.Description != "" {
		fmt.Fprintf(&sb, "Purpose: %s\n", spec.Description)
	}
	if len(spec.Exports) > 0 {
		fmt.Fprintf(&sb, "It must export: %s\n", strings.Join(spec.Exports, ", "))
	}
	if len(spec.Imports) > 0 {
		fmt.Fprintf(&sb, "It must import only: %s\n", strings.Join(spec.Imports, ", "))
	}

	for _, dep := range spec.Dependencies {
		depSpec, ok := idx.Spec(dep)
		if !ok {
			continue
		}
		status := "planned"
		if idx.Written(dep) {
			status = "already written"
		}
		fmt.Fprintf(&sb, "Dependency %s (%s) exports: %s\n", dep, status, strings.Join(depSpec.Exports, ", "))
	}

	sb.WriteString("\nUse only the declared imports. Output the raw file content only, with no markdown fences and no commentary.")
	if attempt > 3 {
		fmt.Fprintf(&sb, "\nReturn the complete source code of %s now. Start with the first line of the file.", spec.Path)
	}
	if attempt > 10 {
		sb.WriteString("\nDo not explain anything. Code only.")
	}
	return sb.String()
}

// cleanFileContent strips markdown fencing and narrative lead-ins from a
// generated file body.
func cleanFileContent(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	if strings.Contains(text, "```") {
		return stripFences(text)
	}
	// Drop a single narrative lead-in line when the rest looks like the
	// actual content.
	lines := strings.SplitN(text, "\n", 2)
	if len(lines) == 2 {
		first := strings.ToLower(strings.TrimSpace(lines[0]))
		for _, lead := range []string{"here is", "here's", "sure", "below is", "certainly"} {
			if strings.HasPrefix(first, lead) {
				return strings.TrimSpace(lines[1])
			}
		}
	}
	return text
}

// normalizeJSONFile checks JSON validity and backfills required package
// manifest fields.
func normalizeJSONFile(spec FileSpec, content string, bp *Blueprint) (string, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		// Non-object JSON files (arrays) are still valid.
		var any interface{}
		if err2 := json.Unmarshal([]byte(content), &any); err2 != nil {
			return "", err2
		}
		return content, nil
	}

	name := strings.ToLower(spec.Path)
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if name != "package.json" {
		return content, nil
	}

	changed := false
	if _, ok := doc["name"]; !ok {
		doc["name"] = sanitizeName(bp.ProjectType)
		changed = true
	}
	if _, ok := doc["version"]; !ok {
		doc["version"] = "1.0.0"
		changed = true
	}
	if _, ok := doc["scripts"]; !ok {
		doc["scripts"] = map[string]interface{}{"start": "node index.js"}
		changed = true
	}
	if !changed {
		return content, nil
	}
	fixed, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return content, nil
	}
	return string(fixed), nil
}

func sanitizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "generated-project"
	}
	return strings.ReplaceAll(s, " ", "-")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func (p *Pipeline) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Pipeline) emitPhase(msg string) { p.emit(progress.EventPhase, msg, nil) }

func (p *Pipeline) warn(msg string) {
	if p.Emitter != nil {
		p.Emitter.Warn(msg)
	}
}

func (p *Pipeline) emit(kind progress.Kind, msg string, data map[string]interface{}) {
	if p.Emitter != nil {
		p.Emitter.Emit(kind, msg, data)
	}
}
