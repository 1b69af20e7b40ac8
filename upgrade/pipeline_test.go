package upgrade

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/forgekit/forge/blueprint"
	"github.com/forgekit/forge/llmkit"
	"github.com/forgekit/forge/orchestrate"
	"github.com/forgekit/forge/tooling"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		task string
		want Intent
	}{
		{"fix the crash when saving", IntentFix},
		{"add dark mode support", IntentUpgrade},
		{"fix the error and add a retry feature", IntentBoth},
	}
	for _, tc := range cases {
		got, conf := Classify(tc.task)
		if got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.task, got, tc.want)
		}
		if conf < ConfidenceThreshold {
			t.Errorf("Classify(%q) confidence %.2f below threshold", tc.task, conf)
		}
	}

	if _, conf := Classify("hello there"); conf >= ConfidenceThreshold {
		t.Errorf("signal-free task should score low, got %.2f", conf)
	}
}

func TestParseErrorLocations(t *testing.T) {
	text := `TypeError: undefined is not a function
    at src/app.js:12:5
  File "main.py", line 3
the bug is on line 7 of util.js`

	locs := ParseErrorLocations(text)
	want := map[string]int{"src/app.js": 12, "main.py": 3, "util.js": 7}
	if len(locs) != len(want) {
		t.Fatalf("locations = %+v", locs)
	}
	for _, loc := range locs {
		if want[loc.Path] != loc.Line {
			t.Errorf("location %+v, want line %d", loc, want[loc.Path])
		}
	}
}

func TestParseReadPlan(t *testing.T) {
	plan, err := parseReadPlan("Sure:\n[{\"path\":\"app.js\",\"limit\":40,\"reason\":\"entry point\"}]")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(plan) != 1 || plan[0].Path != "app.js" || plan[0].Limit != 40 {
		t.Errorf("plan = %+v", plan)
	}

	if _, err := parseReadPlan("I'd read everything."); err == nil {
		t.Error("expected error without a JSON array")
	}
}

func TestProposesRewrite(t *testing.T) {
	if !proposesRewrite("I'll rewrite the whole app from scratch.") {
		t.Error("rewrite not detected")
	}
	if proposesRewrite("I'll change two lines in app.js.") {
		t.Error("false positive")
	}
}

type stubBackend struct {
	mu        sync.Mutex
	responses []*llmkit.Response
	requests  []llmkit.Request
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) Complete(_ context.Context, req llmkit.Request) (*llmkit.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	if len(b.responses) == 0 {
		return &llmkit.Response{Text: "done", FinishReason: llmkit.FinishStop}, nil
	}
	resp := b.responses[0]
	b.responses = b.responses[1:]
	return resp, nil
}

func newTestPipeline(t *testing.T, backend *stubBackend) *Pipeline {
	t.Helper()
	ws, err := tooling.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	registry := tooling.NewRegistry()
	tooling.RegisterBuiltins(registry, ws)
	client := llmkit.NewClient(llmkit.WithBackend("stub", backend))
	return &Pipeline{
		Client:       client,
		Workspace:    ws,
		Registry:     registry,
		Orchestrator: &orchestrate.Orchestrator{Client: client, Registry: registry},
		Index:        blueprint.NewIndex(nil),
		Model:        "stub-model",
	}
}

func TestLowConfidenceAsksForClarification(t *testing.T) {
	backend := &stubBackend{}
	p := newTestPipeline(t, backend)

	out, err := p.Run(context.Background(), "hmm, the thing")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "Could you") {
		t.Errorf("clarification = %q", out)
	}
	if len(backend.requests) != 0 {
		t.Error("no model calls should happen below the confidence threshold")
	}
}

func TestRunExecutesTargetedEdit(t *testing.T) {
	editCall := &llmkit.Response{
		ToolCalls: []llmkit.ToolCall{{
			ID:        "c1",
			Name:      "edit_file",
			Arguments: json.RawMessage(`{"path":"app.js","old_text":"cosnt x = 1;","new_text":"const x = 1;"}`),
		}},
		FinishReason: llmkit.FinishToolCalls,
	}
	backend := &stubBackend{responses: []*llmkit.Response{
		{Text: `[{"path":"app.js","reason":"contains the typo"}]`, FinishReason: llmkit.FinishStop},
		editCall,
		{Text: "Fixed the typo in app.js.", FinishReason: llmkit.FinishStop},
	}}
	p := newTestPipeline(t, backend)
	if err := p.Workspace.WriteFile("app.js", "cosnt x = 1;\n"); err != nil {
		t.Fatal(err)
	}

	out, err := p.Run(context.Background(), "fix the SyntaxError in app.js:1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "Fixed the typo") {
		t.Errorf("result = %q", out)
	}

	content, err := p.Workspace.ReadFile("app.js", 0, 0)
	if err != nil || !strings.Contains(content, "const x = 1;") {
		t.Errorf("edit not applied: %q err=%v", content, err)
	}
	if !p.Index.Written("app.js") {
		t.Error("dependency index not updated for touched file")
	}

	// The edit call saw the error context read around line 1.
	editReq := backend.requests[1].Messages[0].Text
	if !strings.Contains(editReq, "app.js around line 1") {
		t.Errorf("edit prompt missing error context:\n%s", editReq)
	}
}

func TestPlannedReadsSkipIgnoredDirs(t *testing.T) {
	backend := &stubBackend{responses: []*llmkit.Response{
		{Text: `[{"path":"node_modules/leftpad/index.js"},{"path":"app.js"}]`, FinishReason: llmkit.FinishStop},
		{Text: "The null check in app.js needs fixing.", FinishReason: llmkit.FinishStop},
	}}
	p := newTestPipeline(t, backend)
	if err := p.Workspace.WriteFile("app.js", "login();\n"); err != nil {
		t.Fatal(err)
	}
	if err := p.Workspace.WriteFile("node_modules/leftpad/index.js", "vendored-internals\n"); err != nil {
		t.Fatal(err)
	}

	if _, err := p.Run(context.Background(), "fix the crash in the login flow"); err != nil {
		t.Fatalf("run: %v", err)
	}

	editReq := backend.requests[1].Messages[0].Text
	if !strings.Contains(editReq, "login();") {
		t.Errorf("planned app.js read missing from edit prompt:\n%s", editReq)
	}
	if strings.Contains(editReq, "vendored-internals") {
		t.Error("ignored directory content leaked into the edit prompt")
	}
}

func TestRewriteProposalGetsRedirected(t *testing.T) {
	backend := &stubBackend{responses: []*llmkit.Response{
		{Text: "[]", FinishReason: llmkit.FinishStop},
		{Text: "The best approach is to rewrite the project from scratch.", FinishReason: llmkit.FinishStop},
		{Text: "Understood, I'll make a targeted edit instead.", FinishReason: llmkit.FinishStop},
	}}
	p := newTestPipeline(t, backend)
	if err := p.Workspace.WriteFile("app.js", "x\n"); err != nil {
		t.Fatal(err)
	}

	out, err := p.Run(context.Background(), "fix the error in the login flow")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "targeted edit") {
		t.Errorf("result = %q", out)
	}

	corrective := backend.requests[2].Messages
	last := corrective[len(corrective)-1]
	if !strings.Contains(last.Text, "Do not rewrite") {
		t.Errorf("corrective follow-up missing: %q", last.Text)
	}
}
