package blueprint

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/forgekit/forge/checkpoint"
	"github.com/forgekit/forge/llmkit"
	"github.com/forgekit/forge/progress"
	"github.com/forgekit/forge/tooling"
)

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
		return &llmkit.Response{Text: "", FinishReason: llmkit.FinishStop}, nil
	}
	resp := b.responses[0]
	b.responses = b.responses[1:]
	return resp, nil
}

func text(s string) *llmkit.Response {
	return &llmkit.Response{Text: s, FinishReason: llmkit.FinishStop}
}

func newPipeline(t *testing.T, backend *stubBackend) *Pipeline {
	t.Helper()
	ws, err := tooling.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return &Pipeline{
		Client:    llmkit.NewClient(llmkit.WithBackend("stub", backend)),
		Workspace: ws,
		Model:     "stub-model",
		sleep:     func(context.Context, time.Duration) error { return nil },
	}
}

const twoFileManifest = `{"projectType":"web","files":[
	{"path":"index.js","type":"code","dependencies":[]},
	{"path":"package.json","type":"config","dependencies":["index.js"]}
]}`

func TestRunGeneratesConfigLast(t *testing.T) {
	backend := &stubBackend{responses: []*llmkit.Response{
		text(twoFileManifest),
		text("console.log('hi');"),
		text(`{"name":"web","version":"1.0.0","scripts":{}}`),
	}}
	p := newPipeline(t, backend)

	summary, err := p.Run(context.Background(), "create a web app")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(summary, "2 files") {
		t.Errorf("summary = %q", summary)
	}

	// Call 1 is the manifest; calls 2 and 3 are per-file, index.js first
	// even though package.json declared it as a dependency.
	if len(backend.requests) != 3 {
		t.Fatalf("saw %d calls", len(backend.requests))
	}
	second := backend.requests[1].Messages[0].Text
	third := backend.requests[2].Messages[0].Text
	if !strings.Contains(second, "index.js") || !strings.Contains(third, "package.json") {
		t.Errorf("generation order wrong:\n%s\n---\n%s", second, third)
	}

	if !p.Workspace.FileExists("index.js") || !p.Workspace.FileExists("package.json") {
		t.Error("files not written")
	}
}

func TestRunRegeneratesManifestOnce(t *testing.T) {
	backend := &stubBackend{responses: []*llmkit.Response{
		text("no json here, sorry"),
		text(`{"projectType":"cli","files":[{"path":"main.js"}]}`),
		text("console.log('main');"),
	}}
	p := newPipeline(t, backend)

	if _, err := p.Run(context.Background(), "create a cli"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := backend.requests[1].Messages[0].Text; !strings.Contains(got, "not valid JSON") {
		t.Errorf("regeneration prompt = %q", got)
	}
}

func TestRunFailsAfterTwoBadManifests(t *testing.T) {
	backend := &stubBackend{responses: []*llmkit.Response{
		text("still prose"), text("more prose"),
	}}
	p := newPipeline(t, backend)
	if _, err := p.Run(context.Background(), "create a cli"); err == nil {
		t.Error("expected manifest failure")
	}
}

func TestEmptyResponsesRetryThenSucceed(t *testing.T) {
	backend := &stubBackend{responses: []*llmkit.Response{
		text(`{"projectType":"cli","files":[{"path":"main.js"}]}`),
		text(""), text("   "), text("console.log('ok');"),
	}}
	p := newPipeline(t, backend)

	if _, err := p.Run(context.Background(), "create a cli"); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := p.Workspace.ReadFile("main.js", 0, 0)
	if err != nil || !strings.Contains(got, "console.log") {
		t.Errorf("content = %q err = %v", got, err)
	}
	// Late attempts escalate to a more literal prompt.
	last := backend.requests[len(backend.requests)-1].Messages[0].Text
	if !strings.Contains(last, "raw file content") {
		t.Errorf("prompt = %q", last)
	}
}

func TestStructuredCallGetsOneRetry(t *testing.T) {
	toolResp := &llmkit.Response{
		ToolCalls:    []llmkit.ToolCall{{ID: "x", Name: "write_file", Arguments: json.RawMessage(`{}`)}},
		FinishReason: llmkit.FinishToolCalls,
	}
	backend := &stubBackend{responses: []*llmkit.Response{
		text(`{"projectType":"cli","files":[{"path":"main.js"}]}`),
		toolResp,
		text("console.log('ok');"),
	}}
	p := newPipeline(t, backend)

	if _, err := p.Run(context.Background(), "create a cli"); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestFirstFileFailureRollsBack(t *testing.T) {
	toolResp := &llmkit.Response{
		ToolCalls:    []llmkit.ToolCall{{ID: "x", Name: "write_file", Arguments: json.RawMessage(`{}`)}},
		FinishReason: llmkit.FinishToolCalls,
	}
	backend := &stubBackend{responses: []*llmkit.Response{
		text(`{"projectType":"cli","files":[{"path":"main.js"}]}`),
		toolResp, toolResp, // second structured response is fatal for the file
	}}
	p := newPipeline(t, backend)

	if _, err := p.Run(context.Background(), "create a cli"); err == nil {
		t.Fatal("expected first-file failure")
	}
	if p.Workspace.FileExists("main.js") {
		t.Error("rollback left files behind")
	}
}

func TestLaterFileFailureSkips(t *testing.T) {
	toolResp := &llmkit.Response{
		ToolCalls:    []llmkit.ToolCall{{ID: "x", Name: "write_file", Arguments: json.RawMessage(`{}`)}},
		FinishReason: llmkit.FinishToolCalls,
	}
	backend := &stubBackend{responses: []*llmkit.Response{
		text(`{"projectType":"cli","files":[{"path":"a.js"},{"path":"b.js","dependencies":["a.js"]}]}`),
		text("// a"),
		toolResp, toolResp,
	}}
	p := newPipeline(t, backend)

	summary, err := p.Run(context.Background(), "create a cli")
	if err != nil {
		t.Fatalf("later failures must not abort: %v", err)
	}
	if !strings.Contains(summary, "failed: b.js") {
		t.Errorf("summary = %q", summary)
	}
	if !p.Workspace.FileExists("a.js") || p.Workspace.FileExists("b.js") {
		t.Error("unexpected workspace state")
	}
}

func TestSharedIndexTracksPlanCompletion(t *testing.T) {
	idx := NewIndex(nil)
	if idx.Incomplete() {
		t.Error("empty plan should not read as incomplete")
	}
	idx.Add(FileSpec{Path: "a.js"})
	if !idx.Incomplete() {
		t.Error("planned but unwritten file should read as incomplete")
	}
	idx.MarkWritten("a.js")
	if idx.Incomplete() {
		t.Error("fully written plan should read as complete")
	}

	backend := &stubBackend{responses: []*llmkit.Response{
		text(twoFileManifest),
		text("console.log('hi');"),
		text(`{"name":"web","version":"1.0.0","scripts":{}}`),
	}}
	p := newPipeline(t, backend)
	p.Index = idx

	if _, err := p.Run(context.Background(), "create a web app"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if idx.Incomplete() {
		t.Error("shared index should be complete after a successful run")
	}
	if !idx.Written("index.js") || !idx.Written("package.json") {
		t.Error("shared index missing generated files")
	}
}

func TestCheckpointSaveFailureWarnsButContinues(t *testing.T) {
	store, err := checkpoint.Open(filepath.Join(t.TempDir(), "cp.db"))
	if err != nil {
		t.Fatal(err)
	}
	store.Close() // every Save from here on fails

	emitter := progress.NewEmitter("run-cp", 32)
	backend := &stubBackend{responses: []*llmkit.Response{
		text(`{"projectType":"cli","files":[{"path":"main.js"}]}`),
		text("console.log('ok');"),
	}}
	p := newPipeline(t, backend)
	p.Store = store
	p.Emitter = emitter

	summary, err := p.Run(context.Background(), "create a cli")
	if err != nil {
		t.Fatalf("a dead checkpoint store must not abort generation: %v", err)
	}
	if !strings.Contains(summary, "1 files") {
		t.Errorf("summary = %q", summary)
	}
	emitter.Close()

	var warned bool
	for ev := range emitter.Events() {
		if ev.Kind == progress.EventWarning && strings.Contains(ev.Message, "checkpoint save failed") {
			warned = true
		}
	}
	if !warned {
		t.Error("failed checkpoint save should surface as a warning")
	}
}

func TestCheckpointDeletedOnSuccess(t *testing.T) {
	store, err := checkpoint.Open(filepath.Join(t.TempDir(), "cp.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	backend := &stubBackend{responses: []*llmkit.Response{
		text(`{"projectType":"cli","files":[{"path":"main.js"}]}`),
		text("console.log('ok');"),
	}}
	p := newPipeline(t, backend)
	p.Store = store
	p.OperationID = "op-test"

	if _, err := p.Run(context.Background(), "create a cli"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, ok, _ := store.Load("op-test"); ok {
		t.Error("checkpoint should be deleted after success")
	}
}

func TestResumeSkipsCompletedFiles(t *testing.T) {
	store, err := checkpoint.Open(filepath.Join(t.TempDir(), "cp.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if err := store.Save(checkpoint.Record{
		OperationID:    "op-resume",
		Step:           1,
		TotalSteps:     2,
		CompletedFiles: []string{"a.js"},
	}); err != nil {
		t.Fatal(err)
	}

	backend := &stubBackend{responses: []*llmkit.Response{
		text(`{"projectType":"cli","files":[{"path":"a.js"},{"path":"b.js"}]}`),
		text("// b"),
	}}
	p := newPipeline(t, backend)
	p.Store = store
	p.OperationID = "op-resume"

	if _, err := p.Run(context.Background(), "create a cli"); err != nil {
		t.Fatalf("run: %v", err)
	}
	// One manifest call plus one generation call: a.js was skipped.
	if len(backend.requests) != 2 {
		t.Errorf("saw %d calls, want 2", len(backend.requests))
	}
	if p.Workspace.FileExists("a.js") {
		t.Error("completed file should not be regenerated")
	}
}
