package orchestrate

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/forgekit/forge/llmkit"
	"github.com/forgekit/forge/tooling"
)

// scriptedBackend replays a fixed response sequence, then plain text.
type scriptedBackend struct {
	mu        sync.Mutex
	responses []*llmkit.Response
	requests  []llmkit.Request
	calls     int
}

func (b *scriptedBackend) Name() string { return "stub" }

func (b *scriptedBackend) Complete(_ context.Context, req llmkit.Request) (*llmkit.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	b.requests = append(b.requests, req)
	if len(b.responses) == 0 {
		return &llmkit.Response{Text: "done", FinishReason: llmkit.FinishStop}, nil
	}
	resp := b.responses[0]
	b.responses = b.responses[1:]
	return resp, nil
}

func toolCallResp(name string, args string) *llmkit.Response {
	return &llmkit.Response{
		ToolCalls:    []llmkit.ToolCall{{ID: "c1", Name: name, Arguments: json.RawMessage(args)}},
		FinishReason: llmkit.FinishToolCalls,
	}
}

func writeTool(invoke func(ctx context.Context, p tooling.TypedParams) (*tooling.Result, error)) *tooling.Tool {
	return &tooling.Tool{
		Definition: tooling.Definition{Name: "write_file"},
		Required:   []string{"path"},
		Mutating:   true,
		PathParam:  "path",
		Invoke:     invoke,
	}
}

func newOrchestrator(backend llmkit.Backend, registry *tooling.Registry) *Orchestrator {
	return &Orchestrator{
		Client:   llmkit.NewClient(llmkit.WithBackend("stub", backend)),
		Registry: registry,
	}
}

func TestPartitionGroupsIndependentWrites(t *testing.T) {
	registry := tooling.NewRegistry()
	registry.Register(writeTool(nil))

	calls := []llmkit.ToolCall{
		{ID: "1", Name: "write_file", Arguments: json.RawMessage(`{"path":"a.js","content":"x"}`)},
		{ID: "2", Name: "write_file", Arguments: json.RawMessage(`{"path":"b.js","content":"y"}`)},
	}
	groups := PartitionCalls(registry, calls)
	if len(groups) != 1 || len(groups[0].Calls) != 2 {
		t.Fatalf("different-path writes should share a group, got %d groups", len(groups))
	}

	calls[1].Arguments = json.RawMessage(`{"path":"a.js","content":"y"}`)
	groups = PartitionCalls(registry, calls)
	if len(groups) != 2 {
		t.Fatalf("same-path writes must be split, got %d groups", len(groups))
	}
}

func TestPartitionReadsAlwaysIndependent(t *testing.T) {
	registry := tooling.NewRegistry()
	registry.Register(&tooling.Tool{
		Definition: tooling.Definition{Name: "read_file"},
		Required:   []string{"path"},
		PathParam:  "path",
	})

	calls := []llmkit.ToolCall{
		{ID: "1", Name: "read_file", Arguments: json.RawMessage(`{"path":"a.js"}`)},
		{ID: "2", Name: "read_file", Arguments: json.RawMessage(`{"path":"a.js"}`)},
	}
	if groups := PartitionCalls(registry, calls); len(groups) != 1 {
		t.Fatalf("same-path reads should share a group, got %d groups", len(groups))
	}
}

func TestSamePathWritesRunSequentially(t *testing.T) {
	var mu sync.Mutex
	var events []string

	registry := tooling.NewRegistry()
	registry.Register(writeTool(func(_ context.Context, p tooling.TypedParams) (*tooling.Result, error) {
		mu.Lock()
		events = append(events, "start "+p.String("content"))
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		events = append(events, "end "+p.String("content"))
		mu.Unlock()
		return &tooling.Result{Content: "ok"}, nil
	}))

	o := newOrchestrator(&scriptedBackend{}, registry)
	calls := []llmkit.ToolCall{
		{ID: "1", Name: "write_file", Arguments: json.RawMessage(`{"path":"a.js","content":"first"}`)},
		{ID: "2", Name: "write_file", Arguments: json.RawMessage(`{"path":"a.js","content":"second"}`)},
	}
	results := o.ExecuteCalls(context.Background(), calls, false)
	if len(results) != 2 || results[0].IsError || results[1].IsError {
		t.Fatalf("results = %+v", results)
	}

	want := []string{"start first", "end first", "start second", "end second"}
	if len(events) != len(want) {
		t.Fatalf("events = %v", events)
	}
	for i, e := range events {
		if e != want[i] {
			t.Fatalf("interleaved execution: %v", events)
		}
	}
}

func TestLoopStopOnRepeatedCall(t *testing.T) {
	registry := tooling.NewRegistry()
	registry.Register(&tooling.Tool{
		Definition: tooling.Definition{Name: "probe"},
		Invoke: func(context.Context, tooling.TypedParams) (*tooling.Result, error) {
			return &tooling.Result{Content: "ok"}, nil
		},
	})

	// The backend proposes the same call forever.
	backend := &scriptedBackend{}
	for i := 0; i < 40; i++ {
		backend.responses = append(backend.responses, toolCallResp("probe", `{}`))
	}

	o := newOrchestrator(backend, registry)
	req := llmkit.Request{Model: "stub-model"}
	out, err := o.Run(context.Background(), req, toolCallResp("probe", `{}`))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !out.Stopped {
		t.Fatal("expected a safety stop")
	}
	if out.ToolCalls > DefaultMaxDepth {
		t.Fatalf("executed %d calls, want repeat detection well before depth bound", out.ToolCalls)
	}
}

func TestUnknownToolReturnsTypedError(t *testing.T) {
	o := newOrchestrator(&scriptedBackend{}, tooling.NewRegistry())
	results := o.ExecuteCalls(context.Background(), []llmkit.ToolCall{
		{ID: "1", Name: "nonexistent", Arguments: json.RawMessage(`{}`)},
	}, false)
	if !results[0].IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(results[0].Content, "not_found") {
		t.Errorf("content = %q", results[0].Content)
	}
}

func TestInvalidParamsSurfacedToModel(t *testing.T) {
	registry := tooling.NewRegistry()
	registry.Register(writeTool(nil))

	o := newOrchestrator(&scriptedBackend{}, registry)
	results := o.ExecuteCalls(context.Background(), []llmkit.ToolCall{
		{ID: "1", Name: "write_file", Arguments: json.RawMessage(`{"content":"no path"}`)},
	}, false)
	if !results[0].IsError || !strings.Contains(results[0].Content, "invalid_parameters") {
		t.Errorf("result = %+v", results[0])
	}
}

func TestTodoStallNudgesOnce(t *testing.T) {
	var writes int
	registry := tooling.NewRegistry()
	registry.Register(&tooling.Tool{
		Definition: tooling.Definition{Name: tooling.ToolWriteTodos},
		Invoke: func(context.Context, tooling.TypedParams) (*tooling.Result, error) {
			return &tooling.Result{Content: "todos recorded"}, nil
		},
	})
	registry.Register(writeTool(func(context.Context, tooling.TypedParams) (*tooling.Result, error) {
		writes++
		return &tooling.Result{Content: "written"}, nil
	}))

	backend := &scriptedBackend{responses: []*llmkit.Response{
		// Stall right after planning, then implement once nudged.
		{Text: "I have completed the planning.", FinishReason: llmkit.FinishStop},
		toolCallResp("write_file", `{"path":"a.js","content":"x"}`),
		{Text: "all files written", FinishReason: llmkit.FinishStop},
	}}

	o := newOrchestrator(backend, registry)
	out, err := o.Run(context.Background(), llmkit.Request{Model: "stub-model"},
		toolCallResp(tooling.ToolWriteTodos, `{"todos":"plan"}`))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if writes != 1 {
		t.Fatalf("nudge did not lead to implementation, writes = %d", writes)
	}
	if out.Final.Text != "all files written" {
		t.Errorf("final = %q", out.Final.Text)
	}
}

func TestStallRetriesWhileTaskIncomplete(t *testing.T) {
	var writes []string
	registry := tooling.NewRegistry()
	registry.Register(writeTool(func(_ context.Context, p tooling.TypedParams) (*tooling.Result, error) {
		writes = append(writes, p.String("path"))
		return &tooling.Result{Content: "written"}, nil
	}))

	backend := &scriptedBackend{responses: []*llmkit.Response{
		// Stalls with one of two files written; the directive retry must
		// pull the second file out of it.
		{Text: "Let me know if you need anything else!", FinishReason: llmkit.FinishStop},
		toolCallResp("write_file", `{"path":"b.js","content":"y"}`),
		{Text: "Both files are in place and the project is complete.", FinishReason: llmkit.FinishStop},
	}}

	o := newOrchestrator(backend, registry)
	o.Incomplete = func() bool { return len(writes) < 2 }

	out, err := o.Run(context.Background(), llmkit.Request{Model: "stub-model"},
		toolCallResp("write_file", `{"path":"a.js","content":"x"}`))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(writes) != 2 || writes[0] != "a.js" || writes[1] != "b.js" {
		t.Fatalf("writes = %v", writes)
	}
	if out.Final.Text != "Both files are in place and the project is complete." {
		t.Errorf("final = %q", out.Final.Text)
	}

	var directed bool
	for _, msg := range out.Messages {
		if msg.Role == llmkit.RoleUser && strings.Contains(msg.Text, "not finished") {
			directed = true
		}
	}
	if !directed {
		t.Error("stall directive missing from recorded history")
	}
}

func TestStallAcceptedWhenTaskLooksDone(t *testing.T) {
	registry := tooling.NewRegistry()
	registry.Register(writeTool(func(context.Context, tooling.TypedParams) (*tooling.Result, error) {
		return &tooling.Result{Content: "written"}, nil
	}))

	backend := &scriptedBackend{responses: []*llmkit.Response{
		{Text: "Let me know if you need anything else!", FinishReason: llmkit.FinishStop},
	}}
	o := newOrchestrator(backend, registry)
	o.Incomplete = func() bool { return false }

	out, err := o.Run(context.Background(), llmkit.Request{Model: "stub-model"},
		toolCallResp("write_file", `{"path":"a.js","content":"x"}`))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if backend.calls != 1 {
		t.Errorf("no retry expected once the task looks done, got %d calls", backend.calls)
	}
	if out.Final.Text != "Let me know if you need anything else!" {
		t.Errorf("final = %q", out.Final.Text)
	}
}

func TestContinuationCarriesProceedDirective(t *testing.T) {
	registry := tooling.NewRegistry()
	registry.Register(writeTool(func(context.Context, tooling.TypedParams) (*tooling.Result, error) {
		return &tooling.Result{Content: "written"}, nil
	}))

	backend := &scriptedBackend{responses: []*llmkit.Response{
		{Text: "Created a.js with the requested content.", FinishReason: llmkit.FinishStop},
	}}
	o := newOrchestrator(backend, registry)

	out, err := o.Run(context.Background(), llmkit.Request{Model: "stub-model"},
		toolCallResp("write_file", `{"path":"a.js","content":"x"}`))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	msgs := backend.requests[0].Messages
	last := msgs[len(msgs)-1]
	if last.Role != llmkit.RoleUser || !strings.Contains(last.Text, "Continue with the task") {
		t.Errorf("continuation should end with the proceed directive, got %+v", last)
	}
	// The directive is a request-only trailer, never part of history.
	for _, msg := range out.Messages {
		if strings.Contains(msg.Text, "Continue with the task") {
			t.Error("directive leaked into recorded history")
		}
	}
}

func TestResultOrderMatchesInputOrder(t *testing.T) {
	registry := tooling.NewRegistry()
	registry.Register(writeTool(func(_ context.Context, p tooling.TypedParams) (*tooling.Result, error) {
		if p.String("path") == "slow.js" {
			time.Sleep(15 * time.Millisecond)
		}
		return &tooling.Result{Content: p.String("path")}, nil
	}))

	o := newOrchestrator(&scriptedBackend{}, registry)
	results := o.ExecuteCalls(context.Background(), []llmkit.ToolCall{
		{ID: "1", Name: "write_file", Arguments: json.RawMessage(`{"path":"slow.js","content":"x"}`)},
		{ID: "2", Name: "write_file", Arguments: json.RawMessage(`{"path":"fast.js","content":"y"}`)},
	}, false)
	if results[0].Content != "slow.js" || results[1].Content != "fast.js" {
		t.Errorf("results out of order: %+v", results)
	}
}
