package tooling

import (
	"context"
	"strings"
	"testing"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	return ws
}

func TestResolveRelativePath(t *testing.T) {
	ws := newTestWorkspace(t)
	resolved, err := ws.Resolve("src/main.go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(resolved, ws.Root()) {
		t.Errorf("resolved path %q not under root %q", resolved, ws.Root())
	}
}

func TestResolveRejectsEscape(t *testing.T) {
	ws := newTestWorkspace(t)
	for _, path := range []string{"../outside.txt", "a/../../outside.txt", "/etc/passwd"} {
		if _, err := ws.Resolve(path); err == nil {
			t.Errorf("expected rejection for %q", path)
		}
	}
}

func TestResolveSyntheticPrefix(t *testing.T) {
	ws := newTestWorkspace(t)
	resolved, err := ws.Resolve("/workspace/src/app.js")
	if err != nil {
		t.Fatalf("synthetic prefix should normalize: %v", err)
	}
	if ws.Rel(resolved) != "src/app.js" {
		t.Errorf("expected src/app.js, got %q", ws.Rel(resolved))
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	ws := newTestWorkspace(t)
	if err := ws.WriteFile("dir/file.txt", "line1\nline2\nline3"); err != nil {
		t.Fatalf("write: %v", err)
	}
	content, err := ws.ReadFile("dir/file.txt", 2, 1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if content != "line2" {
		t.Errorf("windowed read returned %q", content)
	}
}

func TestCountCodeFiles(t *testing.T) {
	ws := newTestWorkspace(t)
	ws.WriteFile("a.js", "x")
	ws.WriteFile("b.py", "y")
	ws.WriteFile("README.md", "z")
	ws.WriteFile("node_modules/dep/index.js", "ignored")

	if got := ws.CountCodeFiles(); got != 2 {
		t.Errorf("expected 2 code files, got %d", got)
	}
}

func TestIgnoredMatchesAnySegment(t *testing.T) {
	ws := newTestWorkspace(t)
	for _, path := range []string{"node_modules/dep/index.js", ".git/config", "packages/app/dist/bundle.js"} {
		if !ws.Ignored(path) {
			t.Errorf("%q should be ignored", path)
		}
	}
	for _, path := range []string{"src/app.js", "distribution.md", "builders/main.go"} {
		if ws.Ignored(path) {
			t.Errorf("%q should not be ignored", path)
		}
	}
}

func TestToolValidate(t *testing.T) {
	ws := newTestWorkspace(t)
	reg := NewRegistry()
	RegisterBuiltins(reg, ws)

	write := reg.Get("write_file")
	if write == nil {
		t.Fatal("write_file not registered")
	}

	if _, err := write.Validate([]byte(`{"content":"x"}`)); err == nil {
		t.Error("expected missing-path validation error")
	}
	params, err := write.Validate([]byte(`{"path":"f.txt","content":"x"}`))
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if write.TargetPath(params) != "f.txt" {
		t.Errorf("TargetPath = %q", write.TargetPath(params))
	}
}

func TestEditFileSingleOccurrence(t *testing.T) {
	ws := newTestWorkspace(t)
	reg := NewRegistry()
	RegisterBuiltins(reg, ws)
	ws.WriteFile("main.go", "package main\n\nfunc main() {}\n")

	edit := reg.Get("edit_file")
	params, _ := edit.Validate([]byte(`{"path":"main.go","old_text":"func main() {}","new_text":"func main() { run() }"}`))
	if _, err := edit.Invoke(context.Background(), params); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	content, _ := ws.ReadFile("main.go", 0, 0)
	if !strings.Contains(content, "run()") {
		t.Errorf("edit not applied: %q", content)
	}

	// Missing fragment is an execution error.
	params, _ = edit.Validate([]byte(`{"path":"main.go","old_text":"nope","new_text":"x"}`))
	_, err := edit.Invoke(context.Background(), params)
	if err == nil {
		t.Fatal("expected error for missing fragment")
	}
	if te, ok := err.(*Error); !ok || te.Kind != ErrExecution {
		t.Errorf("expected execution error, got %v", err)
	}
}
