package script

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleScript = `---
parameters:
  task: build a web app
autoRun: true
---
system: You are a coding agent.
user: Please {{task}}
assistant: {{ai:plan model=gpt-5.2 temperature=0.3 top_k=40}}
$set attempts = 0
$if plan == ""
  $print empty plan
$else
  $echo plan ready
$end
-> review(content=plan, mode=strict)
---
user: Summarize the result.
assistant: {{ai}}
`

func TestParseFrontMatter(t *testing.T) {
	s, err := Parse(sampleScript, "sample")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Params["task"] != "build a web app" {
		t.Errorf("params = %v", s.Params)
	}
	if !s.AutoRun {
		t.Error("autoRun flag lost")
	}
	if len(s.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(s.Turns))
	}
}

func TestParseMessagesAndPlaceholder(t *testing.T) {
	s, err := Parse(sampleScript, "sample")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	turn := s.Turns[0]
	if len(turn.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(turn.Messages))
	}

	ph := turn.Messages[2].Placeholder
	if ph == nil {
		t.Fatal("placeholder not detected")
	}
	if ph.BindVar != "plan" || ph.Model != "gpt-5.2" {
		t.Errorf("placeholder = %+v", ph)
	}
	if ph.Temperature == nil || *ph.Temperature != 0.3 {
		t.Errorf("temperature override lost: %+v", ph)
	}
	if ph.TopK == nil || *ph.TopK != 40 {
		t.Errorf("top_k override lost: %+v", ph)
	}

	// Second turn's bare placeholder binds to the default.
	if got := s.Turns[1].Messages[1].Placeholder; got == nil || got.BindVar != "" {
		t.Errorf("bare placeholder = %+v", got)
	}
}

func TestParseControlFlow(t *testing.T) {
	s, err := Parse(sampleScript, "sample")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	turn := s.Turns[0]
	if len(turn.Blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(turn.Blocks))
	}
	block := turn.Blocks[0]
	if block.Kind != BlockIf || block.Cond != `plan == ""` {
		t.Errorf("block = %+v", block)
	}
	if len(block.Body) != 1 || block.Body[0].Name != "print" {
		t.Errorf("then branch = %+v", block.Body)
	}
	if len(block.Else) != 1 || block.Else[0].Name != "echo" {
		t.Errorf("else branch = %+v", block.Else)
	}
}

func TestParseChainDirective(t *testing.T) {
	s, err := Parse(sampleScript, "sample")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	chain := s.Turns[0].Chain
	if chain == nil {
		t.Fatal("chain directive not parsed")
	}
	if chain.Target != "review" {
		t.Errorf("target = %q", chain.Target)
	}
	if chain.Params["content"] != "plan" || chain.Params["mode"] != "strict" {
		t.Errorf("params = %v", chain.Params)
	}
}

func TestParseChoices(t *testing.T) {
	src := `user: Pick one: {{ai:answer choices="yes|no|maybe" count=1}}`
	s, err := Parse(src, "choices")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	choice := s.Turns[0].Messages[0].Choice
	if choice == nil {
		t.Fatal("choice spec not parsed")
	}
	if len(choice.Options) != 3 || choice.Options[2] != "maybe" {
		t.Errorf("options = %v", choice.Options)
	}
	if choice.Count != 1 || choice.Random {
		t.Errorf("choice = %+v", choice)
	}
}

func TestParseMatchBlock(t *testing.T) {
	src := `user: go
$match intent
  $case fix
    $set mode = repair
  $case upgrade
    $set mode = extend
  $default
    $set mode = ask
$end
`
	s, err := Parse(src, "match")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	block := s.Turns[0].Blocks[0]
	if block.Kind != BlockMatch || block.Cond != "intent" {
		t.Errorf("block = %+v", block)
	}
	if len(block.Cases) != 2 || block.Cases[1].Value != "upgrade" {
		t.Errorf("cases = %+v", block.Cases)
	}
	if len(block.Default) != 1 {
		t.Errorf("default = %+v", block.Default)
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse("", "empty"); err == nil {
		t.Error("empty script should fail")
	}
	if _, err := Parse("user: hi\n$if x\n$set y = 1\n", "unterminated"); err == nil {
		t.Error("unterminated block should fail")
	}
}

func TestStripPlaceholder(t *testing.T) {
	got := StripPlaceholder("Answer here: {{ai:answer temperature=0.2}}")
	if got != "Answer here:" {
		t.Errorf("StripPlaceholder = %q", got)
	}
}

func TestLoaderCachesByModTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.fs")
	if err := os.WriteFile(path, []byte("user: hi\nassistant: {{ai}}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(dir)
	first, err := loader.Load("hello")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	second, err := loader.Load("hello.fs")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if first != second {
		t.Error("expected cached script instance")
	}
}
