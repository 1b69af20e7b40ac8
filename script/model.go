// Package script defines the parsed script tree the interpreter walks:
// a Script of ordered Turns, each bundling messages, instructions, control
// flow blocks, and an optional chain directive. Scripts are immutable once
// parsed.
package script

// Script is one parsed script file.
type Script struct {
	Name    string
	Source  string // originating file path, "" for inline scripts
	Params  map[string]string
	Inputs  []string
	Outputs []string
	Imports []string
	AutoRun bool
	Turns   []Turn
}

// Turn is one scripted conversation step.
type Turn struct {
	Messages     []Message
	Instructions []Instruction
	Blocks       []ControlFlowBlock
	Chain        *ChainDirective
}

// Message is one `role: content` line of a turn. Content may embed
// `{{var}}` replacement directives; an AI placeholder marks where the
// model's response is substituted.
type Message struct {
	Role        string
	Content     string
	Placeholder *Placeholder
	Choice      *ChoiceSpec
}

// HasPlaceholder reports whether the message triggers a model call.
func (m Message) HasPlaceholder() bool { return m.Placeholder != nil }

// Placeholder carries the bind variable and per-call sampling overrides of
// an AI placeholder.
type Placeholder struct {
	BindVar     string // "" binds to LatestResult
	Model       string
	Temperature *float64
	TopP        *float64
	TopK        *int
}

// ChoiceSpec constrains the model's answer to a fixed option set.
type ChoiceSpec struct {
	Options []string
	Count   int
	Random  bool
}

// Instruction is one `$name args` directive.
type Instruction struct {
	Name string
	Args string
}

// BlockKind discriminates control flow block variants.
type BlockKind int

const (
	BlockIf BlockKind = iota
	BlockWhile
	BlockFor
	BlockMatch
	BlockPipe
)

func (k BlockKind) String() string {
	switch k {
	case BlockIf:
		return "if"
	case BlockWhile:
		return "while"
	case BlockFor:
		return "for"
	case BlockMatch:
		return "match"
	case BlockPipe:
		return "pipe"
	}
	return "unknown"
}

// MatchCase is one `$case value` arm of a match block.
type MatchCase struct {
	Value string
	Body  []Instruction
}

// ControlFlowBlock is a tagged variant over if/while/for/match/pipe.
// Cond holds the condition expression (if/while), the `item in list`
// clause (for), or the matched expression (match).
type ControlFlowBlock struct {
	Kind    BlockKind
	Cond    string
	Body    []Instruction // if-then, while body, for body
	Else    []Instruction
	Cases   []MatchCase   // match arms, in order
	Default []Instruction // match fallback
	Pipe    []string      // pipe chain elements, in order
}

// ChainDirective routes the turn result into another script.
type ChainDirective struct {
	Target string
	Params map[string]string
}
