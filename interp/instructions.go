package interp

import (
	"fmt"
	"strings"

	"github.com/forgekit/forge/script"
)

// Runtime is the execution context handed to instructions: the live
// environment plus an output sink for emitted text.
type Runtime struct {
	Env  *Env
	Emit func(text string)
}

func (rt *Runtime) emit(text string) {
	if rt.Emit != nil {
		rt.Emit(text)
	}
}

// InstructionFunc executes one $instruction directive.
type InstructionFunc func(rt *Runtime, args string) error

// InstructionSet maps instruction names to handlers. The built-in set
// covers echo, print, set, and unset; hosts register more.
type InstructionSet struct {
	handlers map[string]InstructionFunc
}

// NewInstructionSet returns a set preloaded with the built-ins.
func NewInstructionSet() *InstructionSet {
	s := &InstructionSet{handlers: map[string]InstructionFunc{}}
	s.Register("echo", instrEcho)
	s.Register("print", instrEcho)
	s.Register("set", instrSet)
	s.Register("unset", instrUnset)
	return s
}

// Register adds or replaces a handler.
func (s *InstructionSet) Register(name string, fn InstructionFunc) {
	s.handlers[name] = fn
}

// Run dispatches one instruction. Unknown names are an error; the turn
// keeps running, the caller decides whether to surface it.
func (s *InstructionSet) Run(rt *Runtime, instr script.Instruction) error {
	fn, ok := s.handlers[instr.Name]
	if !ok {
		return fmt.Errorf("unknown instruction $%s", instr.Name)
	}
	return fn(rt, instr.Args)
}

func instrEcho(rt *Runtime, args string) error {
	rt.emit(rt.Env.Render(args))
	return nil
}

func instrSet(rt *Runtime, args string) error {
	name, raw, found := strings.Cut(args, "=")
	name = strings.TrimSpace(name)
	if !found || name == "" {
		return fmt.Errorf("set wants `name = value`, got %q", args)
	}
	rt.Env.Set(name, resolveAssignment(strings.TrimSpace(raw), rt.Env))
	return nil
}

func instrUnset(rt *Runtime, args string) error {
	name := strings.TrimSpace(args)
	if name == "" {
		return fmt.Errorf("unset wants a variable name")
	}
	rt.Env.Delete(name)
	return nil
}

// resolveAssignment interprets the right-hand side of a $set: typed
// literals stay typed, a bound variable path copies its value, anything
// else becomes a rendered string.
func resolveAssignment(token string, env *Env) Value {
	v := resolveOperand(token, env)
	if !v.IsNull() || token == "null" || token == "nil" || token == "" {
		return v
	}
	root := token
	if i := strings.IndexByte(root, '.'); i >= 0 {
		root = root[:i]
	}
	if env.Has(root) {
		return v
	}
	return StringValue(env.Render(token))
}
