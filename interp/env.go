package interp

import (
	"regexp"
	"strconv"
	"strings"
)

// Env is the string-keyed variable environment of one interpreter run.
// It is owned by exactly one run; chained and nested executions get a
// fresh Env seeded from parameters, never an alias of the parent's.
type Env struct {
	vars map[string]Value
}

// NewEnv creates an environment seeded from string parameters.
func NewEnv(params map[string]string) *Env {
	env := &Env{vars: make(map[string]Value, len(params))}
	for k, v := range params {
		env.vars[k] = StringValue(v)
	}
	return env
}

// Set binds name to value.
func (e *Env) Set(name string, v Value) { e.vars[name] = v }

// Get returns the value bound to name, or null.
func (e *Env) Get(name string) Value {
	if v, ok := e.vars[name]; ok {
		return v
	}
	return Null()
}

// Has reports whether name is bound.
func (e *Env) Has(name string) bool {
	_, ok := e.vars[name]
	return ok
}

// Delete removes a binding.
func (e *Env) Delete(name string) { delete(e.vars, name) }

// Names returns all bound variable names.
func (e *Env) Names() []string {
	names := make([]string, 0, len(e.vars))
	for k := range e.vars {
		names = append(names, k)
	}
	return names
}

// Snapshot returns a shallow copy of the bindings.
func (e *Env) Snapshot() map[string]Value {
	out := make(map[string]Value, len(e.vars))
	for k, v := range e.vars {
		out[k] = v
	}
	return out
}

// Lookup resolves a dotted path like "result.files.0.path" through nested
// maps and lists. A missing segment yields null.
func (e *Env) Lookup(path string) Value {
	segments := strings.Split(path, ".")
	v, ok := e.vars[segments[0]]
	if !ok {
		return Null()
	}
	for _, seg := range segments[1:] {
		if idx, err := strconv.Atoi(seg); err == nil && v.Kind() == KindList {
			if elem, ok := v.Index(idx); ok {
				v = elem
				continue
			}
			return Null()
		}
		field, ok := v.Field(seg)
		if !ok {
			return Null()
		}
		v = field
	}
	return v
}

// templateRe matches {{name}} replacement directives. AI placeholders use
// a colon or attribute syntax this pattern cannot match; the bare {{ai}}
// form is skipped explicitly.
var templateRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}\}`)

// Render substitutes {{var}} directives in content with the variable's
// text form. Unbound variables render as empty text.
func (e *Env) Render(content string) string {
	return templateRe.ReplaceAllStringFunc(content, func(match string) string {
		name := strings.TrimSpace(strings.Trim(match, "{}"))
		if name == "ai" {
			return match
		}
		return e.Lookup(name).Text()
	})
}
