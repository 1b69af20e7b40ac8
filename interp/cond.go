package interp

import (
	"strconv"
	"strings"
)

// EvalCondition evaluates a condition expression against the environment.
// Supported forms: `expr`, `!expr`, `a == b`, `a != b`; the strict
// operators === and !== alias to the plain forms. Operands are quoted
// strings, numeric or boolean literals, null, or dotted variable paths.
func EvalCondition(expr string, env *Env) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false
	}
	if strings.HasPrefix(expr, "!") && !strings.Contains(expr, "==") && !strings.Contains(expr, "!=") {
		return !EvalCondition(expr[1:], env)
	}

	// Longest operators first so == does not split ===.
	for _, op := range []string{"!==", "===", "!=", "=="} {
		idx := strings.Index(expr, op)
		if idx < 0 {
			continue
		}
		left := resolveOperand(strings.TrimSpace(expr[:idx]), env)
		right := resolveOperand(strings.TrimSpace(expr[idx+len(op):]), env)
		eq := left.Equal(right)
		if op == "!=" || op == "!==" {
			return !eq
		}
		return eq
	}

	return resolveOperand(expr, env).Truthy()
}

// resolveOperand turns one side of a comparison into a Value: literals
// resolve directly, everything else is an environment lookup.
func resolveOperand(token string, env *Env) Value {
	if token == "" {
		return Null()
	}
	if len(token) >= 2 {
		if (token[0] == '"' && token[len(token)-1] == '"') ||
			(token[0] == '\'' && token[len(token)-1] == '\'') {
			return StringValue(token[1 : len(token)-1])
		}
	}
	switch token {
	case "true":
		return BoolValue(true)
	case "false":
		return BoolValue(false)
	case "null", "nil":
		return Null()
	}
	if f, err := strconv.ParseFloat(token, 64); err == nil {
		return NumberValue(f)
	}
	return env.Lookup(token)
}
