// Package interp walks parsed scripts turn by turn: it owns the variable
// environment and chat history, resolves AI placeholders into model calls,
// hands proposed tool calls to the orchestrator, and runs control flow,
// chaining, and the specialized generation pipelines.
package interp

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ValueKind discriminates environment value variants.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	}
	return "unknown"
}

// Value is the tagged union stored in the environment.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	list []Value
	m    map[string]Value
}

func Null() Value { return Value{kind: KindNull} }

func StringValue(s string) Value { return Value{kind: KindString, str: s} }

func NumberValue(f float64) Value { return Value{kind: KindNumber, num: f} }

func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

func ListValue(vs []Value) Value { return Value{kind: KindList, list: vs} }

func MapValue(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// FromAny converts JSON-decoded data into a Value.
func FromAny(v interface{}) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case string:
		return StringValue(x)
	case bool:
		return BoolValue(x)
	case float64:
		return NumberValue(x)
	case int:
		return NumberValue(float64(x))
	case []interface{}:
		list := make([]Value, len(x))
		for i, e := range x {
			list[i] = FromAny(e)
		}
		return ListValue(list)
	case map[string]interface{}:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = FromAny(e)
		}
		return MapValue(m)
	default:
		return StringValue(fmt.Sprintf("%v", x))
	}
}

// Kind returns the value's variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the value is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Truthy applies the coercion table: bool as-is; string true unless empty,
// "0", or case-insensitive "false"; number true unless zero; null false;
// lists and maps always true.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindString:
		if v.str == "" || v.str == "0" {
			return false
		}
		return !strings.EqualFold(v.str, "false")
	case KindNumber:
		return v.num != 0
	case KindNull:
		return false
	default:
		return true
	}
}

// Text renders the value as a string for substitution and display.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNull:
		return ""
	case KindList:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.Text()
		}
		return strings.Join(parts, ", ")
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + v.m[k].Text()
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

// Number returns the numeric interpretation of the value and whether one
// exists.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		return f, err == nil
	}
	return 0, false
}

// List returns the list elements, or nil for non-lists.
func (v Value) List() []Value { return v.list }

// Field returns the named map entry; ok is false for non-maps and missing
// keys.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindMap {
		return Null(), false
	}
	e, ok := v.m[name]
	return e, ok
}

// Index returns the i-th list element; ok is false out of range.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindList || i < 0 || i >= len(v.list) {
		return Null(), false
	}
	return v.list[i], true
}

// Equal compares two values. Same-kind values compare natively; mixed
// kinds compare numerically when both sides have a numeric reading, else
// by text. The strict operators alias to this, there is no separate
// coercion-free comparison.
func (v Value) Equal(other Value) bool {
	if v.kind == other.kind {
		switch v.kind {
		case KindString:
			return v.str == other.str
		case KindNumber:
			return v.num == other.num
		case KindBool:
			return v.b == other.b
		case KindNull:
			return true
		}
		return v.Text() == other.Text()
	}
	if a, ok := v.Number(); ok {
		if b, ok2 := other.Number(); ok2 {
			return a == b
		}
	}
	if v.kind == KindNull || other.kind == KindNull {
		return false
	}
	return v.Text() == other.Text()
}
