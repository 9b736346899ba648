// Package options implements the per-shuriken typed option store consumed
// by the command interpreter and the config renderer.
package options

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind discriminates the value variants an option may hold.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindMap
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	case KindArray:
		return "array"
	}
	return "unknown"
}

// Value is a tagged union over string, 64-bit integer, boolean, map and
// array. The zero value is the empty string.
type Value struct {
	kind Kind
	str  string
	num  int64
	b    bool
	m    map[string]Value
	arr  []Value
}

func String(s string) Value          { return Value{kind: KindString, str: s} }
func Number(n int64) Value           { return Value{kind: KindNumber, num: n} }
func Bool(b bool) Value              { return Value{kind: KindBool, b: b} }
func Map(m map[string]Value) Value   { return Value{kind: KindMap, m: m} }
func Array(elems []Value) Value      { return Value{kind: KindArray, arr: elems} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }
func (v Value) AsNumber() (int64, bool)  { return v.num, v.kind == KindNumber }
func (v Value) AsBool() (bool, bool)     { return v.b, v.kind == KindBool }

func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }
func (v Value) AsArray() ([]Value, bool)        { return v.arr, v.kind == KindArray }

// Render returns the textual form used by template substitution and the
// interpreter's `get` output.
func (v Value) Render() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatInt(v.num, 10)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindArray:
		parts := make([]string, len(v.arr))
		for i, e := range v.arr {
			parts[i] = e.Render()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		return "[object map]"
	}
	return ""
}

// GetPath resolves a dotted path (e.g. "ssl.port") through nested maps.
func (v Value) GetPath(path string) (Value, bool) {
	current := v
	for _, part := range strings.Split(path, ".") {
		m, ok := current.AsMap()
		if !ok {
			return Value{}, false
		}
		current, ok = m[part]
		if !ok {
			return Value{}, false
		}
	}
	return current, true
}

// ParseLiteral types a raw token. Precedence: quoted text is a string,
// then case-sensitive true/false, then a base-10 integer, and anything
// else falls back to a string. The order is part of the interpreter
// contract; swapping it changes how `"1"`, `1` and `true` behave.
func ParseLiteral(raw string) Value {
	v := strings.TrimSpace(raw)

	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return String(v[1 : len(v)-1])
		}
	}

	switch v {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}

	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return Number(n)
	}

	return String(v)
}

func (v Value) MarshalYAML() (interface{}, error) {
	switch v.kind {
	case KindString:
		return v.str, nil
	case KindNumber:
		return v.num, nil
	case KindBool:
		return v.b, nil
	case KindMap:
		return v.m, nil
	case KindArray:
		return v.arr, nil
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		switch node.Tag {
		case "!!bool":
			var b bool
			if err := node.Decode(&b); err != nil {
				return err
			}
			*v = Bool(b)
		case "!!int":
			var n int64
			if err := node.Decode(&n); err != nil {
				return err
			}
			*v = Number(n)
		case "!!null":
			*v = String("")
		default:
			// Floats, timestamps and anything exotic keep their
			// scalar text.
			*v = String(node.Value)
		}
		return nil

	case yaml.MappingNode:
		m := make(map[string]Value)
		if err := node.Decode(&m); err != nil {
			return err
		}
		*v = Map(m)
		return nil

	case yaml.SequenceNode:
		var elems []Value
		if err := node.Decode(&elems); err != nil {
			return err
		}
		*v = Array(elems)
		return nil
	}

	return fmt.Errorf("unsupported YAML node kind %d for option value", node.Kind)
}
