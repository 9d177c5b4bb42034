// Package settings implements a typed, validated, namespaced settings engine
// over an asynchronous key-value store.
//
// A Setting describes a single typed value with a default, an optional
// validator, and an optional recovery handler. A Group owns a set of settings
// sharing one storage namespace and guards access per key. A Manager
// aggregates groups under dotted "<group>.<setting>" keys and fans out change
// notifications.
package settings

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Type tags the runtime type of a setting value.
type Type uint8

const (
	TypeBool Type = iota
	TypeInt
	TypeFloat
	TypeString
	TypeStringList
)

// String returns the wire name of the type, as used in serialized maps.
func (t Type) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "double"
	case TypeString:
		return "string"
	case TypeStringList:
		return "stringList"
	default:
		return "unknown"
	}
}

// ParseType resolves a wire name back to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "bool":
		return TypeBool, nil
	case "int":
		return TypeInt, nil
	case "double":
		return TypeFloat, nil
	case "string":
		return TypeString, nil
	case "stringList":
		return TypeStringList, nil
	}
	return 0, fmt.Errorf("unknown setting type %q", s)
}

// Value is a tagged union over the five supported setting types. The zero
// Value is a false bool.
type Value struct {
	typ  Type
	b    bool
	i    int64
	f    float64
	s    string
	list []string
}

func Bool(v bool) Value     { return Value{typ: TypeBool, b: v} }
func Int(v int64) Value     { return Value{typ: TypeInt, i: v} }
func Float(v float64) Value { return Value{typ: TypeFloat, f: v} }
func String(v string) Value { return Value{typ: TypeString, s: v} }
func StringList(v []string) Value {
	return Value{typ: TypeStringList, list: slices.Clone(v)}
}

// Type returns the tag of the value.
func (v Value) Type() Type { return v.typ }

// Bool returns the boolean payload, or a type mismatch error.
func (v Value) Bool() (bool, error) {
	if v.typ != TypeBool {
		return false, &TypeMismatchError{Want: TypeBool, Got: v.typ}
	}
	return v.b, nil
}

// Int returns the integer payload, or a type mismatch error.
func (v Value) Int() (int64, error) {
	if v.typ != TypeInt {
		return 0, &TypeMismatchError{Want: TypeInt, Got: v.typ}
	}
	return v.i, nil
}

// Float returns the floating-point payload, or a type mismatch error.
func (v Value) Float() (float64, error) {
	if v.typ != TypeFloat {
		return 0, &TypeMismatchError{Want: TypeFloat, Got: v.typ}
	}
	return v.f, nil
}

// StringVal returns the string payload, or a type mismatch error.
func (v Value) StringVal() (string, error) {
	if v.typ != TypeString {
		return "", &TypeMismatchError{Want: TypeString, Got: v.typ}
	}
	return v.s, nil
}

// StringList returns a copy of the string-list payload, or a type mismatch error.
func (v Value) StringList() ([]string, error) {
	if v.typ != TypeStringList {
		return nil, &TypeMismatchError{Want: TypeStringList, Got: v.typ}
	}
	return slices.Clone(v.list), nil
}

// Equal reports whether two values have the same tag and payload.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeBool:
		return v.b == o.b
	case TypeInt:
		return v.i == o.i
	case TypeFloat:
		return v.f == o.f
	case TypeString:
		return v.s == o.s
	case TypeStringList:
		return slices.Equal(v.list, o.list)
	}
	return false
}

// Interface returns the payload as a plain Go value, suitable for JSON
// encoding. Integers come back as int64, lists as []string.
func (v Value) Interface() any {
	switch v.typ {
	case TypeBool:
		return v.b
	case TypeInt:
		return v.i
	case TypeFloat:
		return v.f
	case TypeString:
		return v.s
	case TypeStringList:
		return slices.Clone(v.list)
	}
	return nil
}

// String renders the payload for log and error messages.
func (v Value) String() string {
	switch v.typ {
	case TypeBool:
		return fmt.Sprintf("%t", v.b)
	case TypeInt:
		return fmt.Sprintf("%d", v.i)
	case TypeFloat:
		return fmt.Sprintf("%g", v.f)
	case TypeString:
		return v.s
	case TypeStringList:
		return "[" + strings.Join(v.list, ", ") + "]"
	}
	return "<invalid>"
}

// numeric returns the payload as a float64 for range comparisons.
// ok is false for non-numeric values.
func (v Value) numeric() (float64, bool) {
	switch v.typ {
	case TypeInt:
		return float64(v.i), true
	case TypeFloat:
		return v.f, true
	}
	return 0, false
}

// FromInterface converts a plain decoded value (as produced by encoding/json)
// into a Value of the given type. JSON numbers arrive as float64; they are
// accepted for int settings only when integral.
func FromInterface(t Type, raw any) (Value, error) {
	switch t {
	case TypeBool:
		b, ok := raw.(bool)
		if !ok {
			return Value{}, fmt.Errorf("expected bool, got %T", raw)
		}
		return Bool(b), nil
	case TypeInt:
		switch n := raw.(type) {
		case int:
			return Int(int64(n)), nil
		case int64:
			return Int(n), nil
		case float64:
			if n != math.Trunc(n) {
				return Value{}, fmt.Errorf("expected integer, got %v", n)
			}
			return Int(int64(n)), nil
		}
		return Value{}, fmt.Errorf("expected integer, got %T", raw)
	case TypeFloat:
		switch n := raw.(type) {
		case float64:
			return Float(n), nil
		case int:
			return Float(float64(n)), nil
		case int64:
			return Float(float64(n)), nil
		}
		return Value{}, fmt.Errorf("expected number, got %T", raw)
	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("expected string, got %T", raw)
		}
		return String(s), nil
	case TypeStringList:
		switch l := raw.(type) {
		case []string:
			return StringList(l), nil
		case []any:
			out := make([]string, len(l))
			for i, e := range l {
				s, ok := e.(string)
				if !ok {
					return Value{}, fmt.Errorf("expected string at index %d, got %T", i, e)
				}
				out[i] = s
			}
			return StringList(out), nil
		}
		return Value{}, fmt.Errorf("expected string list, got %T", raw)
	}
	return Value{}, fmt.Errorf("unknown setting type %d", t)
}
