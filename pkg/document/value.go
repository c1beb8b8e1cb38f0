package document

import (
	"time"
)

// Kind identifies the concrete type held by a Value.
type Kind int

const (
	// KindString holds a UTF-8 string.
	KindString Kind = iota
	// KindInt64 holds a 64-bit signed integer.
	KindInt64
	// KindFloat64 holds a double-precision float.
	KindFloat64
	// KindBool holds a boolean.
	KindBool
	// KindInstant holds a UTC timestamp.
	KindInstant
	// KindNode holds a nested structured value (map[string]interface{}).
	KindNode
)

// Value is a tagged union over the field value types a Document can carry.
// Only the field matching Kind is meaningful.
type Value struct {
	Kind    Kind
	Str     string
	Int     int64
	Float   float64
	Bool    bool
	Instant time.Time
	Node    map[string]interface{}
}

// String constructs a string-kinded Value.
func String(v string) Value { return Value{Kind: KindString, Str: v} }

// Int64 constructs an int64-kinded Value.
func Int64(v int64) Value { return Value{Kind: KindInt64, Int: v} }

// Float64 constructs a float64-kinded Value.
func Float64(v float64) Value { return Value{Kind: KindFloat64, Float: v} }

// Bool constructs a bool-kinded Value.
func Bool(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// Instant constructs an instant-kinded Value from a UTC timestamp.
func Instant(v time.Time) Value { return Value{Kind: KindInstant, Instant: v.UTC()} }

// Node constructs a nested-node Value.
func Node(v map[string]interface{}) Value { return Value{Kind: KindNode, Node: v} }

// Raw returns the Value's underlying payload as interface{}, the shape used
// for JSON marshaling of a single scalar.
func (v Value) Raw() interface{} {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt64:
		return v.Int
	case KindFloat64:
		return v.Float
	case KindBool:
		return v.Bool
	case KindInstant:
		return v.Instant.Format(time.RFC3339Nano)
	case KindNode:
		return v.Node
	default:
		return nil
	}
}

// Equal reports whether v and other carry the same kind and payload, used by
// removeDuplicateValues.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == other.Str
	case KindInt64:
		return v.Int == other.Int
	case KindFloat64:
		return v.Float == other.Float
	case KindBool:
		return v.Bool == other.Bool
	case KindInstant:
		return v.Instant.Equal(other.Instant)
	case KindNode:
		return nodeEqual(v.Node, other.Node)
	default:
		return false
	}
}

func nodeEqual(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !shallowEqual(av, bv) {
			return false
		}
	}
	return true
}

func shallowEqual(a, b interface{}) bool {
	return a == b
}
