package annotations

import (
	"encoding/json"
	"fmt"
	"math"
)

// Value is the result of evaluating an expression: nil, bool, float64,
// string, or Missing. Event fields may carry other Go scalars; they are
// normalised before comparison.
type Value = any

// missing is the type of the Missing sentinel.
type missing struct{}

func (missing) String() string { return "<missing>" }

// MarshalJSON renders Missing as null.
func (missing) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// Missing is returned by event_field for fields absent from the event.
// It compares unequal to every value, itself included.
var Missing Value = missing{}

// IsMissing reports whether v is the Missing sentinel.
func IsMissing(v Value) bool {
	_, ok := v.(missing)
	return ok
}

// Event is one event record keyed by dotted field name,
// e.g. "classification.identifier". Evaluation never modifies it.
type Event map[string]any

// Field returns the value stored under name, or Missing.
func (e Event) Field(name string) Value {
	v, ok := e[name]
	if !ok {
		return Missing
	}
	return v
}

// normalizeNumber converts Go numeric types to float64.
func normalizeNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// isScalar reports whether v can be used as a literal.
func isScalar(v any) bool {
	switch v.(type) {
	case nil, bool, string:
		return true
	}
	_, ok := normalizeNumber(v)
	return ok
}

// valuesEqual implements eq. Mismatched types are unequal, numbers compare
// numerically and Missing never equals anything.
func valuesEqual(a, b Value) bool {
	if IsMissing(a) || IsMissing(b) {
		return false
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if fa, ok := normalizeNumber(a); ok {
		fb, ok := normalizeNumber(b)
		if !ok || math.IsNaN(fa) || math.IsNaN(fb) {
			return false
		}
		return fa == fb
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

// describe names the JSON-ish type of v for error messages.
func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case missing:
		return "missing"
	}
	if _, ok := normalizeNumber(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
