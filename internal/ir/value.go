package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a sealed interface representing constrained payload types.
// Only Null, Bool, Int, Float, String, Vec3, Array, and Object implement it.
type Value interface {
	value() // Sealed - only these types implement it
}

// Null represents an explicit null payload value.
// Using a concrete type keeps the sealed interface total: a Value is never
// a nil interface.
type Null struct{}

func (Null) value() {}

// Bool represents a boolean value.
type Bool bool

func (Bool) value() {}

// Int represents an integer value. Always int64.
type Int int64

func (Int) value() {}

// Float represents a 64-bit floating point value.
type Float float64

func (Float) value() {}

// String represents a string value.
type String string

func (String) value() {}

// Vec3 represents a three-component vector. World data (positions,
// rotations, scales) is Vec3-heavy, so it is a first-class payload type
// rather than a three-element Array.
type Vec3 [3]float64

func (Vec3) value() {}

// Array represents an ordered sequence of Values.
type Array []Value

func (Array) value() {}

// Object represents a mapping of string keys to Values.
// Insertion order is irrelevant; keys are unique. Use SortedKeys for
// deterministic iteration.
type Object map[string]Value

func (Object) value() {}

// Bounds limits the shape of a Value accepted by the bus.
type Bounds struct {
	// MaxDepth is the maximum nesting depth. A scalar has depth 1.
	MaxDepth int
	// MaxElems is the maximum element count of any single Array or Object.
	MaxElems int
}

// DefaultBounds is the admission default. Deep enough for any sane
// component payload, shallow enough that a recursive walk never threatens
// the stack.
var DefaultBounds = Bounds{MaxDepth: 64, MaxElems: 65536}

// BoundsError reports a payload that exceeds structural bounds.
type BoundsError struct {
	Depth  int // Depth at which the violation was found
	Elems  int // Collection size, if the violation was a size violation
	Bounds Bounds
}

// Error implements the error interface.
func (e *BoundsError) Error() string {
	if e.Elems > 0 {
		return fmt.Sprintf("payload collection has %d elements, limit %d", e.Elems, e.Bounds.MaxElems)
	}
	return fmt.Sprintf("payload exceeds max depth %d", e.Bounds.MaxDepth)
}

// CheckBounds walks v and verifies it fits within b.
// This runs before any other processing of an incoming payload: a Value
// that fails CheckBounds never reaches validation, optimization, or the
// store. Depth is tracked explicitly; the walk itself is bounded by
// b.MaxDepth so it cannot recurse past the limit.
func CheckBounds(v Value, b Bounds) error {
	return checkBounds(v, b, 1)
}

func checkBounds(v Value, b Bounds, depth int) error {
	if depth > b.MaxDepth {
		return &BoundsError{Depth: depth, Bounds: b}
	}
	switch val := v.(type) {
	case Array:
		if len(val) > b.MaxElems {
			return &BoundsError{Depth: depth, Elems: len(val), Bounds: b}
		}
		for _, elem := range val {
			if err := checkBounds(elem, b, depth+1); err != nil {
				return err
			}
		}
	case Object:
		if len(val) > b.MaxElems {
			return &BoundsError{Depth: depth, Elems: len(val), Bounds: b}
		}
		for _, elem := range val {
			if err := checkBounds(elem, b, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// Clone returns a deep copy of v. Mutating the copy never affects the
// source; scalar types are value types and are returned as-is.
func Clone(v Value) Value {
	switch val := v.(type) {
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	case Object:
		out := make(Object, len(val))
		for k, elem := range val {
			out[k] = Clone(elem)
		}
		return out
	default:
		return v
	}
}

// Equal reports structural equality of two Values.
// Floats compare with == except that two NaNs compare equal, so snapshot
// round-trips remain stable in the presence of NaN payloads.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Float:
		bv, ok := b.(Float)
		return ok && floatEqual(float64(av), float64(bv))
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Vec3:
		bv, ok := b.(Vec3)
		if !ok {
			return false
		}
		return floatEqual(av[0], bv[0]) && floatEqual(av[1], bv[1]) && floatEqual(av[2], bv[2])
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv, ok := b.(Object)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, elem := range av {
			other, present := bv[k]
			if !present || !Equal(elem, other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func floatEqual(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return a == b
}

// ByteSize returns the accounting size of v in bytes, used for payload
// quota enforcement. The figure is a deterministic approximation of the
// in-memory footprint, not a serialized length.
func ByteSize(v Value) int {
	switch val := v.(type) {
	case Null, Bool:
		return 1
	case Int, Float:
		return 8
	case Vec3:
		return 24
	case String:
		return 16 + len(val)
	case Array:
		n := 24
		for _, elem := range val {
			n += ByteSize(elem)
		}
		return n
	case Object:
		n := 48
		for k, elem := range val {
			n += 16 + len(k) + ByteSize(elem)
		}
		return n
	default:
		return 0
	}
}

// vec3Key tags a Vec3 in the JSON encoding so the union round-trips
// without loss (a plain 3-element array stays an Array on decode).
const vec3Key = "$v3"

// MarshalValue encodes v as JSON for store persistence and transport.
// Floats always carry a fractional or exponent part so the Int/Float
// distinction survives a round-trip; Vec3 is wrapped as {"$v3":[x,y,z]}.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case Null:
		return []byte("null"), nil
	case Bool:
		return json.Marshal(bool(val))
	case Int:
		return json.Marshal(int64(val))
	case Float:
		return appendFloat(nil, float64(val))
	case String:
		return json.Marshal(string(val))
	case Vec3:
		var buf bytes.Buffer
		buf.WriteString(`{"` + vec3Key + `":[`)
		for i, f := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := appendFloat(nil, f)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteString("]}")
		return buf.Bytes(), nil
	case Array:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := MarshalValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case Object:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, fmt.Errorf("marshal key %q: %w", k, err)
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := MarshalValue(val[k])
			if err != nil {
				return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}

// appendFloat serializes a float with a guaranteed fractional or exponent
// marker. NaN and infinities are rejected - they have no JSON form.
func appendFloat(dst []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("cannot serialize non-finite float: %v", f)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return append(dst, s...), nil
}

// UnmarshalValue decodes JSON produced by MarshalValue back into a Value.
// Numbers without a fractional or exponent part decode as Int; the rest
// decode as Float. {"$v3":[...]} decodes as Vec3.
func UnmarshalValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromGo(raw)
}

// FromGo converts a decoded Go value (as produced by encoding/json with
// UseNumber) into a Value. Also accepts plain Go scalars, []any, and
// map[string]any from programmatic callers such as the scenario harness.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case float64:
		return Float(val), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			f, err := val.Float64()
			if err != nil {
				return nil, fmt.Errorf("invalid number %q: %w", s, err)
			}
			return Float(f), nil
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(n), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			converted, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = converted
		}
		return arr, nil
	case map[string]any:
		if vec, ok := vec3FromMap(val); ok {
			return vec, nil
		}
		obj := make(Object, len(val))
		for k, elem := range val {
			converted, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = converted
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// vec3FromMap recognizes the {"$v3":[x,y,z]} wrapper.
func vec3FromMap(m map[string]any) (Vec3, bool) {
	if len(m) != 1 {
		return Vec3{}, false
	}
	raw, ok := m[vec3Key]
	if !ok {
		return Vec3{}, false
	}
	elems, ok := raw.([]any)
	if !ok || len(elems) != 3 {
		return Vec3{}, false
	}
	var vec Vec3
	for i, elem := range elems {
		switch n := elem.(type) {
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return Vec3{}, false
			}
			vec[i] = f
		case float64:
			vec[i] = n
		case int:
			vec[i] = float64(n)
		default:
			return Vec3{}, false
		}
	}
	return vec, true
}
