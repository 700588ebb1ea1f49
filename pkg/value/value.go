// Package value implements the dynamic, JSON-like Value variant the engine
// evaluates conditions and actions over, plus reference interpolation
// (${path} and {ref: path}) against an evaluation context.
package value

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind discriminates the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindMap
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindRef:
		return "ref"
	default:
		return "unknown"
	}
}

// Value is a tagged union over null | bool | number | string | array | map | ref.
// Zero value is Null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	m    map[string]Value
}

func Null() Value             { return Value{kind: KindNull} }
func Bool(b bool) Value       { return Value{kind: KindBool, b: b} }
func Number(n float64) Value  { return Value{kind: KindNumber, n: n} }
func String(s string) Value   { return Value{kind: KindString, s: s} }
func Array(vs ...Value) Value { return Value{kind: KindArray, arr: vs} }
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

// Ref is a deferred reference to a dot-notated path in the evaluation context.
func Ref(path string) Value { return Value{kind: KindRef, s: path} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) IsRef() bool  { return v.kind == KindRef }

func (v Value) Bool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) Number() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.n, true
}

func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// RefPath returns the path of a Ref value.
func (v Value) RefPath() (string, bool) {
	if v.kind != KindRef {
		return "", false
	}
	return v.s, true
}

func (v Value) Array() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

func (v Value) MapValue() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// Field looks up a key on a map Value; ok is false for non-map Values or missing keys.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != KindMap {
		return Null(), false
	}
	f, ok := v.m[key]
	return f, ok
}

// FromAny converts a plain Go value (as produced by encoding/json or
// gopkg.in/yaml.v3 unmarshal into interface{}) into a Value. Whole-string
// "${path}" values and single-key {"ref": "path"} maps normalize to Ref.
func FromAny(a any) Value {
	switch x := a.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case bool:
		return Bool(x)
	case string:
		if path, ok := refString(x); ok {
			return Ref(path)
		}
		return String(x)
	case float64:
		return Number(x)
	case float32:
		return Number(float64(x))
	case int:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return String(string(x))
		}
		return Number(f)
	case []any:
		vs := make([]Value, len(x))
		for i, e := range x {
			vs[i] = FromAny(e)
		}
		return Array(vs...)
	case []Value:
		return Array(x...)
	case map[string]any:
		if path, ok := refMap(x); ok {
			return Ref(path)
		}
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = FromAny(e)
		}
		return Map(m)
	case map[any]any:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[fmt.Sprintf("%v", k)] = FromAny(e)
		}
		return Map(m)
	default:
		return String(fmt.Sprintf("%v", x))
	}
}

func refString(s string) (string, bool) {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") && len(s) > 3 {
		return s[2 : len(s)-1], true
	}
	return "", false
}

func refMap(m map[string]any) (string, bool) {
	if len(m) != 1 {
		return "", false
	}
	v, ok := m["ref"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Interface converts a Value back into a plain Go value suitable for
// encoding/json or gopkg.in/yaml.v3 marshaling. Ref values marshal back to
// their canonical {"ref": "path"} form.
func (v Value) Interface() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindRef:
		return map[string]any{"ref": v.s}
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.Interface()
		}
		return out
	default:
		return nil
	}
}

// AsString coerces a Value to its string form, used for substring
// interpolation and the "contains" operator.
func (v Value) AsString() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return formatNumber(v.n)
	case KindString:
		return v.s
	case KindRef:
		return "${" + v.s + "}"
	case KindArray, KindMap:
		return stringifyComposite(v)
	default:
		return ""
	}
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

func stringifyComposite(v Value) string {
	var b strings.Builder
	switch v.kind {
	case KindArray:
		b.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(e.AsString())
		}
		b.WriteByte(']')
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte(':')
			b.WriteString(v.m[k].AsString())
		}
		b.WriteByte('}')
	}
	return b.String()
}

// Equal performs deep structural equality, the semantics "eq"/"neq"/"in"/
// "not_in" are defined over.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		// Numbers and numeric strings are never cross-coerced; null only equals null.
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.n == b.n
	case KindString:
		return a.s == b.s
	case KindRef:
		return a.s == b.s
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, av := range a.m {
			bv, ok := b.m[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
