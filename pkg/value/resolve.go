package value

import "strings"

// Resolve recursively interpolates references in v against ctx:
//   - a Ref value resolves directly to the looked-up value (or Null if the
//     path does not exist);
//   - a plain string containing one or more "${path}" substrings has each
//     substring replaced by the resolved value's string form;
//   - arrays and maps are resolved element-wise;
//   - every other Value passes through unchanged.
func Resolve(v Value, ctx Context) Value {
	switch v.kind {
	case KindRef:
		resolved, ok := ctx.Resolve(v.s)
		if !ok {
			return Null()
		}
		return resolved
	case KindString:
		return resolveStringInterpolation(v.s, ctx)
	case KindArray:
		out := make([]Value, len(v.arr))
		for i, e := range v.arr {
			out[i] = Resolve(e, ctx)
		}
		return Array(out...)
	case KindMap:
		out := make(map[string]Value, len(v.m))
		for k, e := range v.m {
			out[k] = Resolve(e, ctx)
		}
		return Map(out)
	default:
		return v
	}
}

// resolveStringInterpolation substitutes every "${path}" substring in s.
// A string containing no interpolation markers is returned unchanged.
func resolveStringInterpolation(s string, ctx Context) Value {
	if !strings.Contains(s, "${") {
		return String(s)
	}

	var b strings.Builder
	rest := s
	changed := false
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start

		b.WriteString(rest[:start])
		path := rest[start+2 : end]
		resolved, ok := ctx.Resolve(path)
		if ok {
			b.WriteString(resolved.AsString())
		}
		changed = true
		rest = rest[end+1:]
	}
	if !changed {
		return String(s)
	}
	return String(b.String())
}
