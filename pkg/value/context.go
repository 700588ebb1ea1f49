package value

import "strings"

// FactAccessor is the narrow read interface pkg/value needs from the fact
// store to resolve fact.* paths. pkg/fact.Store satisfies this directly.
type FactAccessor interface {
	// Get returns the fact value stored at key (colon-delimited, taken verbatim
	// — fact keys are not dot-split), and whether it exists.
	Get(key string) (Value, bool)
}

// Context is the per-fire evaluation context §4.4 resolves paths against.
// Root precedence: event.*, fact.*, lookups.<name>.*, context.*. Any other
// root name is tried against Aliases, which temporal completions ("events",
// "count", "aggregate") and timer fires ("timer") populate.
type Context struct {
	Event   Value
	Aliases map[string]Value
	Facts   FactAccessor
	Lookups map[string]Value
	Scratch map[string]Value
}

// NewContext builds an empty Context ready to have fields assigned.
func NewContext() Context {
	return Context{
		Event:   Map(nil),
		Aliases: map[string]Value{},
		Lookups: map[string]Value{},
		Scratch: map[string]Value{},
	}
}

// Resolve looks up a dot-notated path against the context roots. Missing
// paths return (Null(), false) — callers treat that as "does not exist".
func (c Context) Resolve(path string) (Value, bool) {
	root, rest, hasRest := splitFirst(path, '.')

	switch root {
	case "event":
		return lookupDotted(c.Event, rest)
	case "fact":
		if c.Facts == nil || !hasRest {
			return Null(), false
		}
		return c.Facts.Get(rest)
	case "lookups":
		if !hasRest {
			return Null(), false
		}
		name, sub, hasSub := splitFirst(rest, '.')
		lv, ok := c.Lookups[name]
		if !ok {
			return Null(), false
		}
		if !hasSub {
			return lv, true
		}
		return lookupDotted(lv, sub)
	case "context":
		if !hasRest {
			return Null(), false
		}
		return lookupDotted(Map(c.Scratch), rest)
	default:
		av, ok := c.Aliases[root]
		if !ok {
			return Null(), false
		}
		if !hasRest {
			return av, true
		}
		return lookupDotted(av, rest)
	}
}

// splitFirst splits s on the first occurrence of sep, returning the part
// before it, the part after it, and whether sep was found.
func splitFirst(s string, sep byte) (before, after string, found bool) {
	idx := strings.IndexByte(s, sep)
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx+1:], true
}

// lookupDotted walks a dot-notated path through nested map Values.
func lookupDotted(v Value, path string) (Value, bool) {
	if path == "" {
		return v, true
	}
	head, rest, hasRest := splitFirst(path, '.')
	field, ok := v.Field(head)
	if !ok {
		return Null(), false
	}
	if !hasRest {
		return field, true
	}
	return lookupDotted(field, rest)
}
