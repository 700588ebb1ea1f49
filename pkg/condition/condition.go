// Package condition implements the condition evaluator (§4.6): comparison
// and existence leaves combined into and/or/not groups, evaluated against a
// value.Context.
package condition

import (
	"regexp"
	"strings"

	"github.com/noexlabs/rulesengine/pkg/engine/enginerr"
	"github.com/noexlabs/rulesengine/pkg/value"
)

// Operator is a leaf comparison operator (§3).
type Operator string

const (
	Eq          Operator = "eq"
	Neq         Operator = "neq"
	Gt          Operator = "gt"
	Gte         Operator = "gte"
	Lt          Operator = "lt"
	Lte         Operator = "lte"
	In          Operator = "in"
	NotIn       Operator = "not_in"
	Contains    Operator = "contains"
	NotContains Operator = "not_contains"
	Matches     Operator = "matches"
	Exists      Operator = "exists"
	NotExists   Operator = "not_exists"
)

// kind discriminates a Condition's shape: a leaf comparison, or a
// conjunction/disjunction/negation of sub-conditions.
type kind int

const (
	kindLeaf kind = iota
	kindAll
	kindAny
	kindNot
)

// Condition is a tagged union over a comparison leaf and the and/or/not
// combinators (§4.6). Build one with the constructor functions, not
// composite literals.
type Condition struct {
	kind kind

	// leaf fields
	left  value.Value
	op    Operator
	right value.Value

	// group fields
	children []Condition // All / Any
	negated  *Condition  // Not
}

// Leaf builds a single comparison: left OP right, where left and right may
// be literals or Refs resolved against the evaluation context at Evaluate
// time.
func Leaf(left value.Value, op Operator, right value.Value) Condition {
	return Condition{kind: kindLeaf, left: left, op: op, right: right}
}

// All builds a conjunction: true iff every child is true (vacuously true
// for zero children).
func All(children ...Condition) Condition {
	return Condition{kind: kindAll, children: children}
}

// Any builds a disjunction: true iff at least one child is true (vacuously
// false for zero children).
func Any(children ...Condition) Condition {
	return Condition{kind: kindAny, children: children}
}

// Not negates a single child condition.
func Not(child Condition) Condition {
	return Condition{kind: kindNot, negated: &child}
}

// Evaluate resolves every reference in cond against ctx and applies its
// operator(s), short-circuiting All/Any left to right.
func Evaluate(cond Condition, ctx value.Context) (bool, error) {
	switch cond.kind {
	case kindLeaf:
		return evaluateLeaf(cond, ctx)
	case kindAll:
		for _, c := range cond.children {
			ok, err := Evaluate(c, ctx)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case kindAny:
		for _, c := range cond.children {
			ok, err := Evaluate(c, ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case kindNot:
		ok, err := Evaluate(*cond.negated, ctx)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, enginerr.Internalf("condition: unknown kind %d", cond.kind)
	}
}

func evaluateLeaf(cond Condition, ctx value.Context) (bool, error) {
	if cond.op == Exists || cond.op == NotExists {
		exists := referenceExists(cond.left, ctx)
		if cond.op == Exists {
			return exists, nil
		}
		return !exists, nil
	}

	left := value.Resolve(cond.left, ctx)
	right := value.Resolve(cond.right, ctx)

	switch cond.op {
	case Eq:
		return value.Equal(left, right), nil
	case Neq:
		return !value.Equal(left, right), nil
	case Gt, Gte, Lt, Lte:
		return compareNumeric(cond.op, left, right)
	case In:
		return memberOf(left, right)
	case NotIn:
		ok, err := memberOf(left, right)
		return !ok, err
	case Contains:
		return containsValue(left, right)
	case NotContains:
		ok, err := containsValue(left, right)
		return !ok, err
	case Matches:
		return matchesPattern(left, right)
	default:
		return false, enginerr.Validationf("condition: unknown operator %q", cond.op)
	}
}

// referenceExists reports whether a Ref's path resolves to anything in ctx.
// A non-Ref left operand always "exists".
func referenceExists(left value.Value, ctx value.Context) bool {
	path, ok := left.RefPath()
	if !ok {
		return true
	}
	_, found := ctx.Resolve(path)
	return found
}

// compareNumeric implements gt/gte/lt/lte: any non-number on either side
// simply doesn't match rather than erroring, same as any other operand-kind
// mismatch in this table.
func compareNumeric(op Operator, left, right value.Value) (bool, error) {
	ln, ok := left.Number()
	if !ok {
		return false, nil
	}
	rn, ok := right.Number()
	if !ok {
		return false, nil
	}
	switch op {
	case Gt:
		return ln > rn, nil
	case Gte:
		return ln >= rn, nil
	case Lt:
		return ln < rn, nil
	case Lte:
		return ln <= rn, nil
	}
	return false, enginerr.Internalf("condition: compareNumeric called with non-comparison operator %q", op)
}

func memberOf(left, right value.Value) (bool, error) {
	items, ok := right.Array()
	if !ok {
		return false, enginerr.Validationf("condition: in/not_in requires an array right operand, got %s", right.Kind())
	}
	for _, item := range items {
		if value.Equal(left, item) {
			return true, nil
		}
	}
	return false, nil
}

func containsValue(left, right value.Value) (bool, error) {
	switch left.Kind() {
	case value.KindArray:
		items, _ := left.Array()
		for _, item := range items {
			if value.Equal(item, right) {
				return true, nil
			}
		}
		return false, nil
	case value.KindString:
		s, _ := left.Str()
		return strings.Contains(s, right.AsString()), nil
	default:
		return false, enginerr.Validationf("condition: contains/not_contains requires an array or string left operand, got %s", left.Kind())
	}
}

func matchesPattern(left, right value.Value) (bool, error) {
	pattern, ok := right.Str()
	if !ok {
		return false, enginerr.Validationf("condition: matches requires a string pattern, got %s", right.Kind())
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, enginerr.Wrap(enginerr.Validation, err, "condition: invalid matches pattern %q", pattern)
	}
	return re.MatchString(left.AsString()), nil
}
