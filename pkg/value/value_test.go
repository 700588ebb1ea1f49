package value

import "testing"

type mapFacts map[string]Value

func (f mapFacts) Get(key string) (Value, bool) {
	v, ok := f[key]
	return v, ok
}

func TestFromAny_WholeStringRef(t *testing.T) {
	v := FromAny("${event.amount}")
	if !v.IsRef() {
		t.Fatalf("expected Ref, got %s", v.Kind())
	}
	path, _ := v.RefPath()
	if path != "event.amount" {
		t.Errorf("path = %q, want %q", path, "event.amount")
	}
}

func TestFromAny_RefMapForm(t *testing.T) {
	v := FromAny(map[string]any{"ref": "fact.user:1:age"})
	if !v.IsRef() {
		t.Fatalf("expected Ref, got %s", v.Kind())
	}
	path, _ := v.RefPath()
	if path != "fact.user:1:age" {
		t.Errorf("path = %q, want %q", path, "fact.user:1:age")
	}
}

func TestFromAny_NestedStructures(t *testing.T) {
	v := FromAny(map[string]any{
		"a": []any{1.0, "x", true, nil},
		"b": map[string]any{"c": "${context.foo}"},
	})
	arr, ok := v.Field("a")
	if !ok {
		t.Fatal("missing field a")
	}
	items, _ := arr.Array()
	if len(items) != 4 {
		t.Fatalf("len = %d, want 4", len(items))
	}
	b, _ := v.Field("b")
	c, _ := b.Field("c")
	if !c.IsRef() {
		t.Errorf("expected nested ref, got %s", c.Kind())
	}
}

func TestResolve_EventRoot(t *testing.T) {
	ctx := NewContext()
	ctx.Event = FromAny(map[string]any{"amount": 150.0, "nested": map[string]any{"x": "y"}})

	got := Resolve(Ref("event.amount"), ctx)
	n, ok := got.Number()
	if !ok || n != 150 {
		t.Fatalf("got %#v", got)
	}

	got2 := Resolve(Ref("event.nested.x"), ctx)
	s, ok := got2.Str()
	if !ok || s != "y" {
		t.Fatalf("got %#v", got2)
	}
}

func TestResolve_FactRootColonKey(t *testing.T) {
	ctx := NewContext()
	ctx.Facts = mapFacts{"user:123:age": Number(42)}

	got := Resolve(Ref("fact.user:123:age"), ctx)
	n, ok := got.Number()
	if !ok || n != 42 {
		t.Fatalf("got %#v", got)
	}
}

func TestResolve_LookupsRoot(t *testing.T) {
	ctx := NewContext()
	ctx.Lookups["pricing"] = FromAny(map[string]any{"tier": "gold"})

	got := Resolve(Ref("lookups.pricing.tier"), ctx)
	s, _ := got.Str()
	if s != "gold" {
		t.Fatalf("got %#v", got)
	}
}

func TestResolve_TemporalAlias(t *testing.T) {
	ctx := NewContext()
	ctx.Aliases["order"] = FromAny(map[string]any{"amount": 99.0})

	got := Resolve(Ref("order.amount"), ctx)
	n, _ := got.Number()
	if n != 99 {
		t.Fatalf("got %#v", got)
	}
}

func TestResolve_MissingPathIsUndefined(t *testing.T) {
	ctx := NewContext()
	got := Resolve(Ref("event.nope"), ctx)
	if !got.IsNull() {
		t.Fatalf("expected null for missing path, got %#v", got)
	}
}

func TestResolve_SubstringInterpolation(t *testing.T) {
	ctx := NewContext()
	ctx.Event = FromAny(map[string]any{"id": 7.0})

	v := String("order-${event.id}-created")
	got := Resolve(v, ctx)
	s, _ := got.Str()
	if s != "order-7-created" {
		t.Fatalf("got %q", s)
	}
}

func TestResolve_RecursesThroughArraysAndMaps(t *testing.T) {
	ctx := NewContext()
	ctx.Scratch["x"] = Number(5)

	v := FromAny(map[string]any{
		"items": []any{"${context.x}", "plain"},
	})
	got := Resolve(v, ctx)
	items, _ := got.Field("items")
	arr, _ := items.Array()
	n, ok := arr[0].Number()
	if !ok || n != 5 {
		t.Fatalf("got %#v", arr[0])
	}
	s, _ := arr[1].Str()
	if s != "plain" {
		t.Fatalf("got %q", s)
	}
}

func TestEqual_DeepStructural(t *testing.T) {
	a := FromAny(map[string]any{"x": []any{1.0, 2.0}})
	b := FromAny(map[string]any{"x": []any{1.0, 2.0}})
	c := FromAny(map[string]any{"x": []any{1.0, 3.0}})

	if !Equal(a, b) {
		t.Error("expected a == b")
	}
	if Equal(a, c) {
		t.Error("expected a != c")
	}
}

func TestInterface_RoundTrip(t *testing.T) {
	orig := map[string]any{
		"s": "hi",
		"n": 3.5,
		"b": true,
		"a": []any{1.0, "x"},
	}
	v := FromAny(orig)
	back := v.Interface()
	m, ok := back.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", back)
	}
	if m["s"] != "hi" || m["n"] != 3.5 || m["b"] != true {
		t.Fatalf("round trip mismatch: %#v", m)
	}
}
