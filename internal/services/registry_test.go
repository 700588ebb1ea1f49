package services

import (
	"context"
	"testing"

	"github.com/noexlabs/rulesengine/pkg/value"
)

func TestRegistry_CallInvokesRegisteredMethod(t *testing.T) {
	reg := NewRegistry()
	reg.Register("users", MapAdapter{
		"get": func(ctx context.Context, args value.Value) (value.Value, error) {
			id, _ := args.Field("id")
			s, _ := id.Str()
			return value.String("user:" + s), nil
		},
	})

	got, err := reg.Call(context.Background(), "users", "get", value.Map(map[string]value.Value{"id": value.String("42")}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, _ := got.Str()
	if s != "user:42" {
		t.Errorf("expected user:42, got %q", s)
	}
}

func TestRegistry_CallUnknownServiceErrors(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Call(context.Background(), "missing", "get", value.Null())
	if err == nil {
		t.Fatal("expected error for unregistered service")
	}
}

func TestRegistry_CallUnknownMethodErrors(t *testing.T) {
	reg := NewRegistry()
	reg.Register("users", MapAdapter{})
	_, err := reg.Call(context.Background(), "users", "get", value.Null())
	if err == nil {
		t.Fatal("expected error for unregistered method")
	}
}

func TestRegistry_UnregisterRemovesService(t *testing.T) {
	reg := NewRegistry()
	reg.Register("users", MapAdapter{})
	reg.Unregister("users")

	_, err := reg.Call(context.Background(), "users", "get", value.Null())
	if err == nil {
		t.Fatal("expected error after unregister")
	}
}

func TestRegistry_NamesListsRegistered(t *testing.T) {
	reg := NewRegistry()
	reg.Register("users", MapAdapter{})
	reg.Register("orders", MapAdapter{})

	names := reg.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %d", len(names))
	}
}

func TestRegistry_ReregisterReplaces(t *testing.T) {
	reg := NewRegistry()
	reg.Register("users", MapAdapter{
		"get": func(ctx context.Context, args value.Value) (value.Value, error) {
			return value.String("v1"), nil
		},
	})
	reg.Register("users", MapAdapter{
		"get": func(ctx context.Context, args value.Value) (value.Value, error) {
			return value.String("v2"), nil
		},
	})

	got, err := reg.Call(context.Background(), "users", "get", value.Null())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, _ := got.Str()
	if s != "v2" {
		t.Errorf("expected replaced registration to win, got %q", s)
	}
}
