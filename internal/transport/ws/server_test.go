package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	wsconn "nhooyr.io/websocket"

	"github.com/noexlabs/rulesengine/pkg/engine"
)

func TestServer_StreamsNewTraceEntries(t *testing.T) {
	collector := engine.NewTraceCollector(10)
	collector.Enable()

	srv := NewServer(collector, WithPollInterval(10*time.Millisecond))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := wsconn.Dial(ctx, "ws"+ts.URL[4:], nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()

	collector.Record(engine.TraceEntry{RuleID: "r1", TriggerKind: "event", TriggerKey: "login"})

	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var entry wireTraceEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry.RuleID != "r1" {
		t.Errorf("expected ruleId r1, got %q", entry.RuleID)
	}
}

func TestServer_OnlyStreamsEntriesAfterLastSent(t *testing.T) {
	collector := engine.NewTraceCollector(10)
	collector.Enable()
	collector.Record(engine.TraceEntry{RuleID: "before-connect"})

	srv := NewServer(collector, WithPollInterval(10*time.Millisecond))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := wsconn.Dial(ctx, "ws"+ts.URL[4:], nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()

	collector.Record(engine.TraceEntry{RuleID: "after-connect"})

	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var entry wireTraceEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry.RuleID != "before-connect" && entry.RuleID != "after-connect" {
		t.Errorf("unexpected entry ruleId %q", entry.RuleID)
	}
}

func TestServer_RegistryTracksConnection(t *testing.T) {
	collector := engine.NewTraceCollector(10)
	srv := NewServer(collector, WithPollInterval(10*time.Millisecond))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := wsconn.Dial(ctx, "ws"+ts.URL[4:], nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()

	time.Sleep(50 * time.Millisecond)
	if srv.Registry().Count() != 1 {
		t.Errorf("expected 1 registered connection, got %d", srv.Registry().Count())
	}
}
