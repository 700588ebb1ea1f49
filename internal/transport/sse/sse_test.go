package sse

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/noexlabs/rulesengine/pkg/bus"
	"github.com/noexlabs/rulesengine/pkg/value"
)

func TestBroker_BroadcastsMatchingTopic(t *testing.T) {
	b := bus.New()
	broker := NewBroker(b, "rule.*", WithKeepalive(0))
	broker.Start()
	defer broker.Stop()

	ts := httptest.NewServer(broker)
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)

	b.Emit("rule.fired", value.Map(map[string]value.Value{"ruleId": value.String("r1")}), bus.Meta{Source: "engine"})

	var eventType, data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
		} else if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
		} else if line == "" && eventType != "" {
			break
		}
	}

	if eventType != "rule.fired" {
		t.Fatalf("expected event type rule.fired, got %q", eventType)
	}
	var payload wirePayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	m, ok := payload.Data.(map[string]any)
	if !ok || m["ruleId"] != "r1" {
		t.Errorf("unexpected payload data: %+v", payload.Data)
	}
}

func TestBroker_NonMatchingTopicNotDelivered(t *testing.T) {
	b := bus.New()
	broker := NewBroker(b, "rule.*", WithKeepalive(0))
	broker.Start()
	defer broker.Stop()

	ts := httptest.NewServer(broker)
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	done := make(chan struct{})
	go func() {
		b.Emit("fact.created", value.Null(), bus.Meta{Source: "engine"})
		b.Emit("rule.fired", value.Null(), bus.Meta{Source: "engine"})
		close(done)
	}()
	<-done

	scanner := bufio.NewScanner(resp.Body)
	var eventType string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
			break
		}
	}
	if eventType != "rule.fired" {
		t.Fatalf("expected first delivered event to be rule.fired (fact.created filtered out), got %q", eventType)
	}
}

func TestBroker_StopDisconnectsClients(t *testing.T) {
	b := bus.New()
	broker := NewBroker(b, "*")
	broker.Start()

	ts := httptest.NewServer(broker)
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	broker.Stop()

	// After Stop, the handler's client channel is closed, so the
	// response body should reach EOF without needing a client timeout.
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
	}
	if err := scanner.Err(); err != nil {
		t.Errorf("unexpected scan error after Stop: %v", err)
	}
}
