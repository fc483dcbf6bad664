package server

import (
	"encoding/json"
	"testing"
	"time"
)

// mockClient stands in for a WebSocket connection in hub tests.
type mockClient struct {
	send   chan []byte
	closed bool
}

func newMockClient(buffer int) *mockClient {
	return &mockClient{send: make(chan []byte, buffer)}
}

func (c *mockClient) sendChannel() chan []byte { return c.send }
func (c *mockClient) close()                   { c.closed = true }

func waitForClientCount(t *testing.T, hub *EventHub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want %d", hub.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventHub_BroadcastReachesAllClients(t *testing.T) {
	hub := NewEventHub()
	go hub.Run()
	defer hub.Stop()

	a := newMockClient(4)
	b := newMockClient(4)
	hub.register <- a
	hub.register <- b
	waitForClientCount(t, hub, 2)

	hub.Broadcast(Event{Type: EventImportFinished, Payload: map[string]int{"files": 3}})

	for _, client := range []*mockClient{a, b} {
		select {
		case data := <-client.send:
			var event Event
			if err := json.Unmarshal(data, &event); err != nil {
				t.Fatalf("unmarshal broadcast: %v", err)
			}
			if event.Type != EventImportFinished {
				t.Errorf("event type = %q, want %q", event.Type, EventImportFinished)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("client never received broadcast")
		}
	}
}

func TestEventHub_DropsSlowClient(t *testing.T) {
	hub := NewEventHub()
	go hub.Run()
	defer hub.Stop()

	slow := newMockClient(1)
	hub.register <- slow
	waitForClientCount(t, hub, 1)

	// First event fills the buffer; the second cannot be delivered and the
	// client gets dropped.
	hub.Broadcast(Event{Type: EventRetrievalDegraded})
	hub.Broadcast(Event{Type: EventRetrievalDegraded})
	waitForClientCount(t, hub, 0)
}

func TestEventHub_Unregister(t *testing.T) {
	hub := NewEventHub()
	go hub.Run()
	defer hub.Stop()

	client := newMockClient(4)
	hub.register <- client
	waitForClientCount(t, hub, 1)

	hub.unregister <- client
	waitForClientCount(t, hub, 0)

	// The send channel is closed on unregister.
	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected closed send channel, got a message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send channel never closed")
	}
}
