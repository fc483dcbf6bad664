package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// Event is one message pushed to connected UI clients: extraction progress,
// import completion, degraded-retrieval notices.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Event types broadcast by the daemon.
const (
	EventExtractionProgress = "extraction_progress"
	EventImportFinished     = "import_finished"
	EventRetrievalDegraded  = "retrieval_degraded"
)

// EventHub manages WebSocket connections and broadcasts events to all of
// them. Slow clients are dropped rather than allowed to stall the hub.
type EventHub struct {
	clients    map[hubClient]bool
	broadcast  chan Event
	register   chan hubClient
	unregister chan hubClient
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

// hubClient allows both real connections and test doubles.
type hubClient interface {
	sendChannel() chan []byte
	close()
}

type wsClient struct {
	hub  *EventHub
	conn *websocket.Conn
	send chan []byte
}

func (c *wsClient) sendChannel() chan []byte { return c.send }

func (c *wsClient) close() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}
}

// NewEventHub creates an event hub. Call Run in a goroutine to start it.
func NewEventHub() *EventHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventHub{
		clients:    make(map[hubClient]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan hubClient),
		unregister: make(chan hubClient),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run processes registration and broadcast traffic until Stop is called.
func (h *EventHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.sendChannel())
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("EventHub: failed to marshal %s event: %v", event.Type, err)
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.sendChannel() <- data:
				default:
					// Slow client; drop it.
					close(client.sendChannel())
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop shuts down the hub and disconnects every client.
func (h *EventHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for client := range h.clients {
		close(client.sendChannel())
		client.close()
	}
	h.clients = make(map[hubClient]bool)
	h.mu.Unlock()
}

// Broadcast queues an event for every connected client. Never blocks; the
// event is dropped when the hub is saturated.
func (h *EventHub) Broadcast(event Event) {
	select {
	case h.broadcast <- event:
	default:
		log.Printf("EventHub: broadcast channel full, dropping %s event", event.Type)
	}
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a WebSocket and attaches it to the hub.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("EventHub: upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *wsClient) writePump() {
	defer func() {
		// After Stop the run loop is gone; don't block on unregister.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.close()
	}()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message)
		cancel()
		if err != nil {
			return
		}
	}
}

// readPump drains client messages to detect disconnection; clients don't
// send anything the daemon acts on.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.close()
	}()

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			return
		}
	}
}
