package server

import (
	"encoding/json"
	"log"
	"sync"

	"golang.org/x/net/websocket"
)

// Message is the envelope of every websocket exchange, both directions
type Message struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// client wraps one websocket connection; the write mutex serializes sends so
// broadcasts and request replies can't interleave on the wire
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// send marshals and writes one message to this client
func (c *client) send(name string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return websocket.JSON.Send(c.conn, Message{Name: name, Data: raw})
}

// Hub tracks connected websocket clients and fans broadcasts out to them
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{clients: map[*client]struct{}{}}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Count reports the number of connected clients
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends a named message to every connected client. Send failures
// are logged and skipped; the read loop of a dead connection cleans it up.
func (h *Hub) Broadcast(name string, data any) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.send(name, data); err != nil {
			log.Printf("[WARN] broadcast %s failed: %v", name, err)
		}
	}
}
