// Package live streams a running capture to browsers over websockets.
package live

import (
	"log/slog"
	"sync"
	"time"

	"captestlog/internal/framer"
)

// Message types sent to clients.
const (
	TypeSessionStarted = "session_started"
	TypeSessionEnded   = "session_ended"
	TypeErrorMarker    = "error_marker"
	TypeInfoMarker     = "info_marker"
	TypeData           = "data"
)

// Message is one websocket frame, JSON encoded.
type Message struct {
	Type string    `json:"type"`
	Name string    `json:"name,omitempty"` // session file
	Time time.Time `json:"time,omitzero"`
	// Stamp is the MM-DD-YY_HH:MM form printed on the console.
	Stamp string `json:"stamp,omitempty"`
	Data  []byte `json:"data,omitempty"` // payload bytes, base64 in JSON
}

// Client represents a single websocket connection
type Client struct {
	ID       string
	SendChan chan Message
	Done     chan struct{}
}

// Hub fans framer events out to websocket clients. Broadcasting never
// blocks: a client whose channel is full misses the message.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	current string
}

var _ framer.Reporter = &Hub{}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

// RegisterClient registers a new client
func (h *Hub) RegisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	slog.Info("Live client registered", "clientID", client.ID)
}

// UnregisterClient removes a client from the hub. The handler that created
// the client closes its Done channel.
func (h *Hub) UnregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[clientID]; ok {
		delete(h.clients, clientID)
		slog.Info("Live client unregistered", "clientID", clientID)
	}
}

// ClientCount returns the number of registered clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CurrentSession returns the file of the open session, or "".
func (h *Hub) CurrentSession() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Broadcast sends msg to every client
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.SendChan <- msg:
		case <-client.Done:
			// Client disconnected
		default:
			slog.Debug("Live client channel full, dropping message", "clientID", client.ID, "type", msg.Type)
		}
	}
}

// SessionStarted records the open session and notifies clients.
func (h *Hub) SessionStarted(name string, at time.Time) {
	h.mu.Lock()
	h.current = name
	h.mu.Unlock()
	h.Broadcast(Message{Type: TypeSessionStarted, Name: name, Time: at, Stamp: framer.Timestamp(at)})
}

// SessionEnded clears the open session and notifies clients.
func (h *Hub) SessionEnded(name string, at time.Time) {
	h.mu.Lock()
	h.current = ""
	h.mu.Unlock()
	h.Broadcast(Message{Type: TypeSessionEnded, Name: name, Time: at, Stamp: framer.Timestamp(at)})
}

// Marker broadcasts an error or info marker.
func (h *Hub) Marker(kind framer.MarkerKind, at time.Time) {
	typ := TypeInfoMarker
	if kind == framer.MarkerError {
		typ = TypeErrorMarker
	}
	h.Broadcast(Message{Type: typ, Time: at, Stamp: framer.Timestamp(at)})
}

// Data broadcasts a single payload byte.
func (h *Hub) Data(b byte) {
	h.Broadcast(Message{Type: TypeData, Data: []byte{b}})
}
