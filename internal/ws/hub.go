// Package ws carries the dashboard-facing surface: the WebSocket hub
// that fans state updates out to watching clients, and the HTTP API
// for event ingress and session management.
package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Hub tracks connected clients per session and fans messages out to
// them. Clients that cannot keep up are disconnected rather than
// allowed to stall the broadcast path.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*client]bool
}

func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]map[*client]bool),
	}
}

// AddClient registers a connection as a watcher of one session.
func (h *Hub) AddClient(sessionID string, conn *websocket.Conn) *client {
	c := newClient(conn)

	h.mu.Lock()
	clients, ok := h.sessions[sessionID]
	if !ok {
		clients = make(map[*client]bool)
		h.sessions[sessionID] = clients
	}
	clients[c] = true
	h.mu.Unlock()

	return c
}

// RemoveClient unregisters a connection and closes its send channel.
func (h *Hub) RemoveClient(sessionID string, c *client) {
	h.mu.Lock()
	if clients, ok := h.sessions[sessionID]; ok {
		if _, ok := clients[c]; ok {
			delete(clients, c)
			c.close()
		}
		if len(clients) == 0 {
			delete(h.sessions, sessionID)
		}
	}
	h.mu.Unlock()
}

// Send pushes a message to one client, dropping it when the client's
// buffer is full.
func (h *Hub) Send(sessionID string, c *client, message any) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("ws marshal error: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Broadcast pushes a message to every client watching a session.
func (h *Hub) Broadcast(sessionID string, message any) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("ws marshal error: %v", err)
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.sessions[sessionID]))
	for c := range h.sessions[sessionID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			log.Printf("ws client too slow, disconnecting")
			h.RemoveClient(sessionID, c)
		}
	}
}

// BroadcastAll pushes a message to every connected client across all
// sessions. Used for global notices like reload after a data wipe.
func (h *Hub) BroadcastAll(message any) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("ws marshal error: %v", err)
		return
	}

	type member struct {
		sessionID string
		c         *client
	}

	h.mu.RLock()
	var members []member
	for sessionID, clients := range h.sessions {
		for c := range clients {
			members = append(members, member{sessionID, c})
		}
	}
	h.mu.RUnlock()

	for _, m := range members {
		select {
		case m.c.send <- data:
		default:
			log.Printf("ws client too slow, disconnecting")
			h.RemoveClient(m.sessionID, m.c)
		}
	}
}

// ClientCount returns the number of clients watching a session.
func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
