package web

import (
	"sync"

	"github.com/chefcode-ai/chefcode/internal/logger"
)

// Hub maintains the set of connected observer clients and broadcasts
// messages to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

// Run starts the hub's event loop
func (h *Hub) Run() {
	logger.Info("web: hub started")
	for {
		select {
		case <-h.stop:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logger.Info("web: client connected (total: %d)", h.clientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			logger.Info("web: client disconnected (total: %d)", h.clientCount())

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop shuts the hub down
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

// Broadcast queues a message for all clients; nil messages are dropped
func (h *Hub) Broadcast(message *Message) {
	if message == nil {
		return
	}
	select {
	case h.broadcast <- message:
	default:
		logger.Warn("web: broadcast queue full, dropping %s message", message.Type)
	}
}

func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			// Slow or dead client; drop it rather than block the hub.
			logger.Warn("web: client send buffer full, closing connection")
			client.conn.Close()
		}
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		client.conn.Close()
		delete(h.clients, client)
	}
}
