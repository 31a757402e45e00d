// Package ws pushes finished-match notifications to WebSocket clients, for
// callers that prefer a push feed over polling the mailbox endpoint.
package ws

import (
	"context"

	"go.uber.org/zap"
)

// Hub manages WebSocket connections and fans notifications out to them.
// All connection state is owned by the Run goroutine; other goroutines talk
// to it through channels only.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	logger     *zap.Logger
}

// NewHub creates a Hub. Call Run in a goroutine before serving connections.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		logger:     logger,
	}
}

// Run processes hub events until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down")
			h.shutdown()
			return

		case client := <-h.register:
			h.clients[client] = true
			h.logger.Debug("client registered", zap.String("connID", client.connID))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.logger.Debug("client unregistered", zap.String("connID", client.connID))

		case payload := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- payload:
				default:
					// Buffer full; drop the slow client.
					delete(h.clients, client)
					close(client.send)
					h.logger.Debug("dropped slow client", zap.String("connID", client.connID))
				}
			}
		}
	}
}

// Broadcast queues a notification for all connected clients. Non-blocking:
// if the hub is saturated the payload is dropped, since the mailbox remains
// the source of truth for delivery.
func (h *Hub) Broadcast(payload []byte) {
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("broadcast buffer full, dropping payload")
	}
}

func (h *Hub) shutdown() {
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}
