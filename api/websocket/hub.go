package websocket

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Hub maintains the set of active clients and broadcasts events to them
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Event
	done       chan struct{}
	stopOnce   sync.Once

	logger *zap.Logger
}

// NewHub creates a new Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Event, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes registrations and broadcasts until Stop
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client registered", zap.Int("total_clients", count))

		case client := <-h.unregister:
			h.remove(client)

		case event := <-h.broadcast:
			h.broadcastEvent(event)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		client.close()
		h.logger.Info("client unregistered", zap.Int("total_clients", count))
	}
}

// broadcastEvent sends event to every client subscribed to its type.
// Clients that cannot keep up are disconnected.
func (h *Hub) broadcastEvent(event *Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return
	}
	frame, err := json.Marshal(Message{Type: "event", Payload: payload})
	if err != nil {
		h.logger.Error("failed to marshal message", zap.Error(err))
		return
	}

	var slow []*Client
	sent := 0

	h.mu.RLock()
	for client := range h.clients {
		if !client.IsSubscribed(event.Type) {
			continue
		}
		if client.enqueue(frame) {
			sent++
		} else {
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn("client buffer full, closing connection")
		h.remove(client)
	}

	h.logger.Debug("event broadcasted",
		zap.String("type", string(event.Type)),
		zap.Int("recipients", sent))
}

// Broadcast queues an event for delivery. Events are dropped when the
// queue is full.
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event", zap.String("type", string(event.Type)))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop ends Run and closes all client connections
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		clients := h.clients
		h.clients = make(map[*Client]struct{})
		h.mu.Unlock()

		for client := range clients {
			client.close()
		}
		h.logger.Info("hub stopped")
	})
}
