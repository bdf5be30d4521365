package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// Client is one WebSocket connection and its subscriptions
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	server *Server

	subscriptions map[SubscriptionType]bool
	mu            sync.RWMutex

	logger *zap.Logger
}

func newClient(server *Server, conn *websocket.Conn) *Client {
	return &Client{
		hub:           server.hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		done:          make(chan struct{}),
		server:        server,
		subscriptions: make(map[SubscriptionType]bool),
		logger:        server.logger,
	}
}

// IsSubscribed checks if the client follows an event type
func (c *Client) IsSubscribed(eventType SubscriptionType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[eventType]
}

func (c *Client) setSubscribed(eventType SubscriptionType, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.subscriptions[eventType] = true
	} else {
		delete(c.subscriptions, eventType)
	}
}

// enqueue queues a frame without blocking; false means the buffer is full
// or the client is gone
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// readPump handles client requests until the connection fails
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		c.handleMessage(message)
	}
}

// writePump writes queued frames and keeps the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		c.sendError("invalid message format")
		return
	}

	switch msg.Type {
	case "subscribe", "unsubscribe":
		var req SubscribeRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendError("invalid " + msg.Type + " request")
			return
		}
		if !req.Type.IsValid() {
			c.sendError("invalid subscription type: " + string(req.Type))
			return
		}
		if msg.Type == "subscribe" {
			c.setSubscribed(req.Type, true)
			c.sendSuccess("subscribed to " + string(req.Type))
			c.sendCurrent(req.Type)
		} else {
			c.setSubscribed(req.Type, false)
			c.sendSuccess("unsubscribed from " + string(req.Type))
		}
		c.logger.Debug("client "+msg.Type+"d", zap.String("type", string(req.Type)))
	case "ping":
		c.sendMessage(Message{Type: "pong"})
	default:
		c.sendError("unknown message type: " + msg.Type)
	}
}

// sendCurrent pushes the current view right after a subscription so the
// client does not wait for the next change
func (c *Client) sendCurrent(eventType SubscriptionType) {
	if c.server.snapshots == nil {
		return
	}
	data, ok := c.server.snapshots(eventType)
	if !ok {
		return
	}
	payload, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		c.logger.Error("failed to marshal snapshot", zap.Error(err))
		return
	}
	c.sendMessage(Message{Type: "event", Payload: payload})
}

func (c *Client) sendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", zap.Error(err))
		return
	}
	if !c.enqueue(data) {
		c.logger.Warn("client send buffer full, dropping message")
	}
}

func (c *Client) sendError(errMsg string) {
	payload, _ := json.Marshal(ErrorMessage{Error: errMsg})
	c.sendMessage(Message{Type: "error", Payload: payload})
}

func (c *Client) sendSuccess(message string) {
	payload, _ := json.Marshal(SuccessMessage{Message: message})
	c.sendMessage(Message{Type: "success", Payload: payload})
}
