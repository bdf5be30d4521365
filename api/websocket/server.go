package websocket

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/0xmhha/chainwatch/events"
)

// SnapshotSource returns the current view of a stream, sent to a client
// as soon as it subscribes
type SnapshotSource func(SubscriptionType) (interface{}, bool)

// Server upgrades HTTP requests to WebSocket connections and pushes bus
// events to them
type Server struct {
	hub       *Hub
	upgrader  websocket.Upgrader
	snapshots SnapshotSource
	logger    *zap.Logger

	bus  *events.EventBus
	sub  *events.Subscription
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// subscriptionID is the bus subscription owned by the WebSocket server
const subscriptionID events.SubscriptionID = "api-websocket"

// NewServer creates a WebSocket server. When bus is set every bus event is
// forwarded to subscribed clients.
func NewServer(bus *events.EventBus, snapshots SnapshotSource, allowedOrigins []string, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		hub:       NewHub(logger),
		snapshots: snapshots,
		logger:    logger,
		bus:       bus,
		stop:      make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
	go s.hub.Run()

	if bus != nil {
		sub, err := bus.Subscribe(subscriptionID, nil, 256)
		if err != nil {
			s.hub.Stop()
			return nil, err
		}
		s.sub = sub
		s.wg.Add(1)
		go s.forward()
	}

	return s, nil
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

func (s *Server) forward() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case ev, ok := <-s.sub.Channel:
			if !ok {
				return
			}
			if event, ok := eventFromBus(ev); ok {
				s.hub.Broadcast(event)
			}
		}
	}
}

// ServeHTTP handles WebSocket upgrade requests
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	client := newClient(s, conn)
	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()

	s.logger.Info("new websocket connection", zap.String("remote_addr", r.RemoteAddr))
}

// Hub returns the underlying hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Stop releases the bus subscription and closes every connection
func (s *Server) Stop() {
	s.once.Do(func() {
		if s.sub != nil {
			close(s.stop)
			s.bus.Unsubscribe(subscriptionID)
			s.wg.Wait()
		}
		s.hub.Stop()
	})
}
