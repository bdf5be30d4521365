package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/0xmhha/chainwatch/api/graphql"
	apimiddleware "github.com/0xmhha/chainwatch/api/middleware"
	"github.com/0xmhha/chainwatch/api/websocket"
	"github.com/0xmhha/chainwatch/events"
)

// Version is reported by /version
const Version = "0.1.0"

// Server represents the API server
type Server struct {
	config      *Config
	logger      *zap.Logger
	source      graphql.Source
	eventBus    *events.EventBus
	gatherer    prometheus.Gatherer
	router      *chi.Mux
	server      *http.Server
	wsServer    *websocket.Server
	rateLimiter *apimiddleware.RateLimiter
}

// NewServer creates a new API server over source. bus feeds the WebSocket
// pushes and /subscribers; gatherer backs /metrics. Either may be nil.
func NewServer(config *Config, logger *zap.Logger, source graphql.Source, bus *events.EventBus, gatherer prometheus.Gatherer) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:   config,
		logger:   logger,
		source:   source,
		eventBus: bus,
		gatherer: gatherer,
		router:   chi.NewRouter(),
	}

	s.setupMiddleware()
	if err := s.setupRoutes(); err != nil {
		s.Close()
		return nil, err
	}

	s.server = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s, nil
}

// setupMiddleware configures the middleware stack
func (s *Server) setupMiddleware() {
	// Recovery middleware (must be first)
	s.router.Use(apimiddleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apimiddleware.RequestLogger(s.logger))

	if s.config.EnableRateLimit {
		s.rateLimiter = apimiddleware.NewRateLimiter(s.config.RateLimitPerSecond, s.config.RateLimitBurst, s.logger)
		s.router.Use(s.rateLimiter.Handler)
		s.logger.Info("rate limiting enabled",
			zap.Float64("rate_per_second", s.config.RateLimitPerSecond),
			zap.Int("burst", s.config.RateLimitBurst),
		)
	}

	if s.config.EnableCORS {
		s.router.Use(s.cors)
	}
}

// cors adds CORS headers for allowed origins and answers preflight requests
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		allowed := false
		for _, allowedOrigin := range s.config.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, Upgrade, Connection")
			w.Header().Set("Access-Control-Max-Age", "300")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() error {
	if s.config.EnableWebSocket {
		ws, err := websocket.NewServer(s.eventBus, s.snapshot, s.config.AllowedOrigins, s.logger)
		if err != nil {
			return fmt.Errorf("failed to create websocket server: %w", err)
		}
		s.wsServer = ws
		s.router.Get(s.config.WebSocketPath, s.wsServer.ServeHTTP)
		s.logger.Info("WebSocket API enabled", zap.String("path", s.config.WebSocketPath))
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/version", s.handleVersion)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.router.Get("/subscribers", s.handleSubscribers)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/transactions", s.handleTransactions)
		r.Get("/transactions/{hash}", s.handleTransaction)
		r.Get("/transfers", s.handleTransfers)
		r.Get("/status", s.handleStatus)
		r.Get("/token", s.handleToken)
	})

	if s.config.EnableGraphQL {
		graphqlHandler, err := graphql.NewHandler(s.source, s.logger)
		if err != nil {
			return fmt.Errorf("failed to create GraphQL handler: %w", err)
		}
		s.router.Handle(s.config.GraphQLPath, graphqlHandler)
		s.logger.Info("GraphQL API enabled", zap.String("path", s.config.GraphQLPath))
	}

	return nil
}

// snapshot gives a new WebSocket subscriber the current view
func (s *Server) snapshot(st websocket.SubscriptionType) (interface{}, bool) {
	switch st {
	case websocket.SubscribeTransactions:
		return websocket.TransactionsData{Transactions: s.source.Transactions()}, true
	case websocket.SubscribeTransfers:
		return websocket.TransfersData{Transfers: s.source.Transfers()}, true
	}
	return nil, false
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string              `json:"status"`
	Timestamp string              `json:"timestamp"`
	Feeds     interface{}         `json:"feeds"`
	EventBus  *EventBusHealthInfo `json:"eventbus,omitempty"`
}

// EventBusHealthInfo contains EventBus health information
type EventBusHealthInfo struct {
	Subscribers     int    `json:"subscribers"`
	TotalEvents     uint64 `json:"total_events"`
	TotalDeliveries uint64 `json:"total_deliveries"`
	DroppedEvents   uint64 `json:"dropped_events"`
	CoalescedEvents uint64 `json:"coalesced_events"`
}

// handleHealth reports "degraded" while an enabled feed is disconnected
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	feeds := s.source.Status()
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Feeds:     feeds,
	}
	for _, feed := range feeds {
		if feed.Enabled && !feed.Connected {
			response.Status = "degraded"
		}
	}

	if s.eventBus != nil {
		totalEvents, totalDeliveries, droppedEvents := s.eventBus.Stats()
		response.EventBus = &EventBusHealthInfo{
			Subscribers:     s.eventBus.SubscriberCount(),
			TotalEvents:     totalEvents,
			TotalDeliveries: totalDeliveries,
			DroppedEvents:   droppedEvents,
			CoalescedEvents: s.eventBus.Coalesced(),
		}
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version, "name": "chainwatch"})
}

// SubscribersResponse represents the subscribers list response
type SubscribersResponse struct {
	TotalCount  int                     `json:"total_count"`
	Subscribers []events.SubscriberInfo `json:"subscribers"`
}

func (s *Server) handleSubscribers(w http.ResponseWriter, r *http.Request) {
	if s.eventBus == nil {
		writeError(w, http.StatusNotFound, "EventBus not configured")
		return
	}

	subscribers := s.eventBus.GetAllSubscriberInfo()
	writeJSON(w, http.StatusOK, SubscribersResponse{
		TotalCount:  len(subscribers),
		Subscribers: subscribers,
	})
}

// Start starts the API server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("starting API server",
		zap.String("address", s.config.Address()),
		zap.Bool("graphql", s.config.EnableGraphQL),
		zap.Bool("websocket", s.config.EnableWebSocket),
	)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the API server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping API server")
	s.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped gracefully")
	return nil
}

// Close releases the WebSocket clients and the rate limiter without
// touching the listener
func (s *Server) Close() {
	if s.wsServer != nil {
		s.wsServer.Stop()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

// Router returns the underlying chi router (for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
