package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/0xmhha/chainwatch/internal/constants"
)

// Config holds API server configuration
type Config struct {
	// Host is the server host (default: localhost)
	Host string

	// Port is the server port (default: 8080)
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// EnableCORS enables CORS middleware
	EnableCORS bool

	// AllowedOrigins is a list of allowed CORS and WebSocket origins
	AllowedOrigins []string

	// MaxHeaderBytes is the maximum size of request headers
	MaxHeaderBytes int

	// EnableGraphQL serves the read-only query API
	EnableGraphQL bool

	// EnableWebSocket serves live snapshot pushes
	EnableWebSocket bool

	GraphQLPath   string
	WebSocketPath string

	// ShutdownTimeout is the graceful shutdown timeout
	ShutdownTimeout time.Duration

	// EnableRateLimit enables per-IP rate limiting
	EnableRateLimit    bool
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// DefaultConfig returns a default API server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:               constants.DefaultAPIHost,
		Port:               constants.DefaultAPIPort,
		ReadTimeout:        constants.DefaultReadTimeout,
		WriteTimeout:       constants.DefaultWriteTimeout,
		IdleTimeout:        constants.DefaultIdleTimeout,
		EnableCORS:         true,
		AllowedOrigins:     []string{"*"},
		MaxHeaderBytes:     constants.DefaultMaxHeaderBytes,
		EnableGraphQL:      true,
		EnableWebSocket:    true,
		GraphQLPath:        constants.DefaultGraphQLPath,
		WebSocketPath:      constants.DefaultWebSocketPath,
		ShutdownTimeout:    constants.DefaultShutdownTimeout,
		RateLimitPerSecond: constants.DefaultRateLimitPerSecond,
		RateLimitBurst:     constants.DefaultRateLimitBurst,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < constants.MinPort || c.Port > constants.MaxPort {
		return fmt.Errorf("port must be between %d and %d", constants.MinPort, constants.MaxPort)
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.MaxHeaderBytes <= 0 {
		return errors.New("max header bytes must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.EnableGraphQL && c.GraphQLPath == "" {
		return errors.New("graphql path cannot be empty")
	}
	if c.EnableWebSocket && c.WebSocketPath == "" {
		return errors.New("websocket path cannot be empty")
	}
	if c.EnableRateLimit && (c.RateLimitPerSecond <= 0 || c.RateLimitBurst <= 0) {
		return errors.New("rate limit and burst must be positive")
	}
	return nil
}

// Address returns the server address in host:port format
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
