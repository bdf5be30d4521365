package constants

import "time"

// API Server Constants
const (
	// DefaultAPIHost is the default API server host
	DefaultAPIHost = "localhost"

	// DefaultAPIPort is the default API server port
	DefaultAPIPort = 8080

	// MinPort is the minimum valid port number
	MinPort = 1

	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultReadTimeout is the default HTTP read timeout
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout is the default HTTP write timeout
	DefaultWriteTimeout = 15 * time.Second

	// DefaultIdleTimeout is the default HTTP idle timeout
	DefaultIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultMaxHeaderBytes is the default maximum request header size
	DefaultMaxHeaderBytes = 1 << 20

	// DefaultRateLimitPerSecond is the default per-IP request rate
	DefaultRateLimitPerSecond = 1000

	// DefaultRateLimitBurst is the default rate limit burst size
	DefaultRateLimitBurst = 2000
)

// API Paths
const (
	DefaultGraphQLPath   = "/graphql"
	DefaultWebSocketPath = "/ws"
)

// Watch Constants
const (
	// DefaultCapacity is the number of records each view keeps
	DefaultCapacity = 10

	// DefaultBackfillBlocks is the size of the historical transfer window
	DefaultBackfillBlocks = 1000

	// DefaultPollInterval is used when the endpoint cannot push notifications
	DefaultPollInterval = 2 * time.Second

	// DefaultResolveTimeout bounds the resolution of one transaction
	DefaultResolveTimeout = 10 * time.Second

	// DefaultRPCTimeout is the default timeout for dialing the node
	DefaultRPCTimeout = 30 * time.Second

	// DefaultEventName is the token event followed by the transfers feed
	DefaultEventName = "Transfer"

	// DefaultAmountArg is the event argument carrying the amount
	DefaultAmountArg = "value"
)

// EventBus Constants
const (
	// DefaultPublishBufferSize is the default bus publish buffer
	DefaultPublishBufferSize = 1000

	// DefaultSubscribeBufferSize is the default per-subscriber buffer
	DefaultSubscribeBufferSize = 100
)

// Sink Constants
const (
	DefaultRedisAddr          = "localhost:6379"
	DefaultRedisChannelPrefix = "chainwatch"
	DefaultKafkaTopic         = "chainwatch-snapshots"
	DefaultKafkaClientID      = "chainwatch"

	// DefaultSinkTimeout bounds one publish to an external sink
	DefaultSinkTimeout = 5 * time.Second
)
