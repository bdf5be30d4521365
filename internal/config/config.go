package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/0xmhha/chainwatch/internal/constants"
)

// Config holds all configuration for chainwatch
type Config struct {
	RPC      RPCConfig      `yaml:"rpc"`
	Log      LogConfig      `yaml:"log"`
	Watch    WatchConfig    `yaml:"watch"`
	EventBus EventBusConfig `yaml:"eventbus"`
	API      APIConfig      `yaml:"api"`
	Sinks    SinksConfig    `yaml:"sinks"`
}

// RPCConfig holds RPC client configuration
type RPCConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WatchConfig selects what the two feeds follow
type WatchConfig struct {
	Capacity       int           `yaml:"capacity"`
	BackfillBlocks uint64        `yaml:"backfill_blocks"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ResolveTimeout time.Duration `yaml:"resolve_timeout"`

	// ContractAddress is the token contract whose events are followed
	ContractAddress string `yaml:"contract_address"`
	EventName       string `yaml:"event_name"`
	AmountArg       string `yaml:"amount_arg"`

	// ABIPath optionally points at a JSON ABI for the contract. The
	// embedded ERC-20 ABI is used when empty.
	ABIPath string `yaml:"abi_path"`

	EnableTransactions bool `yaml:"enable_transactions"`
	EnableTransfers    bool `yaml:"enable_transfers"`
}

// EventBusConfig holds in-process event bus sizing
type EventBusConfig struct {
	PublishBufferSize   int `yaml:"publish_buffer_size"`
	SubscribeBufferSize int `yaml:"subscribe_buffer_size"`
}

// APIConfig holds API server configuration
type APIConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	EnableGraphQL      bool     `yaml:"enable_graphql"`
	EnableWebSocket    bool     `yaml:"enable_websocket"`
	EnableCORS         bool     `yaml:"enable_cors"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	EnableRateLimit    bool     `yaml:"enable_rate_limit"`
	RateLimitPerSecond float64  `yaml:"rate_limit_per_second"`
	RateLimitBurst     int      `yaml:"rate_limit_burst"`
}

// SinksConfig holds the external snapshot sinks
type SinksConfig struct {
	Redis RedisSinkConfig `yaml:"redis"`
	Kafka KafkaSinkConfig `yaml:"kafka"`
}

// RedisSinkConfig holds Redis Pub/Sub sink settings
type RedisSinkConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
	// ChannelPrefix is prepended to the event type: "<prefix>:<type>"
	ChannelPrefix string `yaml:"channel_prefix"`
}

// KafkaSinkConfig holds Kafka sink settings
type KafkaSinkConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	cfg := &Config{
		Watch: WatchConfig{
			EnableTransactions: true,
			EnableTransfers:    true,
		},
		API: APIConfig{
			Enabled:         true,
			EnableGraphQL:   true,
			EnableWebSocket: true,
			EnableCORS:      true,
		},
	}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills zero values with defaults
func (c *Config) SetDefaults() {
	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = constants.DefaultRPCTimeout
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.Watch.Capacity == 0 {
		c.Watch.Capacity = constants.DefaultCapacity
	}
	if c.Watch.BackfillBlocks == 0 {
		c.Watch.BackfillBlocks = constants.DefaultBackfillBlocks
	}
	if c.Watch.PollInterval == 0 {
		c.Watch.PollInterval = constants.DefaultPollInterval
	}
	if c.Watch.ResolveTimeout == 0 {
		c.Watch.ResolveTimeout = constants.DefaultResolveTimeout
	}
	if c.Watch.EventName == "" {
		c.Watch.EventName = constants.DefaultEventName
	}
	if c.Watch.AmountArg == "" {
		c.Watch.AmountArg = constants.DefaultAmountArg
	}

	if c.EventBus.PublishBufferSize == 0 {
		c.EventBus.PublishBufferSize = constants.DefaultPublishBufferSize
	}
	if c.EventBus.SubscribeBufferSize == 0 {
		c.EventBus.SubscribeBufferSize = constants.DefaultSubscribeBufferSize
	}

	if c.API.Host == "" {
		c.API.Host = constants.DefaultAPIHost
	}
	if c.API.Port == 0 {
		c.API.Port = constants.DefaultAPIPort
	}
	if len(c.API.AllowedOrigins) == 0 {
		c.API.AllowedOrigins = []string{"*"}
	}
	if c.API.RateLimitPerSecond == 0 {
		c.API.RateLimitPerSecond = constants.DefaultRateLimitPerSecond
	}
	if c.API.RateLimitBurst == 0 {
		c.API.RateLimitBurst = constants.DefaultRateLimitBurst
	}

	if c.Sinks.Redis.Addr == "" {
		c.Sinks.Redis.Addr = constants.DefaultRedisAddr
	}
	if c.Sinks.Redis.ChannelPrefix == "" {
		c.Sinks.Redis.ChannelPrefix = constants.DefaultRedisChannelPrefix
	}
	if c.Sinks.Kafka.Topic == "" {
		c.Sinks.Kafka.Topic = constants.DefaultKafkaTopic
	}
	if c.Sinks.Kafka.ClientID == "" {
		c.Sinks.Kafka.ClientID = constants.DefaultKafkaClientID
	}
}

// envBool parses a boolean environment variable into dst
func envBool(name string, dst *bool) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = b
	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = n
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = d
	return nil
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envList(name string, dst *[]string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

// LoadFromEnv loads configuration from CHAINWATCH_* environment variables
func (c *Config) LoadFromEnv() error {
	envString("CHAINWATCH_RPC_ENDPOINT", &c.RPC.Endpoint)
	if err := envDuration("CHAINWATCH_RPC_TIMEOUT", &c.RPC.Timeout); err != nil {
		return err
	}

	envString("CHAINWATCH_LOG_LEVEL", &c.Log.Level)
	envString("CHAINWATCH_LOG_FORMAT", &c.Log.Format)

	if err := envInt("CHAINWATCH_CAPACITY", &c.Watch.Capacity); err != nil {
		return err
	}
	if v := os.Getenv("CHAINWATCH_BACKFILL_BLOCKS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid CHAINWATCH_BACKFILL_BLOCKS: %w", err)
		}
		c.Watch.BackfillBlocks = n
	}
	if err := envDuration("CHAINWATCH_POLL_INTERVAL", &c.Watch.PollInterval); err != nil {
		return err
	}
	if err := envDuration("CHAINWATCH_RESOLVE_TIMEOUT", &c.Watch.ResolveTimeout); err != nil {
		return err
	}
	envString("CHAINWATCH_CONTRACT_ADDRESS", &c.Watch.ContractAddress)
	envString("CHAINWATCH_EVENT_NAME", &c.Watch.EventName)
	envString("CHAINWATCH_AMOUNT_ARG", &c.Watch.AmountArg)
	envString("CHAINWATCH_ABI_PATH", &c.Watch.ABIPath)
	if err := envBool("CHAINWATCH_ENABLE_TRANSACTIONS", &c.Watch.EnableTransactions); err != nil {
		return err
	}
	if err := envBool("CHAINWATCH_ENABLE_TRANSFERS", &c.Watch.EnableTransfers); err != nil {
		return err
	}

	if err := envInt("CHAINWATCH_EVENTBUS_PUBLISH_BUFFER_SIZE", &c.EventBus.PublishBufferSize); err != nil {
		return err
	}
	if err := envInt("CHAINWATCH_EVENTBUS_SUBSCRIBE_BUFFER_SIZE", &c.EventBus.SubscribeBufferSize); err != nil {
		return err
	}

	if err := envBool("CHAINWATCH_API_ENABLED", &c.API.Enabled); err != nil {
		return err
	}
	envString("CHAINWATCH_API_HOST", &c.API.Host)
	if err := envInt("CHAINWATCH_API_PORT", &c.API.Port); err != nil {
		return err
	}
	if err := envBool("CHAINWATCH_API_GRAPHQL", &c.API.EnableGraphQL); err != nil {
		return err
	}
	if err := envBool("CHAINWATCH_API_WEBSOCKET", &c.API.EnableWebSocket); err != nil {
		return err
	}
	if err := envBool("CHAINWATCH_API_CORS_ENABLED", &c.API.EnableCORS); err != nil {
		return err
	}
	envList("CHAINWATCH_API_CORS_ALLOWED_ORIGINS", &c.API.AllowedOrigins)
	if err := envBool("CHAINWATCH_API_RATE_LIMIT_ENABLED", &c.API.EnableRateLimit); err != nil {
		return err
	}

	if err := envBool("CHAINWATCH_SINKS_REDIS_ENABLED", &c.Sinks.Redis.Enabled); err != nil {
		return err
	}
	envString("CHAINWATCH_SINKS_REDIS_ADDR", &c.Sinks.Redis.Addr)
	envString("CHAINWATCH_SINKS_REDIS_PASSWORD", &c.Sinks.Redis.Password)
	if err := envInt("CHAINWATCH_SINKS_REDIS_DB", &c.Sinks.Redis.DB); err != nil {
		return err
	}
	envString("CHAINWATCH_SINKS_REDIS_CHANNEL_PREFIX", &c.Sinks.Redis.ChannelPrefix)

	if err := envBool("CHAINWATCH_SINKS_KAFKA_ENABLED", &c.Sinks.Kafka.Enabled); err != nil {
		return err
	}
	envList("CHAINWATCH_SINKS_KAFKA_BROKERS", &c.Sinks.Kafka.Brokers)
	envString("CHAINWATCH_SINKS_KAFKA_TOPIC", &c.Sinks.Kafka.Topic)
	envString("CHAINWATCH_SINKS_KAFKA_CLIENT_ID", &c.Sinks.Kafka.ClientID)

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.RPC.Endpoint == "" {
		return fmt.Errorf("RPC endpoint is required")
	}
	if c.RPC.Timeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	if !c.Watch.EnableTransactions && !c.Watch.EnableTransfers {
		return fmt.Errorf("at least one of the transactions and transfers feeds must be enabled")
	}
	if c.Watch.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive")
	}
	if c.Watch.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Watch.ResolveTimeout < 0 {
		return fmt.Errorf("resolve timeout cannot be negative")
	}
	if c.Watch.EnableTransfers {
		if c.Watch.BackfillBlocks == 0 {
			return fmt.Errorf("backfill window must be positive")
		}
		if !common.IsHexAddress(c.Watch.ContractAddress) {
			return fmt.Errorf("invalid contract address %q", c.Watch.ContractAddress)
		}
	}

	if c.EventBus.PublishBufferSize <= 0 {
		return fmt.Errorf("eventbus publish buffer size must be positive")
	}
	if c.EventBus.SubscribeBufferSize <= 0 {
		return fmt.Errorf("eventbus subscribe buffer size must be positive")
	}

	if c.API.Enabled {
		if c.API.Port < constants.MinPort || c.API.Port > constants.MaxPort {
			return fmt.Errorf("API port must be between %d and %d", constants.MinPort, constants.MaxPort)
		}
		if c.API.EnableRateLimit && (c.API.RateLimitPerSecond <= 0 || c.API.RateLimitBurst <= 0) {
			return fmt.Errorf("rate limit and burst must be positive")
		}
	}

	if c.Sinks.Redis.Enabled && c.Sinks.Redis.Addr == "" {
		return fmt.Errorf("redis sink enabled but no address configured")
	}
	if c.Sinks.Kafka.Enabled {
		if len(c.Sinks.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka sink enabled but no brokers configured")
		}
		if c.Sinks.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when the kafka sink is enabled")
		}
	}

	return nil
}

// Contract returns the parsed contract address
func (c *WatchConfig) Contract() common.Address {
	return common.HexToAddress(c.ContractAddress)
}

// Load is a convenience method that loads configuration in the following order:
// 1. Set defaults
// 2. Load from file (if provided)
// 3. Load from environment variables (override file)
// 4. Validate
func Load(configFile string) (*Config, error) {
	cfg := NewConfig()

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
