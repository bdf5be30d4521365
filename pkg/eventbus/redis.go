package eventbus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0xmhha/chainwatch/events"
)

// RedisConfig holds Redis Pub/Sub sink settings
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// redisPublisher is the part of redis.UniversalClient the sink uses
type redisPublisher interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisSink publishes snapshots on Redis Pub/Sub channels named
// "<prefix>:<event type>"
type RedisSink struct {
	client redisPublisher
	prefix string
	logger *zap.Logger
}

// NewRedisSink creates a sink for cfg. Call Connect before publishing.
func NewRedisSink(cfg RedisConfig, logger *zap.Logger) (*RedisSink, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: no Redis address configured", ErrInvalidConfiguration)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRedisSink(client, cfg.ChannelPrefix, logger), nil
}

func newRedisSink(client redisPublisher, prefix string, logger *zap.Logger) *RedisSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "chainwatch"
	}
	return &RedisSink{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Name implements Sink
func (s *RedisSink) Name() string { return "redis" }

// Connect checks that the server answers
func (s *RedisSink) Connect(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	s.logger.Info("connected to Redis", zap.String("channel_prefix", s.prefix))
	return nil
}

// Channel returns the channel events of type t are published on
func (s *RedisSink) Channel(t events.EventType) string {
	return fmt.Sprintf("%s:%s", s.prefix, t)
}

// Publish implements Sink
func (s *RedisSink) Publish(ctx context.Context, event events.Event, payload []byte) error {
	channel := s.Channel(event.Type())
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Close implements Sink
func (s *RedisSink) Close() error {
	return s.client.Close()
}
