package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/0xmhha/chainwatch/events"
)

// KafkaConfig holds Kafka sink settings
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// messageWriter is the part of *kafka.Writer the sink uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes snapshots to one topic, keyed by feed
type KafkaSink struct {
	writer   messageWriter
	clientID string
	logger   *zap.Logger
}

// NewKafkaSink creates a sink writing to cfg.Topic
func NewKafkaSink(cfg KafkaConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: no Kafka brokers configured", ErrInvalidConfiguration)
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("%w: no Kafka topic configured", ErrInvalidConfiguration)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		Transport: &kafka.Transport{
			ClientID: cfg.ClientID,
		},
	}

	s := newKafkaSink(writer, cfg.ClientID, logger)
	s.logger.Info("kafka sink configured",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
	)
	return s, nil
}

func newKafkaSink(writer messageWriter, clientID string, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{
		writer:   writer,
		clientID: clientID,
		logger:   logger,
	}
}

// Name implements Sink
func (s *KafkaSink) Name() string { return "kafka" }

// Publish implements Sink
func (s *KafkaSink) Publish(ctx context.Context, event events.Event, payload []byte) error {
	msg := kafka.Message{
		Key:   []byte(partitionKey(event)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type())},
			{Key: "client_id", Value: []byte(s.clientID)},
			{Key: "timestamp", Value: []byte(event.Timestamp().Format(time.RFC3339Nano))},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write to Kafka: %w", err)
	}
	return nil
}

// Close implements Sink
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
