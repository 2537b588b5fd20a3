package kafkapub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"fractalTrader/internal/domain"
	"fractalTrader/internal/ports"
)

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher forwards lifecycle events to a Kafka topic, keyed by symbol so
// the events of one instrument stay ordered within a partition.
type Publisher struct {
	writer messageWriter
	logger ports.Logger
	topic  string
}

// Config holds configuration for the Kafka publisher.
type Config struct {
	Brokers    []string
	Topic      string
	MaxRetries int
	Logger     ports.Logger
}

// New creates a publisher. No connection is made until the first write.
func New(cfg Config) (*Publisher, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Kafka publisher")
	}
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka publisher: %w: brokers and topic are required", ports.ErrConfigurationError)
	}
	attempts := cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            attempts,
		WriteBackoffMin:        100 * time.Millisecond,
		WriteBackoffMax:        time.Second,
	}
	cfg.Logger.Info(context.Background(), "Kafka publisher configured", map[string]interface{}{"brokers": cfg.Brokers, "topic": cfg.Topic})
	return &Publisher{writer: writer, logger: cfg.Logger, topic: cfg.Topic}, nil
}

// Publish writes one event as a JSON message.
func (p *Publisher) Publish(ctx context.Context, event domain.LifecycleEvent) error {
	op := "Publish"
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrInvalidRequest, err)
	}
	msg := kafka.Message{
		Key:   []byte(event.Position.Symbol),
		Value: value,
		Time:  event.Time,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrConnectionFailed, err)
	}
	p.logger.Debug(ctx, op+": Event published", map[string]interface{}{
		"topic":  p.topic,
		"type":   event.Type,
		"symbol": event.Position.Symbol,
	})
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	p.logger.Info(context.Background(), "Closing Kafka publisher")
	return p.writer.Close()
}
