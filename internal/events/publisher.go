package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cooperage/internal/config"
	"github.com/cooperage/pkg/models"
)

// Publisher emits pipeline lifecycle events
type Publisher interface {
	Publish(ctx context.Context, event models.PipelineEvent) error
	Close() error
}

// KafkaPublisher publishes pipeline events to a single Kafka topic. Events
// are informational; callers treat publish failures as non-fatal.
type KafkaPublisher struct {
	writer  *kafka.Writer
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewKafkaPublisher creates a publisher for the configured topic
func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		Compression:  kafka.Gzip,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaPublisher{
		writer:  writer,
		timeout: cfg.Timeout,
	}
}

// Publish sends a single event, keyed by event type so that events of the
// same kind preserve their order
func (p *KafkaPublisher) Publish(ctx context.Context, event models.PipelineEvent) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	message := kafka.Message{
		Key:   []byte(event.Type),
		Value: data,
		Time:  time.Now(),
	}

	return p.writer.WriteMessages(ctx, message)
}

// Close closes the underlying writer
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.writer.Close()
}

// NoopPublisher discards events. Used when event publishing is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event models.PipelineEvent) error { return nil }
func (NoopPublisher) Close() error                                                  { return nil }

// NewPublisher returns a Kafka publisher when enabled, otherwise a noop
func NewPublisher(cfg config.KafkaConfig) Publisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Printf("Event publishing disabled")
		return NoopPublisher{}
	}
	return NewKafkaPublisher(cfg)
}
