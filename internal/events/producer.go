package events

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Config represents Kafka producer configuration.
type Config struct {
	Enabled bool          `yaml:"enabled"`
	Brokers []string      `yaml:"brokers"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns default producer configuration.
func DefaultConfig() Config {
	return Config{
		Brokers: []string{"localhost:9092"},
		Timeout: 10 * time.Second,
	}
}

// Producer defines the interface for event message production
type Producer interface {
	Send(ctx context.Context, topic string, key []byte, value []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// kafkaProducer implements the Producer interface
type kafkaProducer struct {
	writer *kafka.Writer
	mu     sync.Mutex
	closed bool
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config) (Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrInvalidBrokers
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Compression:  kafka.Gzip,
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.Timeout,
	}

	return &kafkaProducer{
		writer: writer,
		closed: false,
	}, nil
}

// Send sends a message to the given topic
func (p *kafkaProducer) Send(ctx context.Context, topic string, key []byte, value []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrProducerClosed
	}
	p.mu.Unlock()

	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
}

// Ping reports whether the producer can still accept messages.
func (p *kafkaProducer) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrProducerClosed
	}
	return nil
}

// Close closes the producer
func (p *kafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	return p.writer.Close()
}
