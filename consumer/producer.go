package consumer

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/opscale-io/orderflow/core"
)

// Producer publishes payloads onto the order topic. It backs the ledger's
// requeue path, so writes wait for full acknowledgement.
type Producer struct {
	writer *kafka.Writer
	logger core.Logger
}

// NewProducer creates a Producer for the given topic.
func NewProducer(cfg core.KafkaConfig, logger core.Logger) *Producer {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.BootstrapServers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
		logger: logger,
	}
}

// Publish writes one keyed record to the topic.
func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	msg := kafka.Message{Value: value}
	if key != "" {
		msg.Key = []byte(key)
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.writer.Topic, err)
	}
	p.logger.Debug("Message published", map[string]interface{}{
		"topic": p.writer.Topic,
		"key":   key,
	})
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
