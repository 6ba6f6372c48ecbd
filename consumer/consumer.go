// Package consumer runs the Kafka side of the worker: a fixed pool of
// readers in one consumer group, each processing at most one record at a
// time and committing only after the pipeline reaches a terminal outcome.
// Within a partition records are started in offset order; commits are
// synchronous, so an offset is never committed ahead of an unprocessed
// earlier record.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/opscale-io/orderflow/core"
	"github.com/opscale-io/orderflow/pipeline"
)

// Pipeline is the slice of the order pipeline the consumer needs.
type Pipeline interface {
	Process(ctx context.Context, intent *core.OrderIntent) pipeline.Result
}

// Ledger records failures before the consumer acknowledges them.
type Ledger interface {
	Record(ctx context.Context, key, message string, cause error) error
}

// Consumer owns the reader pool.
type Consumer struct {
	cfg      core.KafkaConfig
	pipeline Pipeline
	ledger   Ledger
	logger   core.Logger

	newReader func() fetchCommitter // test seam
}

// fetchCommitter is the part of kafka.Reader the worker loop uses.
type fetchCommitter interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// New creates a Consumer.
func New(cfg core.KafkaConfig, p Pipeline, l Ledger, logger core.Logger) *Consumer {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	c := &Consumer{
		cfg:      cfg,
		pipeline: p,
		ledger:   l,
		logger:   logger,
	}
	c.newReader = func() fetchCommitter {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:           cfg.BootstrapServers,
			GroupID:           cfg.ConsumerGroup,
			Topic:             cfg.Topic,
			MinBytes:          1,
			MaxBytes:          1 << 20,
			SessionTimeout:    cfg.SessionTimeout,
			HeartbeatInterval: cfg.HeartbeatInterval,
			RebalanceTimeout:  cfg.MaxPollInterval,
			StartOffset:       kafka.FirstOffset,
			// CommitInterval zero means synchronous commits; the worker
			// commits explicitly after each terminal outcome.
			CommitInterval: 0,
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				logger.Error("Kafka reader error", map[string]interface{}{
					"detail": fmt.Sprintf(msg, args...),
				})
			}),
		})
	}
	return c
}

// Run starts the consumer pool and blocks until ctx is canceled or a
// reader fails fatally. Each worker owns its own reader; the group
// balancer assigns it a disjoint set of partitions.
func (c *Consumer) Run(ctx context.Context) error {
	workers := c.cfg.Concurrency
	if workers < 1 {
		workers = 1
	}

	c.logger.Info("Starting consumer pool", map[string]interface{}{
		"topic":   c.cfg.Topic,
		"group":   c.cfg.ConsumerGroup,
		"workers": workers,
	})

	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			if err := c.runWorker(ctx, worker); err != nil && !errors.Is(err, context.Canceled) {
				errs <- err
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	return <-errs
}

func (c *Consumer) runWorker(ctx context.Context, worker int) error {
	reader := c.newReader()
	defer func() {
		if err := reader.Close(); err != nil {
			c.logger.Error("Failed to close reader", map[string]interface{}{
				"worker": worker,
				"error":  err,
			})
		}
	}()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			return fmt.Errorf("worker %d: fetching message: %w", worker, err)
		}

		c.logger.Info("Received message", map[string]interface{}{
			"worker":    worker,
			"partition": msg.Partition,
			"offset":    msg.Offset,
			"key":       string(msg.Key),
		})

		c.handle(ctx, msg)

		// Every terminal outcome is acknowledgeable: commit so bus-level
		// redelivery never fires. Re-injection goes through the ledger.
		if err := reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			return fmt.Errorf("worker %d: committing offset %d: %w", worker, msg.Offset, err)
		}
	}
}

// handle takes one record to a terminal outcome and routes failures into
// the ledger. It never returns an error: by the time it returns, the
// record is acknowledgeable.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	payload := string(msg.Value)

	intent, err := core.ParseIntent(msg.Value)
	if err != nil {
		key := ledgerKey(msg, "")
		c.logger.Error("Failed to parse order intent", map[string]interface{}{
			"key":   key,
			"error": err,
		})
		c.recordFailure(ctx, key, payload, err)
		return
	}

	res := c.pipeline.Process(ctx, intent)
	if res.Outcome.Success() {
		c.logger.Debug("Message processed", map[string]interface{}{
			"order_id": intent.OrderID,
			"outcome":  string(res.Outcome),
		})
		return
	}

	key := ledgerKey(msg, intent.OrderID)
	c.logger.Warn("Pipeline outcome routed to failure ledger", map[string]interface{}{
		"order_id": intent.OrderID,
		"key":      key,
		"outcome":  string(res.Outcome),
		"error":    res.Err,
	})
	c.recordFailure(ctx, key, payload, res.Err)
}

func (c *Consumer) recordFailure(ctx context.Context, key, payload string, cause error) {
	if err := c.ledger.Record(ctx, key, payload, cause); err != nil {
		// The ledger is advisory; a write failure must not block the ack.
		c.logger.Error("Failed to record failure in ledger", map[string]interface{}{
			"key":   key,
			"error": err,
		})
	}
}

// ledgerKey picks the failure-ledger key: the record key when the producer
// set one, else the orderId, else a partition/offset synthetic for
// unparseable keyless records.
func ledgerKey(msg kafka.Message, orderID string) string {
	if len(msg.Key) > 0 {
		return string(msg.Key)
	}
	if orderID != "" {
		return orderID
	}
	return fmt.Sprintf("%s-%d-%d", msg.Topic, msg.Partition, msg.Offset)
}
