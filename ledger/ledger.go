// Package ledger implements the failure ledger: per-key retry counters,
// failed-message records, and dead-letter escalation, all TTL-bounded in
// Redis. The ledger is advisory — it never re-injects messages on its own;
// Requeue is an operator-initiated action.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opscale-io/orderflow/core"
)

// Key namespaces from the deployment contract.
const (
	FailedMessagePrefix = "failed:message:"
	RetryCountPrefix    = "failed:retry:"
	DeadLetterPrefix    = "dead:letter:"
)

// StatusDeadLetter marks a record that has been escalated.
const StatusDeadLetter = "dead_letter"

// FailureRecord is the persisted view of a failed message.
type FailureRecord struct {
	Key        string    `json:"key"`
	Message    string    `json:"message"`
	Error      string    `json:"error"`
	RetryCount int       `json:"retryCount"`
	MaxRetries int       `json:"maxRetries"`
	Timestamp  time.Time `json:"timestamp"`
	Status     string    `json:"status,omitempty"`
}

// Producer re-publishes a payload onto the bus. Implemented by the
// consumer package's Kafka writer.
type Producer interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Ledger records failures and escalates them to the dead-letter namespace.
type Ledger struct {
	redis      *core.RedisClient
	producer   Producer // optional; required only for Requeue
	maxRetries int
	ttl        time.Duration
	logger     core.Logger
}

// New creates a Ledger. producer may be nil when requeueing is not needed.
func New(redis *core.RedisClient, producer Producer, maxRetries int, ttl time.Duration, logger core.Logger) *Ledger {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Ledger{
		redis:      redis,
		producer:   producer,
		maxRetries: maxRetries,
		ttl:        ttl,
		logger:     logger,
	}
}

// Record registers a failed message under key. Permanent failures are
// dead-lettered immediately; transient failures advance the retry counter
// until maxRetries, after which the next Record escalates to dead-letter.
func (l *Ledger) Record(ctx context.Context, key, message string, cause error) error {
	if core.IsPermanent(cause) {
		return l.DeadLetter(ctx, key, message, cause)
	}

	count, err := l.retryCount(ctx, key)
	if err != nil {
		return fmt.Errorf("reading retry count for %s: %w", key, err)
	}

	if count >= l.maxRetries {
		l.logger.Error("Message exceeded max retries, moving to dead letter", map[string]interface{}{
			"key":         key,
			"retry_count": count,
			"max_retries": l.maxRetries,
		})
		return l.DeadLetter(ctx, key, message, cause)
	}

	record := FailureRecord{
		Key:        key,
		Message:    message,
		Error:      cause.Error(),
		RetryCount: count + 1,
		MaxRetries: l.maxRetries,
		Timestamp:  time.Now().UTC(),
	}
	if err := l.store(ctx, FailedMessagePrefix+key, record); err != nil {
		return err
	}

	counterKey := RetryCountPrefix + key
	if _, err := l.redis.Incr(ctx, counterKey); err != nil {
		return fmt.Errorf("incrementing retry count for %s: %w", key, err)
	}
	if _, err := l.redis.Expire(ctx, counterKey, l.ttl); err != nil {
		l.logger.Warn("Failed to set retry counter TTL", map[string]interface{}{
			"key":   counterKey,
			"error": err,
		})
	}

	l.logger.Info("Failure recorded", map[string]interface{}{
		"key":         key,
		"retry_count": record.RetryCount,
		"error":       cause.Error(),
	})
	return nil
}

// DeadLetter writes a terminal failure record under the dead-letter
// namespace.
func (l *Ledger) DeadLetter(ctx context.Context, key, message string, cause error) error {
	record := FailureRecord{
		Key:       key,
		Message:   message,
		Error:     cause.Error(),
		Timestamp: time.Now().UTC(),
		Status:    StatusDeadLetter,
	}
	if err := l.store(ctx, DeadLetterPrefix+key, record); err != nil {
		return err
	}

	l.logger.Warn("Message dead-lettered", map[string]interface{}{
		"key":   key,
		"error": cause.Error(),
	})
	return nil
}

// Get returns the failure record for key, or nil when none exists.
func (l *Ledger) Get(ctx context.Context, key string) (*FailureRecord, error) {
	return l.load(ctx, FailedMessagePrefix+key)
}

// GetDeadLetter returns the dead-letter record for key, or nil when none
// exists.
func (l *Ledger) GetDeadLetter(ctx context.Context, key string) (*FailureRecord, error) {
	return l.load(ctx, DeadLetterPrefix+key)
}

// RetryCount returns the current retry counter for key.
func (l *Ledger) RetryCount(ctx context.Context, key string) (int, error) {
	return l.retryCount(ctx, key)
}

// Requeue re-publishes the stored payload for key back onto the topic and
// clears the ledger entries so redelivery starts with a clean counter. It
// checks the failed-message namespace first, then dead-letter. Returns
// false when no record exists.
func (l *Ledger) Requeue(ctx context.Context, key string) (bool, error) {
	if l.producer == nil {
		return false, fmt.Errorf("requeue requires a producer: %w", core.ErrInvalidConfiguration)
	}

	record, err := l.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if record == nil {
		if record, err = l.GetDeadLetter(ctx, key); err != nil {
			return false, err
		}
	}
	if record == nil {
		return false, nil
	}

	if err := l.producer.Publish(ctx, key, []byte(record.Message)); err != nil {
		return false, fmt.Errorf("republishing %s: %w", key, err)
	}

	if _, err := l.redis.Del(ctx, FailedMessagePrefix+key, RetryCountPrefix+key, DeadLetterPrefix+key); err != nil {
		l.logger.Warn("Failed to clear ledger entries after requeue", map[string]interface{}{
			"key":   key,
			"error": err,
		})
	}

	l.logger.Info("Message requeued", map[string]interface{}{"key": key})
	return true, nil
}

func (l *Ledger) retryCount(ctx context.Context, key string) (int, error) {
	raw, err := l.redis.Get(ctx, RetryCountPrefix+key)
	if err != nil {
		if core.IsMiss(err) {
			return 0, nil
		}
		return 0, err
	}
	var count int
	if _, err := fmt.Sscanf(raw, "%d", &count); err != nil {
		return 0, nil
	}
	return count, nil
}

func (l *Ledger) store(ctx context.Context, key string, record FailureRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding failure record: %w", err)
	}
	if err := l.redis.Set(ctx, key, data, l.ttl); err != nil {
		return fmt.Errorf("storing failure record %s: %w", key, err)
	}
	return nil
}

func (l *Ledger) load(ctx context.Context, key string) (*FailureRecord, error) {
	raw, err := l.redis.Get(ctx, key)
	if err != nil {
		if core.IsMiss(err) {
			return nil, nil
		}
		return nil, err
	}
	var record FailureRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("decoding failure record %s: %w", key, err)
	}
	return &record, nil
}
