// Package pipeline drives a single order intent end to end:
// lock -> dedup -> enrich -> validate -> persist. Every run terminates in
// exactly one Outcome; the consumer acknowledges on any of them and routes
// the failing ones into the ledger.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opscale-io/orderflow/core"
	"github.com/opscale-io/orderflow/dlock"
	"github.com/opscale-io/orderflow/enrich"
	"github.com/opscale-io/orderflow/validate"
)

// Outcome is the terminal classification of one pipeline run.
type Outcome string

const (
	OutcomePersisted         Outcome = "persisted"
	OutcomeSkippedExisting   Outcome = "skipped_existing"
	OutcomeSkippedLocked     Outcome = "skipped_locked"
	OutcomeDroppedValidation Outcome = "dropped_validation"
	OutcomeEnrichmentFailed  Outcome = "enrichment_failed"
	OutcomeEnrichmentDenied  Outcome = "enrichment_denied"
	OutcomeStoreConflict     Outcome = "store_conflict"
)

// Success reports whether the outcome needs no ledger entry. Skips are
// successes: the order is either persisted, already persisted, or owned by
// another worker that will finish it.
func (o Outcome) Success() bool {
	switch o {
	case OutcomePersisted, OutcomeSkippedExisting, OutcomeSkippedLocked, OutcomeStoreConflict:
		return true
	}
	return false
}

// Result is the terminal state of one pipeline run.
type Result struct {
	Outcome Outcome
	Order   *core.Order // set when Outcome is OutcomePersisted
	Err     error       // set for failing outcomes
}

// OrderStore is the slice of the document store the pipeline needs.
type OrderStore interface {
	Save(ctx context.Context, order *core.Order) error
	ExistsByOrderID(ctx context.Context, orderID string) (bool, error)
}

// Lease is an acquired per-order lock.
type Lease interface {
	Release(ctx context.Context) bool
	Extend(ctx context.Context, ttl time.Duration) bool
}

// Locker acquires per-order leases.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, bool)
}

// Enricher resolves an intent's references into snapshots.
type Enricher interface {
	Enrich(ctx context.Context, customerID string, productIDs []string) (*enrich.Result, error)
}

// Pipeline processes order intents.
type Pipeline struct {
	store    OrderStore
	lock     Locker
	enricher Enricher
	lockTTL  time.Duration
	logger   core.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// New creates a Pipeline.
func New(store OrderStore, lock Locker, enricher Enricher, lockTTL time.Duration, logger core.Logger) *Pipeline {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &Pipeline{
		store:    store,
		lock:     lock,
		enricher: enricher,
		lockTTL:  lockTTL,
		logger:   logger,
		tracer:   otel.Tracer("orderflow/pipeline"),
		now:      time.Now,
	}
}

// Process runs one intent to a terminal outcome. It never returns an
// error; failures are carried inside the Result so the consumer can
// acknowledge unconditionally and route them to the ledger.
func (p *Pipeline) Process(ctx context.Context, intent *core.OrderIntent) Result {
	ctx, span := p.tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(attribute.String("order.id", intent.OrderID)))
	defer span.End()

	res := p.process(ctx, intent)

	span.SetAttributes(attribute.String("order.outcome", string(res.Outcome)))
	if res.Err != nil {
		span.RecordError(res.Err)
	}
	return res
}

func (p *Pipeline) process(ctx context.Context, intent *core.OrderIntent) Result {
	orderID := intent.OrderID

	p.logger.Info("Processing order", map[string]interface{}{"order_id": orderID})

	lease, acquired := p.lock.Acquire(ctx, dlock.LockKeyPrefix+orderID, p.lockTTL)
	if !acquired {
		p.logger.Warn("Order is already being processed", map[string]interface{}{
			"order_id": orderID,
		})
		return Result{Outcome: OutcomeSkippedLocked}
	}
	defer lease.Release(ctx)

	started := p.now()

	exists, err := p.store.ExistsByOrderID(ctx, orderID)
	if err != nil {
		return Result{Outcome: OutcomeEnrichmentFailed, Err: err}
	}
	if exists {
		p.logger.Info("Order already exists, skipping", map[string]interface{}{
			"order_id": orderID,
		})
		return Result{Outcome: OutcomeSkippedExisting}
	}

	enriched, err := p.enricher.Enrich(ctx, intent.CustomerID, intent.ProductIDs)
	if err != nil {
		if core.IsPermanent(err) {
			return Result{Outcome: OutcomeEnrichmentDenied, Err: err}
		}
		return Result{Outcome: OutcomeEnrichmentFailed, Err: err}
	}

	// The intent schema forbids an empty product list; this is the
	// defensive backstop for producers that send one anyway.
	if len(enriched.Lines) == 0 {
		p.logger.Warn("Order has no products, dropping", map[string]interface{}{
			"order_id": orderID,
		})
		return Result{
			Outcome: OutcomeDroppedValidation,
			Err:     &core.ValidationError{Code: "EmptyOrder", Detail: "intent carried no product ids"},
		}
	}

	if v := validate.Order(enriched.Customer, enriched.Lines); !v.Valid {
		p.logger.Warn("Order validation failed", map[string]interface{}{
			"order_id": orderID,
			"code":     v.Code,
			"reason":   v.Reason,
		})
		return Result{Outcome: OutcomeDroppedValidation, Err: v.Err()}
	}

	order := core.NewOrder(orderID, intent.CustomerID, enriched.Lines)
	order.EnrichWithCustomer(enriched.Customer)
	order.MarkProcessing()
	order.MarkCompleted()

	// A slow enrichment may have eaten most of the lease; push the TTL
	// forward so the lease cannot lapse between here and the save.
	if p.now().Sub(started) > p.lockTTL/2 {
		lease.Extend(ctx, p.lockTTL)
	}

	if err := p.store.Save(ctx, order); err != nil {
		if errors.Is(err, core.ErrOrderExists) {
			// Unique-index conflict: another delivery beat us to it.
			p.logger.Info("Order saved by a concurrent worker", map[string]interface{}{
				"order_id": orderID,
			})
			return Result{Outcome: OutcomeStoreConflict}
		}
		return Result{Outcome: OutcomeEnrichmentFailed, Err: err}
	}

	p.logger.Info("Order processed successfully", map[string]interface{}{
		"order_id":     orderID,
		"total_amount": order.TotalAmount.String(),
	})
	return Result{Outcome: OutcomePersisted, Order: order}
}
