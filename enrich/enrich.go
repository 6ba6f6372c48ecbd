// Package enrich resolves an order intent against the reference services.
// The customer fetch and the product fan-out run concurrently; product
// lines preserve the input order, duplicates included. Every lookup goes
// through the cache first and falls back to the client under the retry
// policy. Cache population is best-effort and never fails the stage.
package enrich

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opscale-io/orderflow/cache"
	"github.com/opscale-io/orderflow/core"
	"github.com/opscale-io/orderflow/refclient"
	"github.com/opscale-io/orderflow/resilience"
)

// Defaults for the stage.
const (
	defaultStageTimeout = 60 * time.Second
	defaultMaxParallel  = 8
)

// Result is the output of a successful enrichment.
type Result struct {
	Customer core.CustomerDetails
	Lines    []core.OrderLine
}

// Options tunes an Enricher beyond its defaults.
type Options struct {
	ProductTTL   time.Duration
	CustomerTTL  time.Duration
	StageTimeout time.Duration
	MaxParallel  int // bound on concurrent product fetches
	Retry        *resilience.RetryConfig
}

// Enricher fetches and snapshots reference data for the pipeline.
type Enricher struct {
	products    *refclient.ProductClient
	customers   *refclient.CustomerClient
	cache       *cache.Cache
	retry       *resilience.RetryConfig
	productTTL  time.Duration
	customerTTL time.Duration
	timeout     time.Duration
	maxParallel int
	logger      core.Logger
}

// New creates an Enricher.
func New(products *refclient.ProductClient, customers *refclient.CustomerClient, c *cache.Cache, opts Options, logger core.Logger) *Enricher {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if opts.ProductTTL <= 0 {
		opts.ProductTTL = time.Hour
	}
	if opts.CustomerTTL <= 0 {
		opts.CustomerTTL = 30 * time.Minute
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = defaultStageTimeout
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = defaultMaxParallel
	}
	if opts.Retry == nil {
		opts.Retry = resilience.DefaultRetryConfig()
	}

	return &Enricher{
		products:    products,
		customers:   customers,
		cache:       c,
		retry:       opts.Retry,
		productTTL:  opts.ProductTTL,
		customerTTL: opts.CustomerTTL,
		timeout:     opts.StageTimeout,
		maxParallel: opts.MaxParallel,
		logger:      logger,
	}
}

// Enrich resolves the customer and every product id concurrently. The
// stage fails fast: a NotFound or other permanent error from any lookup
// aborts the whole stage with that error.
func (e *Enricher) Enrich(ctx context.Context, customerID string, productIDs []string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var customer *core.Customer
	lines := make([]core.OrderLine, len(productIDs))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c, err := e.getCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		customer = c
		return nil
	})

	g.Go(func() error {
		inner, ctx := errgroup.WithContext(ctx)
		inner.SetLimit(e.maxParallel)
		for i, id := range productIDs {
			i, id := i, id
			inner.Go(func() error {
				p, err := e.getProduct(ctx, id)
				if err != nil {
					return err
				}
				lines[i] = core.LineFromProduct(p)
				return nil
			})
		}
		return inner.Wait()
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.logger.Debug("Enrichment complete", map[string]interface{}{
		"customer_id":   customerID,
		"product_count": len(lines),
	})

	return &Result{
		Customer: customer.Snapshot(),
		Lines:    lines,
	}, nil
}

func (e *Enricher) getProduct(ctx context.Context, productID string) (*core.Product, error) {
	key := cache.ProductKeyPrefix + productID

	var cached core.Product
	if hit, _ := e.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	var product *core.Product
	err := resilience.Retry(ctx, e.retry, func() error {
		p, err := e.products.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		product = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enriching product %s: %w", productID, err)
	}

	// Best-effort cache population; a write failure is already logged by
	// the cache and must not fail the stage.
	_ = e.cache.Set(ctx, key, product, e.productTTL)

	return product, nil
}

func (e *Enricher) getCustomer(ctx context.Context, customerID string) (*core.Customer, error) {
	key := cache.CustomerKeyPrefix + customerID

	var cached core.Customer
	if hit, _ := e.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	var customer *core.Customer
	err := resilience.Retry(ctx, e.retry, func() error {
		c, err := e.customers.GetCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		customer = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enriching customer %s: %w", customerID, err)
	}

	_ = e.cache.Set(ctx, key, customer, e.customerTTL)

	return customer, nil
}
