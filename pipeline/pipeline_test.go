package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opscale-io/orderflow/core"
	"github.com/opscale-io/orderflow/dlock"
	"github.com/opscale-io/orderflow/enrich"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeStore struct {
	mu     sync.Mutex
	orders map[string]*core.Order

	existsErr error
	saveErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: make(map[string]*core.Order)}
}

func (s *fakeStore) Save(_ context.Context, order *core.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if _, ok := s.orders[order.OrderID]; ok {
		return core.ErrOrderExists
	}
	s.orders[order.OrderID] = order
	return nil
}

func (s *fakeStore) ExistsByOrderID(_ context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsErr != nil {
		return false, s.existsErr
	}
	_, ok := s.orders[orderID]
	return ok, nil
}

type fakeLease struct {
	mu       sync.Mutex
	released bool
	extended bool
}

func (l *fakeLease) Release(context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
	return true
}

func (l *fakeLease) Extend(context.Context, time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extended = true
	return true
}

// fakeLocker grants at most one lease per name until it is released.
type fakeLocker struct {
	mu     sync.Mutex
	held   map[string]bool
	leases []*fakeLease
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (f *fakeLocker) Acquire(_ context.Context, name string, _ time.Duration) (Lease, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[name] {
		return nil, false
	}
	f.held[name] = true
	lease := &fakeLease{}
	f.leases = append(f.leases, lease)
	return &trackedLease{lease: lease, locker: f, name: name}, true
}

type trackedLease struct {
	lease  *fakeLease
	locker *fakeLocker
	name   string
}

func (t *trackedLease) Release(ctx context.Context) bool {
	t.locker.mu.Lock()
	delete(t.locker.held, t.name)
	t.locker.mu.Unlock()
	return t.lease.Release(ctx)
}

func (t *trackedLease) Extend(ctx context.Context, ttl time.Duration) bool {
	return t.lease.Extend(ctx, ttl)
}

type fakeEnricher struct {
	result *enrich.Result
	err    error
	delay  time.Duration
	calls  int64
	mu     sync.Mutex
}

func (f *fakeEnricher) Enrich(ctx context.Context, customerID string, productIDs []string) (*enrich.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func goodEnrichment() *enrich.Result {
	return &enrich.Result{
		Customer: core.CustomerDetails{
			CustomerID:     "CUST-001",
			Status:         core.CustomerActive,
			CreditLimit:    d("5000.00"),
			CurrentBalance: d("100.00"),
		},
		Lines: []core.OrderLine{
			{ProductID: "PROD-001", Price: d("1999.99"), Active: true},
			{ProductID: "PROD-002", Price: d("1499.99"), Active: true},
		},
	}
}

func testIntent() *core.OrderIntent {
	return &core.OrderIntent{
		OrderID:    "ORD-001",
		CustomerID: "CUST-001",
		ProductIDs: []string{"PROD-001", "PROD-002"},
	}
}

func TestProcessPersists(t *testing.T) {
	store := newFakeStore()
	locker := newFakeLocker()
	p := New(store, locker, &fakeEnricher{result: goodEnrichment()}, 30*time.Second, nil)

	res := p.Process(context.Background(), testIntent())

	assert.Equal(t, OutcomePersisted, res.Outcome)
	assert.True(t, res.Outcome.Success())
	require.NotNil(t, res.Order)
	assert.Equal(t, core.OrderCompleted, res.Order.Status)
	assert.True(t, res.Order.TotalAmount.Equal(d("3499.98")))
	assert.Equal(t, "CUST-001", res.Order.CustomerDetails.CustomerID)

	saved, ok := store.orders["ORD-001"]
	require.True(t, ok)
	assert.Len(t, saved.Products, 2)

	// Lock released, name carries the order prefix.
	require.Len(t, locker.leases, 1)
	assert.True(t, locker.leases[0].released)
	assert.False(t, locker.held[dlock.LockKeyPrefix+"ORD-001"])
}

func TestProcessSkipsExisting(t *testing.T) {
	store := newFakeStore()
	store.orders["ORD-001"] = &core.Order{OrderID: "ORD-001"}

	enricher := &fakeEnricher{result: goodEnrichment()}
	p := New(store, newFakeLocker(), enricher, 30*time.Second, nil)

	res := p.Process(context.Background(), testIntent())

	assert.Equal(t, OutcomeSkippedExisting, res.Outcome)
	assert.True(t, res.Outcome.Success())
	assert.Zero(t, enricher.calls)
}

func TestProcessSkipsLocked(t *testing.T) {
	locker := newFakeLocker()
	_, ok := locker.Acquire(context.Background(), dlock.LockKeyPrefix+"ORD-001", time.Minute)
	require.True(t, ok)

	p := New(newFakeStore(), locker, &fakeEnricher{result: goodEnrichment()}, 30*time.Second, nil)
	res := p.Process(context.Background(), testIntent())

	assert.Equal(t, OutcomeSkippedLocked, res.Outcome)
	assert.True(t, res.Outcome.Success())
}

func TestProcessEnrichmentFailures(t *testing.T) {
	t.Run("transient", func(t *testing.T) {
		locker := newFakeLocker()
		p := New(newFakeStore(), locker, &fakeEnricher{err: core.ErrTransient}, 30*time.Second, nil)

		res := p.Process(context.Background(), testIntent())
		assert.Equal(t, OutcomeEnrichmentFailed, res.Outcome)
		assert.False(t, res.Outcome.Success())
		assert.ErrorIs(t, res.Err, core.ErrTransient)
		assert.True(t, locker.leases[0].released)
	})

	t.Run("permanent", func(t *testing.T) {
		p := New(newFakeStore(), newFakeLocker(), &fakeEnricher{err: core.ErrNotFound}, 30*time.Second, nil)

		res := p.Process(context.Background(), testIntent())
		assert.Equal(t, OutcomeEnrichmentDenied, res.Outcome)
		assert.ErrorIs(t, res.Err, core.ErrNotFound)
	})
}

func TestProcessValidationRejection(t *testing.T) {
	enrichment := goodEnrichment()
	enrichment.Customer.Status = core.CustomerBlocked

	store := newFakeStore()
	p := New(store, newFakeLocker(), &fakeEnricher{result: enrichment}, 30*time.Second, nil)

	res := p.Process(context.Background(), testIntent())

	assert.Equal(t, OutcomeDroppedValidation, res.Outcome)
	assert.False(t, res.Outcome.Success())
	assert.True(t, core.IsPermanent(res.Err))
	assert.Empty(t, store.orders)
}

func TestProcessEmptyLinesDropped(t *testing.T) {
	enrichment := goodEnrichment()
	enrichment.Lines = nil

	p := New(newFakeStore(), newFakeLocker(), &fakeEnricher{result: enrichment}, 30*time.Second, nil)

	intent := testIntent()
	intent.ProductIDs = nil
	res := p.Process(context.Background(), intent)

	assert.Equal(t, OutcomeDroppedValidation, res.Outcome)
	assert.True(t, core.IsPermanent(res.Err))
}

func TestProcessStoreConflict(t *testing.T) {
	store := newFakeStore()
	store.saveErr = core.ErrOrderExists

	locker := newFakeLocker()
	p := New(store, locker, &fakeEnricher{result: goodEnrichment()}, 30*time.Second, nil)

	res := p.Process(context.Background(), testIntent())

	assert.Equal(t, OutcomeStoreConflict, res.Outcome)
	assert.True(t, res.Outcome.Success())
	assert.True(t, locker.leases[0].released)
}

func TestProcessStoreError(t *testing.T) {
	store := newFakeStore()
	store.saveErr = core.ErrTransient

	p := New(store, newFakeLocker(), &fakeEnricher{result: goodEnrichment()}, 30*time.Second, nil)

	res := p.Process(context.Background(), testIntent())
	assert.Equal(t, OutcomeEnrichmentFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, core.ErrTransient)
}

func TestProcessExistsCheckError(t *testing.T) {
	store := newFakeStore()
	store.existsErr = core.ErrTransient

	p := New(store, newFakeLocker(), &fakeEnricher{result: goodEnrichment()}, 30*time.Second, nil)

	res := p.Process(context.Background(), testIntent())
	assert.Equal(t, OutcomeEnrichmentFailed, res.Outcome)
}

// A slow enrichment triggers a lease extension before the save.
func TestProcessExtendsLeaseWhenSlow(t *testing.T) {
	locker := newFakeLocker()
	p := New(newFakeStore(), locker, &fakeEnricher{result: goodEnrichment()}, 30*time.Second, nil)

	base := time.Now()
	calls := 0
	p.now = func() time.Time {
		calls++
		if calls == 1 {
			return base
		}
		return base.Add(20 * time.Second)
	}

	res := p.Process(context.Background(), testIntent())
	require.Equal(t, OutcomePersisted, res.Outcome)
	assert.True(t, locker.leases[0].extended)
}

// Two concurrent deliveries of the same order: exactly one persists, the
// other sees the lock or the stored order. Either way no duplicate write.
func TestProcessConcurrentSameOrder(t *testing.T) {
	store := newFakeStore()
	locker := newFakeLocker()
	p := New(store, locker, &fakeEnricher{result: goodEnrichment(), delay: 10 * time.Millisecond}, 30*time.Second, nil)

	const workers = 4
	outcomes := make([]Outcome, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = p.Process(context.Background(), testIntent()).Outcome
		}(i)
	}
	wg.Wait()

	persisted := 0
	for _, o := range outcomes {
		assert.True(t, o.Success())
		if o == OutcomePersisted {
			persisted++
		}
	}
	assert.Equal(t, 1, persisted)
	assert.Len(t, store.orders, 1)
}

func TestProcessDistinctOrdersProceedIndependently(t *testing.T) {
	store := newFakeStore()
	p := New(store, newFakeLocker(), &fakeEnricher{result: goodEnrichment()}, 30*time.Second, nil)

	for _, id := range []string{"ORD-001", "ORD-002", "ORD-003"} {
		intent := testIntent()
		intent.OrderID = id
		res := p.Process(context.Background(), intent)
		assert.Equal(t, OutcomePersisted, res.Outcome)
	}
	assert.Len(t, store.orders, 3)
}

func TestOutcomeSuccess(t *testing.T) {
	assert.True(t, OutcomePersisted.Success())
	assert.True(t, OutcomeSkippedExisting.Success())
	assert.True(t, OutcomeSkippedLocked.Success())
	assert.True(t, OutcomeStoreConflict.Success())

	assert.False(t, OutcomeDroppedValidation.Success())
	assert.False(t, OutcomeEnrichmentFailed.Success())
	assert.False(t, OutcomeEnrichmentDenied.Success())
}
