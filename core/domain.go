package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CustomerStatus is the lifecycle state of a customer account.
type CustomerStatus string

const (
	CustomerActive    CustomerStatus = "active"
	CustomerInactive  CustomerStatus = "inactive"
	CustomerSuspended CustomerStatus = "suspended"
	CustomerBlocked   CustomerStatus = "blocked"
)

// ParseCustomerStatus maps the wire representation to a CustomerStatus.
// Matching is case-insensitive; unknown values are reported as not ok so
// callers can decide how to treat them.
func ParseCustomerStatus(s string) (CustomerStatus, bool) {
	switch CustomerStatus(strings.ToLower(s)) {
	case CustomerActive:
		return CustomerActive, true
	case CustomerInactive:
		return CustomerInactive, true
	case CustomerSuspended:
		return CustomerSuspended, true
	case CustomerBlocked:
		return CustomerBlocked, true
	}
	return CustomerStatus(s), false
}

// Product is a reference record from the product service. Immutable from
// the worker's perspective.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Customer is a reference record from the customer service.
type Customer struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	Status         CustomerStatus  `json:"status"`
	CreditLimit    decimal.Decimal `json:"creditLimit"`
	CurrentBalance decimal.Decimal `json:"currentBalance"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// IsActive reports whether the customer may place orders.
func (c Customer) IsActive() bool {
	return c.Status == CustomerActive
}

// AvailableCredit returns creditLimit - currentBalance. The worker expects
// this to be non-negative but does not enforce it.
func (c Customer) AvailableCredit() decimal.Decimal {
	return c.CreditLimit.Sub(c.CurrentBalance)
}

// CustomerDetails is the customer snapshot embedded in a persisted order.
type CustomerDetails struct {
	CustomerID     string          `json:"customerId"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	Status         CustomerStatus  `json:"status"`
	CreditLimit    decimal.Decimal `json:"creditLimit"`
	CurrentBalance decimal.Decimal `json:"currentBalance"`
}

// Snapshot builds the order-embedded view of a customer.
func (c Customer) Snapshot() CustomerDetails {
	return CustomerDetails{
		CustomerID:     c.ID,
		Name:           c.Name,
		Email:          c.Email,
		Status:         c.Status,
		CreditLimit:    c.CreditLimit,
		CurrentBalance: c.CurrentBalance,
	}
}

// IsActive reports whether the snapshotted customer was active.
func (d CustomerDetails) IsActive() bool {
	return d.Status == CustomerActive
}

// HasAvailableCredit reports whether amount fits in the remaining credit.
func (d CustomerDetails) HasAvailableCredit(amount decimal.Decimal) bool {
	return d.CreditLimit.Sub(d.CurrentBalance).Cmp(amount) >= 0
}

// OrderLine is the snapshot of a product at enrichment time.
type OrderLine struct {
	ProductID   string          `json:"productId"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Active      bool            `json:"active"`
}

// LineFromProduct snapshots a product into an order line.
func LineFromProduct(p *Product) OrderLine {
	return OrderLine{
		ProductID:   p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Active:      p.Active,
	}
}

// OrderStatus is the lifecycle state of a persisted order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderFailed     OrderStatus = "failed"
)

// canTransition encodes pending -> processing -> {completed, failed}.
// Terminal states are absorbing.
func (s OrderStatus) canTransition(to OrderStatus) bool {
	switch s {
	case OrderPending:
		return to == OrderProcessing
	case OrderProcessing:
		return to == OrderCompleted || to == OrderFailed
	}
	return false
}

// Order is the fully denormalized document written to the store.
type Order struct {
	OrderID         string          `json:"orderId"`
	CustomerID      string          `json:"customerId"`
	Products        []OrderLine     `json:"products"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Status          OrderStatus     `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	CustomerDetails CustomerDetails `json:"customerDetails"`
}

// NewOrder builds a pending order from enriched lines. The total is the
// exact decimal sum of the line prices.
func NewOrder(orderID, customerID string, lines []OrderLine) *Order {
	now := time.Now().UTC()
	return &Order{
		OrderID:     orderID,
		CustomerID:  customerID,
		Products:    lines,
		TotalAmount: TotalOf(lines),
		Status:      OrderPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TotalOf sums line prices with decimal arithmetic.
func TotalOf(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Price)
	}
	return total
}

// EnrichWithCustomer attaches the customer snapshot.
func (o *Order) EnrichWithCustomer(details CustomerDetails) {
	o.CustomerDetails = details
	o.touch()
}

// MarkProcessing moves the order to processing if the transition is legal.
func (o *Order) MarkProcessing() bool { return o.transition(OrderProcessing) }

// MarkCompleted moves the order to completed if the transition is legal.
func (o *Order) MarkCompleted() bool { return o.transition(OrderCompleted) }

// MarkFailed moves the order to failed if the transition is legal.
func (o *Order) MarkFailed() bool { return o.transition(OrderFailed) }

func (o *Order) transition(to OrderStatus) bool {
	if !o.Status.canTransition(to) {
		return false
	}
	o.Status = to
	o.touch()
	return true
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
	if o.UpdatedAt.Before(o.CreatedAt) {
		o.UpdatedAt = o.CreatedAt
	}
}
