package core

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestTotalOf(t *testing.T) {
	lines := []OrderLine{
		{ProductID: "PROD-001", Price: d("1999.99")},
		{ProductID: "PROD-002", Price: d("1499.99")},
	}

	assert.True(t, TotalOf(lines).Equal(d("3499.98")))
	assert.True(t, TotalOf(nil).IsZero())
}

// Binary floating point would drift on sums like these; the decimal total
// must stay exact.
func TestTotalOfExactness(t *testing.T) {
	lines := make([]OrderLine, 10)
	for i := range lines {
		lines[i] = OrderLine{Price: d("0.10")}
	}
	assert.Equal(t, "1", TotalOf(lines).String())
}

func TestNewOrder(t *testing.T) {
	lines := []OrderLine{
		{ProductID: "PROD-001", Price: d("1999.99"), Active: true},
		{ProductID: "PROD-001", Price: d("1999.99"), Active: true},
	}

	order := NewOrder("ORD-001", "CUST-001", lines)

	assert.Equal(t, "ORD-001", order.OrderID)
	assert.Equal(t, "CUST-001", order.CustomerID)
	assert.Equal(t, OrderPending, order.Status)
	assert.True(t, order.TotalAmount.Equal(d("3999.98")))
	assert.Len(t, order.Products, 2)
	assert.Equal(t, order.CreatedAt, order.UpdatedAt)
}

func TestOrderStatusTransitions(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		order := NewOrder("ORD-001", "CUST-001", nil)
		assert.True(t, order.MarkProcessing())
		assert.True(t, order.MarkCompleted())
		assert.Equal(t, OrderCompleted, order.Status)
	})

	t.Run("failure path", func(t *testing.T) {
		order := NewOrder("ORD-001", "CUST-001", nil)
		assert.True(t, order.MarkProcessing())
		assert.True(t, order.MarkFailed())
		assert.Equal(t, OrderFailed, order.Status)
	})

	t.Run("terminal states absorb", func(t *testing.T) {
		order := NewOrder("ORD-001", "CUST-001", nil)
		order.MarkProcessing()
		order.MarkCompleted()

		assert.False(t, order.MarkProcessing())
		assert.False(t, order.MarkFailed())
		assert.Equal(t, OrderCompleted, order.Status)
	})

	t.Run("pending cannot complete directly", func(t *testing.T) {
		order := NewOrder("ORD-001", "CUST-001", nil)
		assert.False(t, order.MarkCompleted())
		assert.False(t, order.MarkFailed())
		assert.Equal(t, OrderPending, order.Status)
	})
}

func TestParseCustomerStatus(t *testing.T) {
	tests := []struct {
		in   string
		want CustomerStatus
		ok   bool
	}{
		{"active", CustomerActive, true},
		{"ACTIVE", CustomerActive, true},
		{"Inactive", CustomerInactive, true},
		{"suspended", CustomerSuspended, true},
		{"BLOCKED", CustomerBlocked, true},
		{"deleted", CustomerStatus("deleted"), false},
		{"", CustomerStatus(""), false},
	}

	for _, tt := range tests {
		got, ok := ParseCustomerStatus(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestCustomerCredit(t *testing.T) {
	customer := Customer{
		ID:             "CUST-001",
		Status:         CustomerActive,
		CreditLimit:    d("5000.00"),
		CurrentBalance: d("1500.02"),
	}

	assert.True(t, customer.IsActive())
	assert.True(t, customer.AvailableCredit().Equal(d("3499.98")))

	details := customer.Snapshot()
	assert.Equal(t, "CUST-001", details.CustomerID)
	assert.True(t, details.HasAvailableCredit(d("3499.98")))
	assert.False(t, details.HasAvailableCredit(d("3499.99")))
}

func TestLineFromProduct(t *testing.T) {
	p := &Product{
		ID:          "PROD-001",
		Name:        "Laptop",
		Description: "15 inch",
		Price:       d("1999.99"),
		Active:      true,
	}

	line := LineFromProduct(p)
	assert.Equal(t, "PROD-001", line.ProductID)
	assert.Equal(t, "Laptop", line.Name)
	assert.True(t, line.Price.Equal(d("1999.99")))
	assert.True(t, line.Active)
}

// Money fields marshal as JSON strings, so a cache round trip cannot lose
// precision.
func TestProductJSONRoundTrip(t *testing.T) {
	p := Product{ID: "PROD-001", Price: d("1999.99"), Active: true}

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var back Product
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Price.Equal(p.Price))
}
