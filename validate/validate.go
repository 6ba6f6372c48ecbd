// Package validate applies the business rules an enriched order must pass
// before persistence. Rules are evaluated in order and short-circuit on
// the first failure.
package validate

import (
	"fmt"

	"github.com/opscale-io/orderflow/core"
)

// Rejection codes.
const (
	CodeCustomerInactive   = "CustomerInactive"
	CodeProductInactive    = "ProductInactive"
	CodeInsufficientCredit = "InsufficientCredit"
)

// Result reports whether an order passed validation and, if not, why.
type Result struct {
	Valid  bool
	Code   string
	Reason string
}

// Err converts a failed result into the permanent error the ledger
// dead-letters. Returns nil for a valid result.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &core.ValidationError{Code: r.Code, Detail: r.Reason}
}

// Order checks, in sequence: the customer is active, every product line is
// active, and the order total fits the customer's available credit.
func Order(customer core.CustomerDetails, lines []core.OrderLine) Result {
	if !customer.IsActive() {
		return Result{
			Code:   CodeCustomerInactive,
			Reason: fmt.Sprintf("customer %s has status %s", customer.CustomerID, customer.Status),
		}
	}

	for _, line := range lines {
		if !line.Active {
			return Result{
				Code:   CodeProductInactive,
				Reason: fmt.Sprintf("product %s is not active", line.ProductID),
			}
		}
	}

	total := core.TotalOf(lines)
	if !customer.HasAvailableCredit(total) {
		available := customer.CreditLimit.Sub(customer.CurrentBalance)
		return Result{
			Code: CodeInsufficientCredit,
			Reason: fmt.Sprintf("customer %s has %s available, order total is %s",
				customer.CustomerID, available.String(), total.String()),
		}
	}

	return Result{Valid: true}
}
