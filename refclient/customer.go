package refclient

import (
	"context"
	"fmt"
	"net/url"

	"github.com/opscale-io/orderflow/core"
)

// CustomerClient fetches customer reference records.
type CustomerClient struct {
	*client
}

// NewCustomerClient creates a client for the customer service.
func NewCustomerClient(baseURL string, logger core.Logger) *CustomerClient {
	return &CustomerClient{client: newClient("customer-service", baseURL, logger)}
}

// GetCustomer fetches a customer by id.
func (c *CustomerClient) GetCustomer(ctx context.Context, customerID string) (*core.Customer, error) {
	if customerID == "" {
		return nil, fmt.Errorf("customer id is required: %w", core.ErrPermanent)
	}

	var customer core.Customer
	if err := c.getJSON(ctx, "/api/customers/"+url.PathEscape(customerID), &customer); err != nil {
		return nil, err
	}

	if status, ok := core.ParseCustomerStatus(string(customer.Status)); ok {
		customer.Status = status
	} else {
		// Unknown statuses are kept verbatim; validation treats anything
		// that is not "active" as a rejection.
		c.logger.Warn("Unknown customer status", map[string]interface{}{
			"customer_id": customer.ID,
			"status":      string(customer.Status),
		})
	}

	c.logger.Debug("Fetched customer", map[string]interface{}{
		"customer_id": customer.ID,
		"status":      string(customer.Status),
	})
	return &customer, nil
}

// ListCustomers fetches every customer the service knows about.
func (c *CustomerClient) ListCustomers(ctx context.Context) ([]core.Customer, error) {
	var customers []core.Customer
	if err := c.getJSON(ctx, "/api/customers", &customers); err != nil {
		return nil, err
	}
	return customers, nil
}
