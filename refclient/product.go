package refclient

import (
	"context"
	"fmt"
	"net/url"

	"github.com/opscale-io/orderflow/core"
)

// ProductClient fetches product reference records.
type ProductClient struct {
	*client
}

// NewProductClient creates a client for the product service.
func NewProductClient(baseURL string, logger core.Logger) *ProductClient {
	return &ProductClient{client: newClient("product-service", baseURL, logger)}
}

// GetProduct fetches a product by id.
func (c *ProductClient) GetProduct(ctx context.Context, productID string) (*core.Product, error) {
	if productID == "" {
		return nil, fmt.Errorf("product id is required: %w", core.ErrPermanent)
	}

	var product core.Product
	if err := c.getJSON(ctx, "/api/products/"+url.PathEscape(productID), &product); err != nil {
		return nil, err
	}

	c.logger.Debug("Fetched product", map[string]interface{}{
		"product_id": product.ID,
		"active":     product.Active,
	})
	return &product, nil
}

// ListProducts fetches every product the service knows about.
func (c *ProductClient) ListProducts(ctx context.Context) ([]core.Product, error) {
	var products []core.Product
	if err := c.getJSON(ctx, "/api/products", &products); err != nil {
		return nil, err
	}
	return products, nil
}
