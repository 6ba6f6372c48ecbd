// Package refclient implements the HTTP clients for the product and
// customer reference services. Each client maps response codes onto the
// worker's error taxonomy and is guarded by its own circuit breaker:
//
//	200          -> decoded record
//	404          -> core.ErrNotFound (permanent)
//	other 4xx    -> core.ErrPermanent
//	5xx, network -> core.ErrTransient
//
// Retry policy is applied by callers, not here.
package refclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opscale-io/orderflow/core"
	"github.com/opscale-io/orderflow/resilience"
)

// requestTimeout bounds every individual attempt against a reference service.
const requestTimeout = 10 * time.Second

type client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     core.Logger
}

func newClient(name, baseURL string, logger core.Logger) *client {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	breaker, err := resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig(name))
	if err != nil {
		// DefaultBreakerConfig is always valid; reaching this is a bug.
		panic(err)
	}

	return &client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   requestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: breaker,
		logger:  logger,
	}
}

// getJSON issues GET baseURL+path and decodes a 200 body into out.
// Calls rejected by an open breaker surface as a synthetic transient error.
func (c *client) getJSON(ctx context.Context, path string, out interface{}) error {
	if !c.breaker.CanExecute() {
		c.logger.Warn("Reference call rejected by circuit breaker", map[string]interface{}{
			"client": c.name,
			"path":   path,
		})
		return fmt.Errorf("%s: circuit breaker open: %w", c.name, core.ErrCircuitBreakerOpen)
	}

	err := c.doGetJSON(ctx, path, out)
	if err != nil && core.IsTransient(err) {
		c.breaker.RecordFailure()
	} else {
		// A definitive answer, including 404, means the service is healthy.
		c.breaker.RecordSuccess()
	}
	return err
}

func (c *client) doGetJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", c.name, core.ErrPermanent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", c.name, err, classifyNetError(err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: decoding response: %v: %w", c.name, err, core.ErrPermanent)
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: GET %s: %w", c.name, path, core.ErrNotFound)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s: GET %s: status %d: %w", c.name, path, resp.StatusCode, core.ErrTransient)
	default:
		return fmt.Errorf("%s: GET %s: status %d: %w", c.name, path, resp.StatusCode, core.ErrPermanent)
	}
}

// classifyNetError maps transport-level failures. Timeouts and connection
// errors are transient; anything else from the HTTP stack is treated the
// same since it is indistinguishable from an outage at this layer.
func classifyNetError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return core.ErrTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.ErrTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.ErrTransient
	}
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return core.ErrTransient
}

// BreakerState exposes the breaker state for logging and tests.
func (c *client) BreakerState() string {
	return c.breaker.GetState()
}
