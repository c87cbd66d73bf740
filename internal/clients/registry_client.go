// internal/clients/registry_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"tradecore/internal/lifecycle"
)

// RegistryClient talks to the product registry service. All calls go through
// a circuit breaker so a dead registry fails fast instead of piling up
// blocked create-request calls. Implements lifecycle.ProductRegistry.
type RegistryClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewRegistryClient(baseURL string) *RegistryClient {
	return &RegistryClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "product-registry",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (c *RegistryClient) GetProduct(ctx context.Context, id uuid.UUID) (*lifecycle.Product, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/products/%s", c.baseURL, id), nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if err := statusError(resp.StatusCode); err != nil {
			return nil, err
		}

		var product lifecycle.Product
		if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
			return nil, err
		}
		return &product, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*lifecycle.Product), nil
}

func (c *RegistryClient) ReserveProduct(ctx context.Context, id uuid.UUID) error {
	return c.post(ctx, fmt.Sprintf("%s/products/%s/reserve", c.baseURL, id), nil)
}

func (c *RegistryClient) ReleaseProduct(ctx context.Context, id uuid.UUID) error {
	return c.post(ctx, fmt.Sprintf("%s/products/%s/release", c.baseURL, id), nil)
}

func (c *RegistryClient) MarkSold(ctx context.Context, id uuid.UUID) error {
	return c.post(ctx, fmt.Sprintf("%s/products/%s/sold", c.baseURL, id), nil)
}

func (c *RegistryClient) ExchangeOwners(ctx context.Context, a, b uuid.UUID) error {
	body := struct {
		ProductA uuid.UUID `json:"product_a"`
		ProductB uuid.UUID `json:"product_b"`
	}{ProductA: a, ProductB: b}
	return c.post(ctx, fmt.Sprintf("%s/products/exchange", c.baseURL), body)
}

func (c *RegistryClient) post(ctx context.Context, url string, body interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		var buf bytes.Buffer
		if body != nil {
			if err := json.NewEncoder(&buf).Encode(body); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		return nil, statusError(resp.StatusCode)
	})
	return err
}

// statusError translates registry responses into the lifecycle taxonomy, so
// errors.Is classification works across the service boundary.
func statusError(code int) error {
	switch {
	case code == http.StatusOK || code == http.StatusCreated:
		return nil
	case code == http.StatusNotFound:
		return lifecycle.ErrNotFound
	case code == http.StatusConflict:
		return lifecycle.ErrConflict
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}
