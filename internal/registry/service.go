// internal/registry/service.go
package registry

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the product registry.
type Service interface {
	AddProduct(ctx context.Context, ownerID uuid.UUID, title, description, category string, price float64, listingType, imageURL string) (*Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	// ReserveProduct flips available → reserved in a single guarded write;
	// ErrConflict when the product is already reserved, sold, or exchanged.
	ReserveProduct(ctx context.Context, id uuid.UUID) error
	// ReleaseProduct flips reserved → available. Releasing a product that is
	// not reserved is a no-op.
	ReleaseProduct(ctx context.Context, id uuid.UUID) error
	// MarkSold flips reserved → sold.
	MarkSold(ctx context.Context, id uuid.UUID) error
	// ExchangeOwners swaps ownership of both products and marks them
	// exchanged, in one transaction. Both must be reserved.
	ExchangeOwners(ctx context.Context, a, b uuid.UUID) error
}
