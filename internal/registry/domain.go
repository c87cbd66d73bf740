// internal/registry/domain.go
package registry

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("product not found")
	ErrConflict = errors.New("product is not available")
)

// Listing types.
const (
	ListingSale = "sale"
	ListingRent = "rent"
	ListingSwap = "swap"
)

// Product statuses.
const (
	StatusAvailable = "available"
	StatusReserved  = "reserved"
	StatusSold      = "sold"
	StatusExchanged = "exchanged"
)

// Product is a listed item: something a user sells, rents out, or offers for
// swap. The engine reads ownership and price from it and drives its status
// through available → reserved → sold/exchanged.
type Product struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Price       float64   `json:"price"`
	ListingType string    `json:"listing_type"`
	Status      string    `json:"status"`
	ImageURL    string    `json:"image_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
