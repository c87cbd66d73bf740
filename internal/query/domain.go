// internal/query/domain.go
package query

import (
	"time"

	"github.com/google/uuid"
)

// RequestView is the client-facing shape of a transaction request, joined
// with product and counterparty display data.
type RequestView struct {
	ID               uuid.UUID `json:"id"`
	Status           string    `json:"status"`
	TransactionType  string    `json:"transaction_type"`
	ProductTitle     string    `json:"product_title"`
	ProductImage     string    `json:"product_image,omitempty"`
	Price            float64   `json:"price"`
	StartDate        string    `json:"start_date,omitempty"`
	EndDate          string    `json:"end_date,omitempty"`
	BuyerName        string    `json:"buyer_name"`
	SellerName       string    `json:"seller_name"`
	Message          string    `json:"message,omitempty"`
	SwapProductTitle string    `json:"swap_product_title,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// SwapOfferView is one swap offer received on a product, shown to the owner.
type SwapOfferView struct {
	ID                  uuid.UUID `json:"offer_id"`
	Status              string    `json:"status"`
	Message             string    `json:"message,omitempty"`
	OffererName         string    `json:"offerer_name"`
	OfferedProductID    uuid.UUID `json:"offered_product_id"`
	OfferedProductTitle string    `json:"offered_product_title"`
	CreatedAt           time.Time `json:"created_at"`
}
