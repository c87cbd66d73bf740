// internal/query/service.go
package query

import (
	"context"

	"github.com/google/uuid"
)

// Service produces the two request views the client renders.
type Service interface {
	// Incoming returns requests the user must decide on, newest first.
	Incoming(ctx context.Context, userID uuid.UUID) ([]RequestView, error)
	// Outgoing returns requests the user made, newest first.
	Outgoing(ctx context.Context, userID uuid.UUID) ([]RequestView, error)
	// OffersForProduct lists swap offers received on one product; only the
	// product owner may look.
	OffersForProduct(ctx context.Context, callerID, productID uuid.UUID) ([]SwapOfferView, error)
}
