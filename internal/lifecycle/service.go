// internal/lifecycle/service.go
package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action is a counterparty's decision on a pending request.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Service drives transaction requests through their lifecycle.
type Service interface {
	CreateSale(ctx context.Context, requesterID, productID uuid.UUID) (*Request, error)
	CreateRent(ctx context.Context, requesterID, productID uuid.UUID, startDate, endDate string) (*Request, error)
	CreateSwap(ctx context.Context, requesterID, targetProductID, offeredProductID uuid.UUID, message string) (*Request, error)
	// Respond applies the counterparty's approve/reject decision. Only the
	// counterparty may decide (ErrUnauthorized), and only while the request
	// is PENDING (ErrInvalidTransition).
	Respond(ctx context.Context, callerID, requestID uuid.UUID, action Action) (*Request, error)
	// Cancel withdraws a request. While PENDING only the original requester
	// may cancel; an APPROVED rental may be called off by either party.
	Cancel(ctx context.Context, callerID, requestID uuid.UUID) (*Request, error)
	// SweepExpiredRentals completes approved rentals whose end date has
	// passed and releases their holds. Returns the number completed.
	SweepExpiredRentals(ctx context.Context, now time.Time) (int, error)
}

// ProductRegistry is the slice of the product registry the lifecycle needs.
// Implementations report a lost status race as ErrConflict and a missing
// product as ErrNotFound.
type ProductRegistry interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	ReserveProduct(ctx context.Context, id uuid.UUID) error
	ReleaseProduct(ctx context.Context, id uuid.UUID) error
	MarkSold(ctx context.Context, id uuid.UUID) error
	ExchangeOwners(ctx context.Context, a, b uuid.UUID) error
}
