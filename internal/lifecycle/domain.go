// internal/lifecycle/domain.go
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradecore/internal/availability"
)

var (
	ErrNotFound          = errors.New("transaction request not found")
	ErrConflict          = errors.New("product or date range is already reserved")
	ErrUnauthorized      = errors.New("caller is not allowed to act on this request")
	ErrInvalidTransition = errors.New("request is not in a state that allows this action")
	ErrValidation        = errors.New("invalid transaction request")
)

// Type classifies a transaction request.
type Type string

const (
	TypeSale Type = "SALE"
	TypeRent Type = "RENT"
	TypeSwap Type = "SWAP"
)

// Status is a request's position in the lifecycle. Transitions are monotonic:
// nothing ever returns to PENDING.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
)

// ParseStatus normalizes a wire status of any casing to the canonical form.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(s)) {
	case StatusPending:
		return StatusPending, nil
	case StatusApproved:
		return StatusApproved, nil
	case StatusRejected:
		return StatusRejected, nil
	case StatusCancelled:
		return StatusCancelled, nil
	case StatusCompleted:
		return StatusCompleted, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// CanTransitionTo encodes the state machine. PENDING moves to APPROVED,
// REJECTED, CANCELLED, or straight to COMPLETED (approving a sale or swap
// settles immediately); APPROVED moves to COMPLETED or CANCELLED. Terminal
// states have no outgoing edges.
func (s Status) CanTransitionTo(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusApproved || to == StatusRejected || to == StatusCancelled || to == StatusCompleted
	case StatusApproved:
		return to == StatusCompleted || to == StatusCancelled
	}
	return false
}

// RentDetails carries the inclusive day range of a rental request.
type RentDetails struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// Span returns the reserved range. Construction goes through NewDateRange, so
// the pair is always a valid inclusive range.
func (d RentDetails) Span() availability.DateRange {
	return availability.DateRange{Start: d.StartDate, End: d.EndDate}
}

// SwapDetails carries the product the requester puts up in exchange.
type SwapDetails struct {
	OfferedProductID uuid.UUID `json:"offered_product_id"`
	Message          string    `json:"message,omitempty"`
}

// Request is a buy, rent, or swap request against a listed product. Exactly
// one of the detail fields is set, matching Type; SALE carries neither.
type Request struct {
	ID              uuid.UUID    `json:"id"`
	Type            Type         `json:"transaction_type"`
	Status          Status       `json:"status"`
	RequesterID     uuid.UUID    `json:"requester_id"`
	CounterpartyID  uuid.UUID    `json:"counterparty_id"`
	TargetProductID uuid.UUID    `json:"target_product_id"`
	Price           float64      `json:"price"`
	Rent            *RentDetails `json:"rent,omitempty"`
	Swap            *SwapDetails `json:"swap,omitempty"`
	Version         int          `json:"version"`
	CreatedAt       time.Time    `json:"created_at"`
	DecidedAt       *time.Time   `json:"decided_at,omitempty"`
}

// Validate checks the one-detail-per-type invariant.
func (r *Request) Validate() error {
	switch r.Type {
	case TypeSale:
		if r.Rent != nil || r.Swap != nil {
			return fmt.Errorf("%w: sale request carries rent or swap details", ErrValidation)
		}
	case TypeRent:
		if r.Rent == nil || r.Swap != nil {
			return fmt.Errorf("%w: rent request must carry exactly the date range", ErrValidation)
		}
	case TypeSwap:
		if r.Swap == nil || r.Rent != nil {
			return fmt.Errorf("%w: swap request must carry exactly the offered product", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrValidation, r.Type)
	}
	return nil
}

// Product is the slice of the product registry this package depends on.
type Product struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Title       string    `json:"title"`
	Price       float64   `json:"price"`
	ListingType string    `json:"listing_type"`
	Status      string    `json:"status"`
}

// Event payloads appended to the request history.

type RequestCreatedEvent struct {
	RequestID       uuid.UUID  `json:"request_id"`
	Type            Type       `json:"type"`
	RequesterID     uuid.UUID  `json:"requester_id"`
	CounterpartyID  uuid.UUID  `json:"counterparty_id"`
	TargetProductID uuid.UUID  `json:"target_product_id"`
	Price           float64    `json:"price"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	OfferedProduct  *uuid.UUID `json:"offered_product_id,omitempty"`
}

type RequestDecidedEvent struct {
	RequestID uuid.UUID `json:"request_id"`
	DecidedBy uuid.UUID `json:"decided_by"`
	Status    Status    `json:"status"`
	DecidedAt time.Time `json:"decided_at"`
}

type RequestCompletedEvent struct {
	RequestID   uuid.UUID `json:"request_id"`
	CompletedAt time.Time `json:"completed_at"`
}
