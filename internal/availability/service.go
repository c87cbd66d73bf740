// internal/availability/service.go
package availability

import (
	"context"

	"github.com/google/uuid"
)

// Service answers "is this date range free?" and maintains the set of live
// rental holds. A hold exists while its request is PENDING or APPROVED;
// releasing it returns the days to availability.
type Service interface {
	// QueryBusyDates returns every reserved day for the product, sorted.
	QueryBusyDates(ctx context.Context, productID uuid.UUID) ([]string, error)
	// CheckConflict reports whether any day in the range is already held.
	CheckConflict(ctx context.Context, productID uuid.UUID, span DateRange) (bool, error)
	// Reserve atomically checks and places a hold; ErrConflict when any day
	// in the range is already held at the instant of reservation.
	Reserve(ctx context.Context, productID uuid.UUID, span DateRange, requestID uuid.UUID) error
	// Release drops the hold for a request. Unknown request IDs are a no-op.
	Release(ctx context.Context, productID, requestID uuid.UUID) error
}
