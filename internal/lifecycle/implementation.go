// internal/lifecycle/implementation.go
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"tradecore/internal/availability"
	"tradecore/pkg/eventstore"
)

// History records the append-only lifecycle of every request.
// *eventstore.EventStore satisfies it.
type History interface {
	Append(ctx context.Context, requestID uuid.UUID, expectedVersion int, events []eventstore.Event) error
}

// service implements the Service interface. Creation follows the same shape
// for all three types: guard against the registry, win the atomic reserve
// step, record the event, then write the read model, compensating the reserve
// when a later step fails.
type service struct {
	history      History
	store        Store
	availability availability.Service
	registry     ProductRegistry
	now          func() time.Time
}

// NewService creates a new lifecycle service instance.
func NewService(history History, store Store, avail availability.Service, registry ProductRegistry) Service {
	return &service{
		history:      history,
		store:        store,
		availability: avail,
		registry:     registry,
		now:          time.Now,
	}
}

// CreateSale reserves an available product and opens a PENDING sale request.
func (s *service) CreateSale(ctx context.Context, requesterID, productID uuid.UUID) (*Request, error) {
	product, err := s.registry.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product.OwnerID == requesterID {
		return nil, fmt.Errorf("%w: cannot buy your own product", ErrValidation)
	}
	if product.Status != "available" {
		return nil, fmt.Errorf("%w: product is already reserved or sold", ErrConflict)
	}

	// The atomic step: whichever concurrent buyer flips the status first
	// wins, the other sees ErrConflict.
	if err := s.registry.ReserveProduct(ctx, productID); err != nil {
		return nil, err
	}

	req := s.newRequest(TypeSale, requesterID, product, product.Price)
	if err := s.persistCreated(ctx, req, func() {
		if err := s.registry.ReleaseProduct(ctx, productID); err != nil {
			log.Printf("failed to release product %s after aborted sale request: %v", productID, err)
		}
	}); err != nil {
		return nil, err
	}

	return req, nil
}

// CreateRent places an atomic hold on the date range and opens a PENDING
// rental request priced at days × daily rate, days counting both endpoints.
func (s *service) CreateRent(ctx context.Context, requesterID, productID uuid.UUID, startDate, endDate string) (*Request, error) {
	span, err := availability.ParseDateRange(startDate, endDate)
	if err != nil {
		return nil, err
	}
	if span.Start.Before(today(s.now())) {
		return nil, fmt.Errorf("%w: start date is in the past", availability.ErrInvalidRange)
	}

	product, err := s.registry.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product.OwnerID == requesterID {
		return nil, fmt.Errorf("%w: cannot rent your own product", ErrValidation)
	}
	if product.ListingType != "rent" {
		return nil, fmt.Errorf("%w: product is not listed for rent", ErrValidation)
	}
	if product.Status == "sold" || product.Status == "exchanged" {
		return nil, fmt.Errorf("%w: product is no longer rentable", ErrConflict)
	}

	req := s.newRequest(TypeRent, requesterID, product, float64(span.Days())*product.Price)
	req.Rent = &RentDetails{StartDate: span.Start, EndDate: span.End}

	// The atomic step: check-and-reserve in one write. A PENDING hold keeps
	// competing requesters out until this one is decided.
	if err := s.availability.Reserve(ctx, productID, span, req.ID); err != nil {
		return nil, err
	}

	if err := s.persistCreated(ctx, req, func() {
		if err := s.availability.Release(ctx, productID, req.ID); err != nil {
			log.Printf("failed to release hold for aborted rent request %s: %v", req.ID, err)
		}
	}); err != nil {
		return nil, err
	}

	return req, nil
}

// CreateSwap reserves both products and opens a PENDING swap request.
func (s *service) CreateSwap(ctx context.Context, requesterID, targetProductID, offeredProductID uuid.UUID, message string) (*Request, error) {
	target, err := s.registry.GetProduct(ctx, targetProductID)
	if err != nil {
		return nil, fmt.Errorf("get target product: %w", err)
	}
	offered, err := s.registry.GetProduct(ctx, offeredProductID)
	if err != nil {
		return nil, fmt.Errorf("get offered product: %w", err)
	}

	if offered.OwnerID != requesterID {
		return nil, fmt.Errorf("%w: offered product does not belong to you", ErrUnauthorized)
	}
	if target.OwnerID == requesterID {
		return nil, fmt.Errorf("%w: cannot make an offer on your own product", ErrValidation)
	}
	if target.ListingType != "swap" {
		return nil, fmt.Errorf("%w: product is not open to swap offers", ErrValidation)
	}
	if target.Status != "available" {
		return nil, fmt.Errorf("%w: target product is already reserved or gone", ErrConflict)
	}
	if offered.Status != "available" {
		return nil, fmt.Errorf("%w: offered product is tied up in another transaction", ErrConflict)
	}

	if err := s.registry.ReserveProduct(ctx, targetProductID); err != nil {
		return nil, err
	}
	if err := s.registry.ReserveProduct(ctx, offeredProductID); err != nil {
		if relErr := s.registry.ReleaseProduct(ctx, targetProductID); relErr != nil {
			log.Printf("failed to release target product %s after aborted swap offer: %v", targetProductID, relErr)
		}
		return nil, err
	}

	req := s.newRequest(TypeSwap, requesterID, target, target.Price)
	req.Swap = &SwapDetails{OfferedProductID: offeredProductID, Message: message}

	if err := s.persistCreated(ctx, req, func() {
		for _, id := range []uuid.UUID{targetProductID, offeredProductID} {
			if err := s.registry.ReleaseProduct(ctx, id); err != nil {
				log.Printf("failed to release product %s after aborted swap offer: %v", id, err)
			}
		}
	}); err != nil {
		return nil, err
	}

	return req, nil
}

// Respond applies the counterparty's decision to a PENDING request.
func (s *service) Respond(ctx context.Context, callerID, requestID uuid.UUID, action Action) (*Request, error) {
	if action != ActionApprove && action != ActionReject {
		return nil, fmt.Errorf("%w: action must be approve or reject", ErrValidation)
	}

	req, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.CounterpartyID != callerID {
		return nil, fmt.Errorf("%w: only the product owner may decide", ErrUnauthorized)
	}
	if req.Status != StatusPending {
		return nil, fmt.Errorf("%w: request is %s", ErrInvalidTransition, req.Status)
	}

	var next Status
	if action == ActionApprove {
		// Sales and swaps settle the moment they are approved; a rental
		// stays APPROVED and holds its dates until the end date passes.
		if req.Type == TypeRent {
			next = StatusApproved
		} else {
			next = StatusCompleted
		}
	} else {
		next = StatusRejected
	}

	// Settling effects run before the decision is recorded: the registry CAS
	// is the single-winner step, and a failed registry call leaves the
	// request PENDING so the approval can be retried.
	if next == StatusCompleted {
		if err := s.applyCompletionEffects(ctx, req); err != nil {
			return nil, err
		}
	}

	decidedAt := s.now().UTC()
	if err := s.transition(ctx, req, next, callerID, decidedAt); err != nil {
		return nil, err
	}

	if next == StatusRejected {
		if err := s.releaseHolds(ctx, req); err != nil {
			return nil, err
		}
	}

	req.Status = next
	req.DecidedAt = &decidedAt
	req.Version++
	return req, nil
}

// Cancel withdraws a request. While PENDING only the requester may cancel;
// an APPROVED rental may be called off by either party before it runs out,
// which frees the held dates.
func (s *service) Cancel(ctx context.Context, callerID, requestID uuid.UUID) (*Request, error) {
	req, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	switch req.Status {
	case StatusPending:
		if req.RequesterID != callerID {
			return nil, fmt.Errorf("%w: only the requester may cancel", ErrUnauthorized)
		}
	case StatusApproved:
		if req.RequesterID != callerID && req.CounterpartyID != callerID {
			return nil, fmt.Errorf("%w: only a party to the rental may cancel", ErrUnauthorized)
		}
	default:
		return nil, fmt.Errorf("%w: request is %s", ErrInvalidTransition, req.Status)
	}

	decidedAt := s.now().UTC()
	if err := s.transition(ctx, req, StatusCancelled, callerID, decidedAt); err != nil {
		return nil, err
	}

	if err := s.releaseHolds(ctx, req); err != nil {
		return nil, err
	}

	req.Status = StatusCancelled
	req.DecidedAt = &decidedAt
	req.Version++
	return req, nil
}

// SweepExpiredRentals moves approved rentals past their end date to COMPLETED
// and releases their holds.
func (s *service) SweepExpiredRentals(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.store.ListExpiredApprovedRents(ctx, today(now))
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, req := range expired {
		eventData, err := json.Marshal(RequestCompletedEvent{RequestID: req.ID, CompletedAt: now.UTC()})
		if err != nil {
			return completed, fmt.Errorf("marshal completion event: %w", err)
		}
		err = s.history.Append(ctx, req.ID, req.Version, []eventstore.Event{{
			EventType: "RequestCompleted",
			EventData: eventData,
		}})
		if err != nil {
			log.Printf("skipping rental %s: %v", req.ID, err)
			continue
		}

		if err := s.store.UpdateStatus(ctx, req.ID, StatusApproved, StatusCompleted, nil); err != nil {
			log.Printf("failed to complete rental %s: %v", req.ID, err)
			continue
		}
		if err := s.availability.Release(ctx, req.TargetProductID, req.ID); err != nil {
			log.Printf("failed to release hold for completed rental %s: %v", req.ID, err)
		}
		completed++
	}

	return completed, nil
}

func (s *service) newRequest(t Type, requesterID uuid.UUID, product *Product, price float64) *Request {
	return &Request{
		ID:              uuid.New(),
		Type:            t,
		Status:          StatusPending,
		RequesterID:     requesterID,
		CounterpartyID:  product.OwnerID,
		TargetProductID: product.ID,
		Price:           price,
		Version:         1,
		CreatedAt:       s.now().UTC(),
	}
}

// persistCreated records the creation event and the read-model row, invoking
// compensate to undo the reserve step when either write fails.
func (s *service) persistCreated(ctx context.Context, req *Request, compensate func()) error {
	created := RequestCreatedEvent{
		RequestID:       req.ID,
		Type:            req.Type,
		RequesterID:     req.RequesterID,
		CounterpartyID:  req.CounterpartyID,
		TargetProductID: req.TargetProductID,
		Price:           req.Price,
	}
	if req.Rent != nil {
		created.StartDate, created.EndDate = &req.Rent.StartDate, &req.Rent.EndDate
	}
	if req.Swap != nil {
		created.OfferedProduct = &req.Swap.OfferedProductID
	}

	eventData, err := json.Marshal(created)
	if err != nil {
		compensate()
		return fmt.Errorf("marshal creation event: %w", err)
	}

	err = s.history.Append(ctx, req.ID, 0, []eventstore.Event{{
		EventType: "RequestCreated",
		EventData: eventData,
	}})
	if err != nil {
		compensate()
		return fmt.Errorf("append creation event: %w", err)
	}

	if err := s.store.Insert(ctx, req); err != nil {
		compensate()
		return fmt.Errorf("insert request: %w", err)
	}

	return nil
}

// transition records the decision event and applies the guarded read-model
// update. The event append's version check and the store's status guard each
// independently reject a concurrent second decision.
func (s *service) transition(ctx context.Context, req *Request, next Status, decidedBy uuid.UUID, decidedAt time.Time) error {
	if !req.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s cannot become %s", ErrInvalidTransition, req.Status, next)
	}

	eventData, err := json.Marshal(RequestDecidedEvent{
		RequestID: req.ID,
		DecidedBy: decidedBy,
		Status:    next,
		DecidedAt: decidedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal decision event: %w", err)
	}

	err = s.history.Append(ctx, req.ID, req.Version, []eventstore.Event{{
		EventType: eventTypeFor(next),
		EventData: eventData,
	}})
	if err != nil {
		if errors.Is(err, eventstore.ErrVersionConflict) {
			return fmt.Errorf("%w: request was decided concurrently", ErrInvalidTransition)
		}
		return fmt.Errorf("append decision event: %w", err)
	}

	if err := s.store.UpdateStatus(ctx, req.ID, req.Status, next, &decidedAt); err != nil {
		return err
	}

	return nil
}

// applyCompletionEffects settles an approved sale or swap against the
// registry. Both calls are guarded CAS transitions on reserved products, so
// concurrent approvals cannot apply them twice.
func (s *service) applyCompletionEffects(ctx context.Context, req *Request) error {
	switch req.Type {
	case TypeSale:
		if err := s.registry.MarkSold(ctx, req.TargetProductID); err != nil {
			log.Printf("failed to mark product %s sold for request %s: %v", req.TargetProductID, req.ID, err)
			return fmt.Errorf("mark product sold: %w", err)
		}
	case TypeSwap:
		if err := s.registry.ExchangeOwners(ctx, req.TargetProductID, req.Swap.OfferedProductID); err != nil {
			log.Printf("failed to exchange products for request %s: %v", req.ID, err)
			return fmt.Errorf("exchange products: %w", err)
		}
	}
	return nil
}

// releaseHolds returns whatever the request was holding to availability.
func (s *service) releaseHolds(ctx context.Context, req *Request) error {
	switch req.Type {
	case TypeRent:
		if err := s.availability.Release(ctx, req.TargetProductID, req.ID); err != nil {
			return fmt.Errorf("release rental hold: %w", err)
		}
	case TypeSale:
		if err := s.registry.ReleaseProduct(ctx, req.TargetProductID); err != nil {
			return fmt.Errorf("release product: %w", err)
		}
	case TypeSwap:
		if err := s.registry.ReleaseProduct(ctx, req.TargetProductID); err != nil {
			return fmt.Errorf("release target product: %w", err)
		}
		if err := s.registry.ReleaseProduct(ctx, req.Swap.OfferedProductID); err != nil {
			return fmt.Errorf("release offered product: %w", err)
		}
	}
	return nil
}

func eventTypeFor(next Status) string {
	switch next {
	case StatusApproved:
		return "RequestApproved"
	case StatusRejected:
		return "RequestRejected"
	case StatusCancelled:
		return "RequestCancelled"
	case StatusCompleted:
		return "RequestCompleted"
	}
	return "RequestDecided"
}

func today(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
