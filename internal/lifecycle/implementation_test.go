package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/availability"
	"tradecore/pkg/eventstore"
)

// memoryHistory is an in-process History with the event store's optimistic
// version check.
type memoryHistory struct {
	mu       sync.Mutex
	versions map[uuid.UUID]int
	events   map[uuid.UUID][]eventstore.Event
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{
		versions: make(map[uuid.UUID]int),
		events:   make(map[uuid.UUID][]eventstore.Event),
	}
}

func (h *memoryHistory) Append(ctx context.Context, requestID uuid.UUID, expectedVersion int, events []eventstore.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.versions[requestID] != expectedVersion {
		return eventstore.ErrVersionConflict
	}
	for i := range events {
		events[i].RequestID = requestID
		events[i].Version = expectedVersion + i + 1
	}
	h.events[requestID] = append(h.events[requestID], events...)
	h.versions[requestID] = expectedVersion + len(events)
	return nil
}

// stubRegistry is a map-backed ProductRegistry with the same compare-and-set
// transition semantics as the real service.
type stubRegistry struct {
	mu       sync.Mutex
	products map[uuid.UUID]*Product
}

func newStubRegistry(products ...*Product) *stubRegistry {
	r := &stubRegistry{products: make(map[uuid.UUID]*Product)}
	for _, p := range products {
		cp := *p
		r.products[p.ID] = &cp
	}
	return r
}

func (r *stubRegistry) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *stubRegistry) transition(id uuid.UUID, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status != from {
		return fmt.Errorf("%w: product is %s", ErrConflict, p.Status)
	}
	p.Status = to
	return nil
}

func (r *stubRegistry) ReserveProduct(ctx context.Context, id uuid.UUID) error {
	return r.transition(id, "available", "reserved")
}

func (r *stubRegistry) ReleaseProduct(ctx context.Context, id uuid.UUID) error {
	return r.transition(id, "reserved", "available")
}

func (r *stubRegistry) MarkSold(ctx context.Context, id uuid.UUID) error {
	return r.transition(id, "reserved", "sold")
}

func (r *stubRegistry) ExchangeOwners(ctx context.Context, a, b uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pa, ok := r.products[a]
	if !ok {
		return ErrNotFound
	}
	pb, ok := r.products[b]
	if !ok {
		return ErrNotFound
	}
	pa.OwnerID, pb.OwnerID = pb.OwnerID, pa.OwnerID
	pa.Status, pb.Status = "exchanged", "exchanged"
	return nil
}

func (r *stubRegistry) status(id uuid.UUID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.products[id].Status
}

func (r *stubRegistry) owner(id uuid.UUID) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.products[id].OwnerID
}

// fixture wires the service against in-memory collaborators with a clock
// frozen on 2025-01-01, well before the ranges the tests reserve.
type fixture struct {
	svc      Service
	history  *memoryHistory
	store    *MemoryStore
	index    *availability.MemoryIndex
	registry *stubRegistry

	owner     uuid.UUID
	requester uuid.UUID
	other     uuid.UUID
}

func newFixture(t *testing.T, products ...*Product) *fixture {
	t.Helper()

	f := &fixture{
		history:   newMemoryHistory(),
		store:     NewMemoryStore(),
		index:     availability.NewMemoryIndex(),
		registry:  newStubRegistry(products...),
		owner:     uuid.New(),
		requester: uuid.New(),
		other:     uuid.New(),
	}
	f.svc = &service{
		history:      f.history,
		store:        f.store,
		availability: f.index,
		registry:     f.registry,
		now: func() time.Time {
			return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		},
	}
	return f
}

func (f *fixture) rentable(price float64) *Product {
	p := &Product{
		ID:          uuid.New(),
		OwnerID:     f.owner,
		Title:       "Mountain Bike",
		Price:       price,
		ListingType: "rent",
		Status:      "available",
	}
	f.registry.mu.Lock()
	f.registry.products[p.ID] = p
	f.registry.mu.Unlock()
	return p
}

func (f *fixture) listed(listingType string, ownerID uuid.UUID) *Product {
	p := &Product{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Title:       "Camera",
		Price:       500,
		ListingType: listingType,
		Status:      "available",
	}
	f.registry.mu.Lock()
	f.registry.products[p.ID] = p
	f.registry.mu.Unlock()
	return p
}

func TestCreateRentPricesInclusiveDays(t *testing.T) {
	f := newFixture(t)
	product := f.rentable(100)

	req, err := f.svc.CreateRent(context.Background(), f.requester, product.ID, "2025-01-10", "2025-01-12")
	require.NoError(t, err)

	assert.Equal(t, TypeRent, req.Type)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, f.owner, req.CounterpartyID)
	assert.Equal(t, 300.0, req.Price, "3 inclusive days at 100/day")

	busy, err := f.index.QueryBusyDates(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-10", "2025-01-11", "2025-01-12"}, busy)
}

func TestCreateRentOverlapConflict(t *testing.T) {
	f := newFixture(t)
	product := f.rentable(100)

	_, err := f.svc.CreateRent(context.Background(), f.requester, product.ID, "2025-01-10", "2025-01-12")
	require.NoError(t, err)

	// A PENDING hold keeps the range busy for everyone else.
	_, err = f.svc.CreateRent(context.Background(), f.other, product.ID, "2025-01-11", "2025-01-14")
	assert.ErrorIs(t, err, availability.ErrConflict)

	// A disjoint range is still open.
	_, err = f.svc.CreateRent(context.Background(), f.other, product.ID, "2025-01-13", "2025-01-14")
	assert.NoError(t, err)
}

func TestCreateRentValidation(t *testing.T) {
	f := newFixture(t)
	product := f.rentable(100)

	t.Run("end before start", func(t *testing.T) {
		_, err := f.svc.CreateRent(context.Background(), f.requester, product.ID, "2025-01-12", "2025-01-10")
		assert.ErrorIs(t, err, availability.ErrInvalidRange)
	})

	t.Run("malformed date", func(t *testing.T) {
		_, err := f.svc.CreateRent(context.Background(), f.requester, product.ID, "10/01/2025", "2025-01-12")
		assert.ErrorIs(t, err, availability.ErrInvalidRange)
	})

	t.Run("start in the past", func(t *testing.T) {
		_, err := f.svc.CreateRent(context.Background(), f.requester, product.ID, "2024-12-28", "2025-01-02")
		assert.ErrorIs(t, err, availability.ErrInvalidRange)
	})

	t.Run("own product", func(t *testing.T) {
		_, err := f.svc.CreateRent(context.Background(), f.owner, product.ID, "2025-01-10", "2025-01-12")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("not listed for rent", func(t *testing.T) {
		sale := f.listed("sale", f.owner)
		_, err := f.svc.CreateRent(context.Background(), f.requester, sale.ID, "2025-01-10", "2025-01-12")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("unknown product", func(t *testing.T) {
		_, err := f.svc.CreateRent(context.Background(), f.requester, uuid.New(), "2025-01-10", "2025-01-12")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRejectFreesRange(t *testing.T) {
	f := newFixture(t)
	product := f.rentable(100)

	req, err := f.svc.CreateRent(context.Background(), f.requester, product.ID, "2025-01-10", "2025-01-12")
	require.NoError(t, err)

	decided, err := f.svc.Respond(context.Background(), f.owner, req.ID, ActionReject)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, decided.Status)
	require.NotNil(t, decided.DecidedAt)

	busy, err := f.index.QueryBusyDates(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Empty(t, busy, "rejection must free the whole range")

	// The exact same range is immediately reservable again.
	_, err = f.svc.CreateRent(context.Background(), f.other, product.ID, "2025-01-10", "2025-01-12")
	assert.NoError(t, err)
}

func TestApproveRentHoldsRangeUntilSweep(t *testing.T) {
	f := newFixture(t)
	product := f.rentable(100)

	req, err := f.svc.CreateRent(context.Background(), f.requester, product.ID, "2025-01-10", "2025-01-12")
	require.NoError(t, err)

	decided, err := f.svc.Respond(context.Background(), f.owner, req.ID, ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, decided.Status, "rentals stay approved until the period ends")

	// The approved range is still busy.
	_, err = f.svc.CreateRent(context.Background(), f.other, product.ID, "2025-01-11", "2025-01-11")
	assert.ErrorIs(t, err, availability.ErrConflict)

	// Before the end date nothing is swept.
	n, err := f.svc.SweepExpiredRentals(context.Background(), time.Date(2025, 1, 12, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, n)

	// Past the end date the rental completes and the range frees up.
	n, err = f.svc.SweepExpiredRentals(context.Background(), time.Date(2025, 1, 13, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	after, err := f.store.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, after.Status)

	busy, err := f.index.QueryBusyDates(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Empty(t, busy)
}

func TestCreateSaleReservesProduct(t *testing.T) {
	f := newFixture(t)
	product := f.listed("sale", f.owner)

	req, err := f.svc.CreateSale(context.Background(), f.requester, product.ID)
	require.NoError(t, err)
	assert.Equal(t, TypeSale, req.Type)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, product.Price, req.Price)
	assert.Equal(t, "reserved", f.registry.status(product.ID))

	// The product is held: a second buyer loses.
	_, err = f.svc.CreateSale(context.Background(), f.other, product.ID)
	assert.ErrorIs(t, err, ErrConflict)

	// Approval settles the sale immediately.
	decided, err := f.svc.Respond(context.Background(), f.owner, req.ID, ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, decided.Status)
	assert.Equal(t, "sold", f.registry.status(product.ID))
}

func TestRejectSaleReleasesProduct(t *testing.T) {
	f := newFixture(t)
	product := f.listed("sale", f.owner)

	req, err := f.svc.CreateSale(context.Background(), f.requester, product.ID)
	require.NoError(t, err)

	_, err = f.svc.Respond(context.Background(), f.owner, req.ID, ActionReject)
	require.NoError(t, err)
	assert.Equal(t, "available", f.registry.status(product.ID))

	_, err = f.svc.CreateSale(context.Background(), f.other, product.ID)
	assert.NoError(t, err)
}

func TestCreateSwapRequiresOwnership(t *testing.T) {
	f := newFixture(t)
	target := f.listed("swap", f.owner)
	notMine := f.listed("swap", f.other)

	_, err := f.svc.CreateSwap(context.Background(), f.requester, target.ID, notMine.ID, "trade?")
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Nothing was reserved.
	assert.Equal(t, "available", f.registry.status(target.ID))
	assert.Equal(t, "available", f.registry.status(notMine.ID))
}

func TestSwapApprovalExchangesOwners(t *testing.T) {
	f := newFixture(t)
	target := f.listed("swap", f.owner)
	offered := f.listed("swap", f.requester)

	req, err := f.svc.CreateSwap(context.Background(), f.requester, target.ID, offered.ID, "my camera for yours")
	require.NoError(t, err)
	assert.Equal(t, "reserved", f.registry.status(target.ID))
	assert.Equal(t, "reserved", f.registry.status(offered.ID))

	decided, err := f.svc.Respond(context.Background(), f.owner, req.ID, ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, decided.Status)

	assert.Equal(t, f.requester, f.registry.owner(target.ID))
	assert.Equal(t, f.owner, f.registry.owner(offered.ID))
	assert.Equal(t, "exchanged", f.registry.status(target.ID))
	assert.Equal(t, "exchanged", f.registry.status(offered.ID))
}

func TestRejectSwapReleasesBothProducts(t *testing.T) {
	f := newFixture(t)
	target := f.listed("swap", f.owner)
	offered := f.listed("swap", f.requester)

	req, err := f.svc.CreateSwap(context.Background(), f.requester, target.ID, offered.ID, "")
	require.NoError(t, err)

	_, err = f.svc.Respond(context.Background(), f.owner, req.ID, ActionReject)
	require.NoError(t, err)
	assert.Equal(t, "available", f.registry.status(target.ID))
	assert.Equal(t, "available", f.registry.status(offered.ID))
}

func TestRespondAuthorization(t *testing.T) {
	f := newFixture(t)
	product := f.listed("sale", f.owner)

	req, err := f.svc.CreateSale(context.Background(), f.requester, product.ID)
	require.NoError(t, err)

	// The requester cannot decide their own request, nor can a stranger.
	for _, caller := range []uuid.UUID{f.requester, f.other} {
		_, err = f.svc.Respond(context.Background(), caller, req.ID, ActionApprove)
		assert.ErrorIs(t, err, ErrUnauthorized)
	}

	// Denied attempts change nothing.
	after, err := f.store.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, after.Status)
	assert.Equal(t, "reserved", f.registry.status(product.ID))
}

func TestRespondOnDecidedRequest(t *testing.T) {
	f := newFixture(t)
	product := f.listed("sale", f.owner)

	req, err := f.svc.CreateSale(context.Background(), f.requester, product.ID)
	require.NoError(t, err)

	_, err = f.svc.Respond(context.Background(), f.owner, req.ID, ActionReject)
	require.NoError(t, err)

	before, err := f.store.Get(context.Background(), req.ID)
	require.NoError(t, err)

	// A second decision of either kind bounces off the terminal state.
	for _, action := range []Action{ActionApprove, ActionReject} {
		_, err = f.svc.Respond(context.Background(), f.owner, req.ID, action)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}

	after, err := f.store.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after, "a rejected decision must not mutate the request")
}

func TestRespondValidation(t *testing.T) {
	f := newFixture(t)
	product := f.listed("sale", f.owner)

	req, err := f.svc.CreateSale(context.Background(), f.requester, product.ID)
	require.NoError(t, err)

	_, err = f.svc.Respond(context.Background(), f.owner, req.ID, Action("maybe"))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Respond(context.Background(), f.owner, uuid.New(), ActionApprove)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	product := f.rentable(100)

	req, err := f.svc.CreateRent(context.Background(), f.requester, product.ID, "2025-01-10", "2025-01-12")
	require.NoError(t, err)

	t.Run("only the requester may cancel", func(t *testing.T) {
		_, err := f.svc.Cancel(context.Background(), f.owner, req.ID)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("cancel frees the hold", func(t *testing.T) {
		cancelled, err := f.svc.Cancel(context.Background(), f.requester, req.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, cancelled.Status)

		busy, err := f.index.QueryBusyDates(context.Background(), product.ID)
		require.NoError(t, err)
		assert.Empty(t, busy)
	})

	t.Run("cancel twice", func(t *testing.T) {
		_, err := f.svc.Cancel(context.Background(), f.requester, req.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestCancelApprovedRent(t *testing.T) {
	approvedRent := func(t *testing.T, f *fixture, productID uuid.UUID) *Request {
		t.Helper()
		req, err := f.svc.CreateRent(context.Background(), f.requester, productID, "2025-01-10", "2025-01-12")
		require.NoError(t, err)
		_, err = f.svc.Respond(context.Background(), f.owner, req.ID, ActionApprove)
		require.NoError(t, err)
		return req
	}

	t.Run("requester calls off an approved rental", func(t *testing.T) {
		f := newFixture(t)
		product := f.rentable(100)
		req := approvedRent(t, f, product.ID)

		cancelled, err := f.svc.Cancel(context.Background(), f.requester, req.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, cancelled.Status)

		busy, err := f.index.QueryBusyDates(context.Background(), product.ID)
		require.NoError(t, err)
		assert.Empty(t, busy, "cancellation must free the held dates")
	})

	t.Run("owner may also call it off", func(t *testing.T) {
		f := newFixture(t)
		product := f.rentable(100)
		req := approvedRent(t, f, product.ID)

		cancelled, err := f.svc.Cancel(context.Background(), f.owner, req.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, cancelled.Status)
	})

	t.Run("a stranger may not", func(t *testing.T) {
		f := newFixture(t)
		product := f.rentable(100)
		req := approvedRent(t, f, product.ID)

		_, err := f.svc.Cancel(context.Background(), f.other, req.ID)
		assert.ErrorIs(t, err, ErrUnauthorized)

		after, err := f.store.Get(context.Background(), req.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusApproved, after.Status)
	})
}

// flakyRegistry fails MarkSold on demand to exercise the approval saga's
// ordering.
type flakyRegistry struct {
	*stubRegistry
	failMarkSold bool
}

func (r *flakyRegistry) MarkSold(ctx context.Context, id uuid.UUID) error {
	if r.failMarkSold {
		return errors.New("registry unavailable")
	}
	return r.stubRegistry.MarkSold(ctx, id)
}

func TestApproveSaleRegistryFailureKeepsRequestPending(t *testing.T) {
	f := newFixture(t)
	product := f.listed("sale", f.owner)

	flaky := &flakyRegistry{stubRegistry: f.registry, failMarkSold: true}
	svc := &service{
		history:      f.history,
		store:        f.store,
		availability: f.index,
		registry:     flaky,
		now: func() time.Time {
			return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		},
	}

	req, err := svc.CreateSale(context.Background(), f.requester, product.ID)
	require.NoError(t, err)

	_, err = svc.Respond(context.Background(), f.owner, req.ID, ActionApprove)
	require.Error(t, err)

	// The decision was not recorded: the request stays PENDING and the
	// product stays reserved, so the approval can be retried.
	after, err := f.store.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, after.Status)
	assert.Equal(t, "reserved", f.registry.status(product.ID))

	flaky.failMarkSold = false
	decided, err := svc.Respond(context.Background(), f.owner, req.ID, ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, decided.Status)
	assert.Equal(t, "sold", f.registry.status(product.ID))
}

func TestConcurrentRentSingleWinner(t *testing.T) {
	f := newFixture(t)
	product := f.rentable(100)

	const attempts = 10
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateRent(context.Background(), uuid.New(), product.ID, "2025-02-01", "2025-02-05")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, availability.ErrConflict)
		}
	}
	assert.Equal(t, 1, successes, "Only one concurrent reservation should succeed")
}

func TestConcurrentSaleSingleWinner(t *testing.T) {
	f := newFixture(t)
	product := f.listed("sale", f.owner)

	const attempts = 10
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateSale(context.Background(), uuid.New(), product.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ErrConflict)
		}
	}
	assert.Equal(t, 1, successes, "Only one concurrent buyer should win the reserve")
}

func TestPersistFailureCompensatesHold(t *testing.T) {
	f := newFixture(t)
	product := f.rentable(100)

	failing := &service{
		history: historyFunc(func(ctx context.Context, requestID uuid.UUID, expectedVersion int, events []eventstore.Event) error {
			return errors.New("history unavailable")
		}),
		store:        f.store,
		availability: f.index,
		registry:     f.registry,
		now: func() time.Time {
			return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		},
	}

	_, err := failing.CreateRent(context.Background(), f.requester, product.ID, "2025-01-10", "2025-01-12")
	require.Error(t, err)

	// The compensating release freed the range for the next requester.
	busy, err := f.index.QueryBusyDates(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Empty(t, busy)

	_, err = f.svc.CreateRent(context.Background(), f.other, product.ID, "2025-01-10", "2025-01-12")
	assert.NoError(t, err)
}

type historyFunc func(ctx context.Context, requestID uuid.UUID, expectedVersion int, events []eventstore.Event) error

func (f historyFunc) Append(ctx context.Context, requestID uuid.UUID, expectedVersion int, events []eventstore.Event) error {
	return f(ctx, requestID, expectedVersion, events)
}

func TestHistoryRecordsFullLifecycle(t *testing.T) {
	f := newFixture(t)
	product := f.listed("sale", f.owner)

	req, err := f.svc.CreateSale(context.Background(), f.requester, product.ID)
	require.NoError(t, err)
	_, err = f.svc.Respond(context.Background(), f.owner, req.ID, ActionApprove)
	require.NoError(t, err)

	events := f.history.events[req.ID]
	require.Len(t, events, 2)
	assert.Equal(t, "RequestCreated", events[0].EventType)
	assert.Equal(t, "RequestCompleted", events[1].EventType)
	assert.Equal(t, 1, events[0].Version)
	assert.Equal(t, 2, events[1].Version)
}
