// internal/availability/memory.go
package availability

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type hold struct {
	requestID uuid.UUID
	span      DateRange
}

// MemoryIndex is an in-process implementation of Service. The mutex serializes
// the check-and-reserve step, giving the same single-winner guarantee as the
// postgres exclusion constraint. Used by tests and single-node deployments.
type MemoryIndex struct {
	mu    sync.Mutex
	holds map[uuid.UUID][]hold
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{holds: make(map[uuid.UUID][]hold)}
}

func (m *MemoryIndex) QueryBusyDates(ctx context.Context, productID uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{})
	dates := []string{}
	for _, h := range m.holds[productID] {
		for _, d := range h.span.Dates() {
			if _, ok := seen[d]; !ok {
				seen[d] = struct{}{}
				dates = append(dates, d)
			}
		}
	}
	sort.Strings(dates)
	return dates, nil
}

func (m *MemoryIndex) CheckConflict(ctx context.Context, productID uuid.UUID, span DateRange) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overlaps(productID, span), nil
}

func (m *MemoryIndex) Reserve(ctx context.Context, productID uuid.UUID, span DateRange, requestID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.overlaps(productID, span) {
		return ErrConflict
	}
	m.holds[productID] = append(m.holds[productID], hold{requestID: requestID, span: span})
	return nil
}

func (m *MemoryIndex) Release(ctx context.Context, productID, requestID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	holds := m.holds[productID]
	for i, h := range holds {
		if h.requestID == requestID {
			m.holds[productID] = append(holds[:i], holds[i+1:]...)
			return nil
		}
	}
	// Unknown request: already released, nothing to do.
	return nil
}

func (m *MemoryIndex) overlaps(productID uuid.UUID, span DateRange) bool {
	for _, h := range m.holds[productID] {
		if h.span.Overlaps(span) {
			return true
		}
	}
	return false
}
