// internal/lifecycle/memory.go
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store with the same guarded-transition
// semantics as the postgres store. Used by tests and single-node deployments.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*Request
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[uuid.UUID]*Request)}
}

func (m *MemoryStore) Insert(ctx context.Context, req *Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, decidedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	if req.Status != from {
		return ErrInvalidTransition
	}
	req.Status = to
	req.Version++
	if decidedAt != nil {
		t := *decidedAt
		req.DecidedAt = &t
	}
	return nil
}

func (m *MemoryStore) ListExpiredApprovedRents(ctx context.Context, asOf time.Time) ([]*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []*Request
	for _, req := range m.requests {
		if req.Type == TypeRent && req.Status == StatusApproved && req.Rent != nil && req.Rent.EndDate.Before(asOf) {
			cp := *req
			expired = append(expired, &cp)
		}
	}
	return expired, nil
}
