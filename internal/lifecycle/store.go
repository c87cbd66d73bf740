// internal/lifecycle/store.go
package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store is the durable record of transaction requests.
type Store interface {
	Insert(ctx context.Context, req *Request) error
	Get(ctx context.Context, id uuid.UUID) (*Request, error)
	// UpdateStatus applies a guarded status transition: the write only
	// lands when the stored status still equals from. A lost guard is
	// ErrInvalidTransition, so concurrent deciders get exactly one winner.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, decidedAt *time.Time) error
	// ListExpiredApprovedRents returns approved rentals whose end date is
	// before asOf.
	ListExpiredApprovedRents(ctx context.Context, asOf time.Time) ([]*Request, error)
}

// postgresStore implements Store on the transaction_requests read model.
type postgresStore struct {
	db *sql.DB
}

// NewStore creates a postgres-backed request store.
func NewStore(db *sql.DB) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) Insert(ctx context.Context, req *Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	var startDate, endDate *time.Time
	var offeredProduct *uuid.UUID
	var message *string
	if req.Rent != nil {
		startDate, endDate = &req.Rent.StartDate, &req.Rent.EndDate
	}
	if req.Swap != nil {
		offeredProduct = &req.Swap.OfferedProductID
		message = &req.Swap.Message
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transaction_requests
			(id, type, status, requester_id, counterparty_id, target_product_id,
			 price, start_date, end_date, offered_product_id, message, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, req.ID, req.Type, req.Status, req.RequesterID, req.CounterpartyID, req.TargetProductID,
		req.Price, startDate, endDate, offeredProduct, message, req.Version, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}

	return nil
}

func (s *postgresStore) Get(ctx context.Context, id uuid.UUID) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, status, requester_id, counterparty_id, target_product_id,
		       price, start_date, end_date, offered_product_id, message, version, created_at, decided_at
		FROM transaction_requests
		WHERE id = $1
	`, id)
	return scanRequest(row)
}

func (s *postgresStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, decidedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transaction_requests
		SET status = $3, decided_at = COALESCE($4, decided_at), version = version + 1
		WHERE id = $1 AND status = $2
	`, id, from, to, decidedAt)
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}

	return nil
}

func (s *postgresStore) ListExpiredApprovedRents(ctx context.Context, asOf time.Time) ([]*Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, status, requester_id, counterparty_id, target_product_id,
		       price, start_date, end_date, offered_product_id, message, version, created_at, decided_at
		FROM transaction_requests
		WHERE type = $1 AND status = $2 AND end_date < $3
	`, TypeRent, StatusApproved, asOf)
	if err != nil {
		return nil, fmt.Errorf("query expired rentals: %w", err)
	}
	defer rows.Close()

	var requests []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired rentals: %w", err)
	}

	return requests, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*Request, error) {
	req := &Request{}
	var startDate, endDate, decidedAt sql.NullTime
	var offeredProduct uuid.NullUUID
	var message sql.NullString

	err := row.Scan(
		&req.ID,
		&req.Type,
		&req.Status,
		&req.RequesterID,
		&req.CounterpartyID,
		&req.TargetProductID,
		&req.Price,
		&startDate,
		&endDate,
		&offeredProduct,
		&message,
		&req.Version,
		&req.CreatedAt,
		&decidedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan request: %w", err)
	}

	if startDate.Valid && endDate.Valid {
		req.Rent = &RentDetails{StartDate: startDate.Time, EndDate: endDate.Time}
	}
	if offeredProduct.Valid {
		req.Swap = &SwapDetails{OfferedProductID: offeredProduct.UUID, Message: message.String}
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		req.DecidedAt = &t
	}

	return req, nil
}
