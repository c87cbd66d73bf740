// internal/registry/implementation.go
package registry

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// service implements the Service interface. Status transitions are guarded
// UPDATEs: the WHERE clause carries the expected current status, so whichever
// concurrent caller commits first wins and the loser sees zero rows.
type service struct {
	db *sql.DB
}

// NewService creates a new product registry instance.
func NewService(db *sql.DB) Service {
	return &service{db: db}
}

func (s *service) AddProduct(ctx context.Context, ownerID uuid.UUID, title, description, category string, price float64, listingType, imageURL string) (*Product, error) {
	switch listingType {
	case ListingSale, ListingRent, ListingSwap:
	default:
		return nil, fmt.Errorf("unknown listing type %q", listingType)
	}

	product := &Product{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Title:       title,
		Description: description,
		Category:    category,
		Price:       price,
		ListingType: listingType,
		Status:      StatusAvailable,
		ImageURL:    imageURL,
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (id, owner_id, title, description, category, price, listing_type, status, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, product.ID, product.OwnerID, product.Title, product.Description, product.Category,
		product.Price, product.ListingType, product.Status, product.ImageURL,
	).Scan(&product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}

	return product, nil
}

func (s *service) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	product := &Product{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, description, category, price, listing_type, status, image_url, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(
		&product.ID,
		&product.OwnerID,
		&product.Title,
		&product.Description,
		&product.Category,
		&product.Price,
		&product.ListingType,
		&product.Status,
		&product.ImageURL,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

func (s *service) ReserveProduct(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, StatusAvailable, StatusReserved, false)
}

func (s *service) ReleaseProduct(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, StatusReserved, StatusAvailable, true)
}

func (s *service) MarkSold(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, StatusReserved, StatusSold, false)
}

func (s *service) transition(ctx context.Context, id uuid.UUID, from, to string, idempotent bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return fmt.Errorf("update product status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if idempotent {
			return nil
		}
		if _, err := s.GetProduct(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}

	return nil
}

func (s *service) ExchangeOwners(ctx context.Context, a, b uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var ownerA, ownerB uuid.UUID
	err = tx.QueryRowContext(ctx, `
		SELECT owner_id FROM products WHERE id = $1 AND status = $2 FOR UPDATE
	`, a, StatusReserved).Scan(&ownerA)
	if err == sql.ErrNoRows {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("lock product %s: %w", a, err)
	}

	err = tx.QueryRowContext(ctx, `
		SELECT owner_id FROM products WHERE id = $1 AND status = $2 FOR UPDATE
	`, b, StatusReserved).Scan(&ownerB)
	if err == sql.ErrNoRows {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("lock product %s: %w", b, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE products SET owner_id = $2, status = $3, updated_at = NOW() WHERE id = $1
	`, a, ownerB, StatusExchanged); err != nil {
		return fmt.Errorf("exchange product %s: %w", a, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE products SET owner_id = $2, status = $3, updated_at = NOW() WHERE id = $1
	`, b, ownerA, StatusExchanged); err != nil {
		return fmt.Errorf("exchange product %s: %w", b, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit exchange: %w", err)
	}

	return nil
}
