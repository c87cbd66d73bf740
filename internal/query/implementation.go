// internal/query/implementation.go
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"tradecore/internal/availability"
	"tradecore/internal/lifecycle"
)

var (
	ErrNotFound     = errors.New("product not found")
	ErrUnauthorized = errors.New("only the product owner may view received offers")
)

// service implements the Service interface over the shared read model.
type service struct {
	db *sqlx.DB
}

// NewService creates a new query service instance.
func NewService(db *sqlx.DB) Service {
	return &service{db: db}
}

// requestRow is the scan target for the view join.
type requestRow struct {
	ID               uuid.UUID      `db:"id"`
	Status           string         `db:"status"`
	Type             string         `db:"type"`
	ProductTitle     string         `db:"product_title"`
	ProductImage     string         `db:"product_image"`
	Price            float64        `db:"price"`
	StartDate        sql.NullTime   `db:"start_date"`
	EndDate          sql.NullTime   `db:"end_date"`
	BuyerName        string         `db:"buyer_name"`
	SellerName       string         `db:"seller_name"`
	Message          sql.NullString `db:"message"`
	SwapProductTitle sql.NullString `db:"swap_product_title"`
	CreatedAt        time.Time      `db:"created_at"`
}

const viewQuery = `
	SELECT t.id, t.status, t.type, t.price, t.start_date, t.end_date, t.message, t.created_at,
	       p.title AS product_title,
	       COALESCE(p.image_url, '') AS product_image,
	       b.name AS buyer_name,
	       s.name AS seller_name,
	       op.title AS swap_product_title
	FROM transaction_requests t
	JOIN products p ON p.id = t.target_product_id
	JOIN users b ON b.id = t.requester_id
	JOIN users s ON s.id = t.counterparty_id
	LEFT JOIN products op ON op.id = t.offered_product_id
	WHERE t.%s = $1
	ORDER BY t.created_at DESC
`

func (s *service) Incoming(ctx context.Context, userID uuid.UUID) ([]RequestView, error) {
	return s.listViews(ctx, fmt.Sprintf(viewQuery, "counterparty_id"), userID)
}

func (s *service) Outgoing(ctx context.Context, userID uuid.UUID) ([]RequestView, error) {
	return s.listViews(ctx, fmt.Sprintf(viewQuery, "requester_id"), userID)
}

func (s *service) listViews(ctx context.Context, query string, userID uuid.UUID) ([]RequestView, error) {
	var rows []requestRow
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("query request views: %w", err)
	}

	views := make([]RequestView, 0, len(rows))
	for _, row := range rows {
		view := RequestView{
			ID:               row.ID,
			Status:           row.Status,
			TransactionType:  row.Type,
			ProductTitle:     row.ProductTitle,
			ProductImage:     row.ProductImage,
			Price:            row.Price,
			BuyerName:        row.BuyerName,
			SellerName:       row.SellerName,
			Message:          row.Message.String,
			SwapProductTitle: row.SwapProductTitle.String,
			CreatedAt:        row.CreatedAt,
		}
		if row.StartDate.Valid {
			view.StartDate = row.StartDate.Time.Format(availability.DateLayout)
		}
		if row.EndDate.Valid {
			view.EndDate = row.EndDate.Time.Format(availability.DateLayout)
		}
		views = append(views, view)
	}

	return views, nil
}

type offerRow struct {
	ID                  uuid.UUID      `db:"id"`
	Status              string         `db:"status"`
	Message             sql.NullString `db:"message"`
	OffererName         string         `db:"offerer_name"`
	OfferedProductID    uuid.UUID      `db:"offered_product_id"`
	OfferedProductTitle string         `db:"offered_product_title"`
	CreatedAt           time.Time      `db:"created_at"`
}

func (s *service) OffersForProduct(ctx context.Context, callerID, productID uuid.UUID) ([]SwapOfferView, error) {
	var ownerID uuid.UUID
	err := s.db.GetContext(ctx, &ownerID, `SELECT owner_id FROM products WHERE id = $1`, productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query product owner: %w", err)
	}
	if ownerID != callerID {
		return nil, ErrUnauthorized
	}

	var rows []offerRow
	err = s.db.SelectContext(ctx, &rows, `
		SELECT t.id, t.status, t.message, t.created_at,
		       u.name AS offerer_name,
		       t.offered_product_id,
		       op.title AS offered_product_title
		FROM transaction_requests t
		JOIN users u ON u.id = t.requester_id
		JOIN products op ON op.id = t.offered_product_id
		WHERE t.type = $1 AND t.target_product_id = $2
		ORDER BY t.created_at DESC
	`, lifecycle.TypeSwap, productID)
	if err != nil {
		return nil, fmt.Errorf("query swap offers: %w", err)
	}

	offers := make([]SwapOfferView, 0, len(rows))
	for _, row := range rows {
		offers = append(offers, SwapOfferView{
			ID:                  row.ID,
			Status:              row.Status,
			Message:             row.Message.String,
			OffererName:         row.OffererName,
			OfferedProductID:    row.OfferedProductID,
			OfferedProductTitle: row.OfferedProductTitle,
			CreatedAt:           row.CreatedAt,
		})
	}

	return offers, nil
}
