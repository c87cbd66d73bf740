// internal/availability/implementation.go
package availability

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// service implements the Service interface on postgres. The check-and-reserve
// step is a single INSERT guarded by an exclusion constraint over
// (product_id, daterange), so two concurrent reservations for overlapping
// days can never both commit.
type service struct {
	db     *sql.DB
	tracer trace.Tracer
}

// NewService creates a postgres-backed availability index.
func NewService(db *sql.DB) Service {
	return &service{
		db:     db,
		tracer: otel.Tracer("tradecore/availability"),
	}
}

func (s *service) QueryBusyDates(ctx context.Context, productID uuid.UUID) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "availability.query_busy_dates",
		trace.WithAttributes(attribute.String("product.id", productID.String())),
	)
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `
		SELECT start_date, end_date
		FROM rental_reservations
		WHERE product_id = $1
		ORDER BY start_date ASC
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var dates []string
	for rows.Next() {
		var span DateRange
		if err := rows.Scan(&span.Start, &span.End); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		for _, d := range span.Dates() {
			if _, ok := seen[d]; !ok {
				seen[d] = struct{}{}
				dates = append(dates, d)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}

	sort.Strings(dates)
	span.SetAttributes(attribute.Int("busy.days", len(dates)))
	return dates, nil
}

func (s *service) CheckConflict(ctx context.Context, productID uuid.UUID, span DateRange) (bool, error) {
	ctx, tspan := s.tracer.Start(ctx, "availability.check_conflict",
		trace.WithAttributes(attribute.String("product.id", productID.String())),
	)
	defer tspan.End()

	var conflict bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM rental_reservations
			WHERE product_id = $1
			AND daterange(start_date, end_date, '[]') && daterange($2::date, $3::date, '[]')
		)
	`, productID, span.Start, span.End).Scan(&conflict)
	if err != nil {
		return false, fmt.Errorf("check conflict: %w", err)
	}

	tspan.SetAttributes(attribute.Bool("conflict", conflict))
	return conflict, nil
}

func (s *service) Reserve(ctx context.Context, productID uuid.UUID, span DateRange, requestID uuid.UUID) error {
	ctx, tspan := s.tracer.Start(ctx, "availability.reserve",
		trace.WithAttributes(
			attribute.String("product.id", productID.String()),
			attribute.String("request.id", requestID.String()),
			attribute.Int("span.days", span.Days()),
		),
	)
	defer tspan.End()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rental_reservations (request_id, product_id, start_date, end_date)
		VALUES ($1, $2, $3, $4)
	`, requestID, productID, span.Start, span.End)
	if err != nil {
		// 23P01 is an exclusion constraint violation: an overlapping hold
		// already exists, and the other writer won.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23P01" {
			tspan.SetAttributes(attribute.Bool("conflict.detected", true))
			return ErrConflict
		}
		return fmt.Errorf("insert reservation: %w", err)
	}

	return nil
}

func (s *service) Release(ctx context.Context, productID, requestID uuid.UUID) error {
	ctx, tspan := s.tracer.Start(ctx, "availability.release",
		trace.WithAttributes(
			attribute.String("product.id", productID.String()),
			attribute.String("request.id", requestID.String()),
		),
	)
	defer tspan.End()

	// Deleting an unknown hold is fine: release is idempotent.
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM rental_reservations
		WHERE request_id = $1 AND product_id = $2
	`, requestID, productID)
	if err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}

	return nil
}
