package discount

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/db"
)

type PostgresStore struct{}

func NewPostgresStore() *PostgresStore {
	return &PostgresStore{}
}

func (s *PostgresStore) Find(ctx context.Context, q db.Querier, code string) (Discount, error) {
	var (
		d    Discount
		kind string
	)
	err := q.QueryRow(ctx, `
		SELECT code, kind, value, min_order_amount, max_discount_amount,
		       start_date, end_date, usage_limit, used_count, is_active
		FROM discounts
		WHERE code = $1
	`, code).Scan(
		&d.Code, &kind, &d.Value, &d.MinOrderAmount, &d.MaxDiscountAmount,
		&d.StartDate, &d.EndDate, &d.UsageLimit, &d.UsedCount, &d.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Discount{}, ErrNotFound
		}
		return Discount{}, err
	}

	d.Kind = Kind(kind)
	d, err = New(d)
	if err != nil {
		return Discount{}, fmt.Errorf("load discount %s: %w", code, err)
	}
	return d, nil
}

func (s *PostgresStore) IncrementUsage(ctx context.Context, q db.Querier, code string) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE discounts
		SET used_count = used_count + 1
		WHERE code = $1
		  AND is_active
		  AND (usage_limit IS NULL OR used_count < usage_limit)
	`, code)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Create inserts a new code; used by the operator tooling and tests.
func (s *PostgresStore) Create(ctx context.Context, q db.Querier, d Discount) error {
	d, err := New(d)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO discounts (code, kind, value, min_order_amount, max_discount_amount,
		                       start_date, end_date, usage_limit, used_count, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, d.Code, string(d.Kind), d.Value, d.MinOrderAmount, d.MaxDiscountAmount,
		d.StartDate, d.EndDate, d.UsageLimit, d.UsedCount, d.IsActive)
	return err
}
