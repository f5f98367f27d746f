package cart

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/db"
)

type PostgresStore struct{}

func NewPostgresStore() *PostgresStore {
	return &PostgresStore{}
}

// Snapshot locks the user's cart row and copies its lines. A user without a
// cart gets an empty snapshot; a second checkout racing on the same cart
// blocks here and then finds it deleted.
func (s *PostgresStore) Snapshot(ctx context.Context, q db.Querier, userID string) (Snapshot, error) {
	var cartID string
	err := q.QueryRow(ctx, `SELECT id FROM carts WHERE user_id = $1 FOR UPDATE`, userID).Scan(&cartID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{UserID: userID, Priced: true}, nil
		}
		return Snapshot{}, err
	}

	rows, err := q.Query(ctx,
		`SELECT product_id, quantity, price FROM cart_items WHERE cart_id = $1 ORDER BY product_id`, cartID)
	if err != nil {
		return Snapshot{}, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ProductID, &l.Quantity, &l.UnitPrice); err != nil {
			return Snapshot{}, err
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}

	return NewSnapshot(cartID, userID, lines), nil
}

// Delete removes the cart; its items go with it through the foreign key.
func (s *PostgresStore) Delete(ctx context.Context, q db.Querier, cartID string) error {
	_, err := q.Exec(ctx, `DELETE FROM carts WHERE id = $1`, cartID)
	return err
}

// Upsert replaces the user's cart contents and returns the cart id.
func (s *PostgresStore) Upsert(ctx context.Context, q db.Querier, userID string, lines []Line) (string, error) {
	var cartID string
	err := q.QueryRow(ctx, `
		INSERT INTO carts (id, user_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET updated_at = now()
		RETURNING id
	`, uuid.NewString(), userID).Scan(&cartID)
	if err != nil {
		return "", err
	}

	if _, err := q.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return "", err
	}

	for _, l := range lines {
		if _, err := q.Exec(ctx,
			`INSERT INTO cart_items (id, cart_id, product_id, quantity, price) VALUES ($1, $2, $3, $4, $5)`,
			uuid.NewString(), cartID, l.ProductID, l.Quantity, l.UnitPrice); err != nil {
			return "", err
		}
	}
	return cartID, nil
}
