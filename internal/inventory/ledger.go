package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/db"
)

// PostgresLedger mutates products.stock. Every mutation is a single guarded
// statement so concurrent callers on the same row serialise in the database.
type PostgresLedger struct {
	pool db.Querier
}

func NewPostgresLedger(pool db.Querier) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

// Levels locks the requested product rows in id order and returns their
// current stock and price. Unknown products are absent from the map.
func (l *PostgresLedger) Levels(ctx context.Context, q db.Querier, productIDs []string) (map[string]Level, error) {
	rows, err := q.Query(ctx, `
		SELECT id, stock, price
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	defer rows.Close()

	levels := make(map[string]Level, len(productIDs))
	for rows.Next() {
		var (
			id  string
			lvl Level
		)
		if err := rows.Scan(&id, &lvl.Available, &lvl.Price); err != nil {
			return nil, err
		}
		levels[id] = lvl
	}
	return levels, rows.Err()
}

// Decrement removes qty units and returns the remaining stock.
func (l *PostgresLedger) Decrement(ctx context.Context, q db.Querier, productID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}

	var remaining int
	err := q.QueryRow(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2
		RETURNING stock
	`, productID, qty).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("product %s: %w", productID, ErrInsufficientStock)
		}
		return 0, err
	}
	return remaining, nil
}

// Increment restores qty units, e.g. when an order is cancelled.
func (l *PostgresLedger) Increment(ctx context.Context, q db.Querier, productID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}

	var stock int
	err := q.QueryRow(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1
		RETURNING stock
	`, productID, qty).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("product %s: %w", productID, ErrNotFound)
		}
		return 0, err
	}
	return stock, nil
}

func (l *PostgresLedger) Get(ctx context.Context, productID string) (StockItem, error) {
	var item StockItem
	row := l.pool.QueryRow(ctx, `SELECT id, stock FROM products WHERE id = $1`, productID)
	if err := row.Scan(&item.ProductID, &item.Available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockItem{}, ErrNotFound
		}
		return StockItem{}, err
	}
	return item, nil
}

// SetAvailable overwrites the stock of a product, creating the row if needed.
func (l *PostgresLedger) SetAvailable(ctx context.Context, productID string, available int) error {
	if available < 0 {
		return ErrInvalidQuantity
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO products (id, stock)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET stock = EXCLUDED.stock, updated_at = now()
	`, productID, available)
	return err
}
