package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/db"
)

const codeConstraint = "orders_code_key"

// Store is the persistence the order service needs. Every method runs on
// the Querier it is given so callers own the transaction scope.
type Store interface {
	Insert(ctx context.Context, q db.Querier, o *Order) error
	Get(ctx context.Context, q db.Querier, id string, forUpdate bool) (*Order, error)
	GetByCode(ctx context.Context, q db.Querier, code string, forUpdate bool) (*Order, error)
	ListByOwner(ctx context.Context, q db.Querier, ownerID string) ([]Order, error)
	UpdateStatus(ctx context.Context, q db.Querier, id string, status Status, at time.Time) error
	UpdatePayment(ctx context.Context, q db.Querier, id string, status PaymentStatus, transactionID string, at time.Time) error
	InsertNote(ctx context.Context, q db.Querier, n *Note) error
	Notes(ctx context.Context, q db.Querier, orderID string) ([]Note, error)
	StalePending(ctx context.Context, q db.Querier, before time.Time, limit int) ([]string, error)
}

type PostgresRepository struct{}

func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

func (r *PostgresRepository) Insert(ctx context.Context, q db.Querier, o *Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}

	_, err := q.Exec(ctx, `
		INSERT INTO orders (id, code, owner_id, customer_name, customer_phone, customer_email,
		                    customer_address, note, subtotal, discount_code, discount_amount,
		                    total_amount, quantity_total, payment_method, status, payment_status,
		                    reserve_only, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`,
		o.ID, o.Code, nullable(o.OwnerID), o.Customer.Name, o.Customer.Phone, o.Customer.Email,
		o.Customer.Address, o.Note, o.Subtotal, nullable(o.DiscountCode), o.DiscountAmount,
		o.TotalAmount, o.QuantityTotal, string(o.PaymentMethod), string(o.Status), string(o.PaymentStatus),
		o.ReserveOnly, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err, codeConstraint) {
			return fmt.Errorf("%w: %s", ErrCodeConflict, o.Code)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range o.Lines {
		l := &o.Lines[i]
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		l.OrderID = o.ID
		_, err := q.Exec(ctx, `
			INSERT INTO order_lines (id, order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
		`, l.ID, o.ID, l.ProductID, l.Quantity, l.UnitPrice)
		if err != nil {
			return fmt.Errorf("insert order_line: %w", err)
		}
	}
	return nil
}

const selectOrder = `
	SELECT id, code, owner_id, customer_name, customer_phone, customer_email, customer_address,
	       note, subtotal, discount_code, discount_amount, total_amount, quantity_total,
	       payment_method, status, payment_status, external_transaction_id, reserve_only,
	       created_at, updated_at
	FROM orders`

func (r *PostgresRepository) Get(ctx context.Context, q db.Querier, id string, forUpdate bool) (*Order, error) {
	return r.getOne(ctx, q, selectOrder+` WHERE id = $1`, id, forUpdate)
}

func (r *PostgresRepository) GetByCode(ctx context.Context, q db.Querier, code string, forUpdate bool) (*Order, error) {
	return r.getOne(ctx, q, selectOrder+` WHERE code = $1`, code, forUpdate)
}

func (r *PostgresRepository) getOne(ctx context.Context, q db.Querier, sql, arg string, forUpdate bool) (*Order, error) {
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	if o.Lines, err = r.lines(ctx, q, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, q db.Querier, ownerID string) ([]Order, error) {
	rows, err := q.Query(ctx, selectOrder+` WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	for i := range orders {
		if orders[i].Lines, err = r.lines(ctx, q, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *PostgresRepository) lines(ctx context.Context, q db.Querier, orderID string) ([]Line, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price
		FROM order_lines WHERE order_id = $1 ORDER BY product_id, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select order_lines: %w", err)
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order_line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, q db.Querier, id string, status Status, at time.Time) error {
	tag, err := q.Exec(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePayment sets the payment status. A non-empty transactionID is stored
// only if none was recorded before.
func (r *PostgresRepository) UpdatePayment(ctx context.Context, q db.Querier, id string, status PaymentStatus, transactionID string, at time.Time) error {
	tag, err := q.Exec(ctx, `
		UPDATE orders
		SET payment_status = $2,
		    external_transaction_id = COALESCE(external_transaction_id, $3),
		    updated_at = $4
		WHERE id = $1
	`, id, string(status), nullable(transactionID), at)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) InsertNote(ctx context.Context, q db.Querier, n *Note) error {
	err := q.QueryRow(ctx, `
		INSERT INTO order_notes (order_id, actor, kind, from_value, to_value, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, n.OrderID, n.Actor, string(n.Kind), n.From, n.To, n.Text, n.CreatedAt).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("insert order_note: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Notes(ctx context.Context, q db.Querier, orderID string) ([]Note, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, actor, kind, from_value, to_value, note, created_at
		FROM order_notes WHERE order_id = $1 ORDER BY id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select order_notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var (
			n    Note
			kind string
		)
		if err := rows.Scan(&n.ID, &n.OrderID, &n.Actor, &kind, &n.From, &n.To, &n.Text, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order_note: %w", err)
		}
		n.Kind = NoteKind(kind)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// StalePending lists gateway and bank transfer orders created before the
// cutoff that are still waiting for payment.
func (r *PostgresRepository) StalePending(ctx context.Context, q db.Querier, before time.Time, limit int) ([]string, error) {
	rows, err := q.Query(ctx, `
		SELECT id FROM orders
		WHERE status = 'pending' AND payment_status = 'pending'
		  AND payment_method <> 'cod'
		  AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("select stale orders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o                                   Order
		ownerID, discountCode, externalTxID *string
		method, status, paymentStatus       string
	)
	err := row.Scan(
		&o.ID, &o.Code, &ownerID, &o.Customer.Name, &o.Customer.Phone, &o.Customer.Email, &o.Customer.Address,
		&o.Note, &o.Subtotal, &discountCode, &o.DiscountAmount, &o.TotalAmount, &o.QuantityTotal,
		&method, &status, &paymentStatus, &externalTxID, &o.ReserveOnly,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.OwnerID = deref(ownerID)
	o.DiscountCode = deref(discountCode)
	o.ExternalTransactionID = deref(externalTxID)
	o.PaymentMethod = PaymentMethod(method)
	o.Status = Status(status)
	o.PaymentStatus = PaymentStatus(paymentStatus)
	return &o, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
