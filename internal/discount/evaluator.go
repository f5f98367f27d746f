package discount

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/db"
)

type Store interface {
	Find(ctx context.Context, q db.Querier, code string) (Discount, error)
	// IncrementUsage bumps used_count by one if the code is still redeemable
	// and reports whether a row was updated.
	IncrementUsage(ctx context.Context, q db.Querier, code string) (bool, error)
}

type Evaluator struct {
	store Store
}

func NewEvaluator(store Store) *Evaluator {
	return &Evaluator{store: store}
}

// Validate checks code against subtotal without consuming a use. An empty
// code yields a zero Applied and no error; rejections are *RejectedError.
func (e *Evaluator) Validate(ctx context.Context, q db.Querier, code string, subtotal decimal.Decimal, now time.Time) (Applied, error) {
	code = NormalizeCode(code)
	if code == "" {
		return Applied{Amount: decimal.Zero}, nil
	}

	d, err := e.store.Find(ctx, q, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Applied{}, &RejectedError{Code: code, Reason: ReasonNotFound}
		}
		return Applied{}, err
	}

	amount, reason := d.Evaluate(subtotal, now)
	if reason != "" {
		return Applied{}, &RejectedError{Code: code, Reason: reason}
	}
	return Applied{Code: code, Amount: amount}, nil
}

// Redeem consumes exactly one use of code inside the caller's transaction.
// Losing a race for the last use surfaces as ReasonUsageExhausted.
func (e *Evaluator) Redeem(ctx context.Context, q db.Querier, code string) error {
	code = NormalizeCode(code)
	ok, err := e.store.IncrementUsage(ctx, q, code)
	if err != nil {
		return err
	}
	if !ok {
		return &RejectedError{Code: code, Reason: ReasonUsageExhausted}
	}
	return nil
}
