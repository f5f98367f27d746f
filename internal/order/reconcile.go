package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/db"
)

// Outcome of applying a gateway message to an order.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeAlreadyPaid    Outcome = "already_paid"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeNotFound       Outcome = "not_found"
	OutcomeAmountMismatch Outcome = "amount_mismatch"
)

// Settlement is what a verified gateway message claims about an order.
type Settlement struct {
	Code          string
	Paid          bool
	TransactionID string
	// Amount is compared with the order total when set.
	Amount   decimal.NullDecimal
	Provider string
	// Method is the payment method the provider settles. When set, orders
	// placed with another method are left alone.
	Method PaymentMethod
}

type ReconcileResult struct {
	Outcome Outcome
	Reason  string
	Order   *Order
}

// ReconcilePayment applies a gateway outcome under the order row lock. It is
// safe to replay: a paid order is never re-applied or downgraded, and only a
// pending payment moves.
func (s *Service) ReconcilePayment(ctx context.Context, st Settlement) (ReconcileResult, error) {
	var res ReconcileResult
	err := s.tx.InTx(ctx, func(q db.Querier) error {
		o, err := s.store.GetByCode(ctx, q, st.Code, true)
		if errors.Is(err, ErrNotFound) {
			res = ReconcileResult{Outcome: OutcomeNotFound}
			return nil
		}
		if err != nil {
			return err
		}
		res.Order = o

		if st.Method != "" && st.Method != o.PaymentMethod {
			res.Outcome = OutcomeIgnored
			res.Reason = fmt.Sprintf("order is not settled by %s", st.Provider)
			return nil
		}

		if st.Amount.Valid && !st.Amount.Decimal.Equal(o.TotalAmount) {
			res.Outcome = OutcomeAmountMismatch
			res.Reason = fmt.Sprintf("expected %s, got %s", o.TotalAmount, st.Amount.Decimal)
			return nil
		}

		target := PaymentFailed
		if st.Paid {
			target = PaymentPaid
		}

		switch {
		case o.PaymentStatus == PaymentPaid && st.Paid:
			res.Outcome = OutcomeAlreadyPaid
			return nil
		case o.PaymentStatus == target:
			res.Outcome = OutcomeDuplicate
			return nil
		case o.PaymentStatus != PaymentPending:
			res.Outcome = OutcomeIgnored
			res.Reason = fmt.Sprintf("payment already %s", o.PaymentStatus)
			return nil
		case o.Status.Terminal():
			res.Outcome = OutcomeIgnored
			res.Reason = fmt.Sprintf("order is %s", o.Status)
			return nil
		}

		note := fmt.Sprintf("%s notification", st.Provider)
		if err := s.applyPayment(ctx, q, o, target, st.TransactionID, st.Provider, note, st.Provider); err != nil {
			return err
		}
		res.Outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	fields := []zap.Field{
		zap.String("code", st.Code),
		zap.String("provider", st.Provider),
		zap.Bool("paid", st.Paid),
		zap.String("outcome", string(res.Outcome)),
	}
	switch res.Outcome {
	case OutcomeApplied:
		s.logger.Info("payment reconciled", fields...)
	case OutcomeIgnored, OutcomeAmountMismatch, OutcomeNotFound:
		s.logger.Warn("payment notification not applied", append(fields, zap.String("reason", res.Reason))...)
	default:
		s.logger.Debug("payment notification replayed", fields...)
	}
	return res, nil
}
