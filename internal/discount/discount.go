package discount

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindPercentage Kind = "percentage"
	KindFixed      Kind = "fixed"
)

// Reason explains why a code was not applied.
type Reason string

const (
	ReasonNotFound       Reason = "not_found"
	ReasonInactive       Reason = "inactive"
	ReasonOutOfWindow    Reason = "out_of_window"
	ReasonUsageExhausted Reason = "usage_exhausted"
	ReasonBelowMinimum   Reason = "below_minimum"
)

var (
	ErrNotFound        = errors.New("discount not found")
	ErrInvalidDiscount = errors.New("invalid discount")
)

var hundred = decimal.NewFromInt(100)

// Discount is a redeemable code. Values built through New satisfy the
// table constraints, so a loaded row can be trusted by Evaluate.
type Discount struct {
	Code              string
	Kind              Kind
	Value             decimal.Decimal
	MinOrderAmount    decimal.Decimal
	MaxDiscountAmount decimal.NullDecimal
	StartDate         time.Time
	EndDate           time.Time
	UsageLimit        *int
	UsedCount         int
	IsActive          bool
}

func New(d Discount) (Discount, error) {
	d.Code = NormalizeCode(d.Code)
	switch {
	case d.Code == "":
		return Discount{}, fmt.Errorf("%w: code is required", ErrInvalidDiscount)
	case d.Kind != KindPercentage && d.Kind != KindFixed:
		return Discount{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidDiscount, d.Kind)
	case d.Value.IsNegative():
		return Discount{}, fmt.Errorf("%w: negative value", ErrInvalidDiscount)
	case d.Kind == KindPercentage && d.Value.GreaterThan(hundred):
		return Discount{}, fmt.Errorf("%w: percentage above 100", ErrInvalidDiscount)
	case !d.StartDate.Before(d.EndDate):
		return Discount{}, fmt.Errorf("%w: start date must precede end date", ErrInvalidDiscount)
	case d.UsedCount < 0:
		return Discount{}, fmt.Errorf("%w: negative used count", ErrInvalidDiscount)
	case d.UsageLimit != nil && *d.UsageLimit < 0:
		return Discount{}, fmt.Errorf("%w: negative usage limit", ErrInvalidDiscount)
	case d.UsageLimit != nil && d.UsedCount > *d.UsageLimit:
		return Discount{}, fmt.Errorf("%w: used count exceeds usage limit", ErrInvalidDiscount)
	}
	return d, nil
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Evaluate returns the amount this discount takes off subtotal at now, or
// the first rule that rejects it. Checks run in a fixed order: active flag,
// validity window, usage limit, minimum order amount.
func (d Discount) Evaluate(subtotal decimal.Decimal, now time.Time) (decimal.Decimal, Reason) {
	if !d.IsActive {
		return decimal.Zero, ReasonInactive
	}
	if now.Before(d.StartDate) || now.After(d.EndDate) {
		return decimal.Zero, ReasonOutOfWindow
	}
	if d.UsageLimit != nil && d.UsedCount >= *d.UsageLimit {
		return decimal.Zero, ReasonUsageExhausted
	}
	if subtotal.LessThan(d.MinOrderAmount) {
		return decimal.Zero, ReasonBelowMinimum
	}

	if d.Kind == KindFixed {
		return d.Value, ""
	}

	amount := subtotal.Mul(d.Value).Div(hundred).Round(2)
	if d.MaxDiscountAmount.Valid && amount.GreaterThan(d.MaxDiscountAmount.Decimal) {
		amount = d.MaxDiscountAmount.Decimal
	}
	return amount, ""
}

// RejectedError carries the reason a supplied code could not be used.
type RejectedError struct {
	Code   string
	Reason Reason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("discount %q rejected: %s", e.Code, e.Reason)
}

// Applied is the outcome of a successful validation. The zero value means
// no code was supplied.
type Applied struct {
	Code   string          `json:"code,omitempty"`
	Amount decimal.Decimal `json:"amount"`
}

func (a Applied) None() bool {
	return a.Code == ""
}
