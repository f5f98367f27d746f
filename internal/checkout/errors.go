package checkout

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/discount"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/order"
)

// Kind classifies a failed checkout for callers and metrics.
type Kind string

const (
	KindInvalidContactInfo   Kind = "InvalidContactInfo"
	KindInvalidPaymentMethod Kind = "InvalidPaymentMethod"
	KindInvalidLine          Kind = "InvalidLine"
	KindEmptyCart            Kind = "EmptyCart"
	KindOutOfStock           Kind = "OutOfStock"
	KindDiscountRejected     Kind = "DiscountRejected"
	KindCodeConflict         Kind = "CodeConflict"
	KindInternal             Kind = "Internal"
)

var ErrEmptyCart = errors.New("cart is empty")

// ValidationError rejects a request before anything is read or written.
type ValidationError struct {
	Kind   Kind
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return fmt.Sprintf("%s: %s", e.Kind, strings.Join(parts, "; "))
}

type ShortLine struct {
	ProductID string `json:"productId"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

// OutOfStockError lists every product whose requested quantity exceeds the
// stock read under lock, not only the first.
type OutOfStockError struct {
	Lines []ShortLine
}

func (e *OutOfStockError) Error() string {
	ids := make([]string, 0, len(e.Lines))
	for _, l := range e.Lines {
		ids = append(ids, l.ProductID)
	}
	return "out of stock: " + strings.Join(ids, ", ")
}

func KindOf(err error) Kind {
	var (
		validation *ValidationError
		short      *OutOfStockError
		rejected   *discount.RejectedError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return validation.Kind
	case errors.Is(err, ErrEmptyCart):
		return KindEmptyCart
	case errors.As(err, &short), errors.Is(err, inventory.ErrInsufficientStock):
		return KindOutOfStock
	case errors.As(err, &rejected):
		return KindDiscountRejected
	case errors.Is(err, order.ErrCodeConflict):
		return KindCodeConflict
	}
	return KindInternal
}
