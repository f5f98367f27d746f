package inventory

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

type StockItem struct {
	ProductID string `json:"productId"`
	Available int    `json:"available"`
}

// Level is the locked view of one product taken at checkout time.
type Level struct {
	Available int
	Price     decimal.Decimal
}
