package cart

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidLine = errors.New("invalid cart line")

// Line is one product in a cart. UnitPrice is the price captured when the
// item was added; guest lines carry no price until checkout reads the catalog.
type Line struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"price"`
}

func NewLine(productID string, quantity int, unitPrice decimal.Decimal) (Line, error) {
	productID = strings.TrimSpace(productID)
	switch {
	case productID == "":
		return Line{}, errors.Join(ErrInvalidLine, errors.New("productId is required"))
	case quantity <= 0:
		return Line{}, errors.Join(ErrInvalidLine, errors.New("quantity must be positive"))
	case unitPrice.IsNegative():
		return Line{}, errors.Join(ErrInvalidLine, errors.New("price must not be negative"))
	}
	return Line{ProductID: productID, Quantity: quantity, UnitPrice: unitPrice}, nil
}

// Snapshot is a read-only copy of a cart taken at checkout start.
type Snapshot struct {
	CartID string
	UserID string
	// Priced is false for guest carts whose prices come from the catalog.
	Priced bool
	lines  []Line
}

func NewSnapshot(cartID, userID string, lines []Line) Snapshot {
	return Snapshot{CartID: cartID, UserID: userID, Priced: true, lines: copyLines(lines)}
}

// Guest wraps lines submitted directly by an anonymous shopper.
func Guest(lines []Line) Snapshot {
	return Snapshot{Priced: false, lines: copyLines(lines)}
}

func (s Snapshot) Lines() []Line {
	return copyLines(s.lines)
}

func (s Snapshot) Empty() bool {
	return len(s.lines) == 0
}

// Quantities sums requested units per product, merging duplicate lines.
func (s Snapshot) Quantities() map[string]int {
	out := make(map[string]int, len(s.lines))
	for _, l := range s.lines {
		out[l.ProductID] += l.Quantity
	}
	return out
}

// ProductIDs returns the distinct product ids in first-seen order.
func (s Snapshot) ProductIDs() []string {
	seen := make(map[string]struct{}, len(s.lines))
	ids := make([]string, 0, len(s.lines))
	for _, l := range s.lines {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		ids = append(ids, l.ProductID)
	}
	return ids
}

func copyLines(lines []Line) []Line {
	if len(lines) == 0 {
		return nil
	}
	out := make([]Line, len(lines))
	copy(out, lines)
	return out
}
