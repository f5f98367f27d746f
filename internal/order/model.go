package order

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Line struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"orderId"`
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

func NewLine(productID string, quantity int, unitPrice decimal.Decimal) (Line, error) {
	switch {
	case strings.TrimSpace(productID) == "":
		return Line{}, fmt.Errorf("%w: productId is required", ErrInvalidLine)
	case quantity <= 0:
		return Line{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidLine)
	case unitPrice.IsNegative():
		return Line{}, fmt.Errorf("%w: unit price must not be negative", ErrInvalidLine)
	}
	return Line{ProductID: productID, Quantity: quantity, UnitPrice: unitPrice}, nil
}

func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type CustomerInfo struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address"`
}

var (
	phonePattern = regexp.MustCompile(`^[0-9]{10,11}$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// Normalize trims surrounding whitespace from every field.
func (c CustomerInfo) Normalize() CustomerInfo {
	return CustomerInfo{
		Name:    strings.TrimSpace(c.Name),
		Phone:   strings.TrimSpace(c.Phone),
		Email:   strings.TrimSpace(c.Email),
		Address: strings.TrimSpace(c.Address),
	}
}

// Validate returns a message per invalid field, or nil.
func (c CustomerInfo) Validate() map[string]string {
	c = c.Normalize()
	problems := map[string]string{}
	if c.Name == "" {
		problems["name"] = "is required"
	}
	if c.Address == "" {
		problems["address"] = "is required"
	}
	switch {
	case c.Phone == "":
		problems["phone"] = "is required"
	case !phonePattern.MatchString(c.Phone):
		problems["phone"] = "must be 10 or 11 digits"
	}
	if c.Email != "" && !emailPattern.MatchString(c.Email) {
		problems["email"] = "is not a valid address"
	}
	if len(problems) == 0 {
		return nil
	}
	return problems
}

type Order struct {
	ID                    string          `json:"id"`
	Code                  string          `json:"code"`
	OwnerID               string          `json:"ownerId,omitempty"`
	Customer              CustomerInfo    `json:"customer"`
	Note                  string          `json:"note,omitempty"`
	Subtotal              decimal.Decimal `json:"subtotal"`
	DiscountCode          string          `json:"discountCode,omitempty"`
	DiscountAmount        decimal.Decimal `json:"discountAmount"`
	TotalAmount           decimal.Decimal `json:"totalAmount"`
	QuantityTotal         int             `json:"quantityTotal"`
	PaymentMethod         PaymentMethod   `json:"paymentMethod"`
	Status                Status          `json:"status"`
	PaymentStatus         PaymentStatus   `json:"paymentStatus"`
	ExternalTransactionID string          `json:"externalTransactionId,omitempty"`
	ReserveOnly           bool            `json:"reserveOnly"`
	Lines                 []Line          `json:"lines"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// Total is subtotal minus discount, floored at zero.
func Total(subtotal, discountAmount decimal.Decimal) decimal.Decimal {
	total := subtotal.Sub(discountAmount)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

type NoteKind string

const (
	NoteStatus  NoteKind = "status"
	NotePayment NoteKind = "payment"
	NoteComment NoteKind = "comment"
)

// Note is one audit entry on an order.
type Note struct {
	ID        int64     `json:"id"`
	OrderID   string    `json:"orderId"`
	Actor     string    `json:"actor,omitempty"`
	Kind      NoteKind  `json:"kind"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Text      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewCode builds a human readable order code: prefix, UTC timestamp to the
// second, then four random digits.
func NewCode(prefix string, now time.Time) string {
	return fmt.Sprintf("%s%s%04d", prefix, now.UTC().Format("060102150405"), rand.IntN(10000))
}
