package events

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderLine struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type OrderPlacedPayload struct {
	OrderID        string          `json:"orderId"`
	Code           string          `json:"code"`
	OwnerID        string          `json:"ownerId,omitempty"`
	Lines          []OrderLine     `json:"lines"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountCode   string          `json:"discountCode,omitempty"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	PaymentMethod  string          `json:"paymentMethod"`
	PaymentStatus  string          `json:"paymentStatus"`
	ReserveOnly    bool            `json:"reserveOnly"`
	Timestamp      time.Time       `json:"timestamp"`
}

type OrderStatusChangedPayload struct {
	OrderID   string    `json:"orderId"`
	Code      string    `json:"code"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Actor     string    `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type OrderPaymentUpdatedPayload struct {
	OrderID               string          `json:"orderId"`
	Code                  string          `json:"code"`
	From                  string          `json:"from"`
	To                    string          `json:"to"`
	ExternalTransactionID string          `json:"externalTransactionId,omitempty"`
	Amount                decimal.Decimal `json:"amount"`
	Source                string          `json:"source"`
	Timestamp             time.Time       `json:"timestamp"`
}

type OrderCancelledPayload struct {
	OrderID       string      `json:"orderId"`
	Code          string      `json:"code"`
	PreviousState string      `json:"previousStatus"`
	Restocked     []OrderLine `json:"restocked"`
	Actor         string      `json:"actor,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}
