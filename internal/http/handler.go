package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/checkout"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/discount"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/idempotency"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/payment"
)

const serviceName = "checkout-service"

type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

type Orders interface {
	Get(ctx context.Context, orderID string) (*order.Order, error)
	ListByUser(ctx context.Context, ownerID string) ([]order.Order, error)
	Notes(ctx context.Context, orderID string) ([]order.Note, error)
	UpdateStatus(ctx context.Context, cmd order.StatusChange) (*order.Order, error)
	UpdatePaymentStatus(ctx context.Context, cmd order.PaymentChange) (*order.Order, error)
	AddNote(ctx context.Context, orderID, actor, text string) (*order.Note, error)
}

type Inventory interface {
	Get(ctx context.Context, productID string) (inventory.StockItem, error)
	SetAvailable(ctx context.Context, productID string, available int) error
}

type DiscountValidator interface {
	Validate(ctx context.Context, q db.Querier, code string, subtotal decimal.Decimal, now time.Time) (discount.Applied, error)
}

type Payments interface {
	Notify(ctx context.Context, provider string, params url.Values) (payment.Ack, error)
	Return(ctx context.Context, provider string, params url.Values) (payment.ReturnResult, error)
}

type IdempotencyStore interface {
	Begin(ctx context.Context, scope, key string) (idempotency.Claim, error)
	Complete(ctx context.Context, scope, key, orderID string) error
	Release(ctx context.Context, scope, key string) error
}

type HandlerDeps struct {
	Checkout  Checkouter
	Orders    Orders
	Inventory Inventory
	Discounts DiscountValidator
	// Pool runs standalone discount validation outside any transaction.
	Pool      db.Querier
	Payments  Payments
	Providers payment.Providers
	// Idempotency is optional; nil disables Idempotency-Key handling.
	Idempotency IdempotencyStore
	Logger      *zap.Logger
	Now         func() time.Time
}

type Handler struct {
	checkout    Checkouter
	orders      Orders
	inventory   Inventory
	discounts   DiscountValidator
	pool        db.Querier
	payments    Payments
	providers   payment.Providers
	idempotency IdempotencyStore
	logger      *zap.Logger
	now         func() time.Time
}

func NewHandler(d HandlerDeps) *Handler {
	h := &Handler{
		checkout:    d.Checkout,
		orders:      d.Orders,
		inventory:   d.Inventory,
		discounts:   d.Discounts,
		pool:        d.Pool,
		payments:    d.Payments,
		providers:   d.Providers,
		idempotency: d.Idempotency,
		logger:      d.Logger,
		now:         d.Now,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": serviceName})
}
