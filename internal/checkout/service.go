package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/cart"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/discount"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/order"
)

const maxCodeAttempts = 3

type TxRunner interface {
	InTx(ctx context.Context, fn func(q db.Querier) error) error
}

type CartSource interface {
	Snapshot(ctx context.Context, q db.Querier, userID string) (cart.Snapshot, error)
	Delete(ctx context.Context, q db.Querier, cartID string) error
}

type StockLedger interface {
	Levels(ctx context.Context, q db.Querier, productIDs []string) (map[string]inventory.Level, error)
	Decrement(ctx context.Context, q db.Querier, productID string, qty int) (int, error)
}

type DiscountEvaluator interface {
	Validate(ctx context.Context, q db.Querier, code string, subtotal decimal.Decimal, now time.Time) (discount.Applied, error)
	Redeem(ctx context.Context, q db.Querier, code string) error
}

type OrderWriter interface {
	Insert(ctx context.Context, q db.Querier, o *order.Order) error
}

type EventRecorder interface {
	Record(ctx context.Context, q db.Querier, topic, partitionKey string, payload any) error
}

type Deps struct {
	Tx         TxRunner
	Carts      CartSource
	Stock      StockLedger
	Discounts  DiscountEvaluator
	Orders     OrderWriter
	Events     EventRecorder
	Logger     *zap.Logger
	Checkouts  *prometheus.CounterVec
	CodePrefix string
	Now        func() time.Time
}

type Service struct {
	tx         TxRunner
	carts      CartSource
	stock      StockLedger
	discounts  DiscountEvaluator
	orders     OrderWriter
	events     EventRecorder
	logger     *zap.Logger
	checkouts  *prometheus.CounterVec
	codePrefix string
	now        func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		tx:         d.Tx,
		carts:      d.Carts,
		stock:      d.Stock,
		discounts:  d.Discounts,
		orders:     d.Orders,
		events:     d.Events,
		logger:     d.Logger,
		checkouts:  d.Checkouts,
		codePrefix: d.CodePrefix,
		now:        d.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.codePrefix == "" {
		s.codePrefix = "OD"
	}
	return s
}

// Request describes one checkout. UserID selects the caller's server-side
// cart; without it GuestLines are checked out directly.
type Request struct {
	UserID        string
	GuestLines    []cart.Line
	Customer      order.CustomerInfo
	PaymentMethod string
	DiscountCode  string
	ReserveOnly   bool
	Note          string
}

type Summary struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	FinalAmount    decimal.Decimal `json:"finalAmount"`
}

type Result struct {
	Order   *order.Order `json:"order"`
	Summary Summary      `json:"summary"`
}

// Checkout converts a cart into an order. Stock checks, discount
// redemption, order insert, stock decrement, cart removal and the
// order.placed event happen in one transaction; any failure leaves no trace.
// An order code collision retries the whole transaction.
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	res, err := s.checkout(ctx, req)

	kind := KindOf(err)
	if s.checkouts != nil {
		label := "ok"
		if err != nil {
			label = string(kind)
		}
		s.checkouts.WithLabelValues(label).Inc()
	}

	switch {
	case err == nil:
		s.logger.Info("order placed",
			zap.String("order_id", res.Order.ID),
			zap.String("code", res.Order.Code),
			zap.String("total", res.Summary.FinalAmount.String()),
			zap.Bool("reserve_only", res.Order.ReserveOnly))
	case kind == KindInternal:
		s.logger.Error("checkout failed", zap.String("user_id", req.UserID), zap.Error(err))
	default:
		s.logger.Info("checkout rejected", zap.String("user_id", req.UserID), zap.String("kind", string(kind)), zap.Error(err))
	}
	return res, err
}

func (s *Service) checkout(ctx context.Context, req Request) (*Result, error) {
	customer := req.Customer.Normalize()
	if problems := customer.Validate(); problems != nil {
		return nil, &ValidationError{Kind: KindInvalidContactInfo, Fields: problems}
	}
	method, err := order.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return nil, &ValidationError{Kind: KindInvalidPaymentMethod, Fields: map[string]string{"paymentMethod": "is not supported"}}
	}

	var guest []cart.Line
	if req.UserID == "" {
		if len(req.GuestLines) == 0 {
			return nil, ErrEmptyCart
		}
		for i, l := range req.GuestLines {
			line, err := cart.NewLine(l.ProductID, l.Quantity, decimal.Zero)
			if err != nil {
				return nil, &ValidationError{Kind: KindInvalidLine, Fields: map[string]string{fmt.Sprintf("lines[%d]", i): err.Error()}}
			}
			guest = append(guest, line)
		}
	} else if len(req.GuestLines) > 0 {
		return nil, &ValidationError{Kind: KindInvalidLine, Fields: map[string]string{"lines": "are read from the stored cart"}}
	}

	p := placement{
		userID:      req.UserID,
		guest:       guest,
		customer:    customer,
		method:      method,
		code:        req.DiscountCode,
		reserveOnly: req.ReserveOnly,
		note:        req.Note,
	}

	for attempt := 1; ; attempt++ {
		res, err := s.place(ctx, p)
		if errors.Is(err, order.ErrCodeConflict) && attempt < maxCodeAttempts {
			s.logger.Warn("order code collision, retrying", zap.Int("attempt", attempt))
			continue
		}
		return res, err
	}
}

type placement struct {
	userID      string
	guest       []cart.Line
	customer    order.CustomerInfo
	method      order.PaymentMethod
	code        string
	reserveOnly bool
	note        string
}

func (s *Service) place(ctx context.Context, p placement) (*Result, error) {
	var res *Result
	err := s.tx.InTx(ctx, func(q db.Querier) error {
		snap := cart.Guest(p.guest)
		if p.userID != "" {
			var err error
			if snap, err = s.carts.Snapshot(ctx, q, p.userID); err != nil {
				return fmt.Errorf("load cart: %w", err)
			}
		}
		if snap.Empty() {
			return ErrEmptyCart
		}

		ids := snap.ProductIDs()
		requested := snap.Quantities()
		levels, err := s.stock.Levels(ctx, q, ids)
		if err != nil {
			return fmt.Errorf("read stock: %w", err)
		}
		var short []ShortLine
		for _, id := range ids {
			if available := levels[id].Available; requested[id] > available {
				short = append(short, ShortLine{ProductID: id, Available: available, Requested: requested[id]})
			}
		}
		if len(short) > 0 {
			return &OutOfStockError{Lines: short}
		}

		subtotal := decimal.Zero
		quantity := 0
		lines := make([]order.Line, 0, len(ids))
		for _, l := range snap.Lines() {
			price := l.UnitPrice
			if !snap.Priced {
				price = levels[l.ProductID].Price
			}
			line, err := order.NewLine(l.ProductID, l.Quantity, price)
			if err != nil {
				return err
			}
			lines = append(lines, line)
			subtotal = subtotal.Add(line.Total())
			quantity += line.Quantity
		}

		now := s.now().UTC()
		applied, err := s.discounts.Validate(ctx, q, p.code, subtotal, now)
		if err != nil {
			return err
		}
		if !applied.None() {
			if err := s.discounts.Redeem(ctx, q, applied.Code); err != nil {
				return err
			}
		}

		o := &order.Order{
			Code:           order.NewCode(s.codePrefix, now),
			OwnerID:        p.userID,
			Customer:       p.customer,
			Note:           p.note,
			Subtotal:       subtotal,
			DiscountCode:   applied.Code,
			DiscountAmount: applied.Amount,
			TotalAmount:    order.Total(subtotal, applied.Amount),
			QuantityTotal:  quantity,
			PaymentMethod:  p.method,
			Status:         order.StatusPending,
			PaymentStatus:  order.InitialPaymentStatus(p.method),
			ReserveOnly:    p.reserveOnly,
			Lines:          lines,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.orders.Insert(ctx, q, o); err != nil {
			return err
		}

		if !p.reserveOnly {
			for _, id := range ids {
				if _, err := s.stock.Decrement(ctx, q, id, requested[id]); err != nil {
					if errors.Is(err, inventory.ErrInsufficientStock) {
						return &OutOfStockError{Lines: []ShortLine{{ProductID: id, Available: levels[id].Available, Requested: requested[id]}}}
					}
					return fmt.Errorf("decrement %s: %w", id, err)
				}
			}
			if snap.CartID != "" {
				if err := s.carts.Delete(ctx, q, snap.CartID); err != nil {
					return fmt.Errorf("delete cart: %w", err)
				}
			}
		}

		if err := s.events.Record(ctx, q, events.OrderPlacedRoutingKey, o.ID, events.OrderPlacedPayload{
			OrderID:        o.ID,
			Code:           o.Code,
			OwnerID:        o.OwnerID,
			Lines:          order.EventLines(o.Lines),
			Subtotal:       o.Subtotal,
			DiscountCode:   o.DiscountCode,
			DiscountAmount: o.DiscountAmount,
			TotalAmount:    o.TotalAmount,
			PaymentMethod:  string(o.PaymentMethod),
			PaymentStatus:  string(o.PaymentStatus),
			ReserveOnly:    o.ReserveOnly,
			Timestamp:      now,
		}); err != nil {
			return err
		}

		res = &Result{
			Order: o,
			Summary: Summary{
				Subtotal:       o.Subtotal,
				DiscountAmount: o.DiscountAmount,
				FinalAmount:    o.TotalAmount,
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
