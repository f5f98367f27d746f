package httpapi

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/cart"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/checkout"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/order"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

type checkoutLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type checkoutRequest struct {
	Customer      order.CustomerInfo `json:"customer"`
	PaymentMethod string             `json:"paymentMethod"`
	DiscountCode  string             `json:"discountCode"`
	ReserveOnly   bool               `json:"reserveOnly"`
	Note          string             `json:"note"`
	Lines         []checkoutLine     `json:"lines"`
}

type checkoutResponse struct {
	Order      *order.Order     `json:"order"`
	Summary    checkout.Summary `json:"summary"`
	PaymentURL string           `json:"paymentUrl,omitempty"`
}

// Checkout places an order from the caller's stored cart.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	h.placeOrder(w, r, false)
}

// GuestCheckout places an order from lines sent in the body.
func (h *Handler) GuestCheckout(w http.ResponseWriter, r *http.Request) {
	h.placeOrder(w, r, true)
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request, guest bool) {
	var body checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "BadRequest", nil)
		return
	}

	id := IdentityFrom(r.Context())
	req := checkout.Request{
		Customer:      body.Customer,
		PaymentMethod: body.PaymentMethod,
		DiscountCode:  body.DiscountCode,
		ReserveOnly:   body.ReserveOnly,
		Note:          strings.TrimSpace(body.Note),
	}
	if guest {
		for _, l := range body.Lines {
			req.GuestLines = append(req.GuestLines, cart.Line{ProductID: l.ProductID, Quantity: l.Quantity})
		}
	} else {
		req.UserID = id.UserID
		if len(body.Lines) > 0 {
			writeError(w, http.StatusBadRequest, "lines are read from the stored cart", string(checkout.KindInvalidLine), nil)
			return
		}
	}

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key != "" && h.idempotency != nil {
		claim, err := h.idempotency.Begin(r.Context(), id.UserID, key)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		if claim.Replayed() {
			h.replay(w, r, claim.OrderID)
			return
		}
	}

	res, err := h.checkout.Checkout(r.Context(), req)
	if err != nil {
		h.releaseKey(r, id.UserID, key)
		h.writeDomainError(w, r, err)
		return
	}
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.Complete(r.Context(), id.UserID, key, res.Order.ID); err != nil {
			// the pending marker expires on its own; retries until then get 409
			h.logger.Error("store idempotency key", zap.String("order_id", res.Order.ID), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusCreated, checkoutResponse{
		Order:      res.Order,
		Summary:    res.Summary,
		PaymentURL: h.paymentURL(r, res.Order),
	})
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request, orderID string) {
	o, err := h.orders.Get(r.Context(), orderID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.Header().Set(HeaderReplayed, "true")
	writeJSON(w, http.StatusOK, checkoutResponse{
		Order: o,
		Summary: checkout.Summary{
			Subtotal:       o.Subtotal,
			DiscountAmount: o.DiscountAmount,
			FinalAmount:    o.TotalAmount,
		},
		PaymentURL: h.paymentURL(r, o),
	})
}

func (h *Handler) releaseKey(r *http.Request, scope, key string) {
	if key == "" || h.idempotency == nil {
		return
	}
	if err := h.idempotency.Release(r.Context(), scope, key); err != nil {
		h.logger.Warn("release idempotency key", zap.String("key", key), zap.Error(err))
	}
}

// paymentURL returns the gateway link for unpaid online orders, or "".
func (h *Handler) paymentURL(r *http.Request, o *order.Order) string {
	if !o.PaymentMethod.Online() || o.PaymentStatus != order.PaymentPending {
		return ""
	}
	p, ok := h.providers.ForMethod(o.PaymentMethod)
	if !ok {
		return ""
	}
	link, err := p.PaymentURL(o, clientIP(r), h.now())
	if err != nil {
		h.logger.Warn("build payment url", zap.String("provider", p.Name), zap.String("code", o.Code), zap.Error(err))
		return ""
	}
	return link
}

type validateDiscountRequest struct {
	Code     string          `json:"code"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// ValidateDiscount checks a code against a subtotal without consuming it.
func (h *Handler) ValidateDiscount(w http.ResponseWriter, r *http.Request) {
	var req validateDiscountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "BadRequest", nil)
		return
	}
	if strings.TrimSpace(req.Code) == "" || req.Subtotal.IsNegative() {
		writeError(w, http.StatusBadRequest, "code and a non-negative subtotal are required", "BadRequest", nil)
		return
	}

	applied, err := h.discounts.Validate(r.Context(), h.pool, req.Code, req.Subtotal, h.now())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"code":           applied.Code,
		"discountAmount": applied.Amount,
		"finalAmount":    order.Total(req.Subtotal, applied.Amount),
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
