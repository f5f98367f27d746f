package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/checkout"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/discount"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/idempotency"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/payment"
)

type errorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, kind string, details any) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind, Details: details})
}

// writeDomainError maps service errors onto status codes. Anything it does
// not recognise is logged and reported as a 500 without detail.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *checkout.ValidationError
		short      *checkout.OutOfStockError
		rejected   *discount.RejectedError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "invalid request", string(validation.Kind), validation.Fields)
	case errors.Is(err, checkout.ErrEmptyCart):
		writeError(w, http.StatusBadRequest, err.Error(), string(checkout.KindEmptyCart), nil)
	case errors.As(err, &short):
		writeError(w, http.StatusConflict, "insufficient stock", string(checkout.KindOutOfStock), short.Lines)
	case errors.Is(err, inventory.ErrInsufficientStock):
		writeError(w, http.StatusConflict, err.Error(), string(checkout.KindOutOfStock), nil)
	case errors.As(err, &rejected):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), string(checkout.KindDiscountRejected),
			map[string]string{"code": rejected.Code, "reason": string(rejected.Reason)})
	case errors.Is(err, order.ErrCodeConflict):
		writeError(w, http.StatusConflict, "order code collision, retry the request", string(checkout.KindCodeConflict), map[string]bool{"retryable": true})
	case errors.Is(err, order.ErrNotFound), errors.Is(err, inventory.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found", "NotFound", nil)
	case errors.Is(err, order.ErrOrderImmutable):
		writeError(w, http.StatusConflict, err.Error(), "OrderImmutable", nil)
	case errors.Is(err, order.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error(), "InvalidTransition", nil)
	case errors.Is(err, order.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error(), "InvalidStatus", nil)
	case errors.Is(err, order.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "Forbidden", nil)
	case errors.Is(err, idempotency.ErrInProgress):
		writeError(w, http.StatusConflict, err.Error(), "RequestInProgress", nil)
	case errors.Is(err, idempotency.ErrInvalidKey), errors.Is(err, inventory.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, err.Error(), "BadRequest", nil)
	case errors.Is(err, payment.ErrUnknownProvider):
		writeError(w, http.StatusNotFound, err.Error(), "UnknownProvider", nil)
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", string(checkout.KindInternal), nil)
	}
}
