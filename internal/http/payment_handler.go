package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/payment"
)

// PaymentIPN answers a provider's server-to-server notification. Known
// providers always get 200 with their own acknowledgement body.
func (h *Handler) PaymentIPN(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	params, err := notificationParams(r)
	if err != nil {
		h.logger.Warn("unreadable payment notification", zap.String("provider", provider), zap.Error(err))
		params = url.Values{}
	}

	ack, err := h.payments.Notify(r.Context(), provider, params)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// PaymentReturn sends the shopper's browser on to the storefront.
func (h *Handler) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	res, err := h.payments.Return(r.Context(), chi.URLParam(r, "provider"), r.URL.Query())
	if err != nil {
		if errors.Is(err, payment.ErrUnknownProvider) {
			h.writeDomainError(w, r, err)
			return
		}
		h.logger.Error("payment return failed", zap.String("provider", chi.URLParam(r, "provider")), zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not confirm payment, please check your order later", "Internal", nil)
		return
	}
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

// notificationParams reads query parameters, form bodies and flat JSON
// objects into one set of values.
func notificationParams(r *http.Request) (url.Values, error) {
	if r.Method == http.MethodGet {
		return r.URL.Query(), nil
	}

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "application/json" {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		return r.Form, nil
	}

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("decode json notification: %w", err)
	}

	params := r.URL.Query()
	for k, v := range body {
		switch t := v.(type) {
		case nil:
			params.Set(k, "")
		case string:
			params.Set(k, t)
		case json.Number:
			params.Set(k, t.String())
		case bool:
			params.Set(k, fmt.Sprint(t))
		default:
			raw, _ := json.Marshal(t)
			params.Set(k, string(raw))
		}
	}
	return params, nil
}
