package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// GetAvailability serves the ledger's current count for one product.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	stock, err := h.inventory.Get(r.Context(), productID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

type adjustRequest struct {
	ProductID string `json:"productId"`
	Available int    `json:"available"`
}

// AdjustAvailability overwrites the available count after a manual stock
// take and answers with the stored level.
func (h *Handler) AdjustAvailability(w http.ResponseWriter, r *http.Request) {
	var body adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "BadRequest", nil)
		return
	}
	switch {
	case body.ProductID == "":
		writeError(w, http.StatusBadRequest, "productId is required", "BadRequest", nil)
		return
	case body.Available < 0:
		writeError(w, http.StatusBadRequest, "available must not be negative", "BadRequest", nil)
		return
	}

	ctx := r.Context()
	if err := h.inventory.SetAvailable(ctx, body.ProductID, body.Available); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.logger.Info("stock adjusted",
		zap.String("product_id", body.ProductID),
		zap.Int("available", body.Available),
		zap.String("actor", IdentityFrom(ctx).Actor()))

	stock, err := h.inventory.Get(ctx, body.ProductID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}
