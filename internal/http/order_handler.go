package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/order"
)

type orderResponse struct {
	*order.Order
	Notes []order.Note `json:"notes,omitempty"`
}

// GetOrder is visible to the order's owner and to admins.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := IdentityFrom(r.Context())
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if !id.Admin() && o.OwnerID != id.UserID {
		h.writeDomainError(w, r, order.ErrForbidden)
		return
	}

	resp := orderResponse{Order: o}
	if id.Admin() {
		if resp.Notes, err = h.orders.Notes(r.Context(), o.ID); err != nil {
			h.writeDomainError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListByUser(r.Context(), IdentityFrom(r.Context()).UserID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if orders == nil {
		orders = []order.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

type noteRequest struct {
	Note string `json:"note"`
}

// CancelOrder lets an admin cancel any non-terminal order and a customer
// cancel their own order while it is still pending.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var body noteRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "BadRequest", nil)
		return
	}

	id := IdentityFrom(r.Context())
	cmd := order.StatusChange{
		OrderID: chi.URLParam(r, "orderId"),
		To:      order.StatusCancelled,
		Actor:   id.Actor(),
		Note:    body.Note,
	}
	if !id.Admin() {
		cmd.OwnerID = id.UserID
	}

	o, err := h.orders.UpdateStatus(r.Context(), cmd)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type statusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body statusRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "BadRequest", nil)
		return
	}
	status, err := order.ParseStatus(body.Status)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), order.StatusChange{
		OrderID: chi.URLParam(r, "orderId"),
		To:      status,
		Actor:   IdentityFrom(r.Context()).Actor(),
		Note:    body.Note,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type paymentStatusRequest struct {
	PaymentStatus string `json:"paymentStatus"`
	TransactionID string `json:"transactionId"`
	Note          string `json:"note"`
}

func (h *Handler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var body paymentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "BadRequest", nil)
		return
	}
	status, err := order.ParsePaymentStatus(body.PaymentStatus)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	o, err := h.orders.UpdatePaymentStatus(r.Context(), order.PaymentChange{
		OrderID:       chi.URLParam(r, "orderId"),
		To:            status,
		TransactionID: body.TransactionID,
		Actor:         IdentityFrom(r.Context()).Actor(),
		Note:          body.Note,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) AddNote(w http.ResponseWriter, r *http.Request) {
	var body noteRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Note == "" {
		writeError(w, http.StatusBadRequest, "note is required", "BadRequest", nil)
		return
	}

	n, err := h.orders.AddNote(r.Context(), chi.URLParam(r, "orderId"), IdentityFrom(r.Context()).Actor(), body.Note)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}
