package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/metrics"
)

func NewRouter(h *Handler, m *metrics.Metrics, gatherer prometheus.Gatherer, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationID)
	r.Use(observe(logger, m))
	r.Use(identify)

	r.Get("/health", h.Health)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))
	}

	r.Route("/api", func(r chi.Router) {
		r.With(requireUser).Post("/checkout", h.Checkout)
		r.Post("/checkout/guest", h.GuestCheckout)
		r.Post("/discounts/validate", h.ValidateDiscount)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)
			r.Get("/orders/{orderId}", h.GetOrder)
			r.Post("/orders/{orderId}/cancel", h.CancelOrder)
			r.Get("/me/orders", h.ListMyOrders)
		})

		r.Get("/inventory/{productId}", h.GetAvailability)

		r.Route("/payments/{provider}", func(r chi.Router) {
			r.Get("/return", h.PaymentReturn)
			r.Get("/ipn", h.PaymentIPN)
			r.Post("/ipn", h.PaymentIPN)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin)
			r.Patch("/orders/{orderId}/status", h.UpdateStatus)
			r.Patch("/orders/{orderId}/payment-status", h.UpdatePaymentStatus)
			r.Post("/orders/{orderId}/notes", h.AddNote)
			r.Post("/inventory/adjust", h.AdjustAvailability)
		})
	})

	return r
}
