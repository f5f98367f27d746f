package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/metrics"
)

const (
	HeaderUserID        = "X-User-Id"
	HeaderUserRole      = "X-User-Role"
	HeaderCorrelationID = "X-Correlation-Id"

	RoleAdmin    = "admin"
	RoleCustomer = "customer"
)

type ctxKey string

const ctxIdentity ctxKey = "identity"

// Identity is who the upstream gateway says is calling.
type Identity struct {
	UserID string
	Role   string
}

func (i Identity) Admin() bool {
	return i.Role == RoleAdmin
}

// Actor names the caller in audit notes.
func (i Identity) Actor() string {
	if i.UserID == "" {
		return "anonymous"
	}
	return i.UserID
}

func IdentityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(ctxIdentity).(Identity)
	return id
}

// identify trusts X-User-Id and X-User-Role as set by the API gateway.
func identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := Identity{
			UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
			Role:   strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole))),
		}
		if id.Role == "" && id.UserID != "" {
			id.Role = RoleCustomer
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxIdentity, id)))
	})
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IdentityFrom(r.Context()).UserID == "" {
			writeError(w, http.StatusUnauthorized, "missing required header: "+HeaderUserID, "Unauthenticated", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFrom(r.Context())
		if id.UserID == "" {
			writeError(w, http.StatusUnauthorized, "missing required header: "+HeaderUserID, "Unauthenticated", nil)
			return
		}
		if !id.Admin() {
			writeError(w, http.StatusForbidden, "admin role required", "Forbidden", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(HeaderCorrelationID)
		if cid == "" {
			cid = uuid.NewString()
		}
		w.Header().Set(HeaderCorrelationID, cid)
		next.ServeHTTP(w, r.WithContext(events.WithCorrelationID(r.Context(), cid)))
	})
}

// observe logs every request and records its latency by route pattern.
func observe(logger *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			elapsed := time.Since(start)

			if m != nil {
				m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
				m.LatencyMS.WithLabelValues(route).Observe(float64(elapsed.Microseconds()) / 1000)
			}
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("duration", elapsed),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("correlation_id", events.CorrelationID(r.Context())))
		})
	}
}
