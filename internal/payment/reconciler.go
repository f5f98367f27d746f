package payment

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/order"
)

// Orders is the slice of the order service the gateway relies on.
type Orders interface {
	ReconcilePayment(ctx context.Context, st order.Settlement) (order.ReconcileResult, error)
	GetByCode(ctx context.Context, code string) (*order.Order, error)
}

type ReconcilerDeps struct {
	Providers     Providers
	Orders        Orders
	Log           NotificationLog
	Logger        *zap.Logger
	Notifications *prometheus.CounterVec
	Now           func() time.Time
}

// Reconciler turns signed gateway requests into order payment updates.
type Reconciler struct {
	providers Providers
	orders    Orders
	log       NotificationLog
	logger    *zap.Logger
	counter   *prometheus.CounterVec
	now       func() time.Time
}

func NewReconciler(d ReconcilerDeps) *Reconciler {
	r := &Reconciler{
		providers: d.Providers,
		orders:    d.Orders,
		log:       d.Log,
		logger:    d.Logger,
		counter:   d.Notifications,
		now:       d.Now,
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Notify handles the authoritative server-to-server channel. Every request
// for a known provider gets an Ack; only an unknown provider is an error.
func (r *Reconciler) Notify(ctx context.Context, provider string, params url.Values) (Ack, error) {
	p, err := r.providers.Lookup(provider)
	if err != nil {
		return Ack{}, err
	}

	if err := p.Verify(params); err != nil {
		r.logger.Warn("payment notification rejected",
			zap.String("provider", p.Name),
			zap.String("code", params.Get(p.fields.ref)),
			zap.Error(err))
		r.count(p.Name, ChannelIPN, "invalid_signature")
		return p.Ack(ReplyInvalidSignature), nil
	}

	msg, err := p.Parse(params)
	if err != nil {
		r.logger.Warn("payment notification malformed", zap.String("provider", p.Name), zap.Error(err))
		r.count(p.Name, ChannelIPN, "malformed")
		return p.Ack(ReplyOrderNotFound), nil
	}

	res, err := r.orders.ReconcilePayment(causedBy(ctx, msg), settlement(p, msg))
	if err != nil {
		r.logger.Error("payment reconciliation failed",
			zap.String("provider", p.Name),
			zap.String("code", msg.Code),
			zap.Error(err))
		r.count(p.Name, ChannelIPN, "error")
		return p.Ack(ReplyRetry), nil
	}

	r.record(ctx, p, ChannelIPN, msg, params, string(res.Outcome))
	r.count(p.Name, ChannelIPN, string(res.Outcome))
	return p.Ack(replyFor(res.Outcome)), nil
}

type ReturnResult struct {
	OrderCode   string
	Status      string
	RedirectURL string
}

// Return handles the shopper's browser coming back from the provider. It is
// gated by the same signature check but settles the payment only when the
// provider is configured to apply on return; otherwise it reports what the
// server-to-server channel has stored so far.
func (r *Reconciler) Return(ctx context.Context, provider string, params url.Values) (ReturnResult, error) {
	p, err := r.providers.Lookup(provider)
	if err != nil {
		return ReturnResult{}, err
	}

	code := params.Get(p.fields.ref)
	if err := p.Verify(params); err != nil {
		r.logger.Warn("payment return rejected", zap.String("provider", p.Name), zap.String("code", code), zap.Error(err))
		r.count(p.Name, ChannelReturn, "invalid_signature")
		return r.redirect(p, code, "invalid_signature"), nil
	}

	msg, err := p.Parse(params)
	if err != nil {
		r.count(p.Name, ChannelReturn, "malformed")
		return r.redirect(p, code, "invalid"), nil
	}

	var status, outcome string
	if p.ApplyOnReturn() {
		res, err := r.orders.ReconcilePayment(causedBy(ctx, msg), settlement(p, msg))
		if err != nil {
			return ReturnResult{}, err
		}
		outcome = string(res.Outcome)
		status = string(res.Outcome)
		if res.Order != nil {
			status = string(res.Order.PaymentStatus)
		}
	} else {
		o, err := r.orders.GetByCode(ctx, msg.Code)
		switch {
		case errors.Is(err, order.ErrNotFound):
			outcome, status = string(order.OutcomeNotFound), string(order.OutcomeNotFound)
		case err != nil:
			return ReturnResult{}, err
		default:
			outcome, status = "observed", string(o.PaymentStatus)
		}
	}

	r.record(ctx, p, ChannelReturn, msg, params, outcome)
	r.count(p.Name, ChannelReturn, outcome)
	return r.redirect(p, msg.Code, status), nil
}

func (r *Reconciler) redirect(p *Provider, code, status string) ReturnResult {
	return ReturnResult{OrderCode: code, Status: status, RedirectURL: p.RedirectURL(code, status)}
}

func (r *Reconciler) record(ctx context.Context, p *Provider, channel string, msg Message, params url.Values, outcome string) {
	if r.log == nil {
		return
	}
	err := r.log.Append(ctx, Notification{
		Provider:      p.Name,
		Channel:       channel,
		OrderCode:     msg.Code,
		TransactionID: msg.TransactionID,
		ResponseCode:  msg.ResponseCode,
		Outcome:       outcome,
		Params:        params,
		ReceivedAt:    r.now().UTC(),
	})
	if err != nil {
		r.logger.Error("store payment notification", zap.String("provider", p.Name), zap.String("code", msg.Code), zap.Error(err))
	}
}

func (r *Reconciler) count(provider, channel, outcome string) {
	if r.counter != nil {
		r.counter.WithLabelValues(provider, channel, outcome).Inc()
	}
}

func settlement(p *Provider, msg Message) order.Settlement {
	return order.Settlement{
		Code:          msg.Code,
		Paid:          msg.Paid,
		TransactionID: msg.TransactionID,
		Amount:        msg.Amount,
		Provider:      p.Name,
		Method:        p.Method,
	}
}

// causedBy tags events recorded while applying msg with its gateway
// transaction.
func causedBy(ctx context.Context, msg Message) context.Context {
	if msg.TransactionID == "" {
		return ctx
	}
	return events.WithCausationID(ctx, msg.TransactionID)
}

func replyFor(o order.Outcome) Reply {
	switch o {
	case order.OutcomeApplied:
		return ReplyConfirmed
	case order.OutcomeNotFound:
		return ReplyOrderNotFound
	case order.OutcomeAmountMismatch:
		return ReplyInvalidAmount
	default:
		return ReplyAlreadyConfirmed
	}
}
