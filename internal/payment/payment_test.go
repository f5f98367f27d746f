package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/config"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/order"
)

var sandbox = config.Gateway{
	Secret:       "sandbox-secret",
	MerchantCode: "SHOP01",
	PayURL:       "https://pay.example.test/checkout",
	ReturnURL:    "https://shop.example.test/api/payments/return",
	FrontendURL:  "https://shop.example.test/checkout/result",
}

type fakeOrders struct {
	orders map[string]*order.Order
	calls  []order.Settlement
	causes []string
	err    error
}

func newFakeOrders(orders ...*order.Order) *fakeOrders {
	f := &fakeOrders{orders: map[string]*order.Order{}}
	for _, o := range orders {
		f.orders[o.Code] = o
	}
	return f
}

func (f *fakeOrders) ReconcilePayment(ctx context.Context, st order.Settlement) (order.ReconcileResult, error) {
	f.calls = append(f.calls, st)
	f.causes = append(f.causes, events.CausationID(ctx))
	if f.err != nil {
		return order.ReconcileResult{}, f.err
	}
	o, ok := f.orders[st.Code]
	if !ok {
		return order.ReconcileResult{Outcome: order.OutcomeNotFound}, nil
	}
	if st.Amount.Valid && !st.Amount.Decimal.Equal(o.TotalAmount) {
		return order.ReconcileResult{Outcome: order.OutcomeAmountMismatch, Order: o}, nil
	}
	if o.PaymentStatus != order.PaymentPending {
		if st.Paid && o.PaymentStatus == order.PaymentPaid {
			return order.ReconcileResult{Outcome: order.OutcomeAlreadyPaid, Order: o}, nil
		}
		return order.ReconcileResult{Outcome: order.OutcomeIgnored, Order: o}, nil
	}
	o.PaymentStatus = order.PaymentFailed
	if st.Paid {
		o.PaymentStatus = order.PaymentPaid
		o.ExternalTransactionID = st.TransactionID
	}
	return order.ReconcileResult{Outcome: order.OutcomeApplied, Order: o}, nil
}

func (f *fakeOrders) GetByCode(_ context.Context, code string) (*order.Order, error) {
	o, ok := f.orders[code]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

type memLog struct {
	entries []Notification
}

func (l *memLog) Append(_ context.Context, n Notification) error {
	l.entries = append(l.entries, n)
	return nil
}

func pendingOrder() *order.Order {
	return &order.Order{
		ID:            "o1",
		Code:          "OD2503100930001234",
		TotalAmount:   decimal.NewFromInt(150000),
		PaymentMethod: order.MethodGatewayA,
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
	}
}

func gatewayAParams(p *Provider, code, response string, amount int64) url.Values {
	v := url.Values{}
	v.Set("vnp_TxnRef", code)
	v.Set("vnp_ResponseCode", response)
	v.Set("vnp_TransactionNo", "14226112")
	v.Set("vnp_Amount", decimal.NewFromInt(amount).Shift(2).String())
	v.Set("vnp_TmnCode", "SHOP01")
	v.Set("vnp_SecureHashType", "HmacSHA512")
	return p.Sign(v)
}

type harness struct {
	rec     *Reconciler
	orders  *fakeOrders
	log     *memLog
	counter *prometheus.CounterVec
}

func newHarness(cfg config.Gateway, orders ...*order.Order) *harness {
	h := &harness{
		orders:  newFakeOrders(orders...),
		log:     &memLog{},
		counter: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "notifications"}, []string{"provider", "channel", "outcome"}),
	}
	h.rec = NewReconciler(ReconcilerDeps{
		Providers:     NewProviders(cfg, cfg),
		Orders:        h.orders,
		Log:           h.log,
		Notifications: h.counter,
		Now:           func() time.Time { return time.Date(2025, 3, 10, 9, 31, 0, 0, time.UTC) },
	})
	return h
}

func TestSigner_CanonicalIsSortedAndStripsSignature(t *testing.T) {
	s := NewSigner("k", "sig")
	v := url.Values{"b": {"2"}, "a": {"1"}, "sig": {"x"}, "c": {"x y"}}

	assert.Equal(t, "a=1&b=2&c=x y", s.Canonical(v))
	assert.Len(t, s.Sign(v), 128)
	assert.Equal(t, s.Sign(v), s.Sign(url.Values{"a": {"1"}, "b": {"2"}, "c": {"x y"}}))
}

func TestSigner_Verify(t *testing.T) {
	s := NewSigner("k", "sig")
	v := url.Values{"a": {"1"}}
	v.Set("sig", s.Sign(v))

	require.NoError(t, s.Verify(v, "sig"))

	upper := url.Values{"a": {"1"}, "sig": {strings.ToUpper(v.Get("sig"))}}
	require.NoError(t, s.Verify(upper, "sig"))

	tampered := url.Values{"a": {"2"}, "sig": v["sig"]}
	require.ErrorIs(t, s.Verify(tampered, "sig"), ErrInvalidSignature)

	require.ErrorIs(t, s.Verify(url.Values{"a": {"1"}}, "sig"), ErrInvalidSignature)
	require.ErrorIs(t, NewSigner("", "sig").Verify(v, "sig"), ErrInvalidSignature)
}

func TestProvider_ParseScalesAmount(t *testing.T) {
	a := NewGatewayA(sandbox)
	msg, err := a.Parse(gatewayAParams(a, "OD1", "00", 150000))
	require.NoError(t, err)
	assert.True(t, msg.Paid)
	assert.True(t, msg.Amount.Decimal.Equal(decimal.NewFromInt(150000)))
	assert.Equal(t, "14226112", msg.TransactionID)

	b := NewGatewayB(sandbox)
	msg, err = b.Parse(url.Values{"orderId": {"OD1"}, "resultCode": {"1006"}, "amount": {"150000"}})
	require.NoError(t, err)
	assert.False(t, msg.Paid)
	assert.True(t, msg.Amount.Decimal.Equal(decimal.NewFromInt(150000)))

	_, err = b.Parse(url.Values{"resultCode": {"0"}})
	require.ErrorIs(t, err, ErrMalformed)
	_, err = b.Parse(url.Values{"orderId": {"OD1"}, "resultCode": {"0"}, "amount": {"lots"}})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestProvider_AckShape(t *testing.T) {
	raw, err := json.Marshal(NewGatewayA(sandbox).Ack(ReplyConfirmed))
	require.NoError(t, err)
	assert.JSONEq(t, `{"RspCode":"00","Message":"Confirm Success"}`, string(raw))

	raw, err = json.Marshal(NewGatewayB(sandbox).Ack(ReplyInvalidSignature))
	require.NoError(t, err)
	assert.JSONEq(t, `{"resultCode":"11","message":"Invalid signature"}`, string(raw))
}

func TestProvider_PaymentURLIsSigned(t *testing.T) {
	for _, p := range []*Provider{NewGatewayA(sandbox), NewGatewayB(sandbox)} {
		t.Run(p.Name, func(t *testing.T) {
			link, err := p.PaymentURL(pendingOrder(), "10.0.0.1", time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC))
			require.NoError(t, err)

			u, err := url.Parse(link)
			require.NoError(t, err)
			assert.Equal(t, "pay.example.test", u.Host)
			require.NoError(t, p.Verify(u.Query()))

			msgAmount := u.Query().Get(p.fields.amount)
			want := decimal.NewFromInt(150000).Shift(p.amountExp).String()
			assert.Equal(t, want, msgAmount)
		})
	}

	_, err := NewGatewayA(config.Gateway{}).PaymentURL(pendingOrder(), "", time.Now())
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestNotify_AppliesVerifiedPayment(t *testing.T) {
	o := pendingOrder()
	h := newHarness(sandbox, o)
	p, _ := h.rec.providers.Lookup(GatewayA)

	ack, err := h.rec.Notify(context.Background(), GatewayA, gatewayAParams(p, o.Code, "00", 150000))
	require.NoError(t, err)
	assert.Equal(t, "00", ack.Code)
	assert.Equal(t, order.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, "14226112", o.ExternalTransactionID)
	require.Len(t, h.orders.calls, 1)
	assert.Equal(t, order.MethodGatewayA, h.orders.calls[0].Method)
	assert.Equal(t, []string{"14226112"}, h.orders.causes)

	require.Len(t, h.log.entries, 1)
	assert.Equal(t, ChannelIPN, h.log.entries[0].Channel)
	assert.Equal(t, "applied", h.log.entries[0].Outcome)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.counter.WithLabelValues(GatewayA, ChannelIPN, "applied")))
}

func TestNotify_ReplayedPaidIsAcknowledgedOnce(t *testing.T) {
	o := pendingOrder()
	h := newHarness(sandbox, o)
	p, _ := h.rec.providers.Lookup(GatewayA)
	params := gatewayAParams(p, o.Code, "00", 150000)

	first, err := h.rec.Notify(context.Background(), GatewayA, params)
	require.NoError(t, err)
	second, err := h.rec.Notify(context.Background(), GatewayA, params)
	require.NoError(t, err)

	assert.Equal(t, "00", first.Code)
	assert.Equal(t, "02", second.Code)
	assert.Equal(t, order.PaymentPaid, o.PaymentStatus)
}

func TestNotify_Rejections(t *testing.T) {
	tests := map[string]struct {
		params    func(p *Provider, o *order.Order) url.Values
		ordersErr error
		wantCode  string
		wantCall  bool
	}{
		"tampered signature": {
			params: func(p *Provider, o *order.Order) url.Values {
				v := gatewayAParams(p, o.Code, "00", 150000)
				v.Set("vnp_Amount", "1")
				return v
			},
			wantCode: "97",
		},
		"missing signature": {
			params: func(_ *Provider, o *order.Order) url.Values {
				return url.Values{"vnp_TxnRef": {o.Code}, "vnp_ResponseCode": {"00"}}
			},
			wantCode: "97",
		},
		"unknown order": {
			params: func(p *Provider, _ *order.Order) url.Values {
				return gatewayAParams(p, "OD-missing", "00", 150000)
			},
			wantCode: "01",
			wantCall: true,
		},
		"amount mismatch": {
			params: func(p *Provider, o *order.Order) url.Values {
				return gatewayAParams(p, o.Code, "00", 1000)
			},
			wantCode: "04",
			wantCall: true,
		},
		"signed but malformed": {
			params: func(p *Provider, _ *order.Order) url.Values {
				return p.Sign(url.Values{"vnp_ResponseCode": {"00"}})
			},
			wantCode: "01",
		},
		"transient failure asks for retry": {
			params: func(p *Provider, o *order.Order) url.Values {
				return gatewayAParams(p, o.Code, "00", 150000)
			},
			ordersErr: errors.New("connection reset"),
			wantCode:  "99",
			wantCall:  true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			o := pendingOrder()
			h := newHarness(sandbox, o)
			h.orders.err = tc.ordersErr
			p, _ := h.rec.providers.Lookup(GatewayA)

			ack, err := h.rec.Notify(context.Background(), GatewayA, tc.params(p, o))
			require.NoError(t, err)
			assert.Equal(t, tc.wantCode, ack.Code)
			assert.Equal(t, order.PaymentPending, o.PaymentStatus)
			assert.Equal(t, tc.wantCall, len(h.orders.calls) > 0)
		})
	}
}

func TestNotify_FailedAfterPaidDoesNotDowngrade(t *testing.T) {
	o := pendingOrder()
	o.PaymentMethod = order.MethodGatewayB
	h := newHarness(sandbox, o)
	p, _ := h.rec.providers.Lookup(GatewayB)

	paid := p.Sign(url.Values{"orderId": {o.Code}, "resultCode": {"0"}, "transId": {"991"}, "amount": {"150000"}})
	failed := p.Sign(url.Values{"orderId": {o.Code}, "resultCode": {"1006"}, "transId": {"992"}, "amount": {"150000"}})

	_, err := h.rec.Notify(context.Background(), GatewayB, paid)
	require.NoError(t, err)
	ack, err := h.rec.Notify(context.Background(), GatewayB, failed)
	require.NoError(t, err)

	assert.Equal(t, "0", ack.Code)
	assert.Equal(t, order.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, "991", o.ExternalTransactionID)
}

func TestNotify_UnknownProvider(t *testing.T) {
	h := newHarness(sandbox)
	_, err := h.rec.Notify(context.Background(), "gateway-z", url.Values{})
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestReturn(t *testing.T) {
	t.Run("reports stored status without applying", func(t *testing.T) {
		o := pendingOrder()
		h := newHarness(sandbox, o)
		p, _ := h.rec.providers.Lookup(GatewayA)

		res, err := h.rec.Return(context.Background(), GatewayA, gatewayAParams(p, o.Code, "00", 150000))
		require.NoError(t, err)

		assert.Empty(t, h.orders.calls)
		assert.Equal(t, order.PaymentPending, o.PaymentStatus)
		assert.Equal(t, "pending", res.Status)
		assert.Equal(t, "https://shop.example.test/checkout/result?order="+o.Code+"&status=pending", res.RedirectURL)
		require.Len(t, h.log.entries, 1)
		assert.Equal(t, ChannelReturn, h.log.entries[0].Channel)
	})

	t.Run("applies when enabled", func(t *testing.T) {
		cfg := sandbox
		cfg.ApplyOnReturn = true
		o := pendingOrder()
		h := newHarness(cfg, o)
		p, _ := h.rec.providers.Lookup(GatewayA)

		res, err := h.rec.Return(context.Background(), GatewayA, gatewayAParams(p, o.Code, "00", 150000))
		require.NoError(t, err)
		assert.Equal(t, order.PaymentPaid, o.PaymentStatus)
		assert.Equal(t, "paid", res.Status)
	})

	t.Run("bad signature redirects without touching the order", func(t *testing.T) {
		cfg := sandbox
		cfg.ApplyOnReturn = true
		o := pendingOrder()
		h := newHarness(cfg, o)

		res, err := h.rec.Return(context.Background(), GatewayA, url.Values{
			"vnp_TxnRef": {o.Code}, "vnp_ResponseCode": {"00"}, "vnp_SecureHash": {"00ff"},
		})
		require.NoError(t, err)
		assert.Equal(t, "invalid_signature", res.Status)
		assert.Empty(t, h.orders.calls)
		assert.Empty(t, h.log.entries)
		assert.Equal(t, order.PaymentPending, o.PaymentStatus)
	})
}

func TestPostgresNotificationLog_Append(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Date(2025, 3, 10, 9, 31, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO payment_notifications").
		WithArgs(GatewayA, ChannelIPN, "OD1", "T1", "00", "applied", []byte(`{"vnp_TxnRef":"OD1"}`), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = NewPostgresNotificationLog(mock).Append(context.Background(), Notification{
		Provider:      GatewayA,
		Channel:       ChannelIPN,
		OrderCode:     "OD1",
		TransactionID: "T1",
		ResponseCode:  "00",
		Outcome:       "applied",
		Params:        url.Values{"vnp_TxnRef": {"OD1"}},
		ReceivedAt:    at,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
