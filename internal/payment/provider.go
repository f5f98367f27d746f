package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/config"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/order"
)

const (
	GatewayA = "gateway-a"
	GatewayB = "gateway-b"
)

var (
	ErrUnknownProvider = errors.New("unknown payment provider")
	ErrMalformed       = errors.New("malformed payment message")
	ErrNotConfigured   = errors.New("payment provider not configured")
)

// Reply is the provider-neutral acknowledgement to a notification.
type Reply int

const (
	ReplyConfirmed Reply = iota
	ReplyAlreadyConfirmed
	ReplyOrderNotFound
	ReplyInvalidAmount
	ReplyInvalidSignature
	ReplyRetry
)

// Ack is the body returned to a provider. Its JSON keys follow the provider.
type Ack struct {
	Code    string
	Message string

	codeKey    string
	messageKey string
}

func (a Ack) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{a.codeKey: a.Code, a.messageKey: a.Message})
}

// Message is what a verified gateway request says about a payment.
type Message struct {
	Code          string
	ResponseCode  string
	TransactionID string
	Amount        decimal.NullDecimal
	Paid          bool
}

type fieldSet struct {
	ref          string
	responseCode string
	transaction  string
	amount       string
	signature    string
}

type ackCode struct {
	code    string
	message string
}

// Provider is one configured payment gateway.
type Provider struct {
	Name   string
	Method order.PaymentMethod

	cfg         config.Gateway
	fields      fieldSet
	amountExp   int32
	successCode string
	codeKey     string
	messageKey  string
	acks        map[Reply]ackCode
	signer      Signer
	buildPay    func(p *Provider, o *order.Order, clientIP string, now time.Time) url.Values
}

// NewGatewayA returns the preset for the first provider. Amounts travel in
// hundredths and the signature type field is not signed.
func NewGatewayA(cfg config.Gateway) *Provider {
	return &Provider{
		Name:   GatewayA,
		Method: order.MethodGatewayA,
		cfg:    cfg,
		fields: fieldSet{
			ref:          "vnp_TxnRef",
			responseCode: "vnp_ResponseCode",
			transaction:  "vnp_TransactionNo",
			amount:       "vnp_Amount",
			signature:    "vnp_SecureHash",
		},
		amountExp:   2,
		successCode: "00",
		codeKey:     "RspCode",
		messageKey:  "Message",
		acks: map[Reply]ackCode{
			ReplyConfirmed:        {"00", "Confirm Success"},
			ReplyAlreadyConfirmed: {"02", "Order already confirmed"},
			ReplyOrderNotFound:    {"01", "Order not found"},
			ReplyInvalidAmount:    {"04", "Invalid amount"},
			ReplyInvalidSignature: {"97", "Invalid signature"},
			ReplyRetry:            {"99", "Unknown error"},
		},
		signer:   NewSigner(cfg.Secret, "vnp_SecureHash", "vnp_SecureHashType"),
		buildPay: gatewayAPayParams,
	}
}

// NewGatewayB returns the preset for the second provider. Amounts are whole
// units.
func NewGatewayB(cfg config.Gateway) *Provider {
	return &Provider{
		Name:   GatewayB,
		Method: order.MethodGatewayB,
		cfg:    cfg,
		fields: fieldSet{
			ref:          "orderId",
			responseCode: "resultCode",
			transaction:  "transId",
			amount:       "amount",
			signature:    "signature",
		},
		amountExp:   0,
		successCode: "0",
		codeKey:     "resultCode",
		messageKey:  "message",
		acks: map[Reply]ackCode{
			ReplyConfirmed:        {"0", "Success"},
			ReplyAlreadyConfirmed: {"0", "Already processed"},
			ReplyOrderNotFound:    {"42", "Order not found"},
			ReplyInvalidAmount:    {"41", "Amount mismatch"},
			ReplyInvalidSignature: {"11", "Invalid signature"},
			ReplyRetry:            {"99", "Temporary error"},
		},
		signer:   NewSigner(cfg.Secret, "signature"),
		buildPay: gatewayBPayParams,
	}
}

// Providers indexes the configured gateways by name.
type Providers map[string]*Provider

func NewProviders(a, b config.Gateway) Providers {
	return Providers{
		GatewayA: NewGatewayA(a),
		GatewayB: NewGatewayB(b),
	}
}

func (ps Providers) Lookup(name string) (*Provider, error) {
	p, ok := ps[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// ForMethod returns the gateway that settles m, if any.
func (ps Providers) ForMethod(m order.PaymentMethod) (*Provider, bool) {
	for _, p := range ps {
		if p.Method == m {
			return p, true
		}
	}
	return nil, false
}

func (p *Provider) Verify(params url.Values) error {
	return p.signer.Verify(params, p.fields.signature)
}

// Sign returns params with this provider's signature field set.
func (p *Provider) Sign(params url.Values) url.Values {
	out := url.Values{}
	for k, v := range params {
		out[k] = append([]string(nil), v...)
	}
	out.Set(p.fields.signature, p.signer.Sign(params))
	return out
}

func (p *Provider) Parse(params url.Values) (Message, error) {
	msg := Message{
		Code:          strings.TrimSpace(params.Get(p.fields.ref)),
		ResponseCode:  strings.TrimSpace(params.Get(p.fields.responseCode)),
		TransactionID: strings.TrimSpace(params.Get(p.fields.transaction)),
	}
	if msg.Code == "" {
		return Message{}, fmt.Errorf("%w: missing %s", ErrMalformed, p.fields.ref)
	}
	if msg.ResponseCode == "" {
		return Message{}, fmt.Errorf("%w: missing %s", ErrMalformed, p.fields.responseCode)
	}
	msg.Paid = msg.ResponseCode == p.successCode

	if raw := strings.TrimSpace(params.Get(p.fields.amount)); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %s: %v", ErrMalformed, p.fields.amount, err)
		}
		msg.Amount = decimal.NewNullDecimal(amount.Shift(-p.amountExp))
	}
	return msg, nil
}

func (p *Provider) Ack(r Reply) Ack {
	a := p.acks[r]
	return Ack{Code: a.code, Message: a.message, codeKey: p.codeKey, messageKey: p.messageKey}
}

// ApplyOnReturn reports whether the browser return may settle a payment.
func (p *Provider) ApplyOnReturn() bool {
	return p.cfg.ApplyOnReturn
}

// RedirectURL is the shopper-facing landing page for an order.
func (p *Provider) RedirectURL(code, status string) string {
	u, err := url.Parse(p.cfg.FrontendURL)
	if err != nil {
		return p.cfg.FrontendURL
	}
	q := u.Query()
	q.Set("order", code)
	q.Set("status", status)
	u.RawQuery = q.Encode()
	return u.String()
}

// PaymentURL builds the signed link that sends the shopper to the
// provider's checkout page.
func (p *Provider) PaymentURL(o *order.Order, clientIP string, now time.Time) (string, error) {
	if !p.cfg.Enabled() || p.cfg.PayURL == "" {
		return "", fmt.Errorf("%w: %s", ErrNotConfigured, p.Name)
	}
	u, err := url.Parse(p.cfg.PayURL)
	if err != nil {
		return "", fmt.Errorf("parse pay url: %w", err)
	}
	u.RawQuery = p.Sign(p.buildPay(p, o, clientIP, now)).Encode()
	return u.String(), nil
}

func (p *Provider) minorUnits(amount decimal.Decimal) string {
	return amount.Shift(p.amountExp).Round(0).String()
}

func gatewayAPayParams(p *Provider, o *order.Order, clientIP string, now time.Time) url.Values {
	v := url.Values{}
	v.Set("vnp_Version", "2.1.0")
	v.Set("vnp_Command", "pay")
	v.Set("vnp_TmnCode", p.cfg.MerchantCode)
	v.Set("vnp_Amount", p.minorUnits(o.TotalAmount))
	v.Set("vnp_CurrCode", "VND")
	v.Set("vnp_TxnRef", o.Code)
	v.Set("vnp_OrderInfo", "Payment for order "+o.Code)
	v.Set("vnp_OrderType", "other")
	v.Set("vnp_Locale", "vn")
	v.Set("vnp_ReturnUrl", p.cfg.ReturnURL)
	v.Set("vnp_IpAddr", clientIP)
	v.Set("vnp_CreateDate", now.Format("20060102150405"))
	return v
}

func gatewayBPayParams(p *Provider, o *order.Order, _ string, _ time.Time) url.Values {
	v := url.Values{}
	v.Set("partnerCode", p.cfg.MerchantCode)
	v.Set("orderId", o.Code)
	v.Set("requestId", uuid.NewString())
	v.Set("amount", p.minorUnits(o.TotalAmount))
	v.Set("orderInfo", "Payment for order "+o.Code)
	v.Set("redirectUrl", p.cfg.ReturnURL)
	v.Set("requestType", "captureWallet")
	return v
}
