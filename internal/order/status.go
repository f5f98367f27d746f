package order

import (
	"fmt"
	"slices"
	"strings"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipping   Status = "shipping"
	StatusDelivered  Status = "delivered"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var statusTransitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusProcessing, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusShipping, StatusCancelled},
	StatusProcessing: {StatusShipping, StatusCancelled},
	StatusShipping:   {StatusDelivered, StatusCompleted, StatusCancelled},
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipping,
		StatusDelivered, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal statuses accept no further status or payment changes.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCompleted || s == StatusCancelled
}

func CanTransition(from, to Status) bool {
	return slices.Contains(statusTransitions[from], to)
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentPaid, PaymentFailed},
	PaymentPaid:    {PaymentRefunded},
}

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	ps := PaymentStatus(strings.ToLower(strings.TrimSpace(s)))
	if !ps.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return ps, nil
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return slices.Contains(paymentTransitions[from], to)
}

type PaymentMethod string

const (
	MethodCOD          PaymentMethod = "cod"
	MethodGatewayA     PaymentMethod = "gateway_a"
	MethodGatewayB     PaymentMethod = "gateway_b"
	MethodBankTransfer PaymentMethod = "bank_transfer"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MethodCOD, MethodGatewayA, MethodGatewayB, MethodBankTransfer:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, s)
}

// InitialPaymentStatus is paid for cash on delivery, since collection
// happens outside any gateway, and pending for everything else.
func InitialPaymentStatus(m PaymentMethod) PaymentStatus {
	if m == MethodCOD {
		return PaymentPaid
	}
	return PaymentPending
}

// Online reports whether the method settles through a payment gateway.
func (m PaymentMethod) Online() bool {
	return m == MethodGatewayA || m == MethodGatewayB
}
