package order

import "errors"

var (
	ErrNotFound             = errors.New("order not found")
	ErrInvalidStatus        = errors.New("invalid status")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrOrderImmutable       = errors.New("order is in a terminal state")
	ErrCodeConflict         = errors.New("order code already exists")
	ErrForbidden            = errors.New("order belongs to another user")
	ErrInvalidLine          = errors.New("invalid order line")
)

// ErrOrderTerminal is the same error under the state machine's name for it.
var ErrOrderTerminal = ErrOrderImmutable
