package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/events"
)

type TxRunner interface {
	InTx(ctx context.Context, fn func(q db.Querier) error) error
}

// Restocker puts units back on the shelf when an order is cancelled.
type Restocker interface {
	Increment(ctx context.Context, q db.Querier, productID string, qty int) (int, error)
}

type EventRecorder interface {
	Record(ctx context.Context, q db.Querier, topic, partitionKey string, payload any) error
}

type ServiceDeps struct {
	Store       Store
	Pool        db.Querier
	Tx          TxRunner
	Stock       Restocker
	Events      EventRecorder
	Logger      *zap.Logger
	Transitions *prometheus.CounterVec
	Now         func() time.Time
}

// Service owns every mutation of an existing order. Each call loads the
// order with a row lock and writes state, audit note and outbox event in
// one transaction.
type Service struct {
	store       Store
	pool        db.Querier
	tx          TxRunner
	stock       Restocker
	events      EventRecorder
	logger      *zap.Logger
	transitions *prometheus.CounterVec
	now         func() time.Time
}

func NewService(d ServiceDeps) *Service {
	s := &Service{
		store:       d.Store,
		pool:        d.Pool,
		tx:          d.Tx,
		stock:       d.Stock,
		events:      d.Events,
		logger:      d.Logger,
		transitions: d.Transitions,
		now:         d.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type StatusChange struct {
	OrderID string
	To      Status
	Actor   string
	Note    string
	// OwnerID restricts the change to the order's owner, who may only
	// cancel an order that is still pending.
	OwnerID string
	// UnpaidOnly rejects the change once the payment has left pending.
	UnpaidOnly bool
}

func (s *Service) UpdateStatus(ctx context.Context, cmd StatusChange) (*Order, error) {
	if !cmd.To.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, cmd.To)
	}

	var (
		out     *Order
		changed bool
	)
	err := s.tx.InTx(ctx, func(q db.Querier) error {
		o, err := s.store.Get(ctx, q, cmd.OrderID, true)
		if err != nil {
			return err
		}
		if cmd.OwnerID != "" && o.OwnerID != cmd.OwnerID {
			return ErrForbidden
		}
		if o.Status.Terminal() {
			return fmt.Errorf("%w: %s", ErrOrderImmutable, o.Status)
		}
		if cmd.OwnerID != "" && (cmd.To != StatusCancelled || o.Status != StatusPending) {
			return fmt.Errorf("%w: customers may only cancel pending orders", ErrInvalidTransition)
		}
		if cmd.UnpaidOnly && o.PaymentStatus != PaymentPending {
			return fmt.Errorf("%w: payment is %s", ErrInvalidTransition, o.PaymentStatus)
		}
		if o.Status == cmd.To {
			out = o
			return nil
		}
		if !CanTransition(o.Status, cmd.To) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, cmd.To)
		}

		now := s.now().UTC()
		from := o.Status

		var restocked []events.OrderLine
		if cmd.To == StatusCancelled && !o.ReserveOnly {
			for _, l := range o.Lines {
				if _, err := s.stock.Increment(ctx, q, l.ProductID, l.Quantity); err != nil {
					return fmt.Errorf("restock %s: %w", l.ProductID, err)
				}
				restocked = append(restocked, eventLine(l))
			}
		}

		if err := s.store.UpdateStatus(ctx, q, o.ID, cmd.To, now); err != nil {
			return err
		}
		if err := s.store.InsertNote(ctx, q, &Note{
			OrderID:   o.ID,
			Actor:     cmd.Actor,
			Kind:      NoteStatus,
			From:      string(from),
			To:        string(cmd.To),
			Text:      strings.TrimSpace(cmd.Note),
			CreatedAt: now,
		}); err != nil {
			return err
		}

		if err := s.events.Record(ctx, q, events.OrderStatusChangedRoutingKey, o.ID, events.OrderStatusChangedPayload{
			OrderID:   o.ID,
			Code:      o.Code,
			From:      string(from),
			To:        string(cmd.To),
			Actor:     cmd.Actor,
			Timestamp: now,
		}); err != nil {
			return err
		}
		if cmd.To == StatusCancelled {
			if err := s.events.Record(ctx, q, events.OrderCancelledRoutingKey, o.ID, events.OrderCancelledPayload{
				OrderID:       o.ID,
				Code:          o.Code,
				PreviousState: string(from),
				Restocked:     restocked,
				Actor:         cmd.Actor,
				Timestamp:     now,
			}); err != nil {
				return err
			}
		}

		o.Status = cmd.To
		o.UpdatedAt = now
		out = o
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.logger.Info("order status changed",
			zap.String("order_id", out.ID),
			zap.String("code", out.Code),
			zap.String("status", string(out.Status)),
			zap.String("actor", cmd.Actor))
		if s.transitions != nil {
			s.transitions.WithLabelValues(string(out.Status)).Inc()
		}
	}
	return out, nil
}

// Cancel moves an order to cancelled and, unless it was reserve-only,
// returns every line's quantity to stock in the same transaction.
func (s *Service) Cancel(ctx context.Context, orderID, actor, note string) (*Order, error) {
	return s.UpdateStatus(ctx, StatusChange{OrderID: orderID, To: StatusCancelled, Actor: actor, Note: note})
}

type PaymentChange struct {
	OrderID       string
	To            PaymentStatus
	TransactionID string
	Actor         string
	Note          string
}

// UpdatePaymentStatus is the explicit administrative path, e.g. a refund.
func (s *Service) UpdatePaymentStatus(ctx context.Context, cmd PaymentChange) (*Order, error) {
	if !cmd.To.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, cmd.To)
	}

	var out *Order
	err := s.tx.InTx(ctx, func(q db.Querier) error {
		o, err := s.store.Get(ctx, q, cmd.OrderID, true)
		if err != nil {
			return err
		}
		if o.Status.Terminal() {
			return fmt.Errorf("%w: %s", ErrOrderImmutable, o.Status)
		}
		if o.PaymentStatus == cmd.To {
			out = o
			return nil
		}
		if !CanTransitionPayment(o.PaymentStatus, cmd.To) {
			return fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, o.PaymentStatus, cmd.To)
		}

		if err := s.applyPayment(ctx, q, o, cmd.To, cmd.TransactionID, cmd.Actor, cmd.Note, "admin"); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) applyPayment(ctx context.Context, q db.Querier, o *Order, to PaymentStatus, txnID, actor, note, source string) error {
	now := s.now().UTC()
	from := o.PaymentStatus

	if err := s.store.UpdatePayment(ctx, q, o.ID, to, txnID, now); err != nil {
		return err
	}
	if err := s.store.InsertNote(ctx, q, &Note{
		OrderID:   o.ID,
		Actor:     actor,
		Kind:      NotePayment,
		From:      string(from),
		To:        string(to),
		Text:      strings.TrimSpace(note),
		CreatedAt: now,
	}); err != nil {
		return err
	}
	if o.ExternalTransactionID == "" {
		o.ExternalTransactionID = txnID
	}
	if err := s.events.Record(ctx, q, events.OrderPaymentUpdatedRoutingKey, o.ID, events.OrderPaymentUpdatedPayload{
		OrderID:               o.ID,
		Code:                  o.Code,
		From:                  string(from),
		To:                    string(to),
		ExternalTransactionID: o.ExternalTransactionID,
		Amount:                o.TotalAmount,
		Source:                source,
		Timestamp:             now,
	}); err != nil {
		return err
	}

	o.PaymentStatus = to
	o.UpdatedAt = now
	return nil
}

// AddNote appends an audit note. Terminal orders accept notes.
func (s *Service) AddNote(ctx context.Context, orderID, actor, text string) (*Note, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("note text is required")
	}

	var note *Note
	err := s.tx.InTx(ctx, func(q db.Querier) error {
		o, err := s.store.Get(ctx, q, orderID, true)
		if err != nil {
			return err
		}
		note = &Note{OrderID: o.ID, Actor: actor, Kind: NoteComment, Text: text, CreatedAt: s.now().UTC()}
		return s.store.InsertNote(ctx, q, note)
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	return s.store.Get(ctx, s.pool, orderID, false)
}

func (s *Service) GetByCode(ctx context.Context, code string) (*Order, error) {
	return s.store.GetByCode(ctx, s.pool, code, false)
}

func (s *Service) ListByUser(ctx context.Context, ownerID string) ([]Order, error) {
	return s.store.ListByOwner(ctx, s.pool, ownerID)
}

func (s *Service) Notes(ctx context.Context, orderID string) ([]Note, error) {
	return s.store.Notes(ctx, s.pool, orderID)
}

// ExpirePending cancels unpaid online and bank transfer orders older than
// olderThan. It is run on demand by an operator; nothing schedules it.
func (s *Service) ExpirePending(ctx context.Context, olderThan time.Duration, actor string) ([]string, error) {
	cutoff := s.now().Add(-olderThan)
	ids, err := s.store.StalePending(ctx, s.pool, cutoff, 500)
	if err != nil {
		return nil, err
	}

	var cancelled []string
	for _, id := range ids {
		_, err := s.UpdateStatus(ctx, StatusChange{
			OrderID:    id,
			To:         StatusCancelled,
			Actor:      actor,
			Note:       fmt.Sprintf("payment not received within %s", olderThan),
			UnpaidOnly: true,
		})
		switch {
		case err == nil:
			cancelled = append(cancelled, id)
		case errors.Is(err, ErrOrderImmutable), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotFound):
			s.logger.Info("skip expiring order", zap.String("order_id", id), zap.Error(err))
		default:
			return cancelled, fmt.Errorf("expire %s: %w", id, err)
		}
	}
	return cancelled, nil
}

func eventLine(l Line) events.OrderLine {
	return events.OrderLine{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
}

// EventLines converts order lines to their event form.
func EventLines(lines []Line) []events.OrderLine {
	out := make([]events.OrderLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, eventLine(l))
	}
	return out
}
