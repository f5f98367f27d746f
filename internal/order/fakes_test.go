package order

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/db"
)

type memStore struct {
	orders map[string]Order
	notes  []Note
}

func newMemStore(orders ...Order) *memStore {
	s := &memStore{orders: map[string]Order{}}
	for _, o := range orders {
		s.orders[o.ID] = cloneOrder(o)
	}
	return s
}

func cloneOrder(o Order) Order {
	o.Lines = append([]Line(nil), o.Lines...)
	return o
}

func (s *memStore) snapshot() *memStore {
	cp := &memStore{orders: map[string]Order{}, notes: append([]Note(nil), s.notes...)}
	for id, o := range s.orders {
		cp.orders[id] = cloneOrder(o)
	}
	return cp
}

func (s *memStore) Insert(_ context.Context, _ db.Querier, o *Order) error {
	for _, existing := range s.orders {
		if existing.Code == o.Code {
			return ErrCodeConflict
		}
	}
	s.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (s *memStore) Get(_ context.Context, _ db.Querier, id string, _ bool) (*Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneOrder(o)
	return &cp, nil
}

func (s *memStore) GetByCode(_ context.Context, _ db.Querier, code string, _ bool) (*Order, error) {
	for _, o := range s.orders {
		if o.Code == code {
			cp := cloneOrder(o)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) ListByOwner(_ context.Context, _ db.Querier, ownerID string) ([]Order, error) {
	var out []Order
	for _, o := range s.orders {
		if o.OwnerID == ownerID {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) UpdateStatus(_ context.Context, _ db.Querier, id string, status Status, at time.Time) error {
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = at
	s.orders[id] = o
	return nil
}

func (s *memStore) UpdatePayment(_ context.Context, _ db.Querier, id string, status PaymentStatus, txnID string, at time.Time) error {
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.PaymentStatus = status
	if o.ExternalTransactionID == "" {
		o.ExternalTransactionID = txnID
	}
	o.UpdatedAt = at
	s.orders[id] = o
	return nil
}

func (s *memStore) InsertNote(_ context.Context, _ db.Querier, n *Note) error {
	n.ID = int64(len(s.notes) + 1)
	s.notes = append(s.notes, *n)
	return nil
}

func (s *memStore) Notes(_ context.Context, _ db.Querier, orderID string) ([]Note, error) {
	var out []Note
	for _, n := range s.notes {
		if n.OrderID == orderID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *memStore) StalePending(_ context.Context, _ db.Querier, before time.Time, limit int) ([]string, error) {
	var ids []string
	for id, o := range s.orders {
		if o.Status == StatusPending && o.PaymentStatus == PaymentPending &&
			o.PaymentMethod != MethodCOD && o.CreatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type memStock struct {
	levels map[string]int
	failOn string
}

func (m *memStock) Increment(_ context.Context, _ db.Querier, productID string, qty int) (int, error) {
	if productID == m.failOn {
		return 0, errors.New("stock row missing")
	}
	m.levels[productID] += qty
	return m.levels[productID], nil
}

type recorded struct {
	Topic   string
	Key     string
	Payload any
}

type memRecorder struct {
	events []recorded
}

func (r *memRecorder) Record(_ context.Context, _ db.Querier, topic, key string, payload any) error {
	r.events = append(r.events, recorded{Topic: topic, Key: key, Payload: payload})
	return nil
}

func (r *memRecorder) topics() []string {
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Topic)
	}
	return out
}

// memTx serialises transactions and restores every fake on failure.
type memTx struct {
	mu    sync.Mutex
	store *memStore
	stock *memStock
	rec   *memRecorder
}

func (t *memTx) InTx(_ context.Context, fn func(q db.Querier) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	storeBefore := t.store.snapshot()
	stockBefore := make(map[string]int, len(t.stock.levels))
	for k, v := range t.stock.levels {
		stockBefore[k] = v
	}
	eventsBefore := len(t.rec.events)

	if err := fn(nil); err != nil {
		*t.store = *storeBefore
		t.stock.levels = stockBefore
		t.rec.events = t.rec.events[:eventsBefore]
		return err
	}
	return nil
}
