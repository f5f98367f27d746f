package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/cart"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/discount"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/order"
)

// world is an in-memory database. InTx serialises callers the way row
// locks would and restores the previous state when fn fails.
type world struct {
	mu sync.Mutex

	carts     map[string]cart.Snapshot
	stock     map[string]inventory.Level
	discounts map[string]discount.Discount
	orders    []order.Order
	events    []string

	// codeConflicts makes the next n inserts fail with ErrCodeConflict.
	codeConflicts int
	inserts       int
}

func newWorld() *world {
	return &world{
		carts:     map[string]cart.Snapshot{},
		stock:     map[string]inventory.Level{},
		discounts: map[string]discount.Discount{},
	}
}

type worldState struct {
	carts     map[string]cart.Snapshot
	stock     map[string]inventory.Level
	discounts map[string]discount.Discount
	orders    []order.Order
	events    []string
}

func (w *world) save() worldState {
	st := worldState{
		carts:     make(map[string]cart.Snapshot, len(w.carts)),
		stock:     make(map[string]inventory.Level, len(w.stock)),
		discounts: make(map[string]discount.Discount, len(w.discounts)),
		orders:    append([]order.Order(nil), w.orders...),
		events:    append([]string(nil), w.events...),
	}
	for k, v := range w.carts {
		st.carts[k] = v
	}
	for k, v := range w.stock {
		st.stock[k] = v
	}
	for k, v := range w.discounts {
		st.discounts[k] = v
	}
	return st
}

func (w *world) restore(st worldState) {
	w.carts, w.stock, w.discounts, w.orders, w.events = st.carts, st.stock, st.discounts, st.orders, st.events
}

func (w *world) InTx(_ context.Context, fn func(q db.Querier) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	before := w.save()
	if err := fn(nil); err != nil {
		w.restore(before)
		return err
	}
	return nil
}

func (w *world) Snapshot(_ context.Context, _ db.Querier, userID string) (cart.Snapshot, error) {
	if snap, ok := w.carts[userID]; ok {
		return snap, nil
	}
	return cart.NewSnapshot("", userID, nil), nil
}

func (w *world) Delete(_ context.Context, _ db.Querier, cartID string) error {
	for user, snap := range w.carts {
		if snap.CartID == cartID {
			delete(w.carts, user)
		}
	}
	return nil
}

func (w *world) Levels(_ context.Context, _ db.Querier, ids []string) (map[string]inventory.Level, error) {
	out := make(map[string]inventory.Level, len(ids))
	for _, id := range ids {
		if lvl, ok := w.stock[id]; ok {
			out[id] = lvl
		}
	}
	return out, nil
}

func (w *world) Decrement(_ context.Context, _ db.Querier, id string, qty int) (int, error) {
	if qty <= 0 {
		return 0, inventory.ErrInvalidQuantity
	}
	lvl := w.stock[id]
	if lvl.Available < qty {
		return 0, inventory.ErrInsufficientStock
	}
	lvl.Available -= qty
	w.stock[id] = lvl
	return lvl.Available, nil
}

// Find and IncrementUsage let the real discount.Evaluator run on top.
func (w *world) Find(_ context.Context, _ db.Querier, code string) (discount.Discount, error) {
	d, ok := w.discounts[code]
	if !ok {
		return discount.Discount{}, discount.ErrNotFound
	}
	return d, nil
}

func (w *world) IncrementUsage(_ context.Context, _ db.Querier, code string) (bool, error) {
	d, ok := w.discounts[code]
	if !ok || !d.IsActive || (d.UsageLimit != nil && d.UsedCount >= *d.UsageLimit) {
		return false, nil
	}
	d.UsedCount++
	w.discounts[code] = d
	return true, nil
}

func (w *world) Insert(_ context.Context, _ db.Querier, o *order.Order) error {
	w.inserts++
	if w.codeConflicts > 0 {
		w.codeConflicts--
		return order.ErrCodeConflict
	}
	o.ID = uuid.NewString()
	for i := range o.Lines {
		o.Lines[i].OrderID = o.ID
	}
	w.orders = append(w.orders, *o)
	return nil
}

func (w *world) Record(_ context.Context, _ db.Querier, topic, _ string, _ any) error {
	w.events = append(w.events, topic)
	return nil
}

func newTestService(w *world) *Service {
	return NewService(Deps{
		Tx:         w,
		Carts:      w,
		Stock:      w,
		Discounts:  discount.NewEvaluator(w),
		Orders:     w,
		Events:     w,
		CodePrefix: "OD",
		Now:        func() time.Time { return time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC) },
	})
}
