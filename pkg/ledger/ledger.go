// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ledger keeps product inventory and the reservations held against
// it. A reservation moves from ACTIVE to exactly one of CONFIRMED or
// RELEASED and is kept afterwards for audit.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusConfirmed Status = "CONFIRMED"
	StatusReleased  Status = "RELEASED"
)

// Operation names a ledger transition.
type Operation string

const (
	OpReserve Operation = "reserve"
	OpConfirm Operation = "confirm"
	OpRelease Operation = "release"
)

// Product is a snapshot of one catalog entry.
type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Stock    int64  `json:"stock"`
	Reserved int64  `json:"reserved"`
}

// Available is the quantity that can still be reserved.
func (p Product) Available() int64 {
	return p.Stock - p.Reserved
}

// Reservation is a hold against a product's inventory.
type Reservation struct {
	ID        string     `json:"id"`
	ProductID string     `json:"productId"`
	Quantity  int64      `json:"quantity"`
	UserID    string     `json:"userId"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}

// Recorder receives ledger metrics. *metrics.Collector satisfies it.
type Recorder interface {
	IncrementCounter(name string, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
}

// Config wires a Ledger to its collaborators. All fields are optional.
type Config struct {
	Logger    *slog.Logger
	Publisher Publisher
	Metrics   Recorder
	Clock     func() time.Time
	// NewID generates reservation ids; defaults to random UUIDs.
	NewID func() string
}

// Ledger owns products and reservations. Every product has its own mutex,
// held for the whole of a reserve, confirm or release on that product, so
// operations on different products never block each other. The reservation
// index has a separate lock that is always taken after a product lock.
type Ledger struct {
	logger    *slog.Logger
	publisher Publisher
	metrics   Recorder
	clock     func() time.Time
	newID     func() string

	mu       sync.RWMutex
	products map[string]*productEntry

	resMu        sync.RWMutex
	reservations map[string]*Reservation
}

type productEntry struct {
	mu       sync.Mutex
	id       string
	name     string
	stock    int64
	reserved int64
}

func (p *productEntry) snapshotLocked() Product {
	return Product{ID: p.id, Name: p.name, Stock: p.stock, Reserved: p.reserved}
}

// New constructs an empty ledger.
func New(cfg Config) *Ledger {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Ledger{
		logger:       logger.With("component", "ledger"),
		publisher:    cfg.Publisher,
		metrics:      cfg.Metrics,
		clock:        clock,
		newID:        newID,
		products:     make(map[string]*productEntry),
		reservations: make(map[string]*Reservation),
	}
}

// AddProduct seeds the catalog. There is no restock: once added, a
// product's stock only decreases through Confirm.
func (l *Ledger) AddProduct(id, name string, stock int64) error {
	if id == "" {
		return ErrInvalidProductID
	}
	if stock < 0 {
		return fmt.Errorf("%w: stock %d", ErrInvalidQuantity, stock)
	}
	l.mu.Lock()
	if _, ok := l.products[id]; ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProductExists, id)
	}
	l.products[id] = &productEntry{id: id, name: name, stock: stock}
	l.mu.Unlock()

	l.recordLevels(Product{ID: id, Name: name, Stock: stock})
	return nil
}

// Reserve holds quantity units of a product for userID.
func (l *Ledger) Reserve(ctx context.Context, productID string, quantity int64, userID string) (Reservation, error) {
	start := time.Now()
	res, snap, err := l.reserve(ctx, productID, quantity, userID)
	l.finish(ctx, OpReserve, start, err, res, snap)
	return res, err
}

func (l *Ledger) reserve(ctx context.Context, productID string, quantity int64, userID string) (Reservation, Product, error) {
	if err := ctx.Err(); err != nil {
		return Reservation{}, Product{}, err
	}
	p, err := l.product(productID)
	if err != nil {
		return Reservation{}, Product{}, err
	}
	if quantity <= 0 {
		return Reservation{}, Product{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if available := p.stock - p.reserved; available < quantity {
		return Reservation{}, Product{}, &InsufficientStockError{ProductID: productID, Available: available, Requested: quantity}
	}
	res := &Reservation{
		ID:        l.newID(),
		ProductID: productID,
		Quantity:  quantity,
		UserID:    userID,
		Status:    StatusActive,
		CreatedAt: l.clock(),
	}
	p.reserved += quantity
	l.resMu.Lock()
	l.reservations[res.ID] = res
	l.resMu.Unlock()
	return *res, p.snapshotLocked(), nil
}

// Confirm turns an ACTIVE reservation into a sale: stock and reserved both
// drop by the reserved quantity.
func (l *Ledger) Confirm(ctx context.Context, reservationID string) error {
	start := time.Now()
	res, snap, err := l.close(ctx, reservationID, OpConfirm)
	l.finish(ctx, OpConfirm, start, err, res, snap)
	return err
}

// Release returns an ACTIVE reservation's quantity to available stock.
func (l *Ledger) Release(ctx context.Context, reservationID string) error {
	start := time.Now()
	res, snap, err := l.close(ctx, reservationID, OpRelease)
	l.finish(ctx, OpRelease, start, err, res, snap)
	return err
}

func (l *Ledger) close(ctx context.Context, reservationID string, op Operation) (Reservation, Product, error) {
	if err := ctx.Err(); err != nil {
		return Reservation{}, Product{}, err
	}
	l.resMu.RLock()
	res, ok := l.reservations[reservationID]
	var productID string
	if ok {
		productID = res.ProductID
	}
	l.resMu.RUnlock()
	if !ok {
		return Reservation{}, Product{}, fmt.Errorf("%w: %s", ErrReservationNotFound, reservationID)
	}
	p, err := l.product(productID)
	if err != nil {
		return Reservation{}, Product{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Status only changes under the product lock, so this read is stable
	// for the rest of the critical section.
	l.resMu.RLock()
	current := res.Status
	l.resMu.RUnlock()
	if current != StatusActive {
		return Reservation{}, Product{}, &InvalidStateError{ReservationID: reservationID, Current: current, Attempted: op}
	}

	switch op {
	case OpConfirm:
		p.stock -= res.Quantity
		p.reserved -= res.Quantity
	case OpRelease:
		p.reserved -= res.Quantity
	default:
		panic(fmt.Sprintf("ledger: unexpected close operation %q", op))
	}
	closedAt := l.clock()
	l.resMu.Lock()
	if op == OpConfirm {
		res.Status = StatusConfirmed
	} else {
		res.Status = StatusReleased
	}
	res.ClosedAt = &closedAt
	out := *res
	l.resMu.Unlock()
	return out, p.snapshotLocked(), nil
}

// finish runs after the product lock is released: it records metrics and
// publishes the event for a successful transition. A failed publish is
// logged and counted but does not undo the transition.
func (l *Ledger) finish(ctx context.Context, op Operation, start time.Time, err error, res Reservation, snap Product) {
	result := Result(err)
	if l.metrics != nil {
		l.metrics.IncrementCounter("ledger_operations_total", map[string]string{"operation": string(op), "result": result})
		l.metrics.ObserveHistogram("ledger_operation_duration_seconds", time.Since(start).Seconds(), map[string]string{"operation": string(op)})
	}
	if err != nil {
		l.logger.Debug("ledger operation rejected", "operation", op, "result", result, "error", err)
		return
	}
	l.recordLevels(snap)

	if l.publisher == nil {
		return
	}
	evt := StockEvent{
		EventType:     eventFor(op),
		ReservationID: res.ID,
		ProductID:     res.ProductID,
		Quantity:      res.Quantity,
		UserID:        res.UserID,
		ResultStatus:  res.Status,
		OccurredAt:    l.clock(),
	}
	if perr := l.publisher.Publish(context.WithoutCancel(ctx), evt); perr != nil {
		l.logger.Warn("stock event publish failed", "event_type", evt.EventType, "reservation", res.ID, "error", perr)
		if l.metrics != nil {
			l.metrics.IncrementCounter("ledger_event_publish_failures_total", map[string]string{"event_type": string(evt.EventType)})
		}
	}
}

func (l *Ledger) recordLevels(p Product) {
	if l.metrics == nil {
		return
	}
	labels := map[string]string{"product": p.ID}
	l.metrics.SetGauge("ledger_product_stock", float64(p.Stock), labels)
	l.metrics.SetGauge("ledger_product_reserved", float64(p.Reserved), labels)
}

func eventFor(op Operation) EventType {
	switch op {
	case OpReserve:
		return EventReserved
	case OpConfirm:
		return EventConfirmed
	case OpRelease:
		return EventReleased
	}
	panic(fmt.Sprintf("ledger: no event for operation %q", op))
}

// Product returns a consistent snapshot of one product.
func (l *Ledger) Product(id string) (Product, error) {
	p, err := l.product(id)
	if err != nil {
		return Product{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked(), nil
}

// Products returns snapshots of every product ordered by id.
func (l *Ledger) Products() []Product {
	l.mu.RLock()
	entries := make([]*productEntry, 0, len(l.products))
	for _, p := range l.products {
		entries = append(entries, p)
	}
	l.mu.RUnlock()

	out := make([]Product, 0, len(entries))
	for _, p := range entries {
		p.mu.Lock()
		out = append(out, p.snapshotLocked())
		p.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reservation returns a copy of one reservation.
func (l *Ledger) Reservation(id string) (Reservation, error) {
	l.resMu.RLock()
	defer l.resMu.RUnlock()
	res, ok := l.reservations[id]
	if !ok {
		return Reservation{}, fmt.Errorf("%w: %s", ErrReservationNotFound, id)
	}
	return *res, nil
}

// Reservations lists reservations in creation order, optionally filtered
// to a single status. An empty status returns all of them.
func (l *Ledger) Reservations(status Status) []Reservation {
	l.resMu.RLock()
	out := make([]Reservation, 0, len(l.reservations))
	for _, res := range l.reservations {
		if status == "" || res.Status == status {
			out = append(out, *res)
		}
	}
	l.resMu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Verify checks, product by product, that 0 <= reserved <= stock and that
// reserved equals the sum of the product's ACTIVE reservations.
func (l *Ledger) Verify() error {
	l.mu.RLock()
	entries := make([]*productEntry, 0, len(l.products))
	for _, p := range l.products {
		entries = append(entries, p)
	}
	l.mu.RUnlock()

	for _, p := range entries {
		p.mu.Lock()
		var held int64
		l.resMu.RLock()
		for _, res := range l.reservations {
			if res.ProductID == p.id && res.Status == StatusActive {
				held += res.Quantity
			}
		}
		l.resMu.RUnlock()
		stock, reserved := p.stock, p.reserved
		p.mu.Unlock()

		if reserved < 0 || reserved > stock {
			return fmt.Errorf("product %s: reserved %d outside [0, %d]", p.id, reserved, stock)
		}
		if reserved != held {
			return fmt.Errorf("product %s: reserved %d but active reservations hold %d", p.id, reserved, held)
		}
	}
	return nil
}

func (l *Ledger) product(id string) (*productEntry, error) {
	l.mu.RLock()
	p, ok := l.products[id]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return p, nil
}
