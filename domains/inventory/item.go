package inventory

import (
	"fmt"
	"time"

	"github.com/proteanhq/shopstream-sub002/core/es"
	"github.com/proteanhq/shopstream-sub002/core/es/assert"
)

const ServiceName = "inventory"

// ReservationStatus tracks a reservation through its lifecycle. Committed
// and Released reservations stay in the record for redelivery tolerance
// but no longer count against available stock.
type ReservationStatus string

const (
	StatusActive    ReservationStatus = "active"
	StatusConfirmed ReservationStatus = "confirmed"
	StatusReleased  ReservationStatus = "released"
	StatusCommitted ReservationStatus = "committed"
)

type Reservation struct {
	ID         string            `json:"id"`
	OrderID    string            `json:"order_id"`
	Quantity   int               `json:"quantity"`
	Status     ReservationStatus `json:"status"`
	ReservedAt time.Time         `json:"reserved_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// StockLevels is a value object; Available is always derived, never stored.
type StockLevels struct {
	OnHand    int `json:"on_hand"`
	Reserved  int `json:"reserved"`
	InTransit int `json:"in_transit"`
	Damaged   int `json:"damaged"`
}

func (s StockLevels) Available() int { return s.OnHand - s.Reserved }

// Sellable is the portion of on-hand stock that can still be reserved.
// Damaged units stay on hand but are never committable, so both active
// reservations and damaged stock are excluded.
func (s StockLevels) Sellable() int { return s.OnHand - s.Reserved - s.Damaged }

// Item is the inventory stock aggregate. All state transitions flow
// through Apply; command methods only validate and raise.
type Item struct {
	es.BaseAggregate

	Stock        StockLevels             `json:"stock"`
	Reservations map[string]*Reservation `json:"reservations"`
	Initialized  bool                    `json:"initialized"`
	Deactivated  bool                    `json:"deactivated"`
}

func NewItem(id string) *Item {
	i := &Item{}
	i.SetID(id)
	return i
}

func (i *Item) GetAggType() string { return "inventory_item" }

func (i *Item) Register(r es.Registrar) { RegisterItemEvents(r) }

func (i *Item) Apply(event any) error {
	switch e := event.(type) {
	case *StockInitialized:
		i.Stock.OnHand = e.OnHand
		i.Stock.InTransit = e.InTransit
		i.Initialized = true
		return nil

	case *StockReceived:
		i.Stock.OnHand += e.Quantity
		i.Stock.InTransit = max(0, i.Stock.InTransit-e.Quantity)
		return nil

	case *StockReserved:
		if i.Reservations == nil {
			i.Reservations = map[string]*Reservation{}
		}
		i.Reservations[e.ReservationID] = &Reservation{
			ID:         e.ReservationID,
			OrderID:    e.OrderID,
			Quantity:   e.Quantity,
			Status:     StatusActive,
			ReservedAt: e.ReservedAt,
			ExpiresAt:  e.ExpiresAt,
		}
		i.Stock.Reserved += e.Quantity
		return nil

	case *ReservationConfirmed:
		i.Reservations[e.ReservationID].Status = StatusConfirmed
		return nil

	case *StockCommitted:
		r := i.Reservations[e.ReservationID]
		r.Status = StatusCommitted
		i.Stock.OnHand -= e.Quantity
		i.Stock.Reserved -= e.Quantity
		return nil

	case *ReservationReleased:
		r := i.Reservations[e.ReservationID]
		r.Status = StatusReleased
		i.Stock.Reserved -= e.Quantity
		return nil

	case *StockDamaged:
		i.Stock.Damaged += e.Quantity
		return nil

	case *ItemDeactivated:
		i.Deactivated = true
		return nil
	}
	return i.BaseAggregate.Apply(event)
}

func (i *Item) reservation(id string) (*Reservation, error) {
	r, ok := i.Reservations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReservationNotFound, id)
	}
	return r, nil
}

func (i *Item) active() assert.Cond {
	return assert.All(
		assert.Failing(assert.True(i.Initialized, "initialized"), ErrItemNotInitialized),
		assert.Failing(assert.False(i.Deactivated, "not deactivated"), ErrItemDeactivated),
	)
}

// === Commands ===

// InitializeStock sets the opening stock count. It can run once per item.
func (i *Item) InitializeStock(onHand, inTransit int) error {
	return i.Checked(
		assert.All(
			assert.Failing(assert.False(i.Initialized, "not initialized"), ErrItemAlreadyInitialized),
			assert.Failing(assert.False(i.Deactivated, "not deactivated"), ErrItemDeactivated),
		),
		func() error {
			return es.RaiseAndApply(i, &StockInitialized{OnHand: onHand, InTransit: inTransit})
		},
	)
}

// Receive books arrived stock. Quantities coming off a purchase order
// reduce the in-transit count.
func (i *Item) Receive(qty int, reference string) error {
	return i.Checked(i.active(), func() error {
		return es.RaiseAndApply(i, &StockReceived{Quantity: qty, Reference: reference})
	})
}

// Reserve holds qty for an order until expiresAt. Fails with
// ErrInsufficientStock when qty exceeds sellable stock; nothing is
// recorded in that case. Reserving only sellable units keeps
// reserved + damaged <= on_hand, so committing a reservation can never
// take on_hand below the damaged count.
func (i *Item) Reserve(reservationID, orderID string, qty int, expiresAt time.Time) error {
	if err := i.active().Check(); err != nil {
		return err
	}
	if _, ok := i.Reservations[reservationID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateReservation, reservationID)
	}
	if qty > i.Stock.Sellable() {
		return fmt.Errorf(
			"%w: requested %d, sellable %d",
			ErrInsufficientStock, qty, i.Stock.Sellable(),
		)
	}
	return es.RaiseAndApply(i, &StockReserved{
		ReservationID: reservationID,
		OrderID:       orderID,
		Quantity:      qty,
		ReservedAt:    time.Now(),
		ExpiresAt:     expiresAt,
	})
}

// Confirm locks a reservation in after payment. Confirming an already
// confirmed reservation is a no-op so payment-service redeliveries are
// harmless.
func (i *Item) Confirm(reservationID string) error {
	r, err := i.reservation(reservationID)
	if err != nil {
		return err
	}
	switch r.Status {
	case StatusConfirmed:
		return nil
	case StatusActive:
		return es.RaiseAndApply(i, &ReservationConfirmed{ReservationID: reservationID})
	}
	return fmt.Errorf("%w: confirm from %s", ErrInvalidTransition, r.Status)
}

// Commit removes a confirmed reservation's quantity from stock when the
// shipment leaves the warehouse. Committing an already committed
// reservation is a no-op.
func (i *Item) Commit(reservationID string) error {
	r, err := i.reservation(reservationID)
	if err != nil {
		return err
	}
	switch r.Status {
	case StatusCommitted:
		return nil
	case StatusConfirmed:
		return es.RaiseAndApply(i, &StockCommitted{
			ReservationID: reservationID,
			OrderID:       r.OrderID,
			Quantity:      r.Quantity,
		})
	}
	return fmt.Errorf("%w: commit from %s", ErrInvalidTransition, r.Status)
}

// Release frees a reservation's hold on stock. Releasing an already
// released reservation is a no-op success: the expiry sweep may race a
// manual release and both must win.
func (i *Item) Release(reservationID, reason string) error {
	r, err := i.reservation(reservationID)
	if err != nil {
		return err
	}
	switch r.Status {
	case StatusReleased:
		return nil
	case StatusActive, StatusConfirmed:
		return es.RaiseAndApply(i, &ReservationReleased{
			ReservationID: reservationID,
			Quantity:      r.Quantity,
			Reason:        reason,
		})
	}
	return fmt.Errorf("%w: release from %s", ErrInvalidTransition, r.Status)
}

// ReleaseExpired releases every Active reservation whose expiry is at or
// before cutoff. Re-running with the same cutoff raises nothing.
func (i *Item) ReleaseExpired(cutoff time.Time) error {
	for id, r := range i.Reservations {
		if r.Status != StatusActive {
			continue
		}
		if r.ExpiresAt.After(cutoff) {
			continue
		}
		if err := i.Release(id, "expired"); err != nil {
			return err
		}
	}
	return nil
}

// MarkDamaged flags qty units as damaged. Damaged stock stays on hand
// until written off through a separate stock adjustment, but it is no
// longer sellable: units already promised to reservations cannot be
// marked damaged, which keeps reserved + damaged <= on_hand.
func (i *Item) MarkDamaged(qty int, reason string) error {
	if err := i.active().Check(); err != nil {
		return err
	}
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", es.ErrValidation)
	}
	if i.Stock.Damaged+qty > i.Stock.OnHand-i.Stock.Reserved {
		return fmt.Errorf(
			"%w: damaged %d+%d exceeds unreserved on_hand %d",
			es.ErrValidation, i.Stock.Damaged, qty, i.Stock.OnHand-i.Stock.Reserved,
		)
	}
	return es.RaiseAndApply(i, &StockDamaged{Quantity: qty, Reason: reason})
}

// Deactivate closes the item for further stock operations. The stream is
// never deleted; deactivation is just another event.
func (i *Item) Deactivate(reason string) error {
	if i.Deactivated {
		return ErrItemDeactivated
	}
	return es.RaiseAndApply(i, &ItemDeactivated{Reason: reason})
}

// === Read ===

func (i *Item) ActiveReservations() []*Reservation {
	out := make([]*Reservation, 0, len(i.Reservations))
	for _, r := range i.Reservations {
		if r.Status == StatusActive || r.Status == StatusConfirmed {
			out = append(out, r)
		}
	}
	return out
}
