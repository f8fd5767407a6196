package inventory

import (
	"errors"
	"time"

	"github.com/proteanhq/shopstream-sub002/core/es"
)

// Wire types are the cross-service contract: the ".v1" suffix pins the
// schema so a payload change means a new type, never a silent break.

type StockInitialized struct {
	OnHand    int `json:"on_hand"`
	InTransit int `json:"in_transit"`
}

func (e StockInitialized) EventType() string { return "inventory.StockInitialized.v1" }

func (e StockInitialized) Validate() error {
	if e.OnHand < 0 {
		return errors.New("on_hand must not be negative")
	}
	if e.InTransit < 0 {
		return errors.New("in_transit must not be negative")
	}
	return nil
}

type StockReceived struct {
	Quantity  int    `json:"quantity"`
	Reference string `json:"reference"`
}

func (e StockReceived) EventType() string { return "inventory.StockReceived.v1" }

func (e StockReceived) Validate() error {
	if e.Quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	return nil
}

type StockReserved struct {
	ReservationID string    `json:"reservation_id"`
	OrderID       string    `json:"order_id"`
	Quantity      int       `json:"quantity"`
	ReservedAt    time.Time `json:"reserved_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func (e StockReserved) EventType() string { return "inventory.StockReserved.v1" }

func (e StockReserved) Validate() error {
	if e.ReservationID == "" {
		return errors.New("reservation_id is required")
	}
	if e.OrderID == "" {
		return errors.New("order_id is required")
	}
	if e.Quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	if e.ExpiresAt.IsZero() {
		return errors.New("expires_at is required")
	}
	return nil
}

type ReservationConfirmed struct {
	ReservationID string `json:"reservation_id"`
}

func (e ReservationConfirmed) EventType() string { return "inventory.ReservationConfirmed.v1" }

func (e ReservationConfirmed) Validate() error {
	if e.ReservationID == "" {
		return errors.New("reservation_id is required")
	}
	return nil
}

type StockCommitted struct {
	ReservationID string `json:"reservation_id"`
	OrderID       string `json:"order_id"`
	Quantity      int    `json:"quantity"`
}

func (e StockCommitted) EventType() string { return "inventory.StockCommitted.v1" }

func (e StockCommitted) Validate() error {
	if e.ReservationID == "" {
		return errors.New("reservation_id is required")
	}
	if e.Quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	return nil
}

type ReservationReleased struct {
	ReservationID string `json:"reservation_id"`
	Quantity      int    `json:"quantity"`
	Reason        string `json:"reason"`
}

func (e ReservationReleased) EventType() string { return "inventory.ReservationReleased.v1" }

func (e ReservationReleased) Validate() error {
	if e.ReservationID == "" {
		return errors.New("reservation_id is required")
	}
	if e.Quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	return nil
}

type StockDamaged struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

func (e StockDamaged) EventType() string { return "inventory.StockDamaged.v1" }

func (e StockDamaged) Validate() error {
	if e.Quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	return nil
}

type ItemDeactivated struct {
	Reason string `json:"reason"`
}

func (e ItemDeactivated) EventType() string { return "inventory.ItemDeactivated.v1" }

// RegisterItemEvents registers every inventory_item event type.
func RegisterItemEvents(r es.Registrar) {
	es.RegisterEvents(
		r,
		es.Event[StockInitialized](),
		es.Event[StockReceived](),
		es.Event[StockReserved](),
		es.Event[ReservationConfirmed](),
		es.Event[StockCommitted](),
		es.Event[ReservationReleased](),
		es.Event[StockDamaged](),
		es.Event[ItemDeactivated](),
	)
}
