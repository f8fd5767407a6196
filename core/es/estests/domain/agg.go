package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/proteanhq/shopstream-sub002/core/es"
)

type (
	// Cart is a small test aggregate exercising validation, replay and
	// snapshot round-trips without dragging in a real domain.
	Cart struct {
		es.BaseAggregate

		Items      map[string]int `json:"items"`
		CheckedOut bool           `json:"checked_out"`
		NumEvents  int            `json:"num_events"`
	}

	ItemAdded struct {
		SKU string `json:"sku"`
		Qty int    `json:"qty"`
	}

	ItemRemoved struct {
		SKU string `json:"sku"`
	}

	CartCheckedOut struct{}
)

func (e ItemAdded) Validate() error {
	if e.SKU == "" {
		return errors.New("sku is required")
	}
	return nil
}

func NewCart(id string) *Cart {
	c := &Cart{}
	c.SetID(id)
	return c
}

func (c *Cart) GetAggType() string { return "cart" }

func (c *Cart) Register(r es.Registrar) {
	es.RegisterEvents(
		r,
		es.Event[ItemAdded](),
		es.Event[ItemRemoved](),
		es.Event[CartCheckedOut](),
	)
}

func (c *Cart) Snapshot() (data []byte, err error) { return json.Marshal(c) }
func (c *Cart) RestoreSnapshot(data []byte) error  { return json.Unmarshal(data, c) }

func (c *Cart) Apply(event any) error {
	switch e := event.(type) {
	case *ItemAdded:
		if c.Items == nil {
			c.Items = map[string]int{}
		}
		c.Items[e.SKU] += e.Qty
		c.NumEvents++
		return nil
	case *ItemRemoved:
		delete(c.Items, e.SKU)
		c.NumEvents++
		return nil
	case *CartCheckedOut:
		c.CheckedOut = true
		c.NumEvents++
		return nil
	}
	return c.BaseAggregate.Apply(event)
}

var _ es.Snapshottable = (*Cart)(nil)

// === Commands ===

func (c *Cart) Add(sku string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: qty must be positive", es.ErrValidation)
	}
	if c.CheckedOut {
		return fmt.Errorf("%w: cart is checked out", es.ErrValidation)
	}
	return es.RaiseAndApply(c, &ItemAdded{SKU: sku, Qty: qty})
}

func (c *Cart) Remove(sku string) error {
	if _, ok := c.Items[sku]; !ok {
		return fmt.Errorf("%w: sku %s not in cart", es.ErrValidation, sku)
	}
	return es.RaiseAndApply(c, &ItemRemoved{SKU: sku})
}

func (c *Cart) Checkout() error {
	if c.CheckedOut {
		return fmt.Errorf("%w: already checked out", es.ErrValidation)
	}
	if len(c.Items) == 0 {
		return fmt.Errorf("%w: cart is empty", es.ErrValidation)
	}
	return es.RaiseAndApply(c, &CartCheckedOut{})
}

// === Read ===

func (c *Cart) Qty(sku string) int { return c.Items[sku] }
