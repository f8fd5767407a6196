package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/proteanhq/shopstream-sub002/core/es"
	"github.com/proteanhq/shopstream-sub002/core/remote"
)

// ShipmentHandedOffType is the fulfillment service's wire type consumed
// here. The payload shape is their contract; only the fields needed for
// the commit are decoded.
const ShipmentHandedOffType = "fulfillment.ShipmentHandedOff.v1"

type ShipmentHandedOff struct {
	OrderID       string `json:"order_id"`
	ItemID        string `json:"item_id"`
	ReservationID string `json:"reservation_id"`
}

// RegisterRemote wires the foreign events this service reacts to. A
// shipment hand-off commits the matching confirmed reservation; a missing
// item or reservation is logged and skipped because fulfillment may ship
// stock this instance never reserved.
func RegisterRemote(reg *remote.Registry, items es.TypedRepository[*Item]) {
	reg.MustRegister(
		ShipmentHandedOffType,
		remote.DecodeJSON[ShipmentHandedOff](),
		func(ctx context.Context, env es.Envelope, event any) error {
			ev := event.(*ShipmentHandedOff)

			err := items.WithTransaction(ctx, ev.ItemID, func(i *Item) error {
				return i.Commit(ev.ReservationID)
			})
			if errors.Is(err, ErrReservationNotFound) {
				return fmt.Errorf("%w: no reservation %s on item %s", remote.ErrSkip, ev.ReservationID, ev.ItemID)
			}
			return err
		},
	)
}
