package inventory

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/proteanhq/shopstream-sub002/core/command"
	"github.com/proteanhq/shopstream-sub002/core/es"
)

// Command types accepted by this service. The handler's only job is
// load, method call, save; WithTransaction does the load/save and the
// conflict retry.
const (
	CmdInitializeStock    = "inventory.InitializeStock"
	CmdReceiveStock       = "inventory.ReceiveStock"
	CmdReserve            = "inventory.Reserve"
	CmdConfirmReservation = "inventory.ConfirmReservation"
	CmdCommitStock        = "inventory.CommitStock"
	CmdReleaseReservation = "inventory.ReleaseReservation"
	CmdMarkDamaged        = "inventory.MarkDamaged"
	CmdDeactivate         = "inventory.Deactivate"
)

// Deps carries everything handlers need. No ambient globals: the struct
// is built once at startup and threaded into every handler call.
type Deps struct {
	Log   *slog.Logger
	Items es.TypedRepository[*Item]
	// NewID mints reservation ids when the caller did not supply one.
	NewID func() string
}

func NewDeps(log *slog.Logger, items es.TypedRepository[*Item]) Deps {
	return Deps{
		Log:   log,
		Items: items,
		NewID: uuid.NewString,
	}
}

type (
	InitializeStockPayload struct {
		OnHand    int `json:"on_hand"`
		InTransit int `json:"in_transit"`
	}

	ReceiveStockPayload struct {
		Quantity  int    `json:"quantity"`
		Reference string `json:"reference"`
	}

	ReservePayload struct {
		// ReservationID is optional; suppliers that retry should set it so
		// the retry hits ErrDuplicateReservation instead of double-booking.
		ReservationID string `json:"reservation_id"`
		OrderID       string `json:"order_id"`
		Quantity      int    `json:"quantity"`
		TTLSeconds    int    `json:"ttl_seconds"`
	}

	ReservationPayload struct {
		ReservationID string `json:"reservation_id"`
		Reason        string `json:"reason"`
	}

	MarkDamagedPayload struct {
		Quantity int    `json:"quantity"`
		Reason   string `json:"reason"`
	}

	DeactivatePayload struct {
		Reason string `json:"reason"`
	}
)

// RegisterCommands fills the service's static command table.
func RegisterCommands(reg *command.Registry[Deps]) {
	reg.MustRegister(CmdInitializeStock, handleInitializeStock)
	reg.MustRegister(CmdReceiveStock, handleReceiveStock)
	reg.MustRegister(CmdReserve, handleReserve)
	reg.MustRegister(CmdConfirmReservation, handleConfirmReservation)
	reg.MustRegister(CmdCommitStock, handleCommitStock)
	reg.MustRegister(CmdReleaseReservation, handleReleaseReservation)
	reg.MustRegister(CmdMarkDamaged, handleMarkDamaged)
	reg.MustRegister(CmdDeactivate, handleDeactivate)
}

func handleInitializeStock(ctx context.Context, deps Deps, cmd command.Command) error {
	p, err := command.DecodePayload[InitializeStockPayload](cmd)
	if err != nil {
		return err
	}
	return deps.Items.WithTransaction(ctx, cmd.AggregateID, func(i *Item) error {
		return i.InitializeStock(p.OnHand, p.InTransit)
	}, es.WithCreate())
}

func handleReceiveStock(ctx context.Context, deps Deps, cmd command.Command) error {
	p, err := command.DecodePayload[ReceiveStockPayload](cmd)
	if err != nil {
		return err
	}
	return deps.Items.WithTransaction(ctx, cmd.AggregateID, func(i *Item) error {
		return i.Receive(p.Quantity, p.Reference)
	})
}

func handleReserve(ctx context.Context, deps Deps, cmd command.Command) error {
	p, err := command.DecodePayload[ReservePayload](cmd)
	if err != nil {
		return err
	}
	reservationID := p.ReservationID
	if reservationID == "" {
		reservationID = deps.NewID()
	}
	expiresAt := time.Now().Add(time.Duration(p.TTLSeconds) * time.Second)
	return deps.Items.WithTransaction(ctx, cmd.AggregateID, func(i *Item) error {
		return i.Reserve(reservationID, p.OrderID, p.Quantity, expiresAt)
	})
}

func handleConfirmReservation(ctx context.Context, deps Deps, cmd command.Command) error {
	p, err := command.DecodePayload[ReservationPayload](cmd)
	if err != nil {
		return err
	}
	return deps.Items.WithTransaction(ctx, cmd.AggregateID, func(i *Item) error {
		return i.Confirm(p.ReservationID)
	})
}

func handleCommitStock(ctx context.Context, deps Deps, cmd command.Command) error {
	p, err := command.DecodePayload[ReservationPayload](cmd)
	if err != nil {
		return err
	}
	return deps.Items.WithTransaction(ctx, cmd.AggregateID, func(i *Item) error {
		return i.Commit(p.ReservationID)
	})
}

func handleReleaseReservation(ctx context.Context, deps Deps, cmd command.Command) error {
	p, err := command.DecodePayload[ReservationPayload](cmd)
	if err != nil {
		return err
	}
	return deps.Items.WithTransaction(ctx, cmd.AggregateID, func(i *Item) error {
		return i.Release(p.ReservationID, p.Reason)
	})
}

func handleMarkDamaged(ctx context.Context, deps Deps, cmd command.Command) error {
	p, err := command.DecodePayload[MarkDamagedPayload](cmd)
	if err != nil {
		return err
	}
	return deps.Items.WithTransaction(ctx, cmd.AggregateID, func(i *Item) error {
		return i.MarkDamaged(p.Quantity, p.Reason)
	})
}

func handleDeactivate(ctx context.Context, deps Deps, cmd command.Command) error {
	p, err := command.DecodePayload[DeactivatePayload](cmd)
	if err != nil {
		return err
	}
	return deps.Items.WithTransaction(ctx, cmd.AggregateID, func(i *Item) error {
		return i.Deactivate(p.Reason)
	})
}
