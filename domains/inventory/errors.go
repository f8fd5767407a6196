package inventory

import (
	"fmt"

	"github.com/proteanhq/shopstream-sub002/core/es"
)

// Named invariant violations. All derive from es.ErrValidation so callers
// can branch on the class or on the specific rule.
var (
	ErrInsufficientStock      = fmt.Errorf("%w: insufficient stock", es.ErrValidation)
	ErrInvalidTransition      = fmt.Errorf("%w: invalid reservation transition", es.ErrValidation)
	ErrReservationNotFound    = fmt.Errorf("%w: reservation not found", es.ErrValidation)
	ErrDuplicateReservation   = fmt.Errorf("%w: reservation already exists", es.ErrValidation)
	ErrItemDeactivated        = fmt.Errorf("%w: item is deactivated", es.ErrValidation)
	ErrItemAlreadyInitialized = fmt.Errorf("%w: stock already initialized", es.ErrValidation)
	ErrItemNotInitialized     = fmt.Errorf("%w: stock not initialized", es.ErrValidation)
)
